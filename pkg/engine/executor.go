package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stagehand/stagehand/pkg/inventory"
	"github.com/stagehand/stagehand/pkg/modules"
	"github.com/stagehand/stagehand/pkg/playbook"
)

// Executor evaluates one task against one host: it resolves the host's
// effective variables, evaluates the task's guard, dispatches through
// the module registry, and normalizes module errors and panics into
// FAILED results. A single task's failure never aborts the caller's
// control flow.
type Executor struct {
	registry *modules.Registry
	facts    *FactStore
	logger   zerolog.Logger
}

// NewExecutor creates an executor dispatching through registry. The
// executor owns its fact store; use Facts to read registered facts
// after a run.
func NewExecutor(registry *modules.Registry) *Executor {
	return &Executor{
		registry: registry,
		facts:    NewFactStore(),
		logger:   log.With().Str("component", "executor").Logger(),
	}
}

// Facts returns the executor's registered-fact store.
func (e *Executor) Facts() *FactStore {
	return e.facts
}

// Execute evaluates the task against the host using the host's
// effective variables from inv. It returns an error only for inventory
// lookup failures (unknown host); module failures of any kind are
// reported through the result's FAILED status.
func (e *Executor) Execute(ctx context.Context, task playbook.Task, host string, inv *inventory.Inventory) (playbook.TaskResult, error) {
	vars, err := inv.EffectiveVars(host)
	if err != nil {
		return playbook.TaskResult{}, err
	}
	return e.ExecuteWithVars(ctx, task, host, vars), nil
}

// ExecuteWithVars evaluates the task against an already-resolved
// variable view. The orchestrator uses this entry point so play vars
// can be overlaid before resolution.
func (e *Executor) ExecuteWithVars(ctx context.Context, task playbook.Task, host string, vars map[string]string) playbook.TaskResult {
	if task.Guard != nil && !task.Guard.Eval(vars) {
		e.logger.Debug().
			Str("task", task.Name).
			Str("host", host).
			Msg("Guard evaluated false, skipping task")
		return playbook.Skipped()
	}

	result := e.invoke(ctx, task)

	if task.Register != "" {
		e.facts.Set(task.Register, result.Facts)
	}

	e.logger.Debug().
		Str("task", task.Name).
		Str("module", task.Module).
		Str("host", host).
		Str("status", string(result.Status)).
		Msg("Task executed")

	return result
}

// invoke dispatches the task through the registry, converting lookup
// failures, module errors, and module panics into FAILED results.
func (e *Executor) invoke(ctx context.Context, task playbook.Task) (result playbook.TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("task", task.Name).
				Str("module", task.Module).
				Interface("panic", r).
				Msg("Module panicked")
			result = playbook.Failed(fmt.Sprintf("module %s panicked: %v", task.Module, r))
		}
	}()

	fn, err := e.registry.Get(task.Module)
	if err != nil {
		return playbook.Failed(err.Error())
	}

	result, err = fn(ctx, task.Args)
	if err != nil {
		return playbook.Failed(err.Error())
	}
	if !result.Status.Validate() {
		return playbook.Failed(fmt.Sprintf("module %s returned invalid status %q", task.Module, result.Status))
	}
	return result
}

// HostExecution pairs a host with its task result.
type HostExecution struct {
	// Host is the host name.
	Host string `json:"host"`

	// Result is the normalized execution result.
	Result playbook.TaskResult `json:"result"`
}

// ExecuteOnHosts evaluates the task independently against each host,
// preserving the input host ordering. One host's failure does not
// prevent execution on the remaining hosts; an unknown host yields a
// FAILED result for that host only.
func (e *Executor) ExecuteOnHosts(ctx context.Context, task playbook.Task, hosts []string, inv *inventory.Inventory) []HostExecution {
	results := make([]HostExecution, 0, len(hosts))
	for _, host := range hosts {
		result, err := e.Execute(ctx, task, host, inv)
		if err != nil {
			result = playbook.Failed(err.Error())
		}
		results = append(results, HostExecution{Host: host, Result: result})
	}
	return results
}
