package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stagehand/stagehand/pkg/inventory"
	"github.com/stagehand/stagehand/pkg/playbook"
	"github.com/stagehand/stagehand/pkg/telemetry"
)

// Options configures an Orchestrator.
type Options struct {
	// Forks is the maximum number of concurrent host flows per play.
	// Zero or negative selects the default of 10.
	Forks int

	// ContinueOnError keeps running a host's remaining tasks after a
	// failure. The default (false) stops the failed host's flow, the
	// safer policy: a host left in an unknown state receives no
	// further tasks. Other hosts are never affected either way.
	ContinueOnError bool

	// Metrics receives per-play and per-task observations. Optional.
	Metrics *telemetry.Metrics

	// Tracer opens spans around plays, host flows, and tasks. Optional.
	Tracer *telemetry.Tracer
}

// Orchestrator runs plays across their expanded target hosts. Host
// flows fan out over a bounded worker pool and join before counts are
// aggregated; within one host, tasks are strictly sequential.
type Orchestrator struct {
	executor        *Executor
	forks           int
	continueOnError bool
	metrics         *telemetry.Metrics
	tracer          *telemetry.Tracer
	logger          zerolog.Logger
}

// NewOrchestrator creates an orchestrator executing tasks through
// executor.
func NewOrchestrator(executor *Executor, opts Options) *Orchestrator {
	forks := opts.Forks
	if forks <= 0 {
		forks = 10
	}
	metrics := opts.Metrics
	if metrics == nil {
		// Disabled config yields a no-op collector.
		metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer, _ = telemetry.NewTracer(telemetry.TracingConfig{}, "stagehand", "dev", "none")
	}
	return &Orchestrator{
		executor:        executor,
		forks:           forks,
		continueOnError: opts.ContinueOnError,
		metrics:         metrics,
		tracer:          tracer,
		logger:          log.With().Str("component", "orchestrator").Logger(),
	}
}

// ExpandPattern expands a host pattern against the inventory:
// "all" selects every host; an exact group name selects its members; a
// trailing-* pattern selects every host with the literal prefix; any
// other pattern selects the literal host name if it exists. Matching
// is case-sensitive. The result is sorted by host name so callers
// iterate deterministically.
func ExpandPattern(pattern string, inv *inventory.Inventory) []string {
	if pattern == "all" {
		return inv.HostNames()
	}

	if members, err := inv.Members(pattern); err == nil {
		return members
	}

	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		var matched []string
		for _, name := range inv.HostNames() {
			if strings.HasPrefix(name, prefix) {
				matched = append(matched, name)
			}
		}
		return matched
	}

	if inv.HasHost(pattern) {
		return []string{pattern}
	}
	return nil
}

// ExecutePlay runs a single play against the inventory and returns its
// aggregated result. A pattern that expands to no hosts is a
// structural play error surfaced to the caller.
func (o *Orchestrator) ExecutePlay(ctx context.Context, play playbook.Play, inv *inventory.Inventory) (PlayResult, error) {
	hosts := ExpandPattern(play.Hosts, inv)
	if len(hosts) == 0 {
		return PlayResult{}, NewPlayError(play.Name, fmt.Sprintf("host pattern %q matched no hosts", play.Hosts))
	}

	runID := uuid.New().String()
	startedAt := time.Now()
	logger := o.logger.With().Str("play", play.Name).Str("run_id", runID).Logger()

	logger.Info().
		Str("pattern", play.Hosts).
		Int("hosts", len(hosts)).
		Int("tasks", len(play.Tasks)).
		Msg("Play started")

	o.metrics.RecordPlayStarted(play.Name)
	playCtx, playSpan := o.tracer.StartPlaySpan(ctx, play.Name, runID)
	defer playSpan.End()

	result := PlayResult{
		Play:      play.Name,
		RunID:     runID,
		StartedAt: startedAt,
	}

	// Fan out one flow per host over a bounded worker pool: a closed
	// work queue drained by forks workers, joined before aggregation.
	workQueue := make(chan string, len(hosts))
	for _, host := range hosts {
		workQueue <- host
	}
	close(workQueue)

	workerCount := o.forks
	if len(hosts) < workerCount {
		workerCount = len(hosts)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	hostResults := make(map[string]HostResult, len(hosts))

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for host := range workQueue {
				hr := o.runHostFlow(playCtx, play, inv, host, logger)
				mu.Lock()
				hostResults[host] = hr
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Stable order: results follow the sorted host list, not
	// completion order.
	for _, host := range hosts {
		hr := hostResults[host]
		result.Hosts = append(result.Hosts, hr)
		for _, outcome := range hr.Tasks {
			result.Counts.Add(outcome.Result)
		}
		for _, outcome := range hr.Handlers {
			result.Counts.Add(outcome.Result)
		}
	}
	result.Duration = time.Since(startedAt)

	status := "ok"
	if result.Failed() {
		status = "failed"
		telemetry.RecordError(playSpan, fmt.Errorf("%d task(s) failed", result.Counts.Failed))
	} else {
		telemetry.RecordSuccess(playSpan)
	}
	o.metrics.RecordPlayCompleted(status, result.Duration)

	logger.Info().
		Int("ok", result.Counts.Ok).
		Int("changed", result.Counts.Changed).
		Int("failed", result.Counts.Failed).
		Int("skipped", result.Counts.Skipped).
		Dur("duration", result.Duration).
		Msg("Play completed")

	return result, nil
}

// runHostFlow runs the play's tasks and handler phase for one host.
// Tasks run strictly in declared order; a FAILED result stops the
// remaining tasks and the handler phase for this host only (unless the
// lenient policy is configured). Cancellation lets the current task
// finish and then stops the flow; partial results are reported as-is.
func (o *Orchestrator) runHostFlow(ctx context.Context, play playbook.Play, inv *inventory.Inventory, host string, logger zerolog.Logger) HostResult {
	hostCtx, hostSpan := o.tracer.StartHostSpan(ctx, host)
	defer hostSpan.End()
	o.metrics.RecordHostTargeted()

	hr := HostResult{Host: host}
	triggered := make(map[string]bool, len(play.Handlers))
	stopped := false

	for _, task := range play.Tasks {
		if ctx.Err() != nil {
			logger.Warn().Str("host", host).Msg("Cancelled, stopping host flow")
			stopped = true
			break
		}

		result := o.runTask(hostCtx, task, play, inv, host)
		hr.Tasks = append(hr.Tasks, TaskOutcome{Task: task.Name, Result: result})

		if result.Status == playbook.StatusFailed {
			logger.Warn().
				Str("host", host).
				Str("task", task.Name).
				Str("output", result.Output).
				Msg("Task failed")
			if !o.continueOnError {
				stopped = true
				break
			}
			continue
		}

		if result.Status == playbook.StatusChanged {
			for _, name := range task.Notify {
				if _, ok := play.Handler(name); ok {
					triggered[name] = true
				} else {
					logger.Warn().
						Str("host", host).
						Str("task", task.Name).
						Str("handler", name).
						Msg("Notify names unknown handler, ignoring")
				}
			}
		}
	}

	if stopped || ctx.Err() != nil {
		return hr
	}

	// Handler phase: declared order, each at most once, consumed on
	// firing. A failed handler stops the remaining handlers for this
	// host, same rule as tasks.
	for _, handler := range play.Handlers {
		if !triggered[handler.Name] {
			continue
		}
		triggered[handler.Name] = false

		result := o.runTask(hostCtx, handler.Task, play, inv, host)
		hr.Handlers = append(hr.Handlers, TaskOutcome{Task: handler.Name, Result: result})
		o.metrics.RecordHandlerFired(play.Name)

		if result.Status == playbook.StatusFailed {
			logger.Warn().
				Str("host", host).
				Str("handler", handler.Name).
				Msg("Handler failed, stopping remaining handlers")
			break
		}
	}

	return hr
}

// runTask resolves the host's variables with the play overlay applied
// and executes one task through the executor.
func (o *Orchestrator) runTask(ctx context.Context, task playbook.Task, play playbook.Play, inv *inventory.Inventory, host string) playbook.TaskResult {
	start := time.Now()
	taskCtx, span := o.tracer.StartTaskSpan(ctx, task.Name, task.Module, host)
	defer span.End()

	vars, err := inv.EffectiveVarsOverlay(host, play.Vars)
	if err != nil {
		// Host disappeared between expansion and execution.
		telemetry.RecordError(span, err)
		return playbook.Failed(err.Error())
	}

	result := o.executor.ExecuteWithVars(taskCtx, task, host, vars)
	span.SetAttributes(telemetry.AttrStatus.String(string(result.Status)))

	status := string(result.Status)
	if result.Skipped {
		status = "skipped"
	}
	o.metrics.RecordTaskExecution(task.Module, status, time.Since(start))

	return result
}

// Execute runs each play in declared order, independently. One play's
// outcome does not alter later plays' inventories except through
// registered facts, which remain visible across plays on the same
// executor. Structural play errors abort only their play; they are
// joined and returned alongside the results of the plays that ran.
func (o *Orchestrator) Execute(ctx context.Context, pb playbook.Playbook, inv *inventory.Inventory) ([]PlayResult, error) {
	results := make([]PlayResult, 0, len(pb.Plays))
	var errs []error

	for _, play := range pb.Plays {
		result, err := o.ExecutePlay(ctx, play, inv)
		if err != nil {
			o.logger.Error().Err(err).Str("play", play.Name).Msg("Play aborted")
			errs = append(errs, err)
			continue
		}
		results = append(results, result)
	}

	return results, errors.Join(errs...)
}

// ExecuteWithTags retains only plays whose tag set intersects tags,
// then executes normally. A playbook with no matching plays yields an
// empty result list, not an error.
func (o *Orchestrator) ExecuteWithTags(ctx context.Context, pb playbook.Playbook, inv *inventory.Inventory, tags []string) ([]PlayResult, error) {
	return o.Execute(ctx, pb.FilterByTags(tags), inv)
}

// ExecuteWithHosts executes against a restricted view of the inventory
// containing only the named hosts, with their group memberships and
// group vars preserved so variable precedence is unaffected.
func (o *Orchestrator) ExecuteWithHosts(ctx context.Context, pb playbook.Playbook, inv *inventory.Inventory, hosts []string) ([]PlayResult, error) {
	return o.Execute(ctx, pb, inv.Restrict(hosts))
}
