package engine

import (
	"time"

	"github.com/stagehand/stagehand/pkg/playbook"
)

// TaskOutcome pairs a task (or handler) name with its result, in
// execution order.
type TaskOutcome struct {
	// Task is the task or handler name.
	Task string `json:"task"`

	// Result is the normalized execution result.
	Result playbook.TaskResult `json:"result"`
}

// HostResult holds the ordered task and handler outcomes for one host
// within a play.
type HostResult struct {
	// Host is the host name.
	Host string `json:"host"`

	// Tasks are the task outcomes in declared task order, truncated at
	// the first failure for this host.
	Tasks []TaskOutcome `json:"tasks"`

	// Handlers are the handler outcomes in declared handler order,
	// containing only handlers that were triggered and fired.
	Handlers []TaskOutcome `json:"handlers,omitempty"`
}

// PlayCounts aggregates task outcomes across a play's hosts. Each task
// counts into exactly one bucket: skipped tasks count as skipped, a
// FAILED task counts as failed, else changed if CHANGED, else ok.
type PlayCounts struct {
	Ok      int `json:"ok"`
	Changed int `json:"changed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`

	// Unreachable is reserved for transport-layer connection failures,
	// which are outside this engine's scope. It is always zero here and
	// kept so callers do not break when a transport layer arrives.
	Unreachable int `json:"unreachable"`
}

// Add folds a single task result into the counts.
func (c *PlayCounts) Add(result playbook.TaskResult) {
	switch {
	case result.Skipped:
		c.Skipped++
	case result.Status == playbook.StatusFailed:
		c.Failed++
	case result.Status == playbook.StatusChanged:
		c.Changed++
	default:
		c.Ok++
	}
}

// PlayResult is the outcome of executing one play.
type PlayResult struct {
	// Play is the play name.
	Play string `json:"play"`

	// RunID identifies this execution.
	RunID string `json:"run_id"`

	// Hosts are the per-host results, ordered by host name.
	Hosts []HostResult `json:"hosts"`

	// Counts aggregates task and handler outcomes across all hosts.
	Counts PlayCounts `json:"counts"`

	// StartedAt is when play execution began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the total play execution time, including the join
	// barrier across host flows.
	Duration time.Duration `json:"duration"`
}

// HostResult returns the result for the named host and whether the
// host was part of the play.
func (r PlayResult) HostResult(host string) (HostResult, bool) {
	for _, hr := range r.Hosts {
		if hr.Host == host {
			return hr, true
		}
	}
	return HostResult{}, false
}

// Failed reports whether any task or handler in the play failed.
func (r PlayResult) Failed() bool {
	return r.Counts.Failed > 0
}
