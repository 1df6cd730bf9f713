// Package playbook defines the declarative data model consumed by the
// Stagehand engine: plays, tasks, handlers, guard conditions, and the
// per-task result type produced by module execution. Values in this
// package are immutable once constructed; filtering operations return
// new values instead of mutating existing ones.
package playbook

// Status represents the outcome of a single task execution.
type Status string

const (
	// StatusUnchanged indicates the task ran and the target was already
	// in the desired state, or the task was skipped by its guard.
	StatusUnchanged Status = "unchanged"

	// StatusChanged indicates the task ran and modified the target.
	StatusChanged Status = "changed"

	// StatusFailed indicates the task could not be completed.
	StatusFailed Status = "failed"
)

// Validate checks if the status is one of the known values.
func (s Status) Validate() bool {
	switch s {
	case StatusUnchanged, StatusChanged, StatusFailed:
		return true
	default:
		return false
	}
}

// TaskResult is the normalized outcome of executing one task on one host.
type TaskResult struct {
	// Status is the execution outcome.
	Status Status `json:"status"`

	// Output is a human-readable description of what happened.
	Output string `json:"output"`

	// Facts are key-value pairs contributed by the module, captured
	// under the task's Register name when one is set.
	Facts map[string]string `json:"facts,omitempty"`

	// Skipped is true only when the guard condition prevented module
	// invocation. Skipped results always carry StatusUnchanged.
	Skipped bool `json:"skipped,omitempty"`
}

// Unchanged returns an UNCHANGED result with the given output.
func Unchanged(output string) TaskResult {
	return TaskResult{Status: StatusUnchanged, Output: output}
}

// Changed returns a CHANGED result with the given output.
func Changed(output string) TaskResult {
	return TaskResult{Status: StatusChanged, Output: output}
}

// Failed returns a FAILED result with the given output.
func Failed(output string) TaskResult {
	return TaskResult{Status: StatusFailed, Output: output}
}

// Skipped returns the canonical result for a guard-skipped task.
func Skipped() TaskResult {
	return TaskResult{Status: StatusUnchanged, Output: "skipped", Skipped: true}
}

// ConditionKind discriminates the guard condition variants.
type ConditionKind string

const (
	// CondLiteral is a constant true/false guard.
	CondLiteral ConditionKind = "literal"

	// CondEq compares a variable's value for equality.
	CondEq ConditionKind = "eq"

	// CondNe compares a variable's value for inequality.
	CondNe ConditionKind = "ne"
)

// Condition is a small tagged-variant guard expression. It is produced
// by an external parser (see pkg/loader); the engine only evaluates the
// variant, keeping the guard grammar swappable.
type Condition struct {
	Kind    ConditionKind `json:"kind"`
	Literal bool          `json:"literal,omitempty"`
	Var     string        `json:"var,omitempty"`
	Value   string        `json:"value,omitempty"`
}

// True returns a guard that always passes.
func True() Condition { return Condition{Kind: CondLiteral, Literal: true} }

// False returns a guard that always skips.
func False() Condition { return Condition{Kind: CondLiteral, Literal: false} }

// Eq returns a guard that passes when the variable equals value.
// An absent variable never equals anything.
func Eq(variable, value string) Condition {
	return Condition{Kind: CondEq, Var: variable, Value: value}
}

// Ne returns a guard that passes when the variable differs from value.
// An absent variable differs from everything.
func Ne(variable, value string) Condition {
	return Condition{Kind: CondNe, Var: variable, Value: value}
}

// Eval evaluates the condition against a resolved variable view.
// Unknown variants evaluate to false, the fail-safe direction: a guard
// the engine cannot understand skips the task rather than running it.
func (c Condition) Eval(vars map[string]string) bool {
	switch c.Kind {
	case CondLiteral:
		return c.Literal
	case CondEq:
		v, ok := vars[c.Var]
		return ok && v == c.Value
	case CondNe:
		v, ok := vars[c.Var]
		return !ok || v != c.Value
	default:
		return false
	}
}

// Task is an immutable unit of work dispatched through the module
// registry against a single host.
type Task struct {
	// Name identifies the task in results and status lines.
	Name string `json:"name"`

	// Module is the registry name of the module to invoke.
	Module string `json:"module"`

	// Args are the module arguments.
	Args map[string]string `json:"args,omitempty"`

	// Guard, when non-nil, must evaluate true against the host's
	// effective variables for the module to be invoked.
	Guard *Condition `json:"guard,omitempty"`

	// Register, when set, captures the result's facts under this name
	// for later tasks to reference.
	Register string `json:"register,omitempty"`

	// Notify lists handler names to trigger when this task reports a
	// change. Names must match handlers declared on the enclosing play.
	Notify []string `json:"notify,omitempty"`
}

// Handler is a task that fires at most once per host per play, only
// when notified by a changed task.
type Handler struct {
	// Name is the identity handlers are notified by.
	Name string `json:"name"`

	// Task is the work performed when the handler fires.
	Task Task `json:"task"`
}

// Play binds a host pattern to an ordered list of tasks and handlers.
type Play struct {
	// Name identifies the play in results.
	Name string `json:"name"`

	// Hosts is the host pattern selecting target hosts: "all", a group
	// name, a literal host name, or a trailing-* prefix pattern.
	Hosts string `json:"hosts"`

	// Tasks run in declared order on every target host.
	Tasks []Task `json:"tasks"`

	// Handlers are fired in declared order during the handler phase.
	Handlers []Handler `json:"handlers,omitempty"`

	// Vars overlay the inventory's variables for the duration of the
	// play, with precedence above group vars and below host vars.
	Vars map[string]string `json:"vars,omitempty"`

	// Tags select the play under tag filtering.
	Tags []string `json:"tags,omitempty"`
}

// HasAnyTag reports whether the play's tag set intersects tags.
func (p Play) HasAnyTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range p.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Handler returns the named handler and whether it exists.
func (p Play) Handler(name string) (Handler, bool) {
	for _, h := range p.Handlers {
		if h.Name == name {
			return h, true
		}
	}
	return Handler{}, false
}

// Playbook is an ordered list of plays.
type Playbook struct {
	Plays []Play `json:"plays"`
}

// FilterByTags returns a new playbook retaining only plays whose tag
// set intersects tags. Plays with no matching tag are excluded
// entirely; they do not run with zero tasks.
func (pb Playbook) FilterByTags(tags []string) Playbook {
	filtered := Playbook{Plays: make([]Play, 0, len(pb.Plays))}
	for _, play := range pb.Plays {
		if play.HasAnyTag(tags) {
			filtered.Plays = append(filtered.Plays, play)
		}
	}
	return filtered
}
