package modules

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/stagehand/stagehand/pkg/playbook"
)

// Builtin returns a registry preloaded with the built-in modules:
// ping, debug, set_fact, and fail. They carry no remote side effects
// and exist so playbooks can be exercised end-to-end without external
// module packs.
func Builtin() *Registry {
	r := NewRegistry()

	// Registration of statically-known modules cannot collide.
	_ = r.Register("ping", pingModule)
	_ = r.Register("debug", debugModule)
	_ = r.RegisterWithCheck("set_fact", setFactModule, setFactModule)
	_ = r.Register("fail", failModule)
	_ = r.RegisterWithCheck("command", commandModule, commandCheck)

	return r
}

// pingModule reports reachability of the control node itself. It is
// always UNCHANGED.
func pingModule(_ context.Context, _ map[string]string) (playbook.TaskResult, error) {
	return playbook.Unchanged("pong"), nil
}

// debugModule echoes its "msg" argument, or all arguments when no msg
// is given. Always UNCHANGED.
func debugModule(_ context.Context, args map[string]string) (playbook.TaskResult, error) {
	if msg, ok := args["msg"]; ok {
		return playbook.Unchanged(msg), nil
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, args[k]))
	}
	return playbook.Unchanged(strings.Join(parts, " ")), nil
}

// setFactModule contributes its arguments as facts. Combined with a
// task's register name, this is how playbooks stash values for later
// tasks. Side-effect free, so it doubles as its own check function.
func setFactModule(_ context.Context, args map[string]string) (playbook.TaskResult, error) {
	facts := make(map[string]string, len(args))
	for k, v := range args {
		facts[k] = v
	}
	return playbook.TaskResult{
		Status: playbook.StatusUnchanged,
		Output: fmt.Sprintf("%d fact(s) set", len(facts)),
		Facts:  facts,
	}, nil
}

// failModule fails unconditionally with the "msg" argument. Useful for
// asserting guard behavior in playbooks.
func failModule(_ context.Context, args map[string]string) (playbook.TaskResult, error) {
	msg := args["msg"]
	if msg == "" {
		msg = "failed as requested"
	}
	return playbook.TaskResult{}, fmt.Errorf("%s", msg)
}

// commandModule simulates running a command on the target: it reports
// the command as executed with a CHANGED result. The control node has
// no transport, so nothing actually runs remotely.
func commandModule(_ context.Context, args map[string]string) (playbook.TaskResult, error) {
	cmd := args["cmd"]
	if cmd == "" {
		return playbook.TaskResult{}, fmt.Errorf("command: cmd argument is required")
	}
	return playbook.Changed(fmt.Sprintf("executed: %s", cmd)), nil
}

// commandCheck reports the command that would run without executing it.
func commandCheck(_ context.Context, args map[string]string) (playbook.TaskResult, error) {
	cmd := args["cmd"]
	if cmd == "" {
		return playbook.TaskResult{}, fmt.Errorf("command: cmd argument is required")
	}
	return playbook.Changed(fmt.Sprintf("would execute: %s", cmd)), nil
}
