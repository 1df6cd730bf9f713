package engine

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"github.com/stagehand/stagehand/pkg/inventory"
	"github.com/stagehand/stagehand/pkg/modules"
	"github.com/stagehand/stagehand/pkg/playbook"
)

func orchestratorInventory(t *testing.T) *inventory.Inventory {
	t.Helper()
	inv := inventory.New()
	inv.AddHost("web1", map[string]string{"env": "prod"})
	inv.AddHost("web2", nil)
	inv.AddHost("db1", nil)
	inv.AddGroup("web", map[string]string{"tier": "frontend"})
	inv.AddGroup("db", nil)
	for host, group := range map[string]string{"web1": "web", "web2": "web", "db1": "db"} {
		if err := inv.AddHostToGroup(host, group); err != nil {
			t.Fatal(err)
		}
	}
	return inv
}

func TestExpandPattern(t *testing.T) {
	inv := orchestratorInventory(t)

	tests := []struct {
		pattern string
		want    []string
	}{
		{"all", []string{"db1", "web1", "web2"}},
		{"web", []string{"web1", "web2"}},
		{"db", []string{"db1"}},
		{"web*", []string{"web1", "web2"}},
		{"web1*", []string{"web1"}},
		{"web1", []string{"web1"}},
		{"ghost", nil},
		{"ghost*", nil},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			if got := ExpandPattern(tt.pattern, inv); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExpandPattern(%q) = %v, want %v", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestExecutePlayEmptyExpansion(t *testing.T) {
	orch := NewOrchestrator(NewExecutor(modules.Builtin()), Options{})
	play := playbook.Play{
		Name:  "nowhere",
		Hosts: "ghost",
		Tasks: []playbook.Task{{Name: "t", Module: "ping"}},
	}

	_, err := orch.ExecutePlay(context.Background(), play, orchestratorInventory(t))
	if !IsPlayError(err) {
		t.Fatalf("error = %v, want a play error", err)
	}
}

func TestExecutePlayBasicCounts(t *testing.T) {
	reg := modules.NewRegistry()
	if err := reg.Register("mark", func(_ context.Context, _ map[string]string) (playbook.TaskResult, error) {
		return playbook.Changed("marked"), nil
	}); err != nil {
		t.Fatal(err)
	}
	orch := NewOrchestrator(NewExecutor(reg), Options{Forks: 2})

	guard := playbook.False()
	play := playbook.Play{
		Name:  "mark web",
		Hosts: "web",
		Tasks: []playbook.Task{
			{Name: "mark", Module: "mark"},
			{Name: "never", Module: "mark", Guard: &guard},
		},
	}

	result, err := orch.ExecutePlay(context.Background(), play, orchestratorInventory(t))
	if err != nil {
		t.Fatalf("ExecutePlay() error = %v", err)
	}

	want := PlayCounts{Changed: 2, Skipped: 2}
	if result.Counts != want {
		t.Errorf("counts = %+v, want %+v", result.Counts, want)
	}
	if result.RunID == "" {
		t.Error("run ID must be assigned")
	}

	// Results follow sorted host order regardless of completion order.
	var hosts []string
	for _, hr := range result.Hosts {
		hosts = append(hosts, hr.Host)
	}
	if !reflect.DeepEqual(hosts, []string{"web1", "web2"}) {
		t.Errorf("host order = %v, want sorted", hosts)
	}
}

func TestExecutePlayFailureIsolation(t *testing.T) {
	reg := modules.NewRegistry()
	if err := reg.Register("failon", func(_ context.Context, args map[string]string) (playbook.TaskResult, error) {
		if args["env"] == "prod" {
			return playbook.Failed("refused in prod"), nil
		}
		return playbook.Changed("done"), nil
	}); err != nil {
		t.Fatal(err)
	}
	orch := NewOrchestrator(NewExecutor(reg), Options{})

	// web1 has env=prod in its host vars; the module receives env through
	// task args here, so wire it per-task via a play var indirection:
	// instead, fail based on a guard-free module that inspects nothing
	// and a per-host arg is impossible. Use two tasks where the first
	// fails only on web1 through its guard.
	guard := playbook.Eq("env", "prod")
	play := playbook.Play{
		Name:  "rollout",
		Hosts: "web",
		Tasks: []playbook.Task{
			{Name: "fail on prod", Module: "failon", Args: map[string]string{"env": "prod"}, Guard: &guard},
			{Name: "continue", Module: "failon"},
		},
	}

	result, err := orch.ExecutePlay(context.Background(), play, orchestratorInventory(t))
	if err != nil {
		t.Fatal(err)
	}

	// web1: guard true, task fails, flow stops after one outcome.
	web1, ok := result.HostResult("web1")
	if !ok {
		t.Fatal("missing web1 result")
	}
	if len(web1.Tasks) != 1 {
		t.Fatalf("web1 outcomes = %d, want 1 (flow stops at failure)", len(web1.Tasks))
	}
	if web1.Tasks[0].Result.Status != playbook.StatusFailed {
		t.Errorf("web1 status = %q, want failed", web1.Tasks[0].Result.Status)
	}

	// web2: guard false on first task, second task runs normally.
	web2, ok := result.HostResult("web2")
	if !ok {
		t.Fatal("missing web2 result")
	}
	if len(web2.Tasks) != 2 {
		t.Fatalf("web2 outcomes = %d, want 2 (unaffected by web1)", len(web2.Tasks))
	}
	if web2.Tasks[1].Result.Status != playbook.StatusChanged {
		t.Errorf("web2 second task status = %q, want changed", web2.Tasks[1].Result.Status)
	}
}

func TestExecutePlayContinueOnError(t *testing.T) {
	reg := modules.NewRegistry()
	if err := reg.Register("fail", func(_ context.Context, _ map[string]string) (playbook.TaskResult, error) {
		return playbook.Failed("nope"), nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("ok", func(_ context.Context, _ map[string]string) (playbook.TaskResult, error) {
		return playbook.Unchanged("fine"), nil
	}); err != nil {
		t.Fatal(err)
	}
	orch := NewOrchestrator(NewExecutor(reg), Options{ContinueOnError: true})

	play := playbook.Play{
		Name:  "lenient",
		Hosts: "db1",
		Tasks: []playbook.Task{
			{Name: "fails", Module: "fail"},
			{Name: "still runs", Module: "ok"},
		},
	}

	result, err := orch.ExecutePlay(context.Background(), play, orchestratorInventory(t))
	if err != nil {
		t.Fatal(err)
	}
	hr, _ := result.HostResult("db1")
	if len(hr.Tasks) != 2 {
		t.Fatalf("outcomes = %d, want 2 under the lenient policy", len(hr.Tasks))
	}
}

func TestHandlersFireAtMostOnce(t *testing.T) {
	var mu sync.Mutex
	fired := make(map[string]int)

	reg := modules.NewRegistry()
	if err := reg.Register("change", func(_ context.Context, _ map[string]string) (playbook.TaskResult, error) {
		return playbook.Changed("changed"), nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("restart", func(_ context.Context, args map[string]string) (playbook.TaskResult, error) {
		mu.Lock()
		fired[args["svc"]]++
		mu.Unlock()
		return playbook.Changed("restarted"), nil
	}); err != nil {
		t.Fatal(err)
	}
	orch := NewOrchestrator(NewExecutor(reg), Options{})

	play := playbook.Play{
		Name:  "configure",
		Hosts: "db1",
		Tasks: []playbook.Task{
			{Name: "edit a", Module: "change", Notify: []string{"restart svc"}},
			{Name: "edit b", Module: "change", Notify: []string{"restart svc"}},
			{Name: "edit c", Module: "change", Notify: []string{"restart svc", "reload other"}},
		},
		Handlers: []playbook.Handler{
			{Name: "reload other", Task: playbook.Task{Name: "reload other", Module: "restart", Args: map[string]string{"svc": "other"}}},
			{Name: "restart svc", Task: playbook.Task{Name: "restart svc", Module: "restart", Args: map[string]string{"svc": "svc"}}},
		},
	}

	result, err := orch.ExecutePlay(context.Background(), play, orchestratorInventory(t))
	if err != nil {
		t.Fatal(err)
	}

	if fired["svc"] != 1 {
		t.Errorf("restart svc fired %d times, want 1", fired["svc"])
	}
	if fired["other"] != 1 {
		t.Errorf("reload other fired %d times, want 1", fired["other"])
	}

	// Handlers run in declared order, not notification order.
	hr, _ := result.HostResult("db1")
	if len(hr.Handlers) != 2 {
		t.Fatalf("handler outcomes = %d, want 2", len(hr.Handlers))
	}
	if hr.Handlers[0].Task != "reload other" || hr.Handlers[1].Task != "restart svc" {
		t.Errorf("handler order = %q, %q; want declared order", hr.Handlers[0].Task, hr.Handlers[1].Task)
	}
}

func TestHandlersNotFiredWithoutChange(t *testing.T) {
	fired := 0
	reg := modules.NewRegistry()
	if err := reg.Register("steady", func(_ context.Context, _ map[string]string) (playbook.TaskResult, error) {
		return playbook.Unchanged("already there"), nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("restart", func(_ context.Context, _ map[string]string) (playbook.TaskResult, error) {
		fired++
		return playbook.Changed(""), nil
	}); err != nil {
		t.Fatal(err)
	}
	orch := NewOrchestrator(NewExecutor(reg), Options{})

	play := playbook.Play{
		Name:  "steady state",
		Hosts: "db1",
		Tasks: []playbook.Task{
			{Name: "noop", Module: "steady", Notify: []string{"restart"}},
		},
		Handlers: []playbook.Handler{
			{Name: "restart", Task: playbook.Task{Name: "restart", Module: "restart"}},
		},
	}

	if _, err := orch.ExecutePlay(context.Background(), play, orchestratorInventory(t)); err != nil {
		t.Fatal(err)
	}
	if fired != 0 {
		t.Errorf("handler fired %d times on unchanged tasks, want 0", fired)
	}
}

func TestHandlersSkippedWhenHostStops(t *testing.T) {
	fired := 0
	reg := modules.NewRegistry()
	if err := reg.Register("change", func(_ context.Context, _ map[string]string) (playbook.TaskResult, error) {
		return playbook.Changed(""), nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("fail", func(_ context.Context, _ map[string]string) (playbook.TaskResult, error) {
		return playbook.Failed("boom"), nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("restart", func(_ context.Context, _ map[string]string) (playbook.TaskResult, error) {
		fired++
		return playbook.Changed(""), nil
	}); err != nil {
		t.Fatal(err)
	}
	orch := NewOrchestrator(NewExecutor(reg), Options{})

	play := playbook.Play{
		Name:  "broken",
		Hosts: "db1",
		Tasks: []playbook.Task{
			{Name: "edit", Module: "change", Notify: []string{"restart"}},
			{Name: "break", Module: "fail"},
		},
		Handlers: []playbook.Handler{
			{Name: "restart", Task: playbook.Task{Name: "restart", Module: "restart"}},
		},
	}

	if _, err := orch.ExecutePlay(context.Background(), play, orchestratorInventory(t)); err != nil {
		t.Fatal(err)
	}
	if fired != 0 {
		t.Errorf("handler fired %d times on a stopped host, want 0", fired)
	}
}

func TestPlayVarOverlayPrecedence(t *testing.T) {
	reg := modules.NewRegistry()
	if err := reg.Register("observe", func(_ context.Context, _ map[string]string) (playbook.TaskResult, error) {
		return playbook.Unchanged(""), nil
	}); err != nil {
		t.Fatal(err)
	}

	// Observe precedence through the guard: it evaluates against the
	// resolved view, so a guard on each layer's key shows which value won.
	inv := inventory.New()
	inv.AddHost("h", map[string]string{"from_host": "host"})
	inv.AddGroup("g", map[string]string{"layer": "group", "from_group": "group"})
	if err := inv.AddHostToGroup("h", "g"); err != nil {
		t.Fatal(err)
	}

	orch := NewOrchestrator(NewExecutor(reg), Options{})
	overlayWins := playbook.Eq("layer", "play")
	groupSurvives := playbook.Eq("from_group", "group")
	hostSurvives := playbook.Eq("from_host", "host")

	play := playbook.Play{
		Name:  "layered",
		Hosts: "h",
		Vars:  map[string]string{"layer": "play"},
		Tasks: []playbook.Task{
			{Name: "play over group", Module: "observe", Guard: &overlayWins},
			{Name: "group key survives", Module: "observe", Guard: &groupSurvives},
			{Name: "host key survives", Module: "observe", Guard: &hostSurvives},
		},
	}

	result, err := orch.ExecutePlay(context.Background(), play, inv)
	if err != nil {
		t.Fatal(err)
	}
	hr, _ := result.HostResult("h")
	for _, outcome := range hr.Tasks {
		if outcome.Result.Skipped {
			t.Errorf("task %q skipped: its layer's value did not resolve", outcome.Task)
		}
	}
}

func TestPlayVarsDoNotOverrideHostVars(t *testing.T) {
	inv := inventory.New()
	inv.AddHost("h", map[string]string{"key": "host"})

	reg := modules.NewRegistry()
	if err := reg.Register("observe", func(_ context.Context, _ map[string]string) (playbook.TaskResult, error) {
		return playbook.Unchanged(""), nil
	}); err != nil {
		t.Fatal(err)
	}
	orch := NewOrchestrator(NewExecutor(reg), Options{})

	hostWins := playbook.Eq("key", "host")
	play := playbook.Play{
		Name:  "host wins",
		Hosts: "h",
		Vars:  map[string]string{"key": "play"},
		Tasks: []playbook.Task{{Name: "check", Module: "observe", Guard: &hostWins}},
	}

	result, err := orch.ExecutePlay(context.Background(), play, inv)
	if err != nil {
		t.Fatal(err)
	}
	hr, _ := result.HostResult("h")
	if hr.Tasks[0].Result.Skipped {
		t.Error("host var must take precedence over the play overlay")
	}
}

func TestExecuteWithTags(t *testing.T) {
	orch := NewOrchestrator(NewExecutor(modules.Builtin()), Options{})
	pb := playbook.Playbook{Plays: []playbook.Play{
		{Name: "web play", Hosts: "web", Tags: []string{"web"}, Tasks: []playbook.Task{{Name: "t", Module: "ping"}}},
		{Name: "db play", Hosts: "db", Tags: []string{"db"}, Tasks: []playbook.Task{{Name: "t", Module: "ping"}}},
	}}

	results, err := orch.ExecuteWithTags(context.Background(), pb, orchestratorInventory(t), []string{"db"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Play != "db play" {
		t.Fatalf("results = %+v, want only the db play", results)
	}

	// No matching tags: nothing runs, no error.
	results, err = orch.ExecuteWithTags(context.Background(), pb, orchestratorInventory(t), []string{"ghost"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want 0 for a fully filtered playbook", len(results))
	}
}

func TestExecuteWithHostsPreservesGroupVars(t *testing.T) {
	reg := modules.NewRegistry()
	if err := reg.Register("observe", func(_ context.Context, _ map[string]string) (playbook.TaskResult, error) {
		return playbook.Unchanged(""), nil
	}); err != nil {
		t.Fatal(err)
	}
	orch := NewOrchestrator(NewExecutor(reg), Options{})

	groupVarSurvives := playbook.Eq("tier", "frontend")
	pb := playbook.Playbook{Plays: []playbook.Play{{
		Name:  "limited",
		Hosts: "web",
		Tasks: []playbook.Task{{Name: "check", Module: "observe", Guard: &groupVarSurvives}},
	}}}

	results, err := orch.ExecuteWithHosts(context.Background(), pb, orchestratorInventory(t), []string{"web1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if len(results[0].Hosts) != 1 || results[0].Hosts[0].Host != "web1" {
		t.Fatalf("hosts = %+v, want only web1", results[0].Hosts)
	}
	if results[0].Hosts[0].Tasks[0].Result.Skipped {
		t.Error("group vars must survive host filtering")
	}
}

func TestExecuteContinuesPastPlayError(t *testing.T) {
	orch := NewOrchestrator(NewExecutor(modules.Builtin()), Options{})
	pb := playbook.Playbook{Plays: []playbook.Play{
		{Name: "bad", Hosts: "ghost", Tasks: []playbook.Task{{Name: "t", Module: "ping"}}},
		{Name: "good", Hosts: "db1", Tasks: []playbook.Task{{Name: "t", Module: "ping"}}},
	}}

	results, err := orch.Execute(context.Background(), pb, orchestratorInventory(t))
	if !IsPlayError(err) {
		t.Fatalf("error = %v, want the first play's error", err)
	}
	if len(results) != 1 || results[0].Play != "good" {
		t.Fatalf("results = %+v, want the good play to have run", results)
	}
}

func TestExecutePlayCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := NewOrchestrator(NewExecutor(modules.Builtin()), Options{})
	play := playbook.Play{
		Name:  "cancelled",
		Hosts: "db1",
		Tasks: []playbook.Task{{Name: "t", Module: "ping"}},
	}

	result, err := orch.ExecutePlay(ctx, play, orchestratorInventory(t))
	if err != nil {
		t.Fatalf("cancellation must not be a play error, got %v", err)
	}
	hr, ok := result.HostResult("db1")
	if !ok {
		t.Fatal("missing db1 result")
	}
	if len(hr.Tasks) != 0 {
		t.Errorf("outcomes = %d, want 0 under a pre-cancelled context", len(hr.Tasks))
	}
}

func TestUnknownNotifyIgnored(t *testing.T) {
	reg := modules.NewRegistry()
	if err := reg.Register("change", func(_ context.Context, _ map[string]string) (playbook.TaskResult, error) {
		return playbook.Changed(""), nil
	}); err != nil {
		t.Fatal(err)
	}
	orch := NewOrchestrator(NewExecutor(reg), Options{})

	play := playbook.Play{
		Name:  "dangling",
		Hosts: "db1",
		Tasks: []playbook.Task{{Name: "edit", Module: "change", Notify: []string{"no such handler"}}},
	}

	result, err := orch.ExecutePlay(context.Background(), play, orchestratorInventory(t))
	if err != nil {
		t.Fatal(err)
	}
	hr, _ := result.HostResult("db1")
	if len(hr.Handlers) != 0 {
		t.Errorf("handlers = %d, want 0 for an unknown notify target", len(hr.Handlers))
	}
}
