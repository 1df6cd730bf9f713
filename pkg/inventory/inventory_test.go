package inventory

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestAddHostIdempotent(t *testing.T) {
	inv := New()
	inv.AddHost("web1", map[string]string{"env": "staging"})
	inv.AddHost("web1", map[string]string{"env": "prod"})

	vars, err := inv.HostVars("web1")
	if err != nil {
		t.Fatalf("HostVars() error = %v", err)
	}
	if vars["env"] != "prod" {
		t.Errorf("env = %q, want prod (re-registration overwrites)", vars["env"])
	}
	if got := inv.HostNames(); len(got) != 1 {
		t.Errorf("got %d hosts, want 1", len(got))
	}
}

func TestAddHostToGroupRequiresGroup(t *testing.T) {
	inv := New()
	err := inv.AddHostToGroup("web1", "web")
	if !IsGroupNotFound(err) {
		t.Fatalf("error = %v, want group not found", err)
	}
}

func TestAddHostToGroupImplicitHost(t *testing.T) {
	inv := New()
	inv.AddGroup("web", nil)
	if err := inv.AddHostToGroup("web1", "web"); err != nil {
		t.Fatalf("AddHostToGroup() error = %v", err)
	}

	if !inv.HasHost("web1") {
		t.Error("membership must implicitly create the host")
	}
	vars, err := inv.HostVars("web1")
	if err != nil {
		t.Fatalf("HostVars() error = %v", err)
	}
	if len(vars) != 0 {
		t.Errorf("implicit host vars = %v, want empty", vars)
	}
}

func TestRemoveHostClearsMembership(t *testing.T) {
	inv := New()
	inv.AddGroup("web", nil)
	inv.AddHost("web1", nil)
	if err := inv.AddHostToGroup("web1", "web"); err != nil {
		t.Fatal(err)
	}

	if err := inv.RemoveHost("web1"); err != nil {
		t.Fatalf("RemoveHost() error = %v", err)
	}
	members, err := inv.Members("web")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 0 {
		t.Errorf("members = %v, want empty after host removal", members)
	}

	if err := inv.RemoveHost("web1"); !IsHostNotFound(err) {
		t.Errorf("second removal error = %v, want host not found", err)
	}
}

func TestRemoveGroupKeepsHosts(t *testing.T) {
	inv := New()
	inv.AddGroup("web", nil)
	if err := inv.AddHostToGroup("web1", "web"); err != nil {
		t.Fatal(err)
	}

	if err := inv.RemoveGroup("web"); err != nil {
		t.Fatalf("RemoveGroup() error = %v", err)
	}
	if !inv.HasHost("web1") {
		t.Error("removing a group must not remove its member hosts")
	}
	if err := inv.RemoveGroup("web"); !IsGroupNotFound(err) {
		t.Errorf("second removal error = %v, want group not found", err)
	}
}

func TestEffectiveVarsPrecedence(t *testing.T) {
	inv := New()
	inv.AddHost("w1", map[string]string{"port": "9090"})
	inv.AddGroup("app", map[string]string{"port": "8080", "region": "us-east"})
	inv.AddGroup("web", map[string]string{"port": "80", "tier": "frontend"})
	if err := inv.AddHostToGroup("w1", "app"); err != nil {
		t.Fatal(err)
	}
	if err := inv.AddHostToGroup("w1", "web"); err != nil {
		t.Fatal(err)
	}

	vars, err := inv.EffectiveVars("w1")
	if err != nil {
		t.Fatalf("EffectiveVars() error = %v", err)
	}

	want := map[string]string{
		// host vars win over everything
		"port": "9090",
		// "web" > "app" lexicographically, so web's value would win on
		// collision; non-colliding keys from both groups survive
		"region": "us-east",
		"tier":   "frontend",
	}
	if !reflect.DeepEqual(vars, want) {
		t.Errorf("EffectiveVars() = %v, want %v", vars, want)
	}
}

func TestEffectiveVarsGroupOrderIsNameOrder(t *testing.T) {
	// Same groups, opposite registration order: the merged value must
	// depend only on group names.
	build := func(order []string) *Inventory {
		inv := New()
		inv.AddHost("h", nil)
		for _, g := range order {
			switch g {
			case "alpha":
				inv.AddGroup("alpha", map[string]string{"key": "from-alpha"})
			case "zeta":
				inv.AddGroup("zeta", map[string]string{"key": "from-zeta"})
			}
			if err := inv.AddHostToGroup("h", g); err != nil {
				t.Fatal(err)
			}
		}
		return inv
	}

	for _, order := range [][]string{{"alpha", "zeta"}, {"zeta", "alpha"}} {
		vars, err := build(order).EffectiveVars("h")
		if err != nil {
			t.Fatal(err)
		}
		if vars["key"] != "from-zeta" {
			t.Errorf("order %v: key = %q, want from-zeta (later name wins)", order, vars["key"])
		}
	}
}

func TestEffectiveVarsOverlay(t *testing.T) {
	inv := New()
	inv.AddHost("w1", map[string]string{"a": "host"})
	inv.AddGroup("g", map[string]string{"a": "group", "b": "group", "c": "group"})
	if err := inv.AddHostToGroup("w1", "g"); err != nil {
		t.Fatal(err)
	}

	vars, err := inv.EffectiveVarsOverlay("w1", map[string]string{"b": "play", "a": "play"})
	if err != nil {
		t.Fatalf("EffectiveVarsOverlay() error = %v", err)
	}

	want := map[string]string{"a": "host", "b": "play", "c": "group"}
	if !reflect.DeepEqual(vars, want) {
		t.Errorf("EffectiveVarsOverlay() = %v, want %v", vars, want)
	}
}

func TestEffectiveVarsUnknownHost(t *testing.T) {
	inv := New()
	if _, err := inv.EffectiveVars("ghost"); !IsHostNotFound(err) {
		t.Errorf("error = %v, want host not found", err)
	}
}

func TestVarsAreCopies(t *testing.T) {
	seed := map[string]string{"k": "v"}
	inv := New()
	inv.AddHost("h", seed)

	seed["k"] = "mutated"
	vars, err := inv.HostVars("h")
	if err != nil {
		t.Fatal(err)
	}
	if vars["k"] != "v" {
		t.Error("inventory must copy vars on insert")
	}

	vars["k"] = "mutated-again"
	again, err := inv.HostVars("h")
	if err != nil {
		t.Fatal(err)
	}
	if again["k"] != "v" {
		t.Error("inventory must copy vars on read")
	}
}

func TestRefresh(t *testing.T) {
	inv := New()
	inv.AddHost("static1", map[string]string{"env": "prod"})
	inv.AddSource(SourceFunc(func() ([]HostRecord, error) {
		return []HostRecord{
			{Name: "dyn1", Vars: map[string]string{"env": "staging"}},
			{Name: "static1", Vars: map[string]string{"env": "dynamic"}},
		}, nil
	}))

	if err := inv.Refresh(); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if !inv.HasHost("dyn1") {
		t.Error("refresh must register dynamic hosts")
	}
	vars, err := inv.HostVars("static1")
	if err != nil {
		t.Fatal(err)
	}
	if vars["env"] != "dynamic" {
		t.Errorf("env = %q, want dynamic (refreshed data wins)", vars["env"])
	}
}

func TestRefreshContinuesPastFailingSource(t *testing.T) {
	inv := New()
	inv.AddSource(SourceFunc(func() ([]HostRecord, error) {
		return nil, fmt.Errorf("upstream unavailable")
	}))
	inv.AddSource(SourceFunc(func() ([]HostRecord, error) {
		return []HostRecord{{Name: "survivor"}}, nil
	}))

	err := inv.Refresh()
	if err == nil {
		t.Fatal("Refresh() should report the failing source")
	}
	if !inv.HasHost("survivor") {
		t.Error("a failing source must not block the remaining sources")
	}
}

func TestRefreshEmptySourceIsNoop(t *testing.T) {
	inv := New()
	inv.AddHost("h", nil)
	inv.AddSource(SourceFunc(func() ([]HostRecord, error) { return nil, nil }))

	if err := inv.Refresh(); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := inv.HostNames(); len(got) != 1 {
		t.Errorf("hosts = %v, want only h", got)
	}
}

func TestRestrictPreservesGroupVars(t *testing.T) {
	inv := New()
	inv.AddHost("web1", map[string]string{"own": "yes"})
	inv.AddHost("web2", nil)
	inv.AddHost("db1", nil)
	inv.AddGroup("web", map[string]string{"tier": "frontend"})
	inv.AddGroup("db", map[string]string{"tier": "backend"})
	for host, group := range map[string]string{"web1": "web", "web2": "web", "db1": "db"} {
		if err := inv.AddHostToGroup(host, group); err != nil {
			t.Fatal(err)
		}
	}

	view := inv.Restrict([]string{"web1", "ghost"})

	if got := view.HostNames(); !reflect.DeepEqual(got, []string{"web1"}) {
		t.Fatalf("restricted hosts = %v, want [web1]", got)
	}
	if view.HasGroup("db") {
		t.Error("groups with no surviving members must be dropped")
	}

	vars, err := view.EffectiveVars("web1")
	if err != nil {
		t.Fatal(err)
	}
	if vars["tier"] != "frontend" || vars["own"] != "yes" {
		t.Errorf("restricted vars = %v, group vars must survive restriction", vars)
	}

	// Original inventory is untouched.
	if !inv.HasHost("db1") {
		t.Error("Restrict must not mutate the source inventory")
	}
}

func TestSetHostVarAndSetGroupVar(t *testing.T) {
	inv := New()
	inv.AddHost("h", nil)
	inv.AddGroup("g", nil)

	if err := inv.SetHostVar("h", "k", "v"); err != nil {
		t.Fatal(err)
	}
	if err := inv.SetGroupVar("g", "gk", "gv"); err != nil {
		t.Fatal(err)
	}

	hv, _ := inv.HostVars("h")
	if hv["k"] != "v" {
		t.Errorf("host var = %q, want v", hv["k"])
	}
	gv, _ := inv.GroupVars("g")
	if gv["gk"] != "gv" {
		t.Errorf("group var = %q, want gv", gv["gk"])
	}

	if err := inv.SetHostVar("ghost", "k", "v"); !errors.Is(err, ErrHostNotFound) {
		t.Errorf("error = %v, want ErrHostNotFound", err)
	}
	if err := inv.SetGroupVar("ghost", "k", "v"); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("error = %v, want ErrGroupNotFound", err)
	}
}

func TestNamesAreSorted(t *testing.T) {
	inv := New()
	for _, h := range []string{"zeta", "alpha", "mid"} {
		inv.AddHost(h, nil)
	}
	want := []string{"alpha", "mid", "zeta"}
	if got := inv.HostNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("HostNames() = %v, want %v", got, want)
	}
}
