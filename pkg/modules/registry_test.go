package modules

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/stagehand/stagehand/pkg/playbook"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	fn := func(_ context.Context, _ map[string]string) (playbook.TaskResult, error) {
		return playbook.Unchanged("ok"), nil
	}

	if err := r.Register("noop", fn); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, err := r.Get("noop")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	result, err := got(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Output != "ok" {
		t.Errorf("output = %q, want ok", result.Output)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()
	fn := func(_ context.Context, _ map[string]string) (playbook.TaskResult, error) {
		return playbook.Unchanged(""), nil
	}

	if err := r.Register("", fn); err == nil {
		t.Error("empty name must be rejected")
	}
	if err := r.Register("nilfn", nil); err == nil {
		t.Error("nil function must be rejected")
	}
	if err := r.Register("dup", fn); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("dup", fn); err == nil {
		t.Error("duplicate registration must be rejected")
	}
}

func TestGetUnknownModule(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("ghost")
	if !IsModuleNotFound(err) {
		t.Errorf("error = %v, want module not found", err)
	}
}

func TestNames(t *testing.T) {
	r := Builtin()
	want := []string{"command", "debug", "fail", "ping", "set_fact"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestCheckModeDefaultReportsNoChange(t *testing.T) {
	r := NewRegistry()
	applied := false
	err := r.Register("mutator", func(_ context.Context, _ map[string]string) (playbook.TaskResult, error) {
		applied = true
		return playbook.Changed("mutated"), nil
	})
	if err != nil {
		t.Fatal(err)
	}

	fn, err := r.CheckMode().Get("mutator")
	if err != nil {
		t.Fatal(err)
	}
	result, err := fn(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Error("check mode must not invoke the apply function")
	}
	if result.Status != playbook.StatusUnchanged {
		t.Errorf("check status = %q, want unchanged", result.Status)
	}
}

func TestCheckModeCustomCheck(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterWithCheck("pkg",
		func(_ context.Context, _ map[string]string) (playbook.TaskResult, error) {
			return playbook.Changed("installed"), nil
		},
		func(_ context.Context, _ map[string]string) (playbook.TaskResult, error) {
			return playbook.Changed("would install"), nil
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	fn, err := r.CheckMode().Get("pkg")
	if err != nil {
		t.Fatal(err)
	}
	result, _ := fn(context.Background(), nil)
	if result.Output != "would install" {
		t.Errorf("output = %q, want the check variant's report", result.Output)
	}

	// The original registry still dispatches apply.
	fn, err = r.Get("pkg")
	if err != nil {
		t.Fatal(err)
	}
	result, _ = fn(context.Background(), nil)
	if result.Output != "installed" {
		t.Errorf("output = %q, want installed", result.Output)
	}
}

func TestBuiltinPing(t *testing.T) {
	fn, err := Builtin().Get("ping")
	if err != nil {
		t.Fatal(err)
	}
	result, err := fn(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != playbook.StatusUnchanged || result.Output != "pong" {
		t.Errorf("ping = %+v, want unchanged pong", result)
	}
}

func TestBuiltinDebug(t *testing.T) {
	fn, err := Builtin().Get("debug")
	if err != nil {
		t.Fatal(err)
	}

	result, _ := fn(context.Background(), map[string]string{"msg": "hello"})
	if result.Output != "hello" {
		t.Errorf("output = %q, want hello", result.Output)
	}

	result, _ = fn(context.Background(), map[string]string{"b": "2", "a": "1"})
	if result.Output != "a=1 b=2" {
		t.Errorf("output = %q, want sorted key=value pairs", result.Output)
	}
}

func TestBuiltinSetFact(t *testing.T) {
	fn, err := Builtin().Get("set_fact")
	if err != nil {
		t.Fatal(err)
	}
	result, err := fn(context.Background(), map[string]string{"version": "1.2.3"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Facts["version"] != "1.2.3" {
		t.Errorf("facts = %v, want version=1.2.3", result.Facts)
	}
}

func TestBuiltinCommand(t *testing.T) {
	r := Builtin()
	fn, err := r.Get("command")
	if err != nil {
		t.Fatal(err)
	}

	result, err := fn(context.Background(), map[string]string{"cmd": "systemctl restart nginx"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != playbook.StatusChanged {
		t.Errorf("status = %q, want changed", result.Status)
	}

	if _, err := fn(context.Background(), nil); err == nil {
		t.Error("command without cmd must fail")
	}

	// Check mode predicts the change instead of applying it.
	checkFn, err := r.CheckMode().Get("command")
	if err != nil {
		t.Fatal(err)
	}
	result, err = checkFn(context.Background(), map[string]string{"cmd": "reboot"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != playbook.StatusChanged || !strings.Contains(result.Output, "would execute") {
		t.Errorf("check result = %+v, want a would-execute prediction", result)
	}
}

func TestBuiltinFail(t *testing.T) {
	fn, err := Builtin().Get("fail")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fn(context.Background(), map[string]string{"msg": "boom"}); err == nil || err.Error() != "boom" {
		t.Errorf("error = %v, want boom", err)
	}
	if _, err := fn(context.Background(), nil); err == nil {
		t.Error("fail without msg must still fail")
	}
}
