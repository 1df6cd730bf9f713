// Package loader parses playbook and inventory YAML files into the
// in-memory structures the engine consumes, and parses guard strings
// into the engine's condition variant. The engine itself never touches
// file formats; this package is the loader collaborator in front of it.
package loader

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/stagehand/stagehand/pkg/inventory"
	"github.com/stagehand/stagehand/pkg/playbook"
)

// rawTask is the on-disk shape of a task.
type rawTask struct {
	Name     string            `yaml:"name" validate:"required"`
	Module   string            `yaml:"module" validate:"required"`
	Args     map[string]string `yaml:"args"`
	When     string            `yaml:"when"`
	Register string            `yaml:"register"`
	Notify   []string          `yaml:"notify"`
}

// rawHandler is the on-disk shape of a handler: a named task without
// its own when/notify chain.
type rawHandler struct {
	Name   string            `yaml:"name" validate:"required"`
	Module string            `yaml:"module" validate:"required"`
	Args   map[string]string `yaml:"args"`
}

// rawPlay is the on-disk shape of a play.
type rawPlay struct {
	Name     string            `yaml:"name" validate:"required"`
	Hosts    string            `yaml:"hosts" validate:"required"`
	Vars     map[string]string `yaml:"vars"`
	Tags     []string          `yaml:"tags"`
	Tasks    []rawTask         `yaml:"tasks" validate:"required,min=1"`
	Handlers []rawHandler      `yaml:"handlers"`
}

// rawPlaybook is the on-disk shape of a playbook file.
type rawPlaybook struct {
	Plays []rawPlay `yaml:"plays" validate:"required,min=1"`
}

// rawInventory is the on-disk shape of an inventory file.
type rawInventory struct {
	Hosts  map[string]map[string]string `yaml:"hosts"`
	Groups map[string]rawGroup          `yaml:"groups"`
}

// rawGroup is the on-disk shape of a group.
type rawGroup struct {
	Vars  map[string]string `yaml:"vars"`
	Hosts []string          `yaml:"hosts"`
}

// Loader decodes and validates playbook and inventory files.
type Loader struct {
	validator *validator.Validate
}

// New creates a loader.
func New() *Loader {
	return &Loader{validator: validator.New()}
}

// LoadPlaybook reads, validates, and converts a playbook YAML file.
func (l *Loader) LoadPlaybook(path string) (playbook.Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return playbook.Playbook{}, fmt.Errorf("failed to read playbook: %w", err)
	}
	return l.ParsePlaybook(data)
}

// ParsePlaybook validates and converts playbook YAML content.
func (l *Loader) ParsePlaybook(data []byte) (playbook.Playbook, error) {
	var raw rawPlaybook
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return playbook.Playbook{}, fmt.Errorf("failed to parse playbook: %w", err)
	}
	if err := l.validator.Struct(raw); err != nil {
		return playbook.Playbook{}, fmt.Errorf("playbook validation failed: %w", err)
	}

	pb := playbook.Playbook{Plays: make([]playbook.Play, 0, len(raw.Plays))}
	for _, rp := range raw.Plays {
		play, err := l.convertPlay(rp)
		if err != nil {
			return playbook.Playbook{}, err
		}
		pb.Plays = append(pb.Plays, play)
	}
	return pb, nil
}

// convertPlay validates one raw play and converts it to the engine
// model. Notify lists must reference handlers declared on the play;
// catching dangling names here keeps the engine free of them.
func (l *Loader) convertPlay(rp rawPlay) (playbook.Play, error) {
	if err := l.validator.Struct(rp); err != nil {
		return playbook.Play{}, fmt.Errorf("play %q validation failed: %w", rp.Name, err)
	}

	handlerNames := make(map[string]struct{}, len(rp.Handlers))
	handlers := make([]playbook.Handler, 0, len(rp.Handlers))
	for _, rh := range rp.Handlers {
		if err := l.validator.Struct(rh); err != nil {
			return playbook.Play{}, fmt.Errorf("play %q handler validation failed: %w", rp.Name, err)
		}
		if _, dup := handlerNames[rh.Name]; dup {
			return playbook.Play{}, fmt.Errorf("play %q declares handler %q twice", rp.Name, rh.Name)
		}
		handlerNames[rh.Name] = struct{}{}
		handlers = append(handlers, playbook.Handler{
			Name: rh.Name,
			Task: playbook.Task{Name: rh.Name, Module: rh.Module, Args: rh.Args},
		})
	}

	tasks := make([]playbook.Task, 0, len(rp.Tasks))
	for _, rt := range rp.Tasks {
		if err := l.validator.Struct(rt); err != nil {
			return playbook.Play{}, fmt.Errorf("play %q task validation failed: %w", rp.Name, err)
		}
		for _, notify := range rt.Notify {
			if _, ok := handlerNames[notify]; !ok {
				return playbook.Play{}, fmt.Errorf("play %q task %q notifies unknown handler %q", rp.Name, rt.Name, notify)
			}
		}

		task := playbook.Task{
			Name:     rt.Name,
			Module:   rt.Module,
			Args:     rt.Args,
			Register: rt.Register,
			Notify:   rt.Notify,
		}
		if rt.When != "" {
			guard := ParseGuard(rt.When)
			task.Guard = &guard
		}
		tasks = append(tasks, task)
	}

	return playbook.Play{
		Name:     rp.Name,
		Hosts:    rp.Hosts,
		Tasks:    tasks,
		Handlers: handlers,
		Vars:     rp.Vars,
		Tags:     rp.Tags,
	}, nil
}

// LoadInventory reads and converts an inventory YAML file. Hosts
// listed only under a group are implicitly created with empty vars.
func (l *Loader) LoadInventory(path string) (*inventory.Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	return l.ParseInventory(data)
}

// ParseInventory converts inventory YAML content.
func (l *Loader) ParseInventory(data []byte) (*inventory.Inventory, error) {
	var raw rawInventory
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}

	inv := inventory.New()
	for name, vars := range raw.Hosts {
		inv.AddHost(name, vars)
	}
	for name, rg := range raw.Groups {
		inv.AddGroup(name, rg.Vars)
		for _, member := range rg.Hosts {
			if err := inv.AddHostToGroup(member, name); err != nil {
				return nil, fmt.Errorf("inventory group %q: %w", name, err)
			}
		}
	}
	return inv, nil
}

// ParseGuard parses a guard string into the condition variant the
// engine evaluates. Recognized forms: the literals "true" and "false",
// and "<var> == <value>" / "<var> != <value>". Anything else parses to
// the false literal, the fail-safe direction: an unparseable guard
// skips its task rather than risking unintended effects.
func ParseGuard(s string) playbook.Condition {
	trimmed := strings.TrimSpace(s)
	switch trimmed {
	case "true":
		return playbook.True()
	case "false":
		return playbook.False()
	}

	if variable, value, ok := splitComparison(trimmed, "=="); ok {
		return playbook.Eq(variable, value)
	}
	if variable, value, ok := splitComparison(trimmed, "!="); ok {
		return playbook.Ne(variable, value)
	}
	return playbook.False()
}

// splitComparison splits "<var> <op> <value>" on the first operator
// occurrence. Both sides must be non-empty after trimming.
func splitComparison(s, op string) (string, string, bool) {
	variable, value, found := strings.Cut(s, op)
	if !found {
		return "", "", false
	}
	variable = strings.TrimSpace(variable)
	value = strings.TrimSpace(value)
	if variable == "" || value == "" {
		return "", "", false
	}
	return variable, value, true
}
