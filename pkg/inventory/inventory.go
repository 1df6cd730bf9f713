// Package inventory owns the host and group model: registration,
// membership, per-scope variables, dynamic sources, and the
// deterministic effective-variable resolution the engine builds on.
package inventory

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Sentinel errors for inventory lookups. Lookup failures on unknown
// names are caller errors and are surfaced immediately, never retried.
var (
	// ErrHostNotFound indicates a lookup on an unregistered host name.
	ErrHostNotFound = errors.New("host not found")

	// ErrGroupNotFound indicates a lookup on an unregistered group name.
	ErrGroupNotFound = errors.New("group not found")
)

// IsHostNotFound reports whether err wraps ErrHostNotFound.
func IsHostNotFound(err error) bool { return errors.Is(err, ErrHostNotFound) }

// IsGroupNotFound reports whether err wraps ErrGroupNotFound.
func IsGroupNotFound(err error) bool { return errors.Is(err, ErrGroupNotFound) }

// HostRecord is a (hostname, vars) pair produced by a dynamic source.
type HostRecord struct {
	Name string            `json:"name"`
	Vars map[string]string `json:"vars,omitempty"`
}

// Source is a zero-argument producer of host records. An empty result
// is valid and a no-op; sources must not fail on transient emptiness.
type Source interface {
	// Fetch returns the source's current host records.
	Fetch() ([]HostRecord, error)

	// Name identifies the source in logs.
	Name() string
}

// SourceFunc adapts a plain function into a Source.
type SourceFunc func() ([]HostRecord, error)

// Fetch invokes the function.
func (f SourceFunc) Fetch() ([]HostRecord, error) { return f() }

// Name identifies adapted functions generically.
func (f SourceFunc) Name() string { return "func" }

// host is the internal host entry. Vars are owned by the Inventory and
// copied at every API boundary; callers never receive shared cells.
type host struct {
	name string
	vars map[string]string
}

// group is the internal group entry. Members are host names, not host
// references: groups do not own hosts.
type group struct {
	name    string
	vars    map[string]string
	members map[string]struct{}
}

// Inventory aggregates hosts, groups, and dynamic sources. All access
// goes through its own synchronization; it is safe for concurrent use.
type Inventory struct {
	mu      sync.RWMutex
	hosts   map[string]*host
	groups  map[string]*group
	sources []Source
}

// New returns an empty inventory.
func New() *Inventory {
	return &Inventory{
		hosts:  make(map[string]*host),
		groups: make(map[string]*group),
	}
}

// AddHost registers a host. Re-registration is idempotent and
// overwrites the host's vars.
func (inv *Inventory) AddHost(name string, vars map[string]string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.addHostLocked(name, vars)
}

func (inv *Inventory) addHostLocked(name string, vars map[string]string) {
	h, ok := inv.hosts[name]
	if !ok {
		h = &host{name: name}
		inv.hosts[name] = h
	}
	h.vars = copyVars(vars)
}

// AddGroup registers a group. Re-registration overwrites the group's
// vars and preserves its membership.
func (inv *Inventory) AddGroup(name string, vars map[string]string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	g, ok := inv.groups[name]
	if !ok {
		g = &group{name: name, members: make(map[string]struct{})}
		inv.groups[name] = g
	}
	g.vars = copyVars(vars)
}

// AddHostToGroup adds a host to a group's membership set. The group
// must already exist; the host is implicitly created with empty vars if
// it is not yet registered, mirroring inventory-file semantics where
// group membership can declare a host.
func (inv *Inventory) AddHostToGroup(hostName, groupName string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	g, ok := inv.groups[groupName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, groupName)
	}
	if _, ok := inv.hosts[hostName]; !ok {
		inv.addHostLocked(hostName, nil)
	}
	g.members[hostName] = struct{}{}
	return nil
}

// RemoveHost removes a host and its membership in every group.
func (inv *Inventory) RemoveHost(name string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if _, ok := inv.hosts[name]; !ok {
		return fmt.Errorf("%w: %s", ErrHostNotFound, name)
	}
	delete(inv.hosts, name)
	for _, g := range inv.groups {
		delete(g.members, name)
	}
	return nil
}

// RemoveGroup removes a group. Its member hosts are not removed.
func (inv *Inventory) RemoveGroup(name string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if _, ok := inv.groups[name]; !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, name)
	}
	delete(inv.groups, name)
	return nil
}

// SetHostVar sets a single variable on a host.
func (inv *Inventory) SetHostVar(hostName, key, value string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	h, ok := inv.hosts[hostName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrHostNotFound, hostName)
	}
	if h.vars == nil {
		h.vars = make(map[string]string)
	}
	h.vars[key] = value
	return nil
}

// SetGroupVar sets a single variable on a group.
func (inv *Inventory) SetGroupVar(groupName, key, value string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	g, ok := inv.groups[groupName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, groupName)
	}
	if g.vars == nil {
		g.vars = make(map[string]string)
	}
	g.vars[key] = value
	return nil
}

// HasHost reports whether the host is registered.
func (inv *Inventory) HasHost(name string) bool {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	_, ok := inv.hosts[name]
	return ok
}

// HasGroup reports whether the group is registered.
func (inv *Inventory) HasGroup(name string) bool {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	_, ok := inv.groups[name]
	return ok
}

// HostNames returns all host names in ascending order.
func (inv *Inventory) HostNames() []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	names := make([]string, 0, len(inv.hosts))
	for name := range inv.hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GroupNames returns all group names in ascending order.
func (inv *Inventory) GroupNames() []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	names := make([]string, 0, len(inv.groups))
	for name := range inv.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HostVars returns a copy of the host's own vars.
func (inv *Inventory) HostVars(name string) (map[string]string, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	h, ok := inv.hosts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHostNotFound, name)
	}
	return copyVars(h.vars), nil
}

// GroupVars returns a copy of the group's vars.
func (inv *Inventory) GroupVars(name string) (map[string]string, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	g, ok := inv.groups[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, name)
	}
	return copyVars(g.vars), nil
}

// Members returns the group's member host names in ascending order.
func (inv *Inventory) Members(groupName string) ([]string, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	g, ok := inv.groups[groupName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, groupName)
	}
	members := make([]string, 0, len(g.members))
	for name := range g.members {
		members = append(members, name)
	}
	sort.Strings(members)
	return members, nil
}

// GroupsOf returns the names of every group containing the host, in
// ascending order.
func (inv *Inventory) GroupsOf(hostName string) []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.groupsOfLocked(hostName)
}

func (inv *Inventory) groupsOfLocked(hostName string) []string {
	var names []string
	for name, g := range inv.groups {
		if _, ok := g.members[hostName]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// EffectiveVars resolves the host's effective variables: group vars of
// every containing group merged in ascending lexicographic group-name
// order (a later group overrides an earlier one on key collision), then
// overridden by the host's own vars. The order depends only on group
// names, never on registration order.
func (inv *Inventory) EffectiveVars(hostName string) (map[string]string, error) {
	return inv.EffectiveVarsOverlay(hostName, nil)
}

// EffectiveVarsOverlay resolves effective variables with an additional
// overlay applied between group vars and host vars. The orchestrator
// uses this for play vars: group < overlay < host. The overlay is read,
// never retained.
func (inv *Inventory) EffectiveVarsOverlay(hostName string, overlay map[string]string) (map[string]string, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	h, ok := inv.hosts[hostName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHostNotFound, hostName)
	}

	merged := make(map[string]string)
	for _, groupName := range inv.groupsOfLocked(hostName) {
		for k, v := range inv.groups[groupName].vars {
			merged[k] = v
		}
	}
	for k, v := range overlay {
		merged[k] = v
	}
	for k, v := range h.vars {
		merged[k] = v
	}
	return merged, nil
}

// AddSource registers a dynamic source. Sources are pulled in
// registration order by Refresh.
func (inv *Inventory) AddSource(src Source) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.sources = append(inv.sources, src)
}

// Refresh pulls from every registered source in registration order.
// Each record creates a new host or overwrites an existing host's vars:
// dynamic data always wins over previously-stored host vars for
// refreshed hosts. A failing source does not prevent the remaining
// sources from being pulled; errors are joined.
func (inv *Inventory) Refresh() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	var errs []error
	for _, src := range inv.sources {
		records, err := src.Fetch()
		if err != nil {
			log.Warn().Err(err).Str("source", src.Name()).Msg("Dynamic source fetch failed")
			errs = append(errs, fmt.Errorf("source %s: %w", src.Name(), err))
			continue
		}
		for _, rec := range records {
			inv.addHostLocked(rec.Name, rec.Vars)
		}
		log.Debug().Str("source", src.Name()).Int("records", len(records)).Msg("Dynamic source refreshed")
	}
	return errors.Join(errs...)
}

// Restrict returns a new inventory containing only the named hosts and
// the groups they belong to, with those groups' vars preserved, so
// variable precedence is unaffected by host filtering. Unknown names
// are ignored. The restricted view carries no dynamic sources.
func (inv *Inventory) Restrict(hostNames []string) *Inventory {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	keep := make(map[string]struct{}, len(hostNames))
	for _, name := range hostNames {
		keep[name] = struct{}{}
	}

	view := New()
	for name, h := range inv.hosts {
		if _, ok := keep[name]; ok {
			view.hosts[name] = &host{name: name, vars: copyVars(h.vars)}
		}
	}
	for name, g := range inv.groups {
		members := make(map[string]struct{})
		for member := range g.members {
			if _, ok := keep[member]; ok {
				members[member] = struct{}{}
			}
		}
		if len(members) == 0 {
			continue
		}
		view.groups[name] = &group{name: name, vars: copyVars(g.vars), members: members}
	}
	return view
}

func copyVars(vars map[string]string) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}
