// Package registry holds the loaded workflow definitions and serves
// immutable snapshots of them to concurrent dispatches.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/capitalize-ai/oncall-dispatch/internal/model"
	"github.com/capitalize-ai/oncall-dispatch/internal/render"
)

// ErrUnknownWorkflow is returned when a named workflow is not loaded.
var ErrUnknownWorkflow = errors.New("unknown workflow")

// Snapshot is an immutable view of the registry. Callers must not modify
// the slices it returns.
type Snapshot struct {
	Version  uint64
	LoadedAt time.Time

	all       []model.WorkflowDefinition
	active    []model.WorkflowDefinition
	byName    map[string]int
	templates *render.Set
}

// Templates returns the response templates loaded together with the
// definitions, or nil when none were.
func (s *Snapshot) Templates() *render.Set {
	return s.templates
}

// Active returns the enabled definitions ordered by priority descending,
// ties broken by load order.
func (s *Snapshot) Active() []model.WorkflowDefinition {
	return s.active
}

// All returns every definition, enabled or not, in match order.
func (s *Snapshot) All() []model.WorkflowDefinition {
	return s.all
}

// Lookup returns the definition with the given name.
func (s *Snapshot) Lookup(name string) (model.WorkflowDefinition, bool) {
	i, ok := s.byName[name]
	if !ok {
		return model.WorkflowDefinition{}, false
	}
	return s.all[i], true
}

// Len returns the number of loaded definitions.
func (s *Snapshot) Len() int {
	return len(s.all)
}

// Registry owns the workflow definitions. Reads are lock-free; writers
// build a new snapshot and swap it in atomically.
type Registry struct {
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex // serializes writers
	now     func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{now: time.Now}
	r.current.Store(newSnapshot(nil, nil, 0, r.now()))
	return r
}

// Load validates and indexes defs, replacing anything loaded before.
func (r *Registry) Load(defs []model.WorkflowDefinition) error {
	return r.Reload(defs)
}

// Reload validates defs and atomically replaces the current snapshot,
// keeping the current templates. On failure the previous snapshot stays in place.
func (r *Registry) Reload(defs []model.WorkflowDefinition) error {
	return r.reload(defs, nil, false)
}

// ReloadWithTemplates replaces definitions and response templates in one
// snapshot, so a dispatch never sees definitions from one load and
// templates from another.
func (r *Registry) ReloadWithTemplates(defs []model.WorkflowDefinition, templates *render.Set) error {
	return r.reload(defs, templates, true)
}

func (r *Registry) reload(defs []model.WorkflowDefinition, templates *render.Set, replaceTemplates bool) error {
	if issues := Validate(defs); len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}

	copied := make([]model.WorkflowDefinition, len(defs))
	for i, def := range defs {
		copied[i] = cloneDefinition(def)
		copied[i].LoadIndex = i
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.current.Load()
	if !replaceTemplates {
		templates = cur.templates
	}
	r.current.Store(newSnapshot(copied, templates, cur.Version+1, r.now()))
	return nil
}

// Snapshot returns the current snapshot. A dispatch pins the snapshot it
// starts with for its whole cycle.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// ActiveDefinitions returns the enabled definitions in match order.
func (r *Registry) ActiveDefinitions() []model.WorkflowDefinition {
	return r.current.Load().Active()
}

// Disable marks a workflow as disabled. Disabling an already disabled
// workflow leaves the registry unchanged.
func (r *Registry) Disable(name string) error {
	return r.setEnabled(name, false)
}

// Enable marks a workflow as enabled.
func (r *Registry) Enable(name string) error {
	return r.setEnabled(name, true)
}

func (r *Registry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	i, ok := cur.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorkflow, name)
	}
	if cur.all[i].Enabled == enabled {
		return nil
	}

	defs := make([]model.WorkflowDefinition, len(cur.all))
	copy(defs, cur.all)
	defs[i].Enabled = enabled

	r.current.Store(newSnapshot(defs, cur.templates, cur.Version+1, r.now()))
	return nil
}

func newSnapshot(defs []model.WorkflowDefinition, templates *render.Set, version uint64, now time.Time) *Snapshot {
	sorted := make([]model.WorkflowDefinition, len(defs))
	copy(sorted, defs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].LoadIndex < sorted[j].LoadIndex
	})

	s := &Snapshot{
		Version:   version,
		LoadedAt:  now,
		all:       sorted,
		active:    make([]model.WorkflowDefinition, 0, len(sorted)),
		byName:    make(map[string]int, len(sorted)),
		templates: templates,
	}
	for i, def := range sorted {
		s.byName[def.Name] = i
		if def.Enabled {
			s.active = append(s.active, def)
		}
	}
	return s
}

func cloneDefinition(def model.WorkflowDefinition) model.WorkflowDefinition {
	out := def
	out.Conditions = make([]model.Condition, len(def.Conditions))
	for i, c := range def.Conditions {
		if field, ok := canonicalField(string(c.Field)); ok {
			c.Field = field
		}
		c.Values = append([]string(nil), c.Values...)
		out.Conditions[i] = c
	}
	out.Actions = make([]model.ActionSpec, len(def.Actions))
	for i, a := range def.Actions {
		if a.Params != nil {
			params := make(map[string]any, len(a.Params))
			for k, v := range a.Params {
				params[k] = v
			}
			a.Params = params
		}
		out.Actions[i] = a
	}
	return out
}
