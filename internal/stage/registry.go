// Package stage defines the fixed extension-point catalog (spec §6.2)
// and the registry that holds named stages implementing subsets of it.
//
// The catalog itself is static data, not a reflective lookup: each
// point is a small Go interface, and a stage "implements" a point
// simply by satisfying that interface. A tag-dispatched switch over
// concrete extension points is clearer than a registry keyed by
// reflected method names (design note, §9), so the engine (package
// engine) type-asserts against these interfaces directly rather than
// this package doing dynamic dispatch on its behalf.
package stage

import (
	"fmt"
	"sync"

	"github.com/usbmitm/controller/internal/logging"
)

// Stage is the minimum every stage must provide: a unique name, used
// both for registration and for log attribution.
type Stage interface {
	Name() string
}

// Registry is the insertion-ordered name → stage map (spec §4.3).
// Registration fails on a duplicate name; unregistration by an absent
// name is a no-op.
type Registry struct {
	mu            sync.Mutex
	order         []string
	byName        map[string]Stage
	hotReloadSlot string
	log           *logging.Logger
}

// NewRegistry creates an empty registry. log receives failure-isolation
// diagnostics; if nil, the process-wide default logger is used.
func NewRegistry(log *logging.Logger) *Registry {
	if log == nil {
		log = logging.Default()
	}
	return &Registry{byName: make(map[string]Stage), log: log}
}

// Register adds s under its own Name(). Returns an error if that name
// is already registered.
func (r *Registry) Register(s Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := s.Name()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("stage: %q already registered", name)
	}
	r.byName[name] = s
	r.order = append(r.order, name)
	return nil
}

// Unregister removes the stage named name. No-op if absent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(name)
}

func (r *Registry) unregisterLocked(name string) {
	if _, exists := r.byName[name]; !exists {
		return
	}
	delete(r.byName, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// SetHotReloadSlot designates name as the hot-reload-owned user-stage
// slot: the only slot failure isolation (spec §4.3, §4.10) will
// unregister on a caught panic.
func (r *Registry) SetHotReloadSlot(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hotReloadSlot = name
}

// Stages returns a snapshot of the currently registered stages, in
// registration order. Safe to range over while a hook invocation later
// mutates the registry (e.g. isolation unregistering a stage
// mid-dispatch): the snapshot is a new slice.
func (r *Registry) Stages() []Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Stage, len(r.order))
	for i, name := range r.order {
		out[i] = r.byName[name]
	}
	return out
}

// Isolate reports a failure (panic or returned error) from the named
// stage's extension point. It is always logged; the stage is
// unregistered only if it occupies the hot-reload slot, so a broken
// user script cannot halt the system (spec §4.3 Failure isolation).
func (r *Registry) Isolate(name string, point string, failure any) {
	r.log.Errorf("stage %q failed in %s: %v", name, point, failure)

	r.mu.Lock()
	isUser := name == r.hotReloadSlot
	r.mu.Unlock()

	if isUser {
		r.Unregister(name)
		r.log.Warnf("stage %q unregistered after failure (hot-reload slot)", name)
	}
}

// Safe invokes fn, recovering any panic and reporting it through
// Isolate under the given stage name and extension-point label. It
// returns false if fn panicked (so callers that need "did this run"
// semantics for all-run points can still account for the gap).
func (r *Registry) Safe(name, point string, fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.Isolate(name, point, rec)
			ok = false
		}
	}()
	fn()
	return true
}
