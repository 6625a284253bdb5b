// Package registry implements the run-time extension registry: a
// thread-safe map from member descriptors to the live extension-point
// instances attached to them.
//
// Entries are populated by the owning type's static initializer, once per
// extension point. Distinct types may initialize concurrently, and one
// member may receive several registrations (stacked annotations), so the
// entry map and each entry's list are guarded separately: the map by a
// RWMutex, the list by a per-entry mutex.
package registry

import (
	"sync"

	"go.uber.org/zap"
)

// Registry maps member descriptors to extension-point instances.
// The zero value is not usable; call New.
type Registry struct {
	entries map[any]*entry
	order   []any
	mu      sync.RWMutex
}

type entry struct {
	extensions []any
	mu         sync.Mutex
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[any]*entry)}
}

func (r *Registry) entry(member any, create bool) *entry {
	r.mu.RLock()
	e := r.entries[member]
	r.mu.RUnlock()
	if e != nil || !create {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e = r.entries[member]; e == nil {
		e = &entry{}
		r.entries[member] = e
		r.order = append(r.order, member)
	}
	return e
}

// Register appends ext to the extension points of member.
// member must be comparable.
func (r *Registry) Register(member, ext any) {
	e := r.entry(member, true)
	e.mu.Lock()
	e.extensions = append(e.extensions, ext)
	n := len(e.extensions)
	e.mu.Unlock()

	Logger().Debug("extension registered",
		zap.Any("member", member),
		zap.String("extension", typeName(ext)),
		zap.Int("count", n))
}

// Get returns the extension points registered for member, in registration
// order. The returned slice is a copy.
func (r *Registry) Get(member any) []any {
	e := r.entry(member, false)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]any(nil), e.extensions...)
}

// Len returns the number of extension points registered for member.
func (r *Registry) Len(member any) int {
	e := r.entry(member, false)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.extensions)
}

// Members returns every member with at least one registration, in the order
// of first registration.
func (r *Registry) Members() []any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]any(nil), r.order...)
}

type named interface {
	TypeName() string
}

func typeName(v any) string {
	if n, ok := v.(named); ok {
		return n.TypeName()
	}
	if v == nil {
		return "<nil>"
	}
	return "?"
}
