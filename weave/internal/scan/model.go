package scan

import (
	"fmt"

	"github.com/wippyai/weaver/il"
)

// Scope is the structural level an extension point is declared at, or
// lifted to by a scope marker.
type Scope uint8

const (
	ScopeNone Scope = iota
	ScopeProperty
	ScopeMethod
	ScopeEvent
	ScopeClass
	ScopeModule
	ScopeAssembly
)

var scopeNames = [...]string{
	ScopeNone:     "none",
	ScopeProperty: "property",
	ScopeMethod:   "method",
	ScopeEvent:    "event",
	ScopeClass:    "class",
	ScopeModule:   "module",
	ScopeAssembly: "assembly",
}

func (s Scope) String() string {
	if int(s) < len(scopeNames) {
		return scopeNames[s]
	}
	return fmt.Sprintf("scope(%d)", s)
}

// NaturalScope is the scope a member occupies by its kind.
func NaturalScope(member any) Scope {
	switch member.(type) {
	case *il.TypeDef:
		return ScopeClass
	case *il.MethodDef:
		return ScopeMethod
	case *il.PropertyDef:
		return ScopeProperty
	case *il.EventDef:
		return ScopeEvent
	}
	return ScopeNone
}

// Descriptor identifies exactly one annotation occurrence.
type Descriptor struct {
	// Type declares the annotated site; nil for assembly annotations.
	Type *il.TypeDef
	// Member is the annotated method, property or event; nil for class
	// and assembly annotations.
	Member     any
	Attribute  *il.Attribute
	Annotation *il.TypeDef
	// Index is the position among same-typed annotations on the site.
	Index int
	Scope Scope
}

func (d *Descriptor) String() string {
	site := "assembly"
	switch {
	case d.Member != nil:
		site = MemberName(d.Member)
	case d.Type != nil:
		site = d.Type.FullName()
	}
	return fmt.Sprintf("%s#%d@%s", d.Attribute.Type, d.Index, site)
}

// Kind selects the weaver a task is queued for.
type Kind uint8

const (
	KindState Kind = iota
	KindAccess
	KindPreinit
	KindInit
	KindMethod
	KindAsync
	KindGet
	KindSet
	KindAdd
	KindRemove

	kindCount
)

// Order is the fixed order weavers run in. State and access wiring come
// first so later rewrites of accessors see the final member set.
var Order = []Kind{
	KindState, KindAccess, KindPreinit, KindInit,
	KindMethod, KindAsync, KindGet, KindSet, KindAdd, KindRemove,
}

var kindNames = [kindCount]string{
	KindState:   "state",
	KindAccess:  "access",
	KindPreinit: "preinit",
	KindInit:    "init",
	KindMethod:  "method",
	KindAsync:   "async",
	KindGet:     "property-get",
	KindSet:     "property-set",
	KindAdd:     "event-add",
	KindRemove:  "event-remove",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Task is a (member, descriptor) pair queued for one weaver.
type Task struct {
	// Target is a *il.TypeDef, *il.MethodDef, *il.PropertyDef or *il.EventDef.
	Target any
	Desc   *Descriptor
	Kind   Kind
}

// Owner returns the type declaring the target.
func (t Task) Owner() *il.TypeDef { return Owner(t.Target) }

func (t Task) String() string {
	return fmt.Sprintf("%s %s <- %s", t.Kind, MemberName(t.Target), t.Desc)
}

// Owner returns the declaring type of a member, or the type itself.
func Owner(member any) *il.TypeDef {
	switch m := member.(type) {
	case *il.TypeDef:
		return m
	case *il.MethodDef:
		return m.DeclaringType
	case *il.PropertyDef:
		return m.DeclaringType
	case *il.EventDef:
		return m.DeclaringType
	}
	return nil
}

// MemberName renders a member for diagnostics.
func MemberName(member any) string {
	switch m := member.(type) {
	case *il.TypeDef:
		return m.FullName()
	case *il.MethodDef:
		return m.DeclaringType.FullName() + "::" + m.Signature()
	case *il.PropertyDef:
		return m.FullName()
	case *il.EventDef:
		return m.FullName()
	}
	return fmt.Sprint(member)
}

// Plan holds the per-kind worklists of a module.
type Plan struct {
	tasks [kindCount][]Task
}

// Add queues t.
func (p *Plan) Add(t Task) {
	p.tasks[t.Kind] = append(p.tasks[t.Kind], t)
}

// Tasks returns the worklist of one kind.
func (p *Plan) Tasks(k Kind) []Task {
	if k >= kindCount {
		return nil
	}
	return p.tasks[k]
}

// All returns every task in weaving order.
func (p *Plan) All() []Task {
	var out []Task
	for _, k := range Order {
		out = append(out, p.tasks[k]...)
	}
	return out
}

// Len returns the number of queued tasks.
func (p *Plan) Len() int {
	n := 0
	for _, ts := range p.tasks {
		n += len(ts)
	}
	return n
}
