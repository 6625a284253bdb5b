package il

import (
	"sync"

	"github.com/wippyai/weaver/errors"
)

// Resolver finds type definitions by full name across a module and the
// modules it references.
type Resolver interface {
	ResolveType(fullName string) *TypeDef
}

// ModuleSet resolves types across a fixed set of modules. The first module
// defining a name wins.
type ModuleSet struct {
	index   map[string]*TypeDef
	modules []*Module
	mu      sync.RWMutex
}

// NewModuleSet creates a resolver over mods.
func NewModuleSet(mods ...*Module) *ModuleSet {
	s := &ModuleSet{index: make(map[string]*TypeDef)}
	for _, m := range mods {
		s.Add(m)
	}
	return s
}

// Add indexes every type of m, including synthesized and nested types.
func (s *ModuleSet) Add(m *Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules = append(s.modules, m)
	for _, t := range m.AllTypes() {
		if _, ok := s.index[t.FullName()]; !ok {
			s.index[t.FullName()] = t
		}
	}
}

// Refresh re-indexes types added to the modules after they joined the set.
func (s *ModuleSet) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.modules {
		for _, t := range m.AllTypes() {
			if _, ok := s.index[t.FullName()]; !ok {
				s.index[t.FullName()] = t
			}
		}
	}
}

// ResolveType implements Resolver.
func (s *ModuleSet) ResolveType(fullName string) *TypeDef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index[fullName]
}

// Modules returns the modules in the set.
func (s *ModuleSet) Modules() []*Module {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Module(nil), s.modules...)
}

// Link binds the Def of every type, method and field reference in m using r.
// All unresolved references are reported together.
func Link(m *Module, r Resolver) error {
	l := &linker{r: r}
	l.module(m)
	if len(l.missing) > 0 {
		return errors.NewUnresolvedReferencesError(l.missing)
	}
	return nil
}

type linker struct {
	r       Resolver
	owner   string
	missing []string
	seen    map[string]bool
}

func (l *linker) miss(ref string) {
	key := l.owner + "|" + ref
	if l.seen == nil {
		l.seen = make(map[string]bool)
	}
	if !l.seen[key] {
		l.seen[key] = true
		l.missing = append(l.missing, key)
	}
}

func (l *linker) sig(s *TypeSig) {
	if s == nil {
		return
	}
	switch s.Kind {
	case SigArray:
		l.sig(s.Elem)
		return
	case SigVar, SigMVar:
		return
	}
	for _, a := range s.Args {
		l.sig(a)
	}
	if s.Def != nil {
		return
	}
	if def := l.r.ResolveType(s.Name); def != nil {
		s.Def = def
		return
	}
	// Built-in types need no definition unless members are referenced on them.
	if !IsPrimitiveName(s.Name) {
		l.miss(s.Name)
	}
}

func (l *linker) sigs(ss []*TypeSig) {
	for _, s := range ss {
		l.sig(s)
	}
}

func (l *linker) attributes(attrs []*Attribute) {
	for _, a := range attrs {
		l.sig(a.Type)
		for _, v := range a.Args {
			if t, ok := v.(*TypeSig); ok {
				l.sig(t)
			}
		}
		for _, n := range a.Named {
			if t, ok := n.Value.(*TypeSig); ok {
				l.sig(t)
			}
		}
	}
}

func (l *linker) module(m *Module) {
	l.owner = ""
	l.attributes(m.Attributes)
	for _, t := range m.AllTypes() {
		l.owner = t.FullName()
		l.sig(t.BaseType)
		l.sigs(t.Interfaces)
		l.attributes(t.Attributes)
		for _, g := range t.GenericParams {
			l.sigs(g.Constraints)
		}
		for _, f := range t.Fields {
			l.sig(f.Type)
			l.attributes(f.Attributes)
		}
		for _, p := range t.Properties {
			l.sig(p.Type)
			l.attributes(p.Attributes)
		}
		for _, e := range t.Events {
			l.sig(e.HandlerType)
			l.attributes(e.Attributes)
		}
	}
	for _, t := range m.AllTypes() {
		for _, md := range t.Methods {
			l.owner = md.FullName()
			l.method(md)
		}
	}
}

func (l *linker) method(md *MethodDef) {
	l.sig(md.ReturnType)
	for _, p := range md.Params {
		l.sig(p.Type)
	}
	for _, g := range md.GenericParams {
		l.sigs(g.Constraints)
	}
	l.attributes(md.Attributes)
	if md.Body == nil {
		return
	}
	l.sigs(md.Body.Locals)
	for _, in := range md.Body.Instrs {
		switch v := in.Operand.(type) {
		case *TypeSig:
			l.sig(v)
		case *MethodRef:
			l.methodRef(v)
		case *FieldRef:
			l.fieldRef(v)
		}
	}
}

func (l *linker) methodRef(r *MethodRef) {
	l.sig(r.DeclaringType)
	l.sig(r.ReturnType)
	l.sigs(r.Params)
	l.sigs(r.GenericArgs)
	if r.Def != nil {
		return
	}
	if r.DeclaringType.Def == nil {
		if r.DeclaringType.Kind == SigNamed {
			l.miss(r.String())
		}
		return
	}
	if def := FindMethodInHierarchy(r.DeclaringType.Def, r.Signature(), l.r); def != nil {
		r.Def = def
		return
	}
	l.miss(r.String())
}

func (l *linker) fieldRef(r *FieldRef) {
	l.sig(r.DeclaringType)
	l.sig(r.Type)
	if r.Def != nil {
		return
	}
	if r.DeclaringType.Def == nil {
		if r.DeclaringType.Kind == SigNamed {
			l.miss(r.String())
		}
		return
	}
	for t := r.DeclaringType.Def; t != nil; t = BaseDef(t, l.r) {
		if f := t.FindField(r.Name); f != nil {
			r.Def = f
			return
		}
	}
	l.miss(r.String())
}

// BaseDef returns the definition of t's base type, or nil.
func BaseDef(t *TypeDef, r Resolver) *TypeDef {
	if t.BaseType == nil {
		return nil
	}
	if t.BaseType.Def != nil {
		return t.BaseType.Def
	}
	if r == nil {
		return nil
	}
	return r.ResolveType(t.BaseType.Name)
}

// FindMethodInHierarchy looks up a method by signature on t and its bases.
func FindMethodInHierarchy(t *TypeDef, signature string, r Resolver) *MethodDef {
	for cur := t; cur != nil; cur = BaseDef(cur, r) {
		if m := cur.FindMethod(signature); m != nil {
			return m
		}
	}
	return nil
}

// AllInterfaces returns the interfaces t implements directly, through its
// bases and through interface inheritance, as signatures in t's context.
// Generic arguments of inherited interfaces are substituted along the way.
func AllInterfaces(t *TypeDef, r Resolver) []*TypeSig {
	var out []*TypeSig
	seen := map[string]bool{}
	var visit func(s *TypeSig)
	visit = func(s *TypeSig) {
		key := s.String()
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, s)
		def := s.Def
		if def == nil && r != nil {
			def = r.ResolveType(s.Name)
		}
		if def == nil {
			return
		}
		for _, inner := range def.Interfaces {
			visit(inner.Substitute(s.Args, nil))
		}
	}
	var args []*TypeSig
	for cur, i := t, 0; cur != nil && i < 64; i++ {
		for _, iface := range cur.Interfaces {
			visit(iface.Substitute(args, nil))
		}
		if cur.BaseType == nil {
			break
		}
		args = substituteAll(cur.BaseType.Args, args)
		cur = BaseDef(cur, r)
	}
	return out
}

func substituteAll(sigs, typeArgs []*TypeSig) []*TypeSig {
	if len(sigs) == 0 {
		return nil
	}
	out := make([]*TypeSig, len(sigs))
	for i, s := range sigs {
		out[i] = s.Substitute(typeArgs, nil)
	}
	return out
}

// Implements reports whether t implements the interface with the given full
// name, returning the matching instantiation.
func Implements(t *TypeDef, ifaceName string, r Resolver) (*TypeSig, bool) {
	for _, s := range AllInterfaces(t, r) {
		if s.Name == ifaceName {
			return s, true
		}
	}
	return nil, false
}

// ImplementsAll returns every instantiation of the interface t implements.
func ImplementsAll(t *TypeDef, ifaceName string, r Resolver) []*TypeSig {
	var out []*TypeSig
	for _, s := range AllInterfaces(t, r) {
		if s.Name == ifaceName {
			out = append(out, s)
		}
	}
	return out
}

// IsSubclassOf reports whether t derives from the type named base, or is it.
func IsSubclassOf(t *TypeDef, base string, r Resolver) bool {
	for cur, i := t, 0; cur != nil && i < 64; cur, i = BaseDef(cur, r), i+1 {
		if cur.FullName() == base {
			return true
		}
	}
	return false
}
