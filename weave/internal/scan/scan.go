// Package scan discovers extension points in a module and builds the
// per-kind worklists the weavers consume.
package scan

import (
	"go.uber.org/zap"

	"github.com/wippyai/weaver/contract"
	"github.com/wippyai/weaver/il"
	"github.com/wippyai/weaver/weave/internal/diag"
	"github.com/wippyai/weaver/weave/internal/emit"
)

// Config controls a scan.
type Config struct {
	Resolver il.Resolver
	Diag     diag.Sink
	// Include filters the types whose members are woven; nil includes all.
	Include func(t *il.TypeDef) bool
}

type capabilities map[string]bool

// Scanner walks a module once. It is not safe for concurrent use.
type Scanner struct {
	cfg       Config
	scopes    *ScopeResolver
	caps      map[*il.TypeDef]capabilities
	classes   map[*il.TypeDef][]*Descriptor
	assembly  []*Descriptor
	plan      *Plan
	inherited map[*il.TypeDef][]*Descriptor
}

// New creates a scanner.
func New(cfg Config) *Scanner {
	if cfg.Diag == nil {
		cfg.Diag = diag.NewZap(nil)
	}
	return &Scanner{
		cfg:       cfg,
		scopes:    NewScopeResolver(cfg.Resolver),
		caps:      make(map[*il.TypeDef]capabilities),
		classes:   make(map[*il.TypeDef][]*Descriptor),
		inherited: make(map[*il.TypeDef][]*Descriptor),
		plan:      &Plan{},
	}
}

// Scan builds the plan for m.
func Scan(m *il.Module, cfg Config) *Plan {
	return New(cfg).Scan(m)
}

// Scan builds the plan for m.
func (s *Scanner) Scan(m *il.Module) *Plan {
	s.assembly = s.descriptors(m.Attributes, nil, nil, ScopeAssembly)
	for _, t := range m.AllTypes() {
		if !s.eligible(t) {
			continue
		}
		s.scanType(t)
	}
	return s.plan
}

func (s *Scanner) eligible(t *il.TypeDef) bool {
	if t.Flags&il.TypeSynthetic != 0 || t.IsInterface() {
		return false
	}
	// Extensions are never applied to extension types themselves.
	if len(s.capabilities(t)) > 0 {
		return false
	}
	return s.cfg.Include == nil || s.cfg.Include(t)
}

// capabilities returns the contracts an annotation type implements.
func (s *Scanner) capabilities(t *il.TypeDef) capabilities {
	if c, ok := s.caps[t]; ok {
		return c
	}
	c := capabilities{}
	for _, iface := range il.AllInterfaces(t, s.cfg.Resolver) {
		for _, name := range contract.Contracts {
			if iface.Name == name {
				c[name] = true
			}
		}
	}
	s.caps[t] = c
	return c
}

func (s *Scanner) has(d *Descriptor, name string) bool {
	return s.capabilities(d.Annotation)[name]
}

// descriptors creates a descriptor for every annotation in attrs that
// carries at least one capability.
func (s *Scanner) descriptors(attrs []*il.Attribute, t *il.TypeDef, member any, scope Scope) []*Descriptor {
	var out []*Descriptor
	seen := map[string]int{}
	for _, a := range attrs {
		key := a.Type.String()
		index := seen[key]
		seen[key] = index + 1

		def := a.Type.Def
		if def == nil && s.cfg.Resolver != nil {
			def = s.cfg.Resolver.ResolveType(a.Type.Name)
		}
		if def == nil || len(s.capabilities(def)) == 0 {
			continue
		}
		d := &Descriptor{Type: t, Member: member, Attribute: a, Annotation: def, Index: index, Scope: scope}
		s.cfg.Diag.Info("extension point",
			zap.String("annotation", key),
			zap.Int("index", index),
			zap.Stringer("scope", scope),
			zap.String("site", d.String()))
		out = append(out, d)
	}
	return out
}

// classDescriptors returns the class-level descriptors declared on t.
func (s *Scanner) classDescriptors(t *il.TypeDef) []*Descriptor {
	if ds, ok := s.classes[t]; ok {
		return ds
	}
	ds := s.descriptors(t.Attributes, t, nil, ScopeClass)
	s.classes[t] = ds
	return ds
}

// inheritedDescriptors returns what every member of t inherits: t's
// class-level descriptors, its ancestors' from most to least derived, then
// the assembly's.
func (s *Scanner) inheritedDescriptors(t *il.TypeDef) []*Descriptor {
	if ds, ok := s.inherited[t]; ok {
		return ds
	}
	var ds []*Descriptor
	for cur, i := t, 0; cur != nil && i < 64; cur, i = il.BaseDef(cur, s.cfg.Resolver), i+1 {
		ds = append(ds, s.classDescriptors(cur)...)
	}
	ds = append(ds, s.assembly...)
	s.inherited[t] = ds
	return ds
}

func (s *Scanner) add(kind Kind, target any, d *Descriptor) {
	task := Task{Kind: kind, Target: target, Desc: d}
	s.cfg.Diag.Info("queued", zap.Stringer("kind", kind), zap.String("member", MemberName(target)),
		zap.String("annotation", d.String()))
	s.plan.Add(task)
}

// declaredOn reports whether d was declared directly on member.
func declaredOn(d *Descriptor, member any) bool {
	return d.Member != nil && d.Member == member
}

func (s *Scanner) skip(d *Descriptor, member any, reason string) {
	fields := []zap.Field{zap.String("member", MemberName(member)), zap.String("annotation", d.String()), zap.String("reason", reason)}
	if declaredOn(d, member) {
		s.cfg.Diag.Warning("member skipped", fields...)
		return
	}
	s.cfg.Diag.Info("member skipped", fields...)
}

func (s *Scanner) scanType(t *il.TypeDef) {
	inherited := s.inheritedDescriptors(t)

	// The class itself only takes what it declares and assembly-level
	// annotations; ancestors wire their own constructors and storage.
	own := append(append([]*Descriptor(nil), s.classDescriptors(t)...), s.assembly...)
	for _, d := range own {
		s.scopeSensitive(t, d)
		if d.Scope == ScopeClass && d.Type == t && s.has(d, contract.ClassEnhancer) {
			s.add(KindAccess, t, d)
		}
	}

	for _, md := range t.Methods {
		if md.IsSpecialName() || md.IsConstructor() || md.IsTypeInitializer() || md.Flags&il.MethodSynthetic != 0 {
			continue
		}
		ds := append(s.descriptors(md.Attributes, t, md, ScopeMethod), inherited...)
		for _, d := range ds {
			s.scanMethod(t, md, d)
		}
	}
	for _, p := range t.Properties {
		ds := append(s.descriptors(p.Attributes, t, p, ScopeProperty), inherited...)
		for _, d := range ds {
			s.scanProperty(t, p, d)
		}
	}
	for _, e := range t.Events {
		ds := append(s.descriptors(e.Attributes, t, e, ScopeEvent), inherited...)
		for _, d := range ds {
			s.scanEvent(t, e, d)
		}
	}
}

// scopeSensitive queues state, preinit and init tasks for member.
func (s *Scanner) scopeSensitive(member any, d *Descriptor) bool {
	natural := NaturalScope(member)
	matched := false
	for _, fk := range []struct {
		f    Family
		kind Kind
	}{
		{States, KindState},
		{Preinitializers, KindPreinit},
		{Initializers, KindInit},
	} {
		switch s.scopes.Resolve(d, fk.f, natural) {
		case Match:
			if fk.kind != KindState && !s.constructible(Owner(member), member, d) {
				continue
			}
			s.add(fk.kind, member, d)
			matched = true
		case Mismatch:
			if declaredOn(d, member) {
				s.cfg.Diag.Warning("scope marker incompatible with member kind",
					zap.String("member", MemberName(member)),
					zap.String("annotation", d.String()),
					zap.Stringer("natural", natural))
			}
		}
	}
	return matched
}

// constructible reports whether initializer calls can be placed in t.
func (s *Scanner) constructible(t *il.TypeDef, member any, d *Descriptor) bool {
	switch {
	case t.IsValueType():
		s.skip(d, member, "initializers on value types are not supported")
		return false
	case len(t.Constructors()) == 0:
		s.cfg.Diag.Warning("type has no constructors",
			zap.String("type", t.FullName()), zap.String("annotation", d.String()))
		return false
	}
	return true
}

func (s *Scanner) interceptable(t *il.TypeDef, md *il.MethodDef, member any, d *Descriptor) bool {
	switch {
	case md == nil:
		return false
	case !md.HasBody():
		s.skip(d, member, "member has no body")
		return false
	case t.IsValueType() && !md.IsStatic():
		s.skip(d, member, "instance members of value types are not supported")
		return false
	}
	return true
}

func (s *Scanner) scanMethod(t *il.TypeDef, md *il.MethodDef, d *Descriptor) {
	matched := s.scopeSensitive(md, d)

	_, awaitable := emit.Awaitable(md.ReturnType)
	kind, ok := KindMethod, s.has(d, contract.MethodInterceptor)
	if s.has(d, contract.AsyncMethodInterceptor) {
		switch {
		case awaitable:
			kind, ok = KindAsync, true
		case !ok:
			s.skip(d, md, "async interceptor on a method that does not return a task")
			return
		}
	}
	if ok {
		if s.interceptable(t, md, md, d) {
			s.add(kind, md, d)
		}
		return
	}
	if !matched && declaredOn(d, md) && !s.has(d, contract.ClassEnhancer) {
		s.cfg.Diag.Warning("annotation carries no method capability",
			zap.String("member", MemberName(md)), zap.String("annotation", d.String()))
	}
}

func (s *Scanner) scanProperty(t *il.TypeDef, p *il.PropertyDef, d *Descriptor) {
	matched := s.scopeSensitive(p, d)
	get, set := s.has(d, contract.PropertyGetInterceptor), s.has(d, contract.PropertySetInterceptor)
	if !get && !set {
		if !matched && declaredOn(d, p) {
			s.cfg.Diag.Warning("property interceptor implements neither get nor set",
				zap.String("member", MemberName(p)), zap.String("annotation", d.String()))
		}
		return
	}
	if get {
		if p.Getter == nil {
			s.skip(d, p, "property has no getter")
		} else if s.interceptable(t, p.Getter, p, d) {
			s.add(KindGet, p, d)
		}
	}
	if set {
		if p.Setter == nil {
			s.skip(d, p, "property has no setter")
		} else if s.interceptable(t, p.Setter, p, d) {
			s.add(KindSet, p, d)
		}
	}
}

func (s *Scanner) scanEvent(t *il.TypeDef, e *il.EventDef, d *Descriptor) {
	matched := s.scopeSensitive(e, d)
	add, remove := s.has(d, contract.EventAddInterceptor), s.has(d, contract.EventRemoveInterceptor)
	if !add && !remove {
		if !matched && declaredOn(d, e) {
			s.cfg.Diag.Warning("event interceptor implements neither add nor remove",
				zap.String("member", MemberName(e)), zap.String("annotation", d.String()))
		}
		return
	}
	if add && s.interceptable(t, e.Adder, e, d) {
		s.add(KindAdd, e, d)
	}
	if remove && s.interceptable(t, e.Remover, e, d) {
		s.add(KindRemove, e, d)
	}
}
