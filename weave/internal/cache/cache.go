// Package cache synthesizes the static storage every weaver relies on:
// cached member descriptors, one durable annotation instance per
// (member, extension point), and the run-time registration of each.
//
// All of it runs from the owning type's static initializer, in segments:
// descriptors, then annotations with their registration, then state
// wiring, then access wiring. Later segments read fields earlier ones set.
package cache

import (
	"strings"

	"github.com/wippyai/weaver/contract"
	"github.com/wippyai/weaver/errors"
	"github.com/wippyai/weaver/il"
	"github.com/wippyai/weaver/weave/internal/binder"
	"github.com/wippyai/weaver/weave/internal/emit"
	"github.com/wippyai/weaver/weave/internal/scan"
)

// Segment orders static initializer code.
type Segment uint8

const (
	SegDescriptor Segment = iota
	SegAnnotation
	SegState
	SegAccess

	segCount
)

// HolderName is the simple name of the type caching assembly annotations.
const HolderName = "AssemblyExtensions"

const cachedFieldFlags = il.FieldPrivate | il.FieldStatic | il.FieldInitOnly | il.FieldSynthetic

type annKey struct {
	target any
	desc   *scan.Descriptor
}

type stateKey struct {
	owner *il.TypeDef
	desc  *scan.Descriptor
}

// sharedState is an injected field wired into a class-level instance. Its
// wire function emits the property store, expecting the receiving
// annotation instance on the stack.
type sharedState struct {
	field *il.FieldRef
	wire  func(e *emit.Emitter)
}

// memberAnn is an annotation instance created for a method, property or
// event, in creation order.
type memberAnn struct {
	owner *il.TypeDef
	desc  *scan.Descriptor
	field *il.FieldRef
}

// Emitter owns the caches of one module for one pass.
type Emitter struct {
	mod      *il.Module
	r        il.Resolver
	namer    *emit.Namer
	onSynth  func(what, name string)
	segs     map[*il.TypeDef]*[segCount][]*il.Instruction
	order    []*il.TypeDef
	descs    map[any]*il.FieldRef
	anns     map[annKey]*il.FieldRef
	assembly map[*scan.Descriptor]*il.FieldRef
	holder   *il.TypeDef
	shared   map[stateKey][]sharedState
	members  []memberAnn
}

// New creates an emitter for m. onSynth, when set, is told about every
// synthesized member.
func New(m *il.Module, r il.Resolver, namer *emit.Namer, onSynth func(what, name string)) *Emitter {
	if onSynth == nil {
		onSynth = func(string, string) {}
	}
	return &Emitter{
		mod:      m,
		r:        r,
		namer:    namer,
		onSynth:  onSynth,
		segs:     make(map[*il.TypeDef]*[segCount][]*il.Instruction),
		descs:    make(map[any]*il.FieldRef),
		anns:     make(map[annKey]*il.FieldRef),
		assembly: make(map[*scan.Descriptor]*il.FieldRef),
		shared:   make(map[stateKey][]sharedState),
	}
}

// Append adds static initializer code for t to a segment.
func (c *Emitter) Append(t *il.TypeDef, seg Segment, instrs ...*il.Instruction) {
	s, ok := c.segs[t]
	if !ok {
		s = new([segCount][]*il.Instruction)
		c.segs[t] = s
		c.order = append(c.order, t)
	}
	s[seg] = append(s[seg], instrs...)
}

func (c *Emitter) addField(t *il.TypeDef, name string, typ *il.TypeSig) *il.FieldRef {
	f := &il.FieldDef{Name: name, Type: typ, Flags: cachedFieldFlags}
	t.AddField(f)
	c.onSynth("field", t.FullName()+"::"+name)
	return binder.Field(f)
}

// Descriptor returns the static field caching the run-time descriptor of
// member: a MethodInfo, PropertyInfo, EventInfo, or the Type itself.
func (c *Emitter) Descriptor(member any) *il.FieldRef {
	if f, ok := c.descs[member]; ok {
		return f
	}
	t := scan.Owner(member)
	self := binder.Self(t)
	e := emit.NewEmitter().Ldtoken(self)

	var typ *il.TypeSig
	var name string
	switch m := member.(type) {
	case *il.TypeDef:
		typ, name = contract.TypeSig(), "class"
	case *il.MethodDef:
		typ, name = contract.MethodInfoSig(), m.Name
		e.Ldstr(emit.MethodKey(m)).Call(emit.ResolveMethod())
	case *il.PropertyDef:
		typ, name = contract.PropertyInfoSig(), m.Name
		e.Ldstr(m.Name).Call(emit.ResolveProperty())
	case *il.EventDef:
		typ, name = contract.EventInfoSig(), m.Name
		e.Ldstr(m.Name).Call(emit.ResolveEvent())
	default:
		panic("cache: unsupported member type")
	}
	f := c.addField(t, c.namer.Next(t, name, "", "$desc$"+name), typ)
	c.Append(t, SegDescriptor, e.Stsfld(f).Instrs()...)
	c.descs[member] = f
	return f
}

// Annotation returns the static field holding the annotation instance of
// d as applied to target, emitting its retrieval and its registration
// under target's descriptor on first use.
func (c *Emitter) Annotation(target any, d *scan.Descriptor) *il.FieldRef {
	key := annKey{target, d}
	if f, ok := c.anns[key]; ok {
		return f
	}
	t := scan.Owner(target)
	annSig := d.Attribute.Type
	short := emit.ShortName(annSig)
	member := memberShortName(target)
	desc := c.Descriptor(target)
	f := c.addField(t, c.namer.Next(t, member, annSig.String(), "$ann$"+member+"$"+short), annSig)

	e := emit.NewEmitter()
	switch {
	case d.Scope == scan.ScopeAssembly:
		e.Ldsfld(c.assemblyAnnotation(d))
	case d.Member != nil:
		e.Ldsfld(c.Descriptor(d.Member)).
			Ldtoken(annSig).LdcI4(d.Index).Call(emit.GetAttribute()).Castclass(annSig)
	default:
		site := binder.Ancestor(t, d.Type, c.r)
		if site == nil {
			site = binder.Self(d.Type)
		}
		e.Ldtoken(site).
			Ldtoken(annSig).LdcI4(d.Index).Call(emit.GetAttribute()).Castclass(annSig)
	}
	e.Stsfld(f).
		Ldsfld(desc).Ldsfld(f).Call(emit.Register())
	c.Append(t, SegAnnotation, e.Instrs()...)
	c.anns[key] = f

	if _, isType := target.(*il.TypeDef); !isType {
		c.members = append(c.members, memberAnn{owner: t, desc: d, field: f})
		for cur, i := t, 0; cur != nil && i < 64; cur, i = il.BaseDef(cur, c.r), i+1 {
			if states, ok := c.shared[stateKey{cur, d}]; ok {
				c.wireShared(t, f, states)
				break
			}
		}
	}
	return f
}

// StateField adds the static field holding an injected field of the
// class-level instance of an annotation on t. Derived types read it, so it
// is family-visible.
func (c *Emitter) StateField(t *il.TypeDef, name string, typ *il.TypeSig) *il.FieldRef {
	f := &il.FieldDef{Name: name, Type: typ, Flags: il.FieldFamily | il.FieldStatic | il.FieldInitOnly | il.FieldSynthetic}
	t.AddField(f)
	c.onSynth("field", t.FullName()+"::"+name)
	return binder.Field(f)
}

// ShareState makes the injected field stored in field visible to every
// member instance of d in t and its derived types: the ones created so far
// and the ones created later. The caller must have emitted the store into
// field already.
func (c *Emitter) ShareState(t *il.TypeDef, d *scan.Descriptor, field *il.FieldRef, wire func(e *emit.Emitter)) {
	st := sharedState{field: field, wire: wire}
	key := stateKey{t, d}
	c.shared[key] = append(c.shared[key], st)
	for _, m := range c.members {
		if m.desc == d && derivesFrom(m.owner, t, c.r) {
			c.wireShared(m.owner, m.field, []sharedState{st})
		}
	}
}

func (c *Emitter) wireShared(t *il.TypeDef, ann *il.FieldRef, states []sharedState) {
	for _, st := range states {
		e := emit.NewEmitter().Ldsfld(ann).Ldsfld(st.field)
		st.wire(e)
		c.Append(t, SegState, e.Instrs()...)
	}
}

func derivesFrom(t, base *il.TypeDef, r il.Resolver) bool {
	for cur, i := t, 0; cur != nil && i < 64; cur, i = il.BaseDef(cur, r), i+1 {
		if cur == base {
			return true
		}
	}
	return false
}

// assemblyAnnotation caches an assembly annotation once per module, in the
// holder type.
func (c *Emitter) assemblyAnnotation(d *scan.Descriptor) *il.FieldRef {
	if f, ok := c.assembly[d]; ok {
		return f
	}
	h := c.Holder()
	annSig := d.Attribute.Type
	short := emit.ShortName(annSig)
	f := c.addField(h, c.namer.Next(h, "", annSig.String(), "$ann$"+short), annSig)
	e := emit.NewEmitter().
		Ldtoken(binder.Self(h)).Ldtoken(annSig).LdcI4(d.Index).
		Call(emit.GetAssemblyAttribute()).Castclass(annSig).
		Stsfld(f)
	c.Append(h, SegAnnotation, e.Instrs()...)
	c.assembly[d] = f
	return f
}

// Holder returns the module's assembly annotation holder, creating it.
func (c *Emitter) Holder() *il.TypeDef {
	if c.holder != nil {
		return c.holder
	}
	c.holder = &il.TypeDef{
		Namespace: HolderNamespace(c.mod.Name),
		Name:      HolderName,
		Flags:     il.TypeAbstract | il.TypeSealed | il.TypeSynthetic,
		BaseType:  il.Object(),
	}
	c.mod.AddType(c.holder)
	c.onSynth("type", c.holder.FullName())
	return c.holder
}

// HolderNamespace derives a namespace unique to the module, so holders of
// several woven modules can share a resolver.
func HolderNamespace(module string) string {
	var b strings.Builder
	for _, r := range module {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	b.WriteString(".Generated")
	return b.String()
}

// Finish writes the accumulated segments into static initializers:
// prepended to an existing one, or in a new one.
func (c *Emitter) Finish() error {
	for _, t := range c.order {
		s := c.segs[t]
		var code []*il.Instruction
		for _, seg := range s {
			code = append(code, seg...)
		}
		if len(code) == 0 {
			continue
		}
		cctor := t.TypeInitializer()
		if cctor == nil {
			cctor = &il.MethodDef{
				Name:       il.TypeInitName,
				Flags:      il.MethodPrivate | il.MethodStatic | il.MethodSpecialName | il.MethodSynthetic,
				ReturnType: il.Void(),
				Body:       &il.MethodBody{Instrs: append(code, il.Op0(il.OpRet))},
			}
			t.AddMethod(cctor)
			c.onSynth("method", cctor.FullName())
			continue
		}
		if cctor.Body == nil {
			return errors.Malformed(errors.PhaseEmit, t.FullName(), il.TypeInitName, "type initializer has no body")
		}
		cctor.Body.Prepend(code...)
	}
	return nil
}

func memberShortName(member any) string {
	switch m := member.(type) {
	case *il.TypeDef:
		return "class"
	case *il.MethodDef:
		return m.Name
	case *il.PropertyDef:
		return m.Name
	case *il.EventDef:
		return m.Name
	}
	return "member"
}
