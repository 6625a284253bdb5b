package engine

import (
	"go.uber.org/zap"

	"github.com/wippyai/weaver/contract"
	"github.com/wippyai/weaver/il"
	"github.com/wippyai/weaver/weave/internal/binder"
	"github.com/wippyai/weaver/weave/internal/cache"
	"github.com/wippyai/weaver/weave/internal/emit"
	"github.com/wippyai/weaver/weave/internal/scan"
)

// injection is one InjectedField`1<T> property of an annotation type, as
// seen from the closed annotation signature.
type injection struct {
	prop   *il.PropertyDef
	decl   *il.TypeSig // declaring level of prop, closed
	value  *il.TypeSig // T
	static bool
}

// annotationProperty is a property of an annotation type or one of its
// bases, with the closed signature of the level declaring it.
type annotationProperty struct {
	prop *il.PropertyDef
	decl *il.TypeSig
}

// annotationProperties lists the properties of annSig and its bases,
// most-derived first.
func annotationProperties(annSig *il.TypeSig, def *il.TypeDef, r il.Resolver) []annotationProperty {
	var out []annotationProperty
	cur := annSig
	for i := 0; def != nil && i < 64; i++ {
		for _, prop := range def.Properties {
			out = append(out, annotationProperty{prop: prop, decl: cur})
		}
		if def.BaseType == nil {
			break
		}
		cur = def.BaseType.Substitute(cur.Args, nil)
		def = il.BaseDef(def, r)
	}
	return out
}

// injections lists the injected-field properties of annSig and its bases.
func injections(annSig *il.TypeSig, def *il.TypeDef, r il.Resolver) []injection {
	var out []injection
	for _, ap := range annotationProperties(annSig, def, r) {
		typ := ap.prop.Type
		if typ == nil || typ.Name != contract.InjectedField || len(typ.Args) != 1 {
			continue
		}
		out = append(out, injection{
			prop:   ap.prop,
			decl:   ap.decl,
			value:  typ.Args[0].Substitute(ap.decl.Args, nil),
			static: il.HasAttribute(ap.prop.Attributes, contract.StaticAttribute),
		})
	}
	return out
}

// setProperty emits a call to the setter of an annotation property.
func setProperty(e *emit.Emitter, prop *il.PropertyDef, decl *il.TypeSig) *emit.Emitter {
	ref := il.RefTo(prop.Setter, decl, nil)
	if prop.Setter.IsVirtual() {
		return e.Callvirt(ref)
	}
	return e.Call(ref)
}

// weaveState adds storage for every injected field of the annotation and
// wires an InjectedField`1 over it into the cached annotation instance.
func (p *pass) weaveState(task scan.Task) (bool, error) {
	t := task.Owner()
	annSig := task.Desc.Attribute.Type
	injs := injections(annSig, task.Desc.Annotation, p.r)
	if len(injs) == 0 {
		p.warn(task, "state extension declares no injected fields")
		return false, nil
	}
	member := memberBase(task.Target)
	ann := p.cache.Annotation(task.Target, task.Desc)
	self := binder.Self(t)

	woven := false
	for _, inj := range injs {
		log := zap.String("field", inj.prop.Name)
		switch {
		case inj.prop.Setter == nil:
			p.warn(task, "injected field property has no setter", log)
			continue
		case !inj.static && t.IsValueType():
			p.warn(task, "instance state on value types is not supported", log)
			continue
		}

		base := "$state$" + member + "$" + inj.prop.Name
		flags := il.FieldPrivate | il.FieldSynthetic
		if inj.static {
			flags |= il.FieldStatic
		}
		storage := &il.FieldDef{
			Name:  p.namer.Next(t, member, annSig.String(), base),
			Type:  inj.value,
			Flags: flags,
		}
		t.AddField(storage)
		p.track("field", t.FullName()+"::"+storage.Name)
		ref := binder.Field(storage)

		getter := p.stateAccessor(t, base+"$get", annSig, inj.value,
			[]*il.Param{{Name: "instance", Type: il.Object()}},
			func(e *emit.Emitter) {
				if inj.static {
					e.Ldsfld(ref)
					return
				}
				e.Ldarg(0).Castclass(self).Ldfld(ref)
			})
		setter := p.stateAccessor(t, base+"$set", annSig, il.Void(),
			[]*il.Param{{Name: "instance", Type: il.Object()}, {Name: "value", Type: inj.value}},
			func(e *emit.Emitter) {
				if inj.static {
					e.Ldarg(1).Stsfld(ref)
					return
				}
				e.Ldarg(0).Castclass(self).Ldarg(1).Stfld(ref)
			})

		newField := func(e *emit.Emitter) *emit.Emitter {
			return e.
				Ldnull().Ldftn(binder.Method(getter)).
				Newobj(contract.DelegateCtor(contract.FuncSig(inj.value, il.Object()))).
				Ldnull().Ldftn(binder.Method(setter)).
				Newobj(contract.DelegateCtor(contract.ActionSig(il.Object(), inj.value))).
				Newobj(emit.InjectedFieldCtor(inj.value))
		}
		prop, decl := inj.prop, inj.decl
		wire := func(e *emit.Emitter) { setProperty(e, prop, decl) }

		if _, class := task.Target.(*il.TypeDef); class && task.Desc.Scope == scan.ScopeClass {
			// Interceptors created from the same class-level annotation
			// see the storage too.
			holder := p.cache.StateField(t, p.namer.Next(t, member, annSig.String(), base+"$field"), emit.InjectedFieldSig(inj.value))
			e := newField(emit.NewEmitter()).Stsfld(holder).Ldsfld(ann).Ldsfld(holder)
			wire(e)
			p.cache.Append(t, cache.SegState, e.Instrs()...)
			p.cache.ShareState(t, task.Desc, holder, wire)
		} else {
			e := newField(emit.NewEmitter().Ldsfld(ann))
			wire(e)
			p.cache.Append(t, cache.SegState, e.Instrs()...)
		}
		woven = true
	}
	if woven {
		p.diag.Info("injected state", zapMember(task.Target), zapAnnotation(task))
	}
	return woven, nil
}

// stateAccessor adds a static accessor over injected storage.
func (p *pass) stateAccessor(t *il.TypeDef, base string, annSig, ret *il.TypeSig, params []*il.Param, build func(e *emit.Emitter)) *il.MethodDef {
	md := &il.MethodDef{
		Name:       p.namer.Next(t, base, annSig.String(), base),
		Flags:      il.MethodPrivate | il.MethodStatic | il.MethodSynthetic,
		ReturnType: ret,
		Params:     params,
	}
	e := emit.NewEmitter()
	build(e)
	md.Body = e.Ret().Body()
	t.AddMethod(md)
	p.track("method", md.FullName())
	return md
}

// memberBase is the name fragment synthesized members of target carry.
func memberBase(target any) string {
	switch m := target.(type) {
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
