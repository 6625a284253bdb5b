package engine

import (
	"github.com/wippyai/weaver/contract"
	"github.com/wippyai/weaver/il"
	"github.com/wippyai/weaver/weave/internal/binder"
	"github.com/wippyai/weaver/weave/internal/emit"
	"github.com/wippyai/weaver/weave/internal/scan"
)

// accessorParam is the index of the first declared argument of md.
func accessorParam(md *il.MethodDef) int {
	if md.IsStatic() {
		return 0
	}
	return 1
}

// delegateTo pushes a delegate of type sig bound to md on the current
// instance, or unbound for static methods.
func delegateTo(e *emit.Emitter, md *il.MethodDef, sig *il.TypeSig) *emit.Emitter {
	return e.This(md.IsStatic()).
		Ldftn(binder.Method(md)).
		Newobj(contract.DelegateCtor(sig))
}

func callAccessor(e *emit.Emitter, md *il.MethodDef) *emit.Emitter {
	if !md.IsStatic() {
		e.Ldarg(0)
	}
	if md.IsVirtual() {
		return e.Callvirt(binder.Method(md))
	}
	return e.Call(binder.Method(md))
}

// weaveGetter routes the property getter through GetValue with a getter
// delegate over the shadowed body.
func (p *pass) weaveGetter(task scan.Task) (bool, error) {
	prop := task.Target.(*il.PropertyDef)
	g := prop.Getter
	switch {
	case g == nil || g.Body == nil:
		p.warn(task, "property getter has no body")
		return false, nil
	case len(g.Params) > 0:
		p.warn(task, "indexed properties are not intercepted")
		return false, nil
	}
	annSig := task.Desc.Attribute.Type
	static := g.IsStatic()
	ann := p.cache.Annotation(prop, task.Desc)
	desc := p.cache.Descriptor(prop)

	sh := p.shadow(g, annSig)
	proceed := p.adapter(prop.DeclaringType, g.Name, annSig, static, il.Object(), nil, func(e *emit.Emitter) {
		if !static {
			e.Ldarg(0)
		}
		e.Call(binder.Method(sh)).ToObject(g.ReturnType)
	})

	e := emit.NewEmitter().Ldsfld(ann).Ldsfld(desc).This(static)
	delegateTo(e, proceed, contract.FuncSig(il.Object())).
		Callvirt(emit.GetValue()).
		FromObject(g.ReturnType)
	g.Body = e.Ret().Body()
	p.diag.Info("intercepted property getter", zapMember(prop), zapAnnotation(task))
	return true, nil
}

// weaveSetter routes the property setter through SetValue. The current
// value is read through the getter when the property has one.
func (p *pass) weaveSetter(task scan.Task) (bool, error) {
	prop := task.Target.(*il.PropertyDef)
	s := prop.Setter
	switch {
	case s == nil || s.Body == nil:
		p.warn(task, "property setter has no body")
		return false, nil
	case len(s.Params) != 1:
		p.warn(task, "indexed properties are not intercepted")
		return false, nil
	}
	annSig := task.Desc.Attribute.Type
	static := s.IsStatic()
	value := accessorParam(s)
	valueType := s.Params[0].Type
	ann := p.cache.Annotation(prop, task.Desc)
	desc := p.cache.Descriptor(prop)

	sh := p.shadow(s, annSig)
	proceed := p.adapter(prop.DeclaringType, s.Name, annSig, static, il.Void(),
		[]*il.Param{{Name: "value", Type: il.Object()}},
		func(e *emit.Emitter) {
			if !static {
				e.Ldarg(0)
			}
			e.Ldarg(value).FromObject(valueType).Call(binder.Method(sh))
		})

	e := emit.NewEmitter().Ldsfld(ann).Ldsfld(desc).This(static)
	if g := prop.Getter; g != nil && len(g.Params) == 0 {
		callAccessor(e, g).ToObject(g.ReturnType)
	} else {
		e.Ldnull()
	}
	e.Ldarg(value).ToObject(valueType)
	delegateTo(e, proceed, contract.ActionSig(il.Object())).
		Callvirt(emit.SetValue())
	s.Body = e.Ret().Body()
	p.diag.Info("intercepted property setter", zapMember(prop), zapAnnotation(task))
	return true, nil
}

// weaveEvent routes an event accessor through OnAdd or OnRemove.
func (p *pass) weaveEvent(task scan.Task) (bool, error) {
	ev := task.Target.(*il.EventDef)
	acc, entry := ev.Adder, emit.OnAdd()
	if task.Kind == scan.KindRemove {
		acc, entry = ev.Remover, emit.OnRemove()
	}
	switch {
	case acc == nil || acc.Body == nil:
		p.warn(task, "event accessor has no body")
		return false, nil
	case len(acc.Params) != 1:
		p.warn(task, "event accessor must take exactly one handler")
		return false, nil
	}
	annSig := task.Desc.Attribute.Type
	static := acc.IsStatic()
	handler := accessorParam(acc)
	handlerType := acc.Params[0].Type
	ann := p.cache.Annotation(ev, task.Desc)
	desc := p.cache.Descriptor(ev)

	sh := p.shadow(acc, annSig)
	proceed := p.adapter(ev.DeclaringType, acc.Name, annSig, static, il.Void(),
		[]*il.Param{{Name: "handler", Type: il.Object()}},
		func(e *emit.Emitter) {
			if !static {
				e.Ldarg(0)
			}
			e.Ldarg(handler).FromObject(handlerType).Call(binder.Method(sh))
		})

	e := emit.NewEmitter().
		Ldsfld(ann).Ldsfld(desc).This(static).
		Ldarg(handler).ToObject(handlerType)
	delegateTo(e, proceed, contract.ActionSig(il.Object())).
		Callvirt(entry)
	acc.Body = e.Ret().Body()
	p.diag.Info("intercepted event accessor", zapMember(ev), zapAnnotation(task))
	return true, nil
}
