package engine

import (
	"github.com/wippyai/weaver/il"
	"github.com/wippyai/weaver/weave/internal/binder"
	"github.com/wippyai/weaver/weave/internal/emit"
	"github.com/wippyai/weaver/weave/internal/scan"
)

// shadow moves the body of md into a new private method and leaves md
// without a body. The shadow keeps md's parameters, generic parameters and
// static-ness, so the moved instructions need no rewriting.
func (p *pass) shadow(md *il.MethodDef, annSig *il.TypeSig) *il.MethodDef {
	t := md.DeclaringType
	name := p.namer.Next(t, md.Name, annSig.String(), md.Name+"$"+emit.ShortName(annSig))
	flags := il.MethodPrivate | il.MethodSynthetic
	if md.IsStatic() {
		flags |= il.MethodStatic
	}
	sh := &il.MethodDef{
		Name:          name,
		Flags:         flags,
		ReturnType:    md.ReturnType.Clone(),
		Params:        cloneParams(md.Params),
		GenericParams: binder.CloneParams(md.GenericParams, il.OwnerMethod, 0, nil),
		Body:          md.Body,
	}
	md.Body = nil
	t.AddMethod(sh)
	p.track("method", sh.FullName())
	return sh
}

func cloneParams(params []*il.Param) []*il.Param {
	out := make([]*il.Param, len(params))
	for i, prm := range params {
		out[i] = &il.Param{Name: prm.Name, Type: prm.Type.Clone()}
	}
	return out
}

// adapter adds a static-or-instance helper method next to md whose body is
// produced by build. Adapters bridge typed accessors to object-typed
// delegates.
func (p *pass) adapter(owner *il.TypeDef, base string, annSig *il.TypeSig, static bool, ret *il.TypeSig, params []*il.Param, build func(e *emit.Emitter)) *il.MethodDef {
	flags := il.MethodPrivate | il.MethodSynthetic
	if static {
		flags |= il.MethodStatic
	}
	md := &il.MethodDef{
		Name:       p.namer.Next(owner, base, annSig.String(), base+"$"+emit.ShortName(annSig)+"$Proceed"),
		Flags:      flags,
		ReturnType: ret,
		Params:     params,
	}
	e := emit.NewEmitter()
	build(e)
	md.Body = e.Ret().Body()
	owner.AddMethod(md)
	p.track("method", md.FullName())
	return md
}

// weaveMethod rewrites md to call the annotation's Invoke or InvokeAsync
// with a proceed delegate over the shadowed original body.
func (p *pass) weaveMethod(task scan.Task, async bool) (bool, error) {
	md := task.Target.(*il.MethodDef)
	if md.Body == nil {
		p.warn(task, "method has no body")
		return false, nil
	}
	annSig := task.Desc.Attribute.Type
	t := md.DeclaringType
	static := md.IsStatic()

	ann := p.cache.Annotation(md, task.Desc)
	desc := p.cache.Descriptor(md)

	sh := p.shadow(md, annSig)
	carrierName := p.namer.Next(t, md.Name, annSig.String(), md.Name+"$"+emit.ShortName(annSig)+"$Proceed")
	carrier := emit.NewCarrier(carrierName, sh, async)
	p.track("type", carrier.Type.FullName())

	e := emit.NewEmitter().
		Ldsfld(ann).
		Ldsfld(desc).
		This(static).
		TypeArray(binder.MethodParams(len(md.GenericParams))).
		BoxedArgs(md)
	carrier.New(e, emit.ProceedSig(async))

	if async {
		result, _ := emit.Awaitable(md.ReturnType)
		e.Callvirt(emit.InterceptAsync()).Call(emit.Unwrap(result))
	} else {
		e.Callvirt(emit.Intercept()).ReturnFrom(md.ReturnType)
	}
	md.Body = e.Ret().Body()
	p.diag.Info("intercepted method",
		zapMember(md),
		zapAnnotation(task))
	return true, nil
}
