package engine

import (
	"github.com/wippyai/weaver/il"
	"github.com/wippyai/weaver/weave/internal/emit"
	"github.com/wippyai/weaver/weave/internal/scan"
)

// primaryConstructors returns the constructors of t that do not delegate
// to a sibling constructor.
func primaryConstructors(t *il.TypeDef) []*il.MethodDef {
	var out []*il.MethodDef
	for _, ctor := range t.Constructors() {
		if ctor.Body == nil {
			continue
		}
		if call := ctorCall(ctor, true); call == nil {
			out = append(out, ctor)
		}
	}
	return out
}

// ctorCall finds the first call of ctor to a constructor of its own type
// (sibling) or of another type (base).
func ctorCall(ctor *il.MethodDef, sibling bool) *il.Instruction {
	t := ctor.DeclaringType
	for _, in := range ctor.Body.Instrs {
		if in.Op != il.OpCall {
			continue
		}
		ref := in.Method()
		if ref == nil || ref.Name != il.CtorName {
			continue
		}
		own := ref.Def != nil && ref.Def.DeclaringType == t
		if own == sibling {
			return in
		}
	}
	return nil
}

// weaveInitializer calls Initialize before every return of each primary
// constructor, or Preinitialize right after its base constructor call.
func (p *pass) weaveInitializer(task scan.Task, pre bool) (bool, error) {
	t := task.Owner()
	ctors := primaryConstructors(t)
	if len(ctors) == 0 {
		p.warn(task, "type has no primary constructor with a body")
		return false, nil
	}
	ann := p.cache.Annotation(task.Target, task.Desc)
	desc := p.cache.Descriptor(task.Target)
	call := func() []*il.Instruction {
		e := emit.NewEmitter().Ldsfld(ann).Ldarg(0).Ldsfld(desc)
		if pre {
			return e.Callvirt(emit.Preinitialize()).Instrs()
		}
		return e.Callvirt(emit.Initialize()).Instrs()
	}

	for _, ctor := range ctors {
		if pre {
			// Stacked preinitializers keep declaration order: each one goes
			// after the last one placed in this constructor.
			code := call()
			if anchor := p.preAnchors[ctor]; anchor != nil {
				ctor.Body.InsertAfter(anchor, code...)
			} else if base := ctorCall(ctor, false); base != nil {
				ctor.Body.InsertAfter(base, code...)
			} else {
				ctor.Body.Prepend(code...)
			}
			p.preAnchors[ctor] = code[len(code)-1]
			continue
		}
		for _, ret := range ctor.Body.Returns() {
			ctor.Body.InsertBefore(ret, call()...)
		}
	}
	msg := "added initializer"
	if pre {
		msg = "added preinitializer"
	}
	p.diag.Info(msg, zapMember(task.Target), zapAnnotation(task))
	return true, nil
}
