package emit

import (
	"github.com/wippyai/weaver/contract"
	"github.com/wippyai/weaver/il"
	"github.com/wippyai/weaver/weave/internal/binder"
)

const carrierInstanceField = "instance"

// Carrier is a synthesized nested type implementing proceed for one
// intercepted method: it captures the instance and the generic context,
// unpacks an object[] into typed arguments and calls the shadow method.
//
// The carrier flattens the generic context: its parameters are the
// declaring type's followed by the method's.
type Carrier struct {
	Type   *il.TypeDef
	Ctor   *il.MethodDef
	Invoke *il.MethodDef
	flat   binder.Flattening
	static bool
}

// NewCarrier synthesizes a carrier named name, nested in the shadow's
// declaring type. When async is set Invoke bridges the shadow's awaitable
// into Task`1<object>.
func NewCarrier(name string, shadow *il.MethodDef, async bool) *Carrier {
	owner := shadow.DeclaringType
	flat := binder.Flatten(shadow)
	c := &Carrier{flat: flat, static: shadow.IsStatic()}

	c.Type = &il.TypeDef{
		Name:          il.GenericName(name, flat.Arity()),
		Flags:         il.TypeSealed | il.TypeSynthetic,
		GenericParams: flat.Params(shadow),
		BaseType:      il.Object(),
	}
	owner.AddNestedType(c.Type)
	self := c.Type.Sig()
	ownerSig := binder.Self(owner)

	var instance *il.FieldRef
	ctor := &il.MethodDef{
		Name:       il.CtorName,
		Flags:      il.MethodPublic | il.MethodSpecialName | il.MethodSynthetic,
		ReturnType: il.Void(),
	}
	ce := NewEmitter().Ldarg(0).Call(ObjectCtor())
	if !c.static {
		f := &il.FieldDef{Name: carrierInstanceField, Type: ownerSig, Flags: il.FieldPrivate | il.FieldInitOnly | il.FieldSynthetic}
		c.Type.AddField(f)
		instance = il.FieldRefTo(f, self)
		ctor.Params = []*il.Param{{Name: carrierInstanceField, Type: ownerSig}}
		ce.Ldarg(0).Ldarg(1).Stfld(instance)
	}
	ctor.Body = ce.Ret().Body()
	c.Type.AddMethod(ctor)
	c.Ctor = ctor

	ret := il.Object()
	if async {
		ret = ProceedSig(true).Args[1]
	}
	invoke := &il.MethodDef{
		Name:       "Invoke",
		Flags:      il.MethodPublic | il.MethodSynthetic,
		ReturnType: ret,
		Params:     []*il.Param{{Name: "args", Type: il.ArrayOf(il.Object())}},
	}
	e := NewEmitter()
	if !c.static {
		e.Ldarg(0).Ldfld(instance)
	}
	for i, p := range shadow.Params {
		e.Ldarg(1).LdcI4(i).Ldelem().FromObject(flat.Sig(p.Type))
	}
	e.Call(il.RefTo(shadow, ownerSig, flat.ShadowArgs()))
	result, awaitable := Awaitable(shadow.ReturnType)
	switch {
	case async && awaitable && result == nil:
		e.Call(Wrap(nil))
	case async && awaitable:
		e.Call(Wrap(flat.Sig(result)))
	default:
		e.ReturnObject(flat.Sig(shadow.ReturnType))
	}
	invoke.Body = e.Ret().Body()
	c.Type.AddMethod(invoke)
	c.Invoke = invoke
	return c
}

// Site is the carrier as instantiated from inside the intercepted method.
func (c *Carrier) Site() *il.TypeSig {
	return il.Instance(c.Type, c.flat.SiteArgs()...)
}

// New emits construction of the carrier from the intercepted method and
// binds its Invoke into a proceed delegate of type proceed.
func (c *Carrier) New(e *Emitter, proceed *il.TypeSig) *Emitter {
	site := c.Site()
	if !c.static {
		e.Ldarg(0)
	}
	return e.Newobj(il.RefTo(c.Ctor, site, nil)).
		Ldftn(il.RefTo(c.Invoke, site, nil)).
		Newobj(contract.DelegateCtor(proceed))
}
