package engine

import (
	"go.uber.org/zap"

	"github.com/wippyai/weaver/contract"
	"github.com/wippyai/weaver/errors"
	"github.com/wippyai/weaver/il"
	"github.com/wippyai/weaver/weave/internal/binder"
	"github.com/wippyai/weaver/weave/internal/cache"
	"github.com/wippyai/weaver/weave/internal/emit"
	"github.com/wippyai/weaver/weave/internal/scan"
)

// accessKey selects the non-public method an annotation property asks
// for: by name, or by an annotation type carried by the method.
type accessKey struct {
	name     string
	attrType *il.TypeSig
}

func (k accessKey) String() string {
	if k.attrType != nil {
		return "[" + k.attrType.String() + "]"
	}
	return k.name
}

func (k accessKey) matches(md *il.MethodDef) bool {
	if k.attrType != nil {
		return il.HasAttribute(md.Attributes, k.attrType.Name)
	}
	return md.Name == k.name
}

// accessRequest reads the AccessAttribute of an annotation property.
func accessRequest(prop *il.PropertyDef) (accessKey, bool) {
	for _, a := range prop.Attributes {
		if a.Type == nil || a.Type.Name != contract.AccessAttribute || len(a.Args) != 1 {
			continue
		}
		switch v := a.Args[0].(type) {
		case string:
			return accessKey{name: v}, true
		case *il.TypeSig:
			return accessKey{attrType: v}, true
		}
	}
	return accessKey{}, false
}

func nonPublic(md *il.MethodDef) bool {
	return md.Flags&il.MethodPublic == 0 &&
		md.Flags&il.MethodSynthetic == 0 &&
		!md.IsConstructor() && !md.IsTypeInitializer()
}

// weaveAccess binds delegates over non-public methods of the target type
// into the annotation properties that request them.
func (p *pass) weaveAccess(task scan.Task) (bool, error) {
	t := task.Owner()
	if t.HasGenericParams() {
		p.warn(task, "non-public access on generic types is not supported")
		return false, nil
	}
	annSig := task.Desc.Attribute.Type
	var ann *il.FieldRef
	woven := false

	for _, ap := range annotationProperties(annSig, task.Desc.Annotation, p.r) {
		key, ok := accessRequest(ap.prop)
		if !ok {
			continue
		}
		field := zap.String("property", ap.prop.Name)

		candidates, site := p.accessCandidates(t, key)
		switch len(candidates) {
		case 0:
			return false, p.fail(task, errors.MemberNotFound(errors.PhaseWeave, t.FullName(), key.String()))
		case 1:
		default:
			names := make([]string, len(candidates))
			for i, md := range candidates {
				names[i] = md.Signature()
			}
			return false, p.fail(task, errors.Ambiguous(errors.PhaseWeave, t.FullName(), key.String(), names))
		}
		target := candidates[0]

		propType := ap.prop.Type.Substitute(ap.decl.Args, nil)
		ret := target.ReturnType.Substitute(site.Args, nil)
		params := []*il.TypeSig{il.Object()}
		for _, pt := range target.ParamTypes() {
			params = append(params, pt.Substitute(site.Args, nil))
		}
		switch {
		case target.IsGeneric():
			p.warn(task, "access to generic methods is not supported", field)
			continue
		case len(params) > contract.MaxDelegateParams:
			p.warn(task, "access target has too many parameters for a delegate", field)
			continue
		case !propType.Equal(contract.DelegateSig(ret, params...)):
			p.warn(task, "access property type does not match the target signature", field,
				zap.Stringer("want", contract.DelegateSig(ret, params...)),
				zap.Stringer("got", propType))
			continue
		case ap.prop.Setter == nil:
			p.warn(task, "access property has no setter", field)
			continue
		}

		tramp := p.trampoline(t, target, site, annSig)
		if ann == nil {
			ann = p.cache.Annotation(t, task.Desc)
		}
		e := emit.NewEmitter().
			Ldsfld(ann).
			Ldnull().Ldftn(binder.Method(tramp)).
			Newobj(contract.DelegateCtor(propType))
		setProperty(e, ap.prop, ap.decl)
		p.cache.Append(t, cache.SegAccess, e.Instrs()...)
		p.diag.Info("granted non-public access", zapMember(target), zapAnnotation(task), field)
		woven = true
	}
	return woven, nil
}

// accessCandidates finds the non-public methods matching key: on t, or on
// the nearest ancestor declaring protected ones. site is the declaring
// type as seen from t.
func (p *pass) accessCandidates(t *il.TypeDef, key accessKey) (candidates []*il.MethodDef, site *il.TypeSig) {
	for cur, i := t, 0; cur != nil && i < 64; cur, i = il.BaseDef(cur, p.r), i+1 {
		for _, md := range cur.Methods {
			if !nonPublic(md) || !key.matches(md) {
				continue
			}
			if cur != t && md.Flags&il.MethodFamily == 0 {
				continue
			}
			candidates = append(candidates, md)
		}
		if len(candidates) == 0 {
			continue
		}
		if cur == t {
			return candidates, binder.Self(t)
		}
		if site = binder.Ancestor(t, cur, p.r); site == nil {
			site = binder.Self(cur)
		}
		return candidates, site
	}
	return nil, binder.Self(t)
}

// trampoline adds a static method calling target through site, with the
// instance passed as a leading object parameter.
func (p *pass) trampoline(t *il.TypeDef, target *il.MethodDef, site, annSig *il.TypeSig) *il.MethodDef {
	base := "$access$" + target.Name
	params := []*il.Param{{Name: "instance", Type: il.Object()}}
	for _, prm := range target.Params {
		params = append(params, &il.Param{Name: prm.Name, Type: prm.Type.Substitute(site.Args, nil)})
	}
	md := &il.MethodDef{
		Name:       p.namer.Next(t, target.Name, annSig.String(), base),
		Flags:      il.MethodPrivate | il.MethodStatic | il.MethodSynthetic,
		ReturnType: target.ReturnType.Substitute(site.Args, nil),
		Params:     params,
	}
	e := emit.NewEmitter()
	if !target.IsStatic() {
		e.Ldarg(0).Castclass(binder.Self(t))
	}
	for i := range target.Params {
		e.Ldarg(i + 1)
	}
	ref := il.RefTo(target, site, nil)
	if target.IsVirtual() && !target.IsStatic() {
		e.Callvirt(ref)
	} else {
		e.Call(ref)
	}
	md.Body = e.Ret().Body()
	t.AddMethod(md)
	p.track("method", md.FullName())
	return md
}
