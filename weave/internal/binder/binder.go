// Package binder resolves generic parameter identity when code or
// references move into a newly synthesized declaring context.
//
// Every reference that crosses into a synthesized member goes through one
// of these helpers; nothing relies on the new context inheriting the old
// one's parameters implicitly.
package binder

import (
	"github.com/wippyai/weaver/il"
)

// Self returns t instantiated over its own generic parameters (T<!0..!n-1>).
func Self(t *il.TypeDef) *il.TypeSig { return t.Sig() }

// TypeParams returns !0..!n-1.
func TypeParams(n int) []*il.TypeSig {
	return vars(0, n, il.Var)
}

// MethodParams returns !!0..!!k-1.
func MethodParams(k int) []*il.TypeSig {
	return vars(0, k, il.MVar)
}

func vars(from, n int, mk func(int) *il.TypeSig) []*il.TypeSig {
	if n == 0 {
		return nil
	}
	out := make([]*il.TypeSig, n)
	for i := range out {
		out[i] = mk(from + i)
	}
	return out
}

// Method references def through its declaring type's self instantiation.
// A generic method is instantiated over its own method parameters, which is
// what a call from a sibling member with the same generic shape needs.
func Method(def *il.MethodDef) *il.MethodRef {
	return il.RefTo(def, Self(def.DeclaringType), MethodParams(len(def.GenericParams)))
}

// Field references def through its declaring type's self instantiation.
func Field(def *il.FieldDef) *il.FieldRef {
	return il.FieldRefTo(def, Self(def.DeclaringType))
}

// Flattening relocates a method's generic context onto a synthesized type
// whose parameters are the declaring type's n parameters followed by the
// method's k parameters: !i stays !i and !!j becomes !(n+j).
type Flattening struct {
	TypeArity   int
	MethodArity int
}

// Flatten returns the relocation for md.
func Flatten(md *il.MethodDef) Flattening {
	n := 0
	if md.DeclaringType != nil {
		n = len(md.DeclaringType.GenericParams)
	}
	return Flattening{TypeArity: n, MethodArity: len(md.GenericParams)}
}

// Arity is the generic arity of the flattened context.
func (f Flattening) Arity() int { return f.TypeArity + f.MethodArity }

// Sig rewrites s from the method's context into the flattened one.
func (f Flattening) Sig(s *il.TypeSig) *il.TypeSig {
	if f.MethodArity == 0 {
		return s
	}
	return s.Substitute(nil, vars(f.TypeArity, f.MethodArity, il.Var))
}

// ShadowArgs are the method generic arguments a flattened context passes
// back to the original method shape: !n..!(n+k-1).
func (f Flattening) ShadowArgs() []*il.TypeSig {
	return vars(f.TypeArity, f.MethodArity, il.Var)
}

// SiteArgs instantiate the flattened type from inside the original method:
// !0..!(n-1) followed by !!0..!!(k-1).
func (f Flattening) SiteArgs() []*il.TypeSig {
	return append(TypeParams(f.TypeArity), MethodParams(f.MethodArity)...)
}

// Params clones the declaring type's and the method's generic parameters
// as type-owned parameters of the flattened type, constraints rebound.
func (f Flattening) Params(md *il.MethodDef) []*il.GenericParam {
	var out []*il.GenericParam
	if t := md.DeclaringType; t != nil {
		out = append(out, CloneParams(t.GenericParams, il.OwnerType, 0, f.Sig)...)
	}
	return append(out, CloneParams(md.GenericParams, il.OwnerType, f.TypeArity, f.Sig)...)
}

// CloneParams copies generic parameters for a new owner, shifting their
// indices by offset and rewriting constraints with rebind (nil keeps them).
func CloneParams(params []*il.GenericParam, owner il.GenericOwner, offset int, rebind func(*il.TypeSig) *il.TypeSig) []*il.GenericParam {
	if len(params) == 0 {
		return nil
	}
	out := make([]*il.GenericParam, len(params))
	for i, p := range params {
		c := &il.GenericParam{Name: p.Name, Index: p.Index + offset, Owner: owner, Flags: p.Flags}
		for _, con := range p.Constraints {
			if rebind != nil {
				con = rebind(con)
			}
			c.Constraints = append(c.Constraints, con)
		}
		out[i] = c
	}
	return out
}

// Ancestor returns ancestor as seen from t: the closed base signature in
// t's generic context, walking the base chain and substituting arguments.
// It returns nil when ancestor is not a base of t.
func Ancestor(t, ancestor *il.TypeDef, r il.Resolver) *il.TypeSig {
	cur := Self(t)
	def := t
	for i := 0; def != nil && i < 64; i++ {
		if def == ancestor {
			return cur
		}
		if def.BaseType == nil {
			return nil
		}
		next := def.BaseType.Substitute(cur.Args, nil)
		cur = next
		def = il.BaseDef(def, r)
		if cur.Def == nil {
			cur = &il.TypeSig{Kind: il.SigNamed, Name: cur.Name, Args: cur.Args, Def: def}
		}
	}
	return nil
}
