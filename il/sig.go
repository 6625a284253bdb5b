package il

import (
	"strconv"
	"strings"
)

// SigKind identifies the shape of a TypeSig.
type SigKind uint8

const (
	SigNamed SigKind = iota // a named type, optionally a generic instance
	SigVar                  // !n - generic parameter of the enclosing type
	SigMVar                 // !!n - generic parameter of the enclosing method
	SigArray                // T[]
)

// Primitive type names.
const (
	TypeVoid   = "void"
	TypeBool   = "bool"
	TypeInt    = "int"
	TypeLong   = "long"
	TypeFloat  = "float"
	TypeDouble = "double"
	TypeString = "string"
	TypeObject = "object"
	TypeNative = "native"
)

var primitiveValueTypes = map[string]bool{
	TypeBool:   true,
	TypeInt:    true,
	TypeLong:   true,
	TypeFloat:  true,
	TypeDouble: true,
	TypeNative: true,
}

// IsPrimitiveName reports whether name denotes a built-in type.
func IsPrimitiveName(name string) bool {
	return primitiveValueTypes[name] || name == TypeVoid || name == TypeString || name == TypeObject
}

// TypeSig is a reference to a type as it appears in signatures and operands.
//
// Signatures are treated as immutable once built; only Def is filled in
// by linking. Use Substitute to derive a signature for another generic context.
type TypeSig struct {
	Kind  SigKind
	Name  string
	Args  []*TypeSig
	Index int
	Elem  *TypeSig
	Def   *TypeDef
}

// Named returns a named type signature, a generic instance when args are given.
func Named(name string, args ...*TypeSig) *TypeSig {
	return &TypeSig{Kind: SigNamed, Name: name, Args: args}
}

// Var returns the signature of the n-th type generic parameter.
func Var(n int) *TypeSig { return &TypeSig{Kind: SigVar, Index: n} }

// MVar returns the signature of the n-th method generic parameter.
func MVar(n int) *TypeSig { return &TypeSig{Kind: SigMVar, Index: n} }

// ArrayOf returns the signature of a single-dimensional array of elem.
func ArrayOf(elem *TypeSig) *TypeSig { return &TypeSig{Kind: SigArray, Elem: elem} }

// Shorthands for primitive signatures.
func Void() *TypeSig   { return Named(TypeVoid) }
func Bool() *TypeSig   { return Named(TypeBool) }
func Int() *TypeSig    { return Named(TypeInt) }
func Long() *TypeSig   { return Named(TypeLong) }
func Float() *TypeSig  { return Named(TypeFloat) }
func Double() *TypeSig { return Named(TypeDouble) }
func String() *TypeSig { return Named(TypeString) }
func Object() *TypeSig { return Named(TypeObject) }
func Native() *TypeSig { return Named(TypeNative) }

// Instance returns def instantiated with args.
func Instance(def *TypeDef, args ...*TypeSig) *TypeSig {
	return &TypeSig{Kind: SigNamed, Name: def.FullName(), Args: args, Def: def}
}

// String renders the canonical text form used by signatures and the assembler.
func (s *TypeSig) String() string {
	var b strings.Builder
	s.write(&b)
	return b.String()
}

func (s *TypeSig) write(b *strings.Builder) {
	if s == nil {
		b.WriteString("?")
		return
	}
	switch s.Kind {
	case SigVar:
		b.WriteByte('!')
		b.WriteString(strconv.Itoa(s.Index))
	case SigMVar:
		b.WriteString("!!")
		b.WriteString(strconv.Itoa(s.Index))
	case SigArray:
		s.Elem.write(b)
		b.WriteString("[]")
	default:
		b.WriteString(s.Name)
		if len(s.Args) > 0 {
			b.WriteByte('<')
			for i, a := range s.Args {
				if i > 0 {
					b.WriteByte(',')
				}
				a.write(b)
			}
			b.WriteByte('>')
		}
	}
}

// Equal reports structural equality, ignoring resolved definitions.
func (s *TypeSig) Equal(o *TypeSig) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case SigVar, SigMVar:
		return s.Index == o.Index
	case SigArray:
		return s.Elem.Equal(o.Elem)
	}
	if s.Name != o.Name || len(s.Args) != len(o.Args) {
		return false
	}
	for i := range s.Args {
		if !s.Args[i].Equal(o.Args[i]) {
			return false
		}
	}
	return true
}

// IsVoid reports whether the signature is void.
func (s *TypeSig) IsVoid() bool { return s == nil || (s.Kind == SigNamed && s.Name == TypeVoid) }

// IsObject reports whether the signature is the root object type.
func (s *TypeSig) IsObject() bool { return s != nil && s.Kind == SigNamed && s.Name == TypeObject }

// IsGenericParam reports whether the signature is !n or !!n.
func (s *TypeSig) IsGenericParam() bool { return s.Kind == SigVar || s.Kind == SigMVar }

// IsGenericInstance reports whether the signature instantiates a generic type.
func (s *TypeSig) IsGenericInstance() bool { return s.Kind == SigNamed && len(s.Args) > 0 }

// IsValueType reports whether values of the type must be boxed to become objects.
// Generic parameters report false; callers decide on boxing them by IsGenericParam.
func (s *TypeSig) IsValueType() bool {
	if s.Kind != SigNamed {
		return false
	}
	if primitiveValueTypes[s.Name] {
		return true
	}
	return s.Def != nil && s.Def.IsValueType()
}

// NeedsBox reports whether converting a value of this type to object requires box.
func (s *TypeSig) NeedsBox() bool { return s.IsValueType() || s.IsGenericParam() }

// ContainsGenericParams reports whether any !n or !!n occurs in the signature.
func (s *TypeSig) ContainsGenericParams() bool {
	switch s.Kind {
	case SigVar, SigMVar:
		return true
	case SigArray:
		return s.Elem.ContainsGenericParams()
	}
	for _, a := range s.Args {
		if a.ContainsGenericParams() {
			return true
		}
	}
	return false
}

// ContainsMVar reports whether any method generic parameter occurs in the signature.
func (s *TypeSig) ContainsMVar() bool {
	switch s.Kind {
	case SigMVar:
		return true
	case SigVar:
		return false
	case SigArray:
		return s.Elem.ContainsMVar()
	}
	for _, a := range s.Args {
		if a.ContainsMVar() {
			return true
		}
	}
	return false
}

// Substitute replaces !n with typeArgs[n] and !!n with methodArgs[n].
// Parameters without a replacement are kept. Unchanged subtrees are shared.
func (s *TypeSig) Substitute(typeArgs, methodArgs []*TypeSig) *TypeSig {
	if s == nil {
		return nil
	}
	switch s.Kind {
	case SigVar:
		if s.Index < len(typeArgs) && typeArgs[s.Index] != nil {
			return typeArgs[s.Index]
		}
		return s
	case SigMVar:
		if s.Index < len(methodArgs) && methodArgs[s.Index] != nil {
			return methodArgs[s.Index]
		}
		return s
	case SigArray:
		elem := s.Elem.Substitute(typeArgs, methodArgs)
		if elem == s.Elem {
			return s
		}
		return &TypeSig{Kind: SigArray, Elem: elem}
	}
	if len(s.Args) == 0 {
		return s
	}
	var args []*TypeSig
	for i, a := range s.Args {
		na := a.Substitute(typeArgs, methodArgs)
		if na != a && args == nil {
			args = make([]*TypeSig, len(s.Args))
			copy(args, s.Args[:i])
		}
		if args != nil {
			args[i] = na
		}
	}
	if args == nil {
		return s
	}
	return &TypeSig{Kind: SigNamed, Name: s.Name, Args: args, Def: s.Def}
}

// Clone returns a deep copy that keeps resolved definitions.
func (s *TypeSig) Clone() *TypeSig {
	if s == nil {
		return nil
	}
	c := &TypeSig{Kind: s.Kind, Name: s.Name, Index: s.Index, Def: s.Def}
	if s.Elem != nil {
		c.Elem = s.Elem.Clone()
	}
	if len(s.Args) > 0 {
		c.Args = make([]*TypeSig, len(s.Args))
		for i, a := range s.Args {
			c.Args[i] = a.Clone()
		}
	}
	return c
}

// GenericName returns the name for a generic definition of the given arity ("Func`2").
func GenericName(base string, arity int) string {
	if arity == 0 {
		return base
	}
	return base + "`" + strconv.Itoa(arity)
}

// SigsString renders a comma separated list of signatures.
func SigsString(sigs []*TypeSig) string {
	parts := make([]string, len(sigs))
	for i, s := range sigs {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}
