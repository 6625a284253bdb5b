package il

import (
	"strings"

	"github.com/google/uuid"
)

// Module represents a managed module: the unit that gets woven.
type Module struct {
	Name       string
	Mvid       uuid.UUID
	References []string
	Attributes []*Attribute // assembly-level annotations
	Types      []*TypeDef
}

// TypeFlags describe a type definition.
type TypeFlags uint32

const (
	TypePublic TypeFlags = 1 << iota
	TypeAbstract
	TypeSealed
	TypeInterface
	TypeValueType
	TypeSynthetic // created by the weaver
)

// TypeDef is a type defined in a module.
type TypeDef struct {
	Namespace     string
	Name          string
	Flags         TypeFlags
	GenericParams []*GenericParam
	BaseType      *TypeSig
	Interfaces    []*TypeSig
	Fields        []*FieldDef
	Methods       []*MethodDef
	Properties    []*PropertyDef
	Events        []*EventDef
	NestedTypes   []*TypeDef
	Attributes    []*Attribute
	DeclaringType *TypeDef
	Module        *Module
}

// MethodFlags describe a method definition.
type MethodFlags uint32

const (
	MethodPublic MethodFlags = 1 << iota
	MethodPrivate
	MethodFamily
	MethodStatic
	MethodVirtual
	MethodAbstract
	MethodExtern
	MethodSpecialName
	MethodSynthetic
)

// MethodDef is a method defined on a type.
type MethodDef struct {
	Name          string
	Flags         MethodFlags
	ReturnType    *TypeSig
	Params        []*Param
	GenericParams []*GenericParam
	Body          *MethodBody // nil for abstract and extern methods
	Attributes    []*Attribute
	DeclaringType *TypeDef
}

// Param is a declared method parameter.
type Param struct {
	Name string
	Type *TypeSig
}

// MethodBody holds locals and the instruction stream of a method.
type MethodBody struct {
	Locals []*TypeSig
	Instrs []*Instruction
}

// GenericOwner tells whether a generic parameter belongs to a type or a method.
type GenericOwner uint8

const (
	OwnerType GenericOwner = iota
	OwnerMethod
)

// GenericParamFlags carry the special constraints of a generic parameter.
type GenericParamFlags uint8

const (
	GenericReferenceType GenericParamFlags = 1 << iota // class
	GenericValueType                                   // struct
	GenericDefaultCtor                                 // new()
)

// GenericParam is a generic parameter of a type or method.
type GenericParam struct {
	Name        string
	Index       int
	Owner       GenericOwner
	Flags       GenericParamFlags
	Constraints []*TypeSig
}

// FieldFlags describe a field definition.
type FieldFlags uint32

const (
	FieldPublic FieldFlags = 1 << iota
	FieldPrivate
	FieldFamily
	FieldStatic
	FieldInitOnly
	FieldSynthetic
)

// FieldDef is a field defined on a type.
type FieldDef struct {
	Name          string
	Type          *TypeSig
	Flags         FieldFlags
	Attributes    []*Attribute
	DeclaringType *TypeDef
}

// PropertyDef is a property with optional accessor methods.
type PropertyDef struct {
	Name          string
	Type          *TypeSig
	Getter        *MethodDef
	Setter        *MethodDef
	Attributes    []*Attribute
	DeclaringType *TypeDef
}

// EventDef is an event with add/remove accessor methods.
type EventDef struct {
	Name          string
	HandlerType   *TypeSig
	Adder         *MethodDef
	Remover       *MethodDef
	Attributes    []*Attribute
	DeclaringType *TypeDef
}

// Attribute is a declarative annotation attached to a module, type or member.
type Attribute struct {
	Type  *TypeSig
	Args  []any // int32, int64, float32, float64, bool, string, *TypeSig
	Named []NamedArg
}

// NamedArg assigns a property or field of an annotation instance.
type NamedArg struct {
	Name  string
	Value any
}

// Well-known member names.
const (
	CtorName        = ".ctor"
	TypeInitName    = ".cctor"
	GetterPrefix    = "get_"
	SetterPrefix    = "set_"
	AdderPrefix     = "add_"
	RemoverPrefix   = "remove_"
	nestedSeparator = "/"
)

// FullName returns the namespace-qualified name; nested types use '/'.
func (t *TypeDef) FullName() string {
	if t.DeclaringType != nil {
		return t.DeclaringType.FullName() + nestedSeparator + t.Name
	}
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

func (t *TypeDef) String() string { return t.FullName() }

// IsInterface reports whether the type is an interface.
func (t *TypeDef) IsInterface() bool { return t.Flags&TypeInterface != 0 }

// IsValueType reports whether instances of the type are values.
func (t *TypeDef) IsValueType() bool { return t.Flags&TypeValueType != 0 }

// HasGenericParams reports whether the type is a generic definition.
func (t *TypeDef) HasGenericParams() bool { return len(t.GenericParams) > 0 }

// Sig returns a reference to the type itself, instantiated over its own
// generic parameters when it is generic.
func (t *TypeDef) Sig() *TypeSig {
	s := &TypeSig{Kind: SigNamed, Name: t.FullName(), Def: t}
	for i := range t.GenericParams {
		s.Args = append(s.Args, Var(i))
	}
	return s
}

// AddMethod appends a method and sets its declaring type.
func (t *TypeDef) AddMethod(m *MethodDef) {
	m.DeclaringType = t
	t.Methods = append(t.Methods, m)
}

// AddField appends a field and sets its declaring type.
func (t *TypeDef) AddField(f *FieldDef) {
	f.DeclaringType = t
	t.Fields = append(t.Fields, f)
}

// AddProperty appends a property and sets its declaring type.
func (t *TypeDef) AddProperty(p *PropertyDef) {
	p.DeclaringType = t
	t.Properties = append(t.Properties, p)
}

// AddEvent appends an event and sets its declaring type.
func (t *TypeDef) AddEvent(e *EventDef) {
	e.DeclaringType = t
	t.Events = append(t.Events, e)
}

// AddNestedType appends a nested type.
func (t *TypeDef) AddNestedType(n *TypeDef) {
	n.DeclaringType = t
	n.Module = t.Module
	n.Namespace = ""
	t.NestedTypes = append(t.NestedTypes, n)
}

// MethodsNamed returns all methods with the given name.
func (t *TypeDef) MethodsNamed(name string) []*MethodDef {
	var out []*MethodDef
	for _, m := range t.Methods {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// FindField returns the field with the given name, or nil.
func (t *TypeDef) FindField(name string) *FieldDef {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// FindProperty returns the property with the given name, or nil.
func (t *TypeDef) FindProperty(name string) *PropertyDef {
	for _, p := range t.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// FindEvent returns the event with the given name, or nil.
func (t *TypeDef) FindEvent(name string) *EventDef {
	for _, e := range t.Events {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// FindMethod returns the method with the given signature (see MethodDef.Signature), or nil.
func (t *TypeDef) FindMethod(signature string) *MethodDef {
	for _, m := range t.Methods {
		if m.Signature() == signature {
			return m
		}
	}
	return nil
}

// TypeInitializer returns the static constructor, or nil.
func (t *TypeDef) TypeInitializer() *MethodDef {
	for _, m := range t.Methods {
		if m.Name == TypeInitName {
			return m
		}
	}
	return nil
}

// Constructors returns the instance constructors of the type.
func (t *TypeDef) Constructors() []*MethodDef {
	var out []*MethodDef
	for _, m := range t.Methods {
		if m.Name == CtorName && !m.IsStatic() {
			out = append(out, m)
		}
	}
	return out
}

// FindNestedType returns a directly nested type by simple name.
func (t *TypeDef) FindNestedType(name string) *TypeDef {
	for _, n := range t.NestedTypes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// IsStatic reports whether the method has no instance parameter.
func (m *MethodDef) IsStatic() bool { return m.Flags&MethodStatic != 0 }

// IsAbstract reports whether the method is abstract.
func (m *MethodDef) IsAbstract() bool { return m.Flags&MethodAbstract != 0 }

// IsExtern reports whether the method is implemented outside the module.
func (m *MethodDef) IsExtern() bool { return m.Flags&MethodExtern != 0 }

// IsVirtual reports whether the method dispatches virtually.
func (m *MethodDef) IsVirtual() bool { return m.Flags&MethodVirtual != 0 }

// IsSpecialName reports whether the method is an accessor, constructor or initializer.
func (m *MethodDef) IsSpecialName() bool { return m.Flags&MethodSpecialName != 0 }

// IsConstructor reports whether the method is an instance constructor.
func (m *MethodDef) IsConstructor() bool { return m.Name == CtorName && !m.IsStatic() }

// IsTypeInitializer reports whether the method is the static constructor.
func (m *MethodDef) IsTypeInitializer() bool { return m.Name == TypeInitName }

// HasBody reports whether the method carries instructions.
func (m *MethodDef) HasBody() bool { return m.Body != nil }

// IsGeneric reports whether the method declares generic parameters.
func (m *MethodDef) IsGeneric() bool { return len(m.GenericParams) > 0 }

// ArgCount returns the number of arguments including the instance argument.
func (m *MethodDef) ArgCount() int {
	if m.IsStatic() {
		return len(m.Params)
	}
	return len(m.Params) + 1
}

// ParamTypes returns the declared parameter types.
func (m *MethodDef) ParamTypes() []*TypeSig {
	out := make([]*TypeSig, len(m.Params))
	for i, p := range m.Params {
		out[i] = p.Type
	}
	return out
}

// FullName returns "Type::Name".
func (m *MethodDef) FullName() string {
	if m.DeclaringType == nil {
		return m.Name
	}
	return m.DeclaringType.FullName() + "::" + m.Name
}

func (m *MethodDef) String() string { return m.FullName() }

// IsStatic reports whether the field belongs to the type rather than instances.
func (f *FieldDef) IsStatic() bool { return f.Flags&FieldStatic != 0 }

// IsStatic reports whether the property accessors are static.
func (p *PropertyDef) IsStatic() bool {
	if p.Getter != nil {
		return p.Getter.IsStatic()
	}
	return p.Setter != nil && p.Setter.IsStatic()
}

// FullName returns "Type::Name".
func (p *PropertyDef) FullName() string { return p.DeclaringType.FullName() + "::" + p.Name }

// IsStatic reports whether the event accessors are static.
func (e *EventDef) IsStatic() bool {
	if e.Adder != nil {
		return e.Adder.IsStatic()
	}
	return e.Remover != nil && e.Remover.IsStatic()
}

// FullName returns "Type::Name".
func (e *EventDef) FullName() string { return e.DeclaringType.FullName() + "::" + e.Name }

// AddType appends a top-level type to the module.
func (m *Module) AddType(t *TypeDef) {
	t.Module = m
	m.Types = append(m.Types, t)
}

// AllTypes returns every type in the module, nested types after their parent.
func (m *Module) AllTypes() []*TypeDef {
	var out []*TypeDef
	var walk func(ts []*TypeDef)
	walk = func(ts []*TypeDef) {
		for _, t := range ts {
			out = append(out, t)
			walk(t.NestedTypes)
		}
	}
	walk(m.Types)
	return out
}

// FindType finds a type by full name, including nested "Outer/Inner" names.
func (m *Module) FindType(fullName string) *TypeDef {
	outer, rest, nested := strings.Cut(fullName, nestedSeparator)
	for _, t := range m.Types {
		if t.FullName() != outer {
			continue
		}
		if !nested {
			return t
		}
		cur := t
		for _, part := range strings.Split(rest, nestedSeparator) {
			cur = cur.FindNestedType(part)
			if cur == nil {
				return nil
			}
		}
		return cur
	}
	return nil
}

// HasAttribute reports whether any attribute of the given type name is present.
func HasAttribute(attrs []*Attribute, typeName string) bool {
	for _, a := range attrs {
		if a.Type != nil && a.Type.Name == typeName {
			return true
		}
	}
	return false
}

// SplitFullName splits "Ns.Sub.Name" into ("Ns.Sub", "Name").
func SplitFullName(full string) (namespace, name string) {
	if i := strings.LastIndexByte(full, '.'); i > 0 {
		return full[:i], full[i+1:]
	}
	return "", full
}
