package il

import (
	"fmt"
	"strings"
)

// Instruction is a single operation in a method body.
//
// Branch operands point at the target instruction rather than holding an
// offset, so bodies can be edited without recomputing positions.
type Instruction struct {
	Operand any
	Op      Opcode
}

// MethodRef references a method, possibly on a generic instance type and
// possibly instantiated with method generic arguments.
//
// ReturnType and Params are expressed in the generic context of the
// definition (!n for the declaring type, !!n for the method); the
// instantiation lives in DeclaringType.Args and GenericArgs.
type MethodRef struct {
	DeclaringType *TypeSig
	Name          string
	ReturnType    *TypeSig
	Params        []*TypeSig
	GenericArgs   []*TypeSig
	Def           *MethodDef
	GenericArity  int
	HasThis       bool
}

// FieldRef references a field on a possibly generic instance type.
type FieldRef struct {
	DeclaringType *TypeSig
	Type          *TypeSig
	Def           *FieldDef
	Name          string
}

// New creates an instruction.
func New(op Opcode, operand any) *Instruction {
	return &Instruction{Op: op, Operand: operand}
}

// Op0 creates an instruction without operand.
func Op0(op Opcode) *Instruction { return &Instruction{Op: op} }

// Target returns the branch target, or nil.
func (i *Instruction) Target() *Instruction {
	t, _ := i.Operand.(*Instruction)
	return t
}

// Method returns the method operand, or nil.
func (i *Instruction) Method() *MethodRef {
	m, _ := i.Operand.(*MethodRef)
	return m
}

// Field returns the field operand, or nil.
func (i *Instruction) Field() *FieldRef {
	f, _ := i.Operand.(*FieldRef)
	return f
}

// Type returns the type operand, or nil.
func (i *Instruction) Type() *TypeSig {
	t, _ := i.Operand.(*TypeSig)
	return t
}

// Index returns the argument or local index operand.
func (i *Instruction) Index() int {
	n, _ := i.Operand.(int)
	return n
}

// String renders the instruction without labels; branches show "->op".
func (i *Instruction) String() string {
	if t := i.Target(); t != nil {
		return i.Op.String() + " ->" + t.Op.String()
	}
	return FormatInstruction(i, nil)
}

// RefTo builds a reference to def on the given declaring type instance.
// decl may be nil to use the definition's self instantiation.
func RefTo(def *MethodDef, decl *TypeSig, genericArgs []*TypeSig) *MethodRef {
	if decl == nil {
		decl = def.DeclaringType.Sig()
	}
	return &MethodRef{
		DeclaringType: decl,
		Name:          def.Name,
		ReturnType:    def.ReturnType,
		Params:        def.ParamTypes(),
		GenericArgs:   genericArgs,
		GenericArity:  len(def.GenericParams),
		HasThis:       !def.IsStatic(),
		Def:           def,
	}
}

// FieldRefTo builds a reference to def on the given declaring type instance.
func FieldRefTo(def *FieldDef, decl *TypeSig) *FieldRef {
	if decl == nil {
		decl = def.DeclaringType.Sig()
	}
	return &FieldRef{DeclaringType: decl, Name: def.Name, Type: def.Type, Def: def}
}

// String renders the reference in assembler syntax.
func (r *MethodRef) String() string {
	var b strings.Builder
	if r.HasThis {
		b.WriteString("instance ")
	}
	b.WriteString(r.ReturnType.String())
	b.WriteByte(' ')
	b.WriteString(r.DeclaringType.String())
	b.WriteString("::")
	b.WriteString(r.Name)
	switch {
	case len(r.GenericArgs) > 0:
		b.WriteByte('<')
		b.WriteString(SigsString(r.GenericArgs))
		b.WriteByte('>')
	case r.GenericArity > 0:
		fmt.Fprintf(&b, "`%d", r.GenericArity)
	}
	b.WriteByte('(')
	b.WriteString(SigsString(r.Params))
	b.WriteByte(')')
	return b.String()
}

// Signature returns the disambiguating signature of the referenced method.
func (r *MethodRef) Signature() string {
	return methodSignature(r.Name, r.GenericArity, r.Params)
}

// String renders the reference in assembler syntax.
func (r *FieldRef) String() string {
	return r.Type.String() + " " + r.DeclaringType.String() + "::" + r.Name
}
