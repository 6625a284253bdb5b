package il

import (
	"fmt"

	"github.com/wippyai/weaver/errors"
)

// Validate checks the structural well-formedness of every method body and
// reference in m: branch targets, argument and local indices, generic
// parameter indices and the generic arity of references.
func Validate(m *Module) error {
	for _, t := range m.AllTypes() {
		for _, md := range t.Methods {
			if err := ValidateMethod(md); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateMethod checks a single method.
func ValidateMethod(md *MethodDef) error {
	t := md.DeclaringType
	typeArity := 0
	typeName := ""
	if t != nil {
		typeArity = len(t.GenericParams)
		typeName = t.FullName()
	}
	fail := func(format string, args ...any) error {
		return errors.Malformed(errors.PhaseValidate, typeName, md.Name, fmt.Sprintf(format, args...))
	}
	checkSig := func(s *TypeSig) error {
		if bad := genericIndexOutOfRange(s, typeArity, len(md.GenericParams)); bad != nil {
			return fail("generic parameter %s out of range", bad)
		}
		return nil
	}
	if err := checkSig(md.ReturnType); err != nil {
		return err
	}
	for _, p := range md.Params {
		if err := checkSig(p.Type); err != nil {
			return err
		}
	}
	if md.Body == nil {
		if !md.IsAbstract() && !md.IsExtern() {
			return fail("method without body must be abstract or extern")
		}
		return nil
	}
	if md.IsAbstract() {
		return fail("abstract method has a body")
	}
	instrs := md.Body.Instrs
	if len(instrs) == 0 {
		return fail("empty body")
	}
	switch instrs[len(instrs)-1].Op {
	case OpRet, OpBr, OpThrow:
	default:
		return fail("control falls off the end of the body")
	}
	members := make(map[*Instruction]bool, len(instrs))
	for _, in := range instrs {
		members[in] = true
	}
	for i, in := range instrs {
		switch in.Op.Operand() {
		case OperandBranch:
			target := in.Target()
			if target == nil || !members[target] {
				return fail("instruction %d (%s) branches outside the body", i, in.Op)
			}
		case OperandIndex:
			n, ok := in.Operand.(int)
			if !ok {
				return fail("instruction %d (%s) needs an index operand", i, in.Op)
			}
			limit := len(md.Body.Locals)
			if in.Op == OpLdarg || in.Op == OpStarg {
				limit = md.ArgCount()
			}
			if n < 0 || n >= limit {
				return fail("instruction %d (%s %d) index out of range [0,%d)", i, in.Op, n, limit)
			}
		case OperandType:
			s := in.Type()
			if s == nil {
				return fail("instruction %d (%s) needs a type operand", i, in.Op)
			}
			if err := checkSig(s); err != nil {
				return err
			}
		case OperandMethod:
			r := in.Method()
			if r == nil {
				return fail("instruction %d (%s) needs a method operand", i, in.Op)
			}
			if err := checkSig(r.DeclaringType); err != nil {
				return err
			}
			for _, a := range r.GenericArgs {
				if err := checkSig(a); err != nil {
					return err
				}
			}
			if len(r.GenericArgs) > 0 && len(r.GenericArgs) != r.GenericArity {
				return fail("instruction %d: %s instantiated with %d of %d generic arguments",
					i, r.Name, len(r.GenericArgs), r.GenericArity)
			}
			if r.Def != nil {
				if got, want := len(r.Params), len(r.Def.Params); got != want {
					return fail("instruction %d: %s takes %d parameters, reference has %d", i, r.Name, want, got)
				}
				if r.GenericArity != len(r.Def.GenericParams) {
					return fail("instruction %d: %s has generic arity %d, reference has %d",
						i, r.Name, len(r.Def.GenericParams), r.GenericArity)
				}
				if in.Op != OpLdftn && len(r.Def.GenericParams) > 0 && len(r.GenericArgs) == 0 {
					return fail("instruction %d: call to generic method %s without instantiation", i, r.Name)
				}
			}
			if def := r.DeclaringType.Def; def != nil && len(r.DeclaringType.Args) != len(def.GenericParams) {
				return fail("instruction %d: %s instantiated with %d of %d type arguments",
					i, def.FullName(), len(r.DeclaringType.Args), len(def.GenericParams))
			}
		case OperandField:
			r := in.Field()
			if r == nil {
				return fail("instruction %d (%s) needs a field operand", i, in.Op)
			}
			if err := checkSig(r.DeclaringType); err != nil {
				return err
			}
		}
	}
	return nil
}

// genericIndexOutOfRange returns the first !n or !!n in s outside the given arities.
func genericIndexOutOfRange(s *TypeSig, typeArity, methodArity int) *TypeSig {
	if s == nil {
		return nil
	}
	switch s.Kind {
	case SigVar:
		if s.Index < 0 || s.Index >= typeArity {
			return s
		}
	case SigMVar:
		if s.Index < 0 || s.Index >= methodArity {
			return s
		}
	case SigArray:
		return genericIndexOutOfRange(s.Elem, typeArity, methodArity)
	default:
		for _, a := range s.Args {
			if bad := genericIndexOutOfRange(a, typeArity, methodArity); bad != nil {
				return bad
			}
		}
	}
	return nil
}
