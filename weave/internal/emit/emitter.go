package emit

import (
	"github.com/wippyai/weaver/contract"
	"github.com/wippyai/weaver/il"
)

// Emitter builds an instruction sequence. Methods return the emitter so
// sequences read in stack order.
type Emitter struct {
	instrs []*il.Instruction
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// Len returns the number of emitted instructions.
func (e *Emitter) Len() int { return len(e.instrs) }

// Reset discards everything emitted so far.
func (e *Emitter) Reset() { e.instrs = e.instrs[:0] }

// Instrs returns the emitted instructions. The slice is shared.
func (e *Emitter) Instrs() []*il.Instruction { return e.instrs }

// Copy returns an independent copy of the emitted slice.
func (e *Emitter) Copy() []*il.Instruction {
	return append([]*il.Instruction(nil), e.instrs...)
}

// Body wraps the emitted instructions in a method body.
func (e *Emitter) Body() *il.MethodBody {
	return &il.MethodBody{Instrs: e.Copy()}
}

// Emit appends an arbitrary instruction.
func (e *Emitter) Emit(op il.Opcode, operand any) *Emitter {
	e.instrs = append(e.instrs, il.New(op, operand))
	return e
}

func (e *Emitter) op(op il.Opcode) *Emitter {
	e.instrs = append(e.instrs, il.Op0(op))
	return e
}

func (e *Emitter) Ldarg(n int) *Emitter          { return e.Emit(il.OpLdarg, n) }
func (e *Emitter) LdcI4(v int) *Emitter          { return e.Emit(il.OpLdcI4, int32(v)) }
func (e *Emitter) Ldstr(s string) *Emitter       { return e.Emit(il.OpLdstr, s) }
func (e *Emitter) Ldnull() *Emitter              { return e.op(il.OpLdnull) }
func (e *Emitter) Dup() *Emitter                 { return e.op(il.OpDup) }
func (e *Emitter) Pop() *Emitter                 { return e.op(il.OpPop) }
func (e *Emitter) Ret() *Emitter                 { return e.op(il.OpRet) }
func (e *Emitter) Ldfld(f *il.FieldRef) *Emitter { return e.Emit(il.OpLdfld, f) }
func (e *Emitter) Stfld(f *il.FieldRef) *Emitter { return e.Emit(il.OpStfld, f) }
func (e *Emitter) Ldsfld(f *il.FieldRef) *Emitter {
	return e.Emit(il.OpLdsfld, f)
}
func (e *Emitter) Stsfld(f *il.FieldRef) *Emitter {
	return e.Emit(il.OpStsfld, f)
}
func (e *Emitter) Call(m *il.MethodRef) *Emitter     { return e.Emit(il.OpCall, m) }
func (e *Emitter) Callvirt(m *il.MethodRef) *Emitter { return e.Emit(il.OpCallvirt, m) }
func (e *Emitter) Newobj(m *il.MethodRef) *Emitter   { return e.Emit(il.OpNewobj, m) }
func (e *Emitter) Ldftn(m *il.MethodRef) *Emitter    { return e.Emit(il.OpLdftn, m) }
func (e *Emitter) Ldtoken(t *il.TypeSig) *Emitter    { return e.Emit(il.OpLdtoken, t) }
func (e *Emitter) Box(t *il.TypeSig) *Emitter        { return e.Emit(il.OpBox, t) }
func (e *Emitter) UnboxAny(t *il.TypeSig) *Emitter   { return e.Emit(il.OpUnboxAny, t) }
func (e *Emitter) Castclass(t *il.TypeSig) *Emitter  { return e.Emit(il.OpCastclass, t) }
func (e *Emitter) Newarr(t *il.TypeSig) *Emitter     { return e.Emit(il.OpNewarr, t) }
func (e *Emitter) Ldelem() *Emitter                  { return e.op(il.OpLdelem) }
func (e *Emitter) Stelem() *Emitter                  { return e.op(il.OpStelem) }

// This loads the instance argument of instance methods and null for
// static ones.
func (e *Emitter) This(static bool) *Emitter {
	if static {
		return e.Ldnull()
	}
	return e.Ldarg(0)
}

// ToObject converts the value of type t on the stack to object.
func (e *Emitter) ToObject(t *il.TypeSig) *Emitter {
	if t.NeedsBox() {
		return e.Box(t)
	}
	return e
}

// FromObject converts the object on the stack to t: value types and
// generic parameters are unboxed, other reference types are cast.
func (e *Emitter) FromObject(t *il.TypeSig) *Emitter {
	switch {
	case t.IsObject():
		return e
	case t.NeedsBox():
		return e.UnboxAny(t)
	default:
		return e.Castclass(t)
	}
}

// ReturnObject converts a returned value of type t to object, pushing
// null for void.
func (e *Emitter) ReturnObject(t *il.TypeSig) *Emitter {
	if t.IsVoid() {
		return e.Ldnull()
	}
	return e.ToObject(t)
}

// ReturnFrom converts an object result back to t, discarding it for void.
func (e *Emitter) ReturnFrom(t *il.TypeSig) *Emitter {
	if t.IsVoid() {
		return e.Pop()
	}
	return e.FromObject(t)
}

// ObjectArray builds an object[] of n elements, each pushed by load.
func (e *Emitter) ObjectArray(n int, load func(e *Emitter, i int)) *Emitter {
	return e.array(il.Object(), n, load)
}

// TypeArray builds a Type[] holding the runtime types of sigs.
func (e *Emitter) TypeArray(sigs []*il.TypeSig) *Emitter {
	return e.array(contract.TypeSig(), len(sigs), func(e *Emitter, i int) {
		e.Ldtoken(sigs[i])
	})
}

func (e *Emitter) array(elem *il.TypeSig, n int, load func(e *Emitter, i int)) *Emitter {
	e.LdcI4(n).Newarr(elem)
	for i := 0; i < n; i++ {
		e.Dup().LdcI4(i)
		load(e, i)
		e.Stelem()
	}
	return e
}

// Args pushes the declared arguments of md, skipping the instance argument.
func (e *Emitter) Args(md *il.MethodDef) *Emitter {
	first := 0
	if !md.IsStatic() {
		first = 1
	}
	for i := range md.Params {
		e.Ldarg(first + i)
	}
	return e
}

// BoxedArgs builds an object[] from the declared parameters of md.
func (e *Emitter) BoxedArgs(md *il.MethodDef) *Emitter {
	first := 0
	if !md.IsStatic() {
		first = 1
	}
	return e.ObjectArray(len(md.Params), func(e *Emitter, i int) {
		e.Ldarg(first + i).ToObject(md.Params[i].Type)
	})
}
