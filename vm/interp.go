package vm

import (
	"fmt"
	"strings"

	"github.com/wippyai/weaver/contract"
	"github.com/wippyai/weaver/errors"
	"github.com/wippyai/weaver/il"
)

type frame struct {
	method *il.MethodDef
	typ    *RuntimeType
	margs  []*RuntimeType
	args   []any
	locals []any
	stack  []any
}

func (f *frame) push(v any) { f.stack = append(f.stack, v) }

func (f *frame) pop() any {
	n := len(f.stack) - 1
	v := f.stack[n]
	f.stack = f.stack[:n]
	return v
}

func (f *frame) popN(n int) []any {
	at := len(f.stack) - n
	out := make([]any, n)
	copy(out, f.stack[at:])
	f.stack = f.stack[:at]
	return out
}

// invoke runs md on the closed declaring type t. Extern and abstract
// methods are dispatched to the host registry.
func (m *Machine) invoke(th *thread, md *il.MethodDef, t *RuntimeType, margs []*RuntimeType, this any, args []any) (any, error) {
	if err := th.ctx.Err(); err != nil {
		return nil, err
	}
	if th.depth >= maxCallDepth {
		return nil, errors.New(errors.PhaseRuntime, errors.KindOutOfBounds).
			Type(t.String()).Member(md.Signature()).
			Detail("call depth exceeds %d", maxCallDepth).
			Build()
	}
	th.depth++
	defer func() { th.depth-- }()

	if md.IsStatic() {
		if err := m.ensureInit(th, t); err != nil {
			return nil, err
		}
	}
	if len(args) != len(md.Params) {
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Type(t.String()).Member(md.Signature()).
			Detail("expected %d arguments, got %d", len(md.Params), len(args)).
			Build()
	}
	for i, p := range md.Params {
		args[i] = m.coerceTo(args[i], p.Type, t, margs)
	}
	if !md.HasBody() {
		return m.callHost(th, md, t, margs, this, args)
	}

	f := &frame{method: md, typ: t, margs: margs}
	if md.IsStatic() {
		f.args = args
	} else {
		f.args = append([]any{this}, args...)
	}
	if n := len(md.Body.Locals); n > 0 {
		f.locals = make([]any, n)
		for i, l := range md.Body.Locals {
			lt, err := m.closeType(l, t.Args, margs)
			if err != nil {
				return nil, err
			}
			f.locals[i] = zeroValue(lt)
		}
	}
	return m.run(th, f)
}

// coerceTo adapts bool/int stack values to a declared type.
func (m *Machine) coerceTo(v any, s *il.TypeSig, t *RuntimeType, margs []*RuntimeType) any {
	switch v.(type) {
	case int32, bool:
	default:
		return v
	}
	rt, err := m.closeType(s, t.Args, margs)
	if err != nil {
		return v
	}
	return coerce(v, rt)
}

func (m *Machine) callHost(th *thread, md *il.MethodDef, t *RuntimeType, margs []*RuntimeType, this any, args []any) (any, error) {
	owner := md.DeclaringType.FullName()
	c := &Call{Machine: m, Method: md, Type: t, MethodArgs: margs, th: th}
	if fn, ok := m.hosts.Lookup(owner, md.Signature(), md.Name); ok {
		return fn(c, this, args)
	}
	if md.DeclaringType.Module != nil && md.DeclaringType.Module.Name != contract.LibraryName {
		if v, ok, err := m.implicitMember(c, this, args); ok {
			return v, err
		}
	}
	return nil, errors.New(errors.PhaseRuntime, errors.KindNotFound).
		Type(owner).Member(md.Signature()).
		Detail("no host implementation").
		Build()
}

// implicitMember implements extern members of module types that have no
// host binding: constructors store their arguments into fields named after
// the parameters, and accessors read and write a field named after the
// property.
func (m *Machine) implicitMember(c *Call, this any, args []any) (any, bool, error) {
	md := c.Method
	switch {
	case md.IsConstructor():
		obj, ok := this.(*Object)
		if !ok {
			return nil, true, errors.NullReference(errors.PhaseRuntime, md.FullName())
		}
		for i, p := range md.Params {
			obj.SetField(p.Name, args[i])
		}
		return nil, true, nil
	case strings.HasPrefix(md.Name, il.GetterPrefix) && len(args) == 0:
		name := md.Name[len(il.GetterPrefix):]
		if md.IsStatic() {
			v, _ := c.Type.static(name)
			return v, true, nil
		}
		obj, ok := this.(*Object)
		if !ok {
			return nil, true, errors.NullReference(errors.PhaseRuntime, md.FullName())
		}
		v, set := obj.field(name)
		if !set {
			rt, err := m.closeType(md.ReturnType, c.Type.Args, nil)
			if err != nil {
				return nil, true, err
			}
			v = zeroValue(rt)
		}
		return v, true, nil
	case strings.HasPrefix(md.Name, il.SetterPrefix) && len(args) == 1:
		name := md.Name[len(il.SetterPrefix):]
		if md.IsStatic() {
			c.Type.setStatic(name, args[0])
			return nil, true, nil
		}
		obj, ok := this.(*Object)
		if !ok {
			return nil, true, errors.NullReference(errors.PhaseRuntime, md.FullName())
		}
		obj.SetField(name, args[0])
		return nil, true, nil
	}
	return nil, false, nil
}

// newObject allocates an instance of t and runs ctor on it. A host
// constructor may return a replacement instance.
func (m *Machine) newObject(th *thread, t *RuntimeType, ctor *il.MethodDef, args []any) (any, error) {
	if t.Def != nil && t.Def.Flags&il.TypeAbstract != 0 {
		return nil, errors.New(errors.PhaseRuntime, errors.KindUnsupported).
			Type(t.String()).Detail("cannot instantiate abstract type").Build()
	}
	if err := m.ensureInit(th, t); err != nil {
		return nil, err
	}
	obj := &Object{Type: t}
	r, err := m.invoke(th, ctor, t, nil, obj, args)
	if err != nil {
		return nil, err
	}
	if !ctor.HasBody() && r != nil {
		return r, nil
	}
	return obj, nil
}

func (m *Machine) invokeDelegate(th *thread, d *Delegate, args []any) (any, error) {
	if d == nil {
		return nil, errors.NullReference(errors.PhaseRuntime, "delegate")
	}
	if d.Native != nil {
		c := &Call{Machine: m, Type: d.Type, th: th}
		return d.Native(c, args)
	}
	if d.Fn == nil {
		return nil, errors.NullReference(errors.PhaseRuntime, "delegate target method")
	}
	var this any
	if !d.Fn.Method.IsStatic() {
		this = d.Target
	}
	return m.invoke(th, d.Fn.Method, d.Fn.Type, d.Fn.MethodArgs, this, append([]any(nil), args...))
}

// resolveVirtual finds the implementation of md for a receiver of type
// recv: the most derived method with the same signature, or the same name
// and arity when signatures differ only by generic context.
func (m *Machine) resolveVirtual(recv *RuntimeType, md *il.MethodDef) (*il.MethodDef, *RuntimeType) {
	sig := md.Signature()
	for cur := recv; cur != nil; cur = m.baseOf(cur) {
		if cur.Def == nil {
			continue
		}
		if impl := cur.Def.FindMethod(sig); impl != nil && !impl.IsStatic() && !impl.IsAbstract() {
			return impl, cur
		}
		var match *il.MethodDef
		for _, cand := range cur.Def.MethodsNamed(md.Name) {
			if cand.IsStatic() || cand.IsAbstract() || len(cand.Params) != len(md.Params) ||
				len(cand.GenericParams) != len(md.GenericParams) {
				continue
			}
			if match != nil {
				match = nil
				break
			}
			match = cand
		}
		if match != nil {
			return match, cur
		}
	}
	return nil, nil
}

func (m *Machine) branchIndex(body *il.MethodBody) map[*il.Instruction]int {
	if v, ok := m.branches.Load(body); ok {
		idx := v.(map[*il.Instruction]int)
		if len(idx) == len(body.Instrs) {
			return idx
		}
	}
	idx := make(map[*il.Instruction]int, len(body.Instrs))
	for i, in := range body.Instrs {
		idx[in] = i
	}
	m.branches.Store(body, idx)
	return idx
}

func (m *Machine) fault(f *frame, in *il.Instruction, kind errors.Kind, format string, args ...any) error {
	return errors.New(errors.PhaseRuntime, kind).
		Type(f.typ.String()).Member(f.method.Signature()).
		Detail("%s: %s", in.Op, fmt.Sprintf(format, args...)).
		Build()
}

func (m *Machine) run(th *thread, f *frame) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.PhaseRuntime, errors.KindMalformed).
				Type(f.typ.String()).Member(f.method.Signature()).
				Detail("invalid program: %v", r).
				Build()
		}
	}()

	instrs := f.method.Body.Instrs
	var index map[*il.Instruction]int
	pc := 0
	for pc < len(instrs) {
		in := instrs[pc]
		pc++
		switch in.Op {
		case il.OpNop:

		case il.OpLdarg:
			f.push(f.args[in.Index()])
		case il.OpStarg:
			i := in.Index()
			v := f.pop()
			if !f.method.IsStatic() {
				if i == 0 {
					f.args[0] = v
					break
				}
				f.args[i] = m.coerceTo(v, f.method.Params[i-1].Type, f.typ, f.margs)
				break
			}
			f.args[i] = m.coerceTo(v, f.method.Params[i].Type, f.typ, f.margs)
		case il.OpLdloc:
			f.push(f.locals[in.Index()])
		case il.OpStloc:
			i := in.Index()
			f.locals[i] = m.coerceTo(f.pop(), f.method.Body.Locals[i], f.typ, f.margs)

		case il.OpLdcI4, il.OpLdcI8, il.OpLdcR4, il.OpLdcR8, il.OpLdstr:
			f.push(in.Operand)
		case il.OpLdnull:
			f.push(nil)
		case il.OpDup:
			v := f.pop()
			f.push(v)
			f.push(v)
		case il.OpPop:
			f.pop()

		case il.OpLdfld:
			ref := in.Field()
			obj, ok := f.pop().(*Object)
			if !ok || obj == nil {
				return nil, m.fault(f, in, errors.KindNullReference, "field %s on null or non-object", ref.Name)
			}
			v, set := obj.field(ref.Name)
			if !set {
				ft, err := m.fieldType(f, ref)
				if err != nil {
					return nil, err
				}
				v = zeroValue(ft)
			}
			f.push(v)
		case il.OpStfld:
			ref := in.Field()
			v := f.pop()
			obj, ok := f.pop().(*Object)
			if !ok || obj == nil {
				return nil, m.fault(f, in, errors.KindNullReference, "field %s on null or non-object", ref.Name)
			}
			ft, err := m.fieldType(f, ref)
			if err != nil {
				return nil, err
			}
			obj.SetField(ref.Name, coerce(v, ft))
		case il.OpLdsfld, il.OpStsfld:
			ref := in.Field()
			owner, err := m.staticOwner(f, ref)
			if err != nil {
				return nil, err
			}
			if err := m.ensureInit(th, owner); err != nil {
				return nil, err
			}
			if in.Op == il.OpLdsfld {
				v, set := owner.static(ref.Name)
				if !set {
					ft, err := m.closeType(ref.Type, owner.Args, nil)
					if err != nil {
						return nil, err
					}
					v = zeroValue(ft)
				}
				f.push(v)
				break
			}
			ft, err := m.closeType(ref.Type, owner.Args, nil)
			if err != nil {
				return nil, err
			}
			owner.setStatic(ref.Name, coerce(f.pop(), ft))

		case il.OpCall, il.OpCallvirt:
			r, err := m.execCall(th, f, in)
			if err != nil {
				return nil, err
			}
			if !in.Method().ReturnType.IsVoid() {
				f.push(r)
			}
		case il.OpNewobj:
			ref := in.Method()
			t, err := m.closeType(ref.DeclaringType, f.typ.Args, f.margs)
			if err != nil {
				return nil, err
			}
			ctor, err := m.methodDef(t, ref)
			if err != nil {
				return nil, err
			}
			obj, err := m.newObject(th, t, ctor, f.popN(len(ref.Params)))
			if err != nil {
				return nil, err
			}
			f.push(obj)
		case il.OpLdftn:
			ref := in.Method()
			t, err := m.closeType(ref.DeclaringType, f.typ.Args, f.margs)
			if err != nil {
				return nil, err
			}
			md, err := m.methodDef(t, ref)
			if err != nil {
				return nil, err
			}
			margs, err := m.closeAll(ref.GenericArgs, f)
			if err != nil {
				return nil, err
			}
			f.push(&FnPtr{Method: md, Type: m.ownerOf(t, md.DeclaringType), MethodArgs: margs})

		case il.OpRet:
			if f.method.ReturnType.IsVoid() {
				return nil, nil
			}
			return m.coerceTo(f.pop(), f.method.ReturnType, f.typ, f.margs), nil
		case il.OpBr, il.OpBrtrue, il.OpBrfalse:
			take := true
			if in.Op != il.OpBr {
				take = truthy(f.pop()) == (in.Op == il.OpBrtrue)
			}
			if !take {
				break
			}
			if index == nil {
				index = m.branchIndex(f.method.Body)
			}
			target, ok := index[in.Target()]
			if !ok {
				return nil, m.fault(f, in, errors.KindMalformed, "branch target outside body")
			}
			if target < pc {
				if err := th.ctx.Err(); err != nil {
					return nil, err
				}
			}
			pc = target

		case il.OpBox:
			t, err := m.closeType(in.Type(), f.typ.Args, f.margs)
			if err != nil {
				return nil, err
			}
			f.push(coerce(f.pop(), t))
		case il.OpUnboxAny, il.OpCastclass:
			t, err := m.closeType(in.Type(), f.typ.Args, f.margs)
			if err != nil {
				return nil, err
			}
			v := f.pop()
			if v == nil {
				if in.Op == il.OpUnboxAny && t.IsValueType() {
					return nil, m.fault(f, in, errors.KindNullReference, "unbox null as %s", t)
				}
				f.push(nil)
				break
			}
			v = coerce(v, t)
			if !m.isInstance(v, t) {
				return nil, m.fault(f, in, errors.KindTypeMismatch, "cannot cast %s to %s", m.typeOfValue(v), t)
			}
			f.push(v)
		case il.OpNewarr:
			t, err := m.closeType(in.Type(), f.typ.Args, f.margs)
			if err != nil {
				return nil, err
			}
			n, ok := asInt(f.pop())
			if !ok || n < 0 {
				return nil, m.fault(f, in, errors.KindInvalidInput, "invalid array length")
			}
			items := make([]any, n)
			if z := zeroValue(t); z != nil {
				for i := range items {
					items[i] = z
				}
			}
			f.push(&Array{Elem: t, Items: items})
		case il.OpLdelem:
			i, _ := asInt(f.pop())
			arr, ok := f.pop().(*Array)
			if !ok || arr == nil {
				return nil, m.fault(f, in, errors.KindNullReference, "element of null array")
			}
			if i < 0 || i >= len(arr.Items) {
				return nil, m.fault(f, in, errors.KindOutOfBounds, "index %d, length %d", i, len(arr.Items))
			}
			f.push(arr.Items[i])
		case il.OpStelem:
			v := f.pop()
			i, _ := asInt(f.pop())
			arr, ok := f.pop().(*Array)
			if !ok || arr == nil {
				return nil, m.fault(f, in, errors.KindNullReference, "element of null array")
			}
			if i < 0 || i >= len(arr.Items) {
				return nil, m.fault(f, in, errors.KindOutOfBounds, "index %d, length %d", i, len(arr.Items))
			}
			arr.Items[i] = coerce(v, arr.Elem)
		case il.OpLdlen:
			arr, ok := f.pop().(*Array)
			if !ok || arr == nil {
				return nil, m.fault(f, in, errors.KindNullReference, "length of null array")
			}
			f.push(int32(len(arr.Items)))
		case il.OpLdtoken:
			t, err := m.closeType(in.Type(), f.typ.Args, f.margs)
			if err != nil {
				return nil, err
			}
			f.push(t)

		case il.OpAdd, il.OpSub, il.OpMul, il.OpDiv:
			b, a := f.pop(), f.pop()
			r, err := arith(in.Op, a, b)
			if err != nil {
				return nil, m.fault(f, in, errors.KindTypeMismatch, "%v", err)
			}
			f.push(r)
		case il.OpCeq:
			b, a := f.pop(), f.pop()
			f.push(boolInt(equal(a, b)))
		case il.OpClt, il.OpCgt:
			b, a := f.pop(), f.pop()
			c, err := compare(a, b)
			if err != nil {
				return nil, m.fault(f, in, errors.KindTypeMismatch, "%v", err)
			}
			if in.Op == il.OpClt {
				f.push(boolInt(c < 0))
			} else {
				f.push(boolInt(c > 0))
			}

		case il.OpThrow:
			return nil, m.toException(f.pop())

		default:
			return nil, m.fault(f, in, errors.KindUnsupported, "opcode not executable")
		}
	}
	return nil, errors.New(errors.PhaseRuntime, errors.KindMalformed).
		Type(f.typ.String()).Member(f.method.Signature()).
		Detail("execution ran past the end of the body").
		Build()
}

func (m *Machine) execCall(th *thread, f *frame, in *il.Instruction) (any, error) {
	ref := in.Method()
	t, err := m.closeType(ref.DeclaringType, f.typ.Args, f.margs)
	if err != nil {
		return nil, err
	}
	md, err := m.methodDef(t, ref)
	if err != nil {
		return nil, err
	}
	margs, err := m.closeAll(ref.GenericArgs, f)
	if err != nil {
		return nil, err
	}
	args := f.popN(len(ref.Params))
	var this any
	if ref.HasThis {
		this = f.pop()
	}
	owner := m.ownerOf(t, md.DeclaringType)

	if in.Op == il.OpCallvirt && ref.HasThis {
		if this == nil {
			return nil, m.fault(f, in, errors.KindNullReference, "call %s on null", ref.Name)
		}
		if md.IsVirtual() || md.IsAbstract() {
			recv := m.typeOfValue(this)
			if impl, implType := m.resolveVirtual(recv, md); impl != nil {
				md, owner = impl, implType
			} else if md.IsAbstract() {
				return nil, m.fault(f, in, errors.KindNotFound, "%s does not implement %s", recv, md.Signature())
			}
		}
	}
	return m.invoke(th, md, owner, margs, this, args)
}

// methodDef returns the definition a reference binds to, resolving it on
// the closed declaring type when linking left it unbound.
func (m *Machine) methodDef(t *RuntimeType, ref *il.MethodRef) (*il.MethodDef, error) {
	if ref.Def != nil {
		return ref.Def, nil
	}
	if t.Def != nil {
		if md := il.FindMethodInHierarchy(t.Def, ref.Signature(), m.resolver); md != nil {
			ref.Def = md
			return md, nil
		}
	}
	return nil, errors.MemberNotFound(errors.PhaseRuntime, t.String(), ref.Signature())
}

func (m *Machine) closeAll(sigs []*il.TypeSig, f *frame) ([]*RuntimeType, error) {
	if len(sigs) == 0 {
		return nil, nil
	}
	out := make([]*RuntimeType, len(sigs))
	for i, s := range sigs {
		rt, err := m.closeType(s, f.typ.Args, f.margs)
		if err != nil {
			return nil, err
		}
		out[i] = rt
	}
	return out, nil
}

func (m *Machine) fieldType(f *frame, ref *il.FieldRef) (*RuntimeType, error) {
	decl, err := m.closeType(ref.DeclaringType, f.typ.Args, f.margs)
	if err != nil {
		return nil, err
	}
	return m.closeType(ref.Type, decl.Args, nil)
}

func (m *Machine) staticOwner(f *frame, ref *il.FieldRef) (*RuntimeType, error) {
	decl, err := m.closeType(ref.DeclaringType, f.typ.Args, f.margs)
	if err != nil {
		return nil, err
	}
	if ref.Def != nil && ref.Def.DeclaringType != nil {
		return m.ownerOf(decl, ref.Def.DeclaringType), nil
	}
	return decl, nil
}

// toException converts a thrown value to the error carried up the stack.
func (m *Machine) toException(v any) error {
	switch x := v.(type) {
	case *Exception:
		return x
	case *Object:
		msg, _ := x.Field(exceptionMessageField).(string)
		return &Exception{Type: x.Type, Message: msg}
	case nil:
		return errors.NullReference(errors.PhaseRuntime, "thrown value")
	}
	return &Exception{Type: m.typeOfValue(v), Message: fmt.Sprint(v)}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int32:
		return x != 0
	case int64:
		return x != 0
	case float32:
		return x != 0
	case float64:
		return x != 0
	}
	return true
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int32:
		return int(x), true
	case int64:
		return int(x), true
	}
	return 0, false
}

func normalize(v any) any {
	if b, ok := v.(bool); ok {
		return boolInt(b)
	}
	return v
}

func arith(op il.Opcode, a, b any) (any, error) {
	a, b = normalize(a), normalize(b)
	if x, ok := a.(int32); ok {
		if _, wide := b.(int64); wide {
			a = int64(x)
		}
	}
	if y, ok := b.(int32); ok {
		if _, wide := a.(int64); wide {
			b = int64(y)
		}
	}
	switch x := a.(type) {
	case int32:
		y, ok := b.(int32)
		if !ok {
			break
		}
		return intArith(op, x, y)
	case int64:
		y, ok := b.(int64)
		if !ok {
			break
		}
		return intArith(op, x, y)
	case float32:
		y, ok := b.(float32)
		if !ok {
			break
		}
		return floatArith(op, x, y), nil
	case float64:
		y, ok := b.(float64)
		if !ok {
			break
		}
		return floatArith(op, x, y), nil
	case string:
		y, ok := b.(string)
		if !ok || op != il.OpAdd {
			break
		}
		return x + y, nil
	}
	return nil, fmt.Errorf("operands %T and %T", a, b)
}

func intArith[T int32 | int64](op il.Opcode, x, y T) (any, error) {
	switch op {
	case il.OpAdd:
		return x + y, nil
	case il.OpSub:
		return x - y, nil
	case il.OpMul:
		return x * y, nil
	}
	if y == 0 {
		return nil, fmt.Errorf("division by zero")
	}
	return x / y, nil
}

func floatArith[T float32 | float64](op il.Opcode, x, y T) any {
	switch op {
	case il.OpAdd:
		return x + y
	case il.OpSub:
		return x - y
	case il.OpMul:
		return x * y
	}
	return x / y
}

func equal(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if c, err := compare(a, b); err == nil {
		return c == 0
	}
	return a == b
}

func compare(a, b any) (int, error) {
	a, b = normalize(a), normalize(b)
	switch x := a.(type) {
	case int32:
		switch y := b.(type) {
		case int32:
			return cmp(x, y), nil
		case int64:
			return cmp(int64(x), y), nil
		}
	case int64:
		switch y := b.(type) {
		case int64:
			return cmp(x, y), nil
		case int32:
			return cmp(x, int64(y)), nil
		}
	case float32:
		if y, ok := b.(float32); ok {
			return cmp(x, y), nil
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp(x, y), nil
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	}
	return 0, fmt.Errorf("cannot compare %T and %T", a, b)
}

func cmp[T int32 | int64 | float32 | float64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}
