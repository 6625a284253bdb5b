package vm

import (
	"fmt"
	"strings"

	"github.com/wippyai/weaver/contract"
	"github.com/wippyai/weaver/errors"
	"github.com/wippyai/weaver/il"
)

// exceptionMessageField holds the message of exception subclasses
// constructed through the base constructor.
const exceptionMessageField = "$message"

func noop(*Call, any, []any) (any, error) { return nil, nil }

// bindLibrary registers the Go implementations of the run-time library.
func bindLibrary(r *HostRegistry) error {
	tables := map[string]map[string]HostFunc{
		il.TypeObject: {
			il.CtorName: noop,
			"ToString":  objectToString,
			"GetType":   objectGetType,
		},
		contract.AttributeBase: {il.CtorName: noop},
		contract.Exception: {
			il.CtorName:   exceptionCtor,
			"get_Message": exceptionMessage,
		},
		contract.MemberInfo: {
			"get_Name":          memberName,
			"get_DeclaringType": memberDeclaringType,
		},
		contract.TypeInfo: {
			"get_FullName": typeFullName,
		},
		contract.MethodInfo: {
			"get_ParameterCount": methodParameterCount,
			"get_IsStatic":       methodIsStatic,
		},
		contract.PropertyInfo: {
			"get_PropertyType": propertyType,
		},
		contract.ReflectionResolver: {
			"Method":   resolverMethod,
			"Property": resolverProperty,
			"Event":    resolverEvent,
		},
		contract.Attributes: {
			"Get":         attributesGet,
			"GetAssembly": attributesGetAssembly,
		},
		contract.ExtensionRegistry: {
			"Register": registryRegister,
			"Get":      registryGet,
		},
		contract.WovenAttribute:  {il.CtorName: noop},
		contract.StaticAttribute: {il.CtorName: noop},
		contract.AccessAttribute: {
			".ctor(string)": accessByName,
			".ctor(" + contract.TypeInfo + ")": accessByType,
		},
		contract.Task: {
			"Wait":              taskWait,
			"get_IsCompleted":   taskIsCompleted,
			"get_IsFaulted":     taskIsFaulted,
			"get_CompletedTask": taskCompleted,
			"FromException":     taskFromException,
		},
		contract.TaskOf: {
			"get_Result":    taskResult,
			"FromResult":    taskFromResult,
			"FromException": taskFromException,
		},
		contract.AsyncBridge: {
			"Wrap":       bridgeWrap,
			"Unwrap":     bridgeUnwrap,
			"WrapVoid":   bridgeWrapVoid,
			"UnwrapVoid": bridgeUnwrapVoid,
		},
		contract.InjectedField: {
			il.CtorName: injectedCtor,
			"Get":       injectedGet,
			"Set":       injectedSet,
		},
	}

	delegates := []string{contract.ActionName}
	for n := 1; n <= contract.MaxDelegateParams; n++ {
		delegates = append(delegates, il.GenericName(contract.ActionName, n))
	}
	for n := 1; n <= contract.MaxDelegateParams+1; n++ {
		delegates = append(delegates, il.GenericName(contract.FuncPrefix, n))
	}
	for _, name := range delegates {
		tables[name] = map[string]HostFunc{
			il.CtorName: delegateCtor,
			"Invoke":    delegateInvoke,
		}
	}

	for typeName, members := range tables {
		for member, fn := range members {
			if err := r.RegisterFunc(typeName, member, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func objectToString(c *Call, this any, _ []any) (any, error) {
	switch v := this.(type) {
	case nil:
		return nil, errors.NullReference(errors.PhaseRuntime, "ToString receiver")
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return fmt.Sprint(this), nil
}

func objectGetType(c *Call, this any, _ []any) (any, error) {
	if this == nil {
		return nil, errors.NullReference(errors.PhaseRuntime, "GetType receiver")
	}
	return c.Machine.typeOfValue(this), nil
}

func exceptionCtor(c *Call, this any, args []any) (any, error) {
	msg, _ := args[0].(string)
	obj, ok := this.(*Object)
	if !ok {
		return nil, errors.NullReference(errors.PhaseRuntime, "exception instance")
	}
	if obj.Type.Name == contract.Exception {
		return &Exception{Type: obj.Type, Message: msg}, nil
	}
	obj.SetField(exceptionMessageField, msg)
	return nil, nil
}

func exceptionMessage(c *Call, this any, _ []any) (any, error) {
	switch v := this.(type) {
	case *Exception:
		return v.Message, nil
	case *Object:
		return v.Field(exceptionMessageField), nil
	}
	return nil, errors.NullReference(errors.PhaseRuntime, "exception instance")
}

func memberName(c *Call, this any, _ []any) (any, error) {
	switch v := this.(type) {
	case *MethodInfo:
		return v.Def.Name, nil
	case *PropertyInfo:
		return v.Def.Name, nil
	case *EventInfo:
		return v.Def.Name, nil
	case *RuntimeType:
		if v.Def != nil {
			return v.Def.Name, nil
		}
		return v.Name, nil
	}
	return nil, errors.NullReference(errors.PhaseRuntime, "member descriptor")
}

func memberDeclaringType(c *Call, this any, _ []any) (any, error) {
	switch v := this.(type) {
	case *MethodInfo:
		return v.Type, nil
	case *PropertyInfo:
		return v.Type, nil
	case *EventInfo:
		return v.Type, nil
	case *RuntimeType:
		if v.Def == nil || v.Def.DeclaringType == nil {
			return nil, nil
		}
		return c.Machine.ownerOf(v, v.Def.DeclaringType), nil
	}
	return nil, errors.NullReference(errors.PhaseRuntime, "member descriptor")
}

func typeFullName(c *Call, this any, _ []any) (any, error) {
	t, ok := this.(*RuntimeType)
	if !ok {
		return nil, errors.NullReference(errors.PhaseRuntime, "type descriptor")
	}
	return t.FullName(), nil
}

func methodParameterCount(c *Call, this any, _ []any) (any, error) {
	mi, ok := this.(*MethodInfo)
	if !ok {
		return nil, errors.NullReference(errors.PhaseRuntime, "method descriptor")
	}
	return int32(len(mi.Def.Params)), nil
}

func methodIsStatic(c *Call, this any, _ []any) (any, error) {
	mi, ok := this.(*MethodInfo)
	if !ok {
		return nil, errors.NullReference(errors.PhaseRuntime, "method descriptor")
	}
	return mi.Def.IsStatic(), nil
}

func propertyType(c *Call, this any, _ []any) (any, error) {
	pi, ok := this.(*PropertyInfo)
	if !ok {
		return nil, errors.NullReference(errors.PhaseRuntime, "property descriptor")
	}
	return c.Machine.closeType(pi.Def.Type, pi.Type.Args, nil)
}

func typeAndKey(args []any) (*RuntimeType, string, error) {
	t, ok := args[0].(*RuntimeType)
	if !ok {
		return nil, "", errors.NullReference(errors.PhaseRuntime, "type argument")
	}
	key, _ := args[1].(string)
	return t, key, nil
}

func resolverMethod(c *Call, _ any, args []any) (any, error) {
	t, key, err := typeAndKey(args)
	if err != nil {
		return nil, err
	}
	return c.Machine.resolveMethod(t, key)
}

func resolverProperty(c *Call, _ any, args []any) (any, error) {
	t, key, err := typeAndKey(args)
	if err != nil {
		return nil, err
	}
	return c.Machine.resolveProperty(t, key)
}

func resolverEvent(c *Call, _ any, args []any) (any, error) {
	t, key, err := typeAndKey(args)
	if err != nil {
		return nil, err
	}
	return c.Machine.resolveEvent(t, key)
}

// resolveMethod returns the interned descriptor of a method declared on t.
// A key containing '(' is a full signature, otherwise a unique name.
func (m *Machine) resolveMethod(t *RuntimeType, key string) (*MethodInfo, error) {
	if t.Def == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "type", t.String())
	}
	var def *il.MethodDef
	if strings.Contains(key, "(") {
		def = t.Def.FindMethod(key)
	} else {
		named := t.Def.MethodsNamed(key)
		if len(named) > 1 {
			cands := make([]string, len(named))
			for i, md := range named {
				cands[i] = md.Signature()
			}
			return nil, errors.Ambiguous(errors.PhaseRuntime, t.String(), key, cands)
		}
		if len(named) == 1 {
			def = named[0]
		}
	}
	if def == nil {
		return nil, errors.MemberNotFound(errors.PhaseRuntime, t.String(), key)
	}
	return m.internDescriptor(memberKey{def, t}, func() any { return &MethodInfo{Def: def, Type: t} }).(*MethodInfo), nil
}

func (m *Machine) resolveProperty(t *RuntimeType, name string) (*PropertyInfo, error) {
	if t.Def == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "type", t.String())
	}
	def := t.Def.FindProperty(name)
	if def == nil {
		return nil, errors.MemberNotFound(errors.PhaseRuntime, t.String(), name)
	}
	return m.internDescriptor(memberKey{def, t}, func() any { return &PropertyInfo{Def: def, Type: t} }).(*PropertyInfo), nil
}

func (m *Machine) resolveEvent(t *RuntimeType, name string) (*EventInfo, error) {
	if t.Def == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "type", t.String())
	}
	def := t.Def.FindEvent(name)
	if def == nil {
		return nil, errors.MemberNotFound(errors.PhaseRuntime, t.String(), name)
	}
	return m.internDescriptor(memberKey{def, t}, func() any { return &EventInfo{Def: def, Type: t} }).(*EventInfo), nil
}

func (m *Machine) internDescriptor(key memberKey, create func() any) any {
	m.descMu.Lock()
	defer m.descMu.Unlock()
	if d, ok := m.descs[key]; ok {
		return d
	}
	d := create()
	m.descs[key] = d
	return d
}

// attributesGet instantiates the index-th annotation of the given type on
// a member descriptor. Every query constructs a fresh instance.
func attributesGet(c *Call, _ any, args []any) (any, error) {
	attrs, owner, ok := memberAttributes(args[0])
	if !ok {
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Detail("%T is not a member descriptor", args[0]).Build()
	}
	return c.Machine.instantiateAttribute(c, attrs, owner, args[1], args[2])
}

func attributesGetAssembly(c *Call, _ any, args []any) (any, error) {
	anchor, ok := args[0].(*RuntimeType)
	if !ok || anchor.Def == nil || anchor.Def.Module == nil {
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Detail("assembly anchor must be a module type").Build()
	}
	return c.Machine.instantiateAttribute(c, anchor.Def.Module.Attributes, nil, args[1], args[2])
}

func (m *Machine) instantiateAttribute(c *Call, attrs []*il.Attribute, owner *RuntimeType, typeArg, indexArg any) (any, error) {
	want, ok := typeArg.(*RuntimeType)
	if !ok {
		return nil, errors.NullReference(errors.PhaseRuntime, "annotation type")
	}
	index, _ := asInt(indexArg)

	var ctxArgs []*RuntimeType
	if owner != nil {
		ctxArgs = owner.Args
	}
	seen := 0
	for _, a := range attrs {
		t, err := m.closeType(a.Type, ctxArgs, nil)
		if err != nil {
			return nil, err
		}
		if t != want {
			continue
		}
		if seen < index {
			seen++
			continue
		}
		return m.constructAttribute(c, t, a, ctxArgs)
	}
	return nil, errors.New(errors.PhaseRuntime, errors.KindNotFound).
		Type(want.String()).
		Detail("annotation index %d not present (found %d)", index, seen).
		Build()
}

func (m *Machine) constructAttribute(c *Call, t *RuntimeType, a *il.Attribute, ctxArgs []*RuntimeType) (any, error) {
	if t.Def == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "type", t.String())
	}
	args := make([]any, len(a.Args))
	for i, v := range a.Args {
		arg, err := m.attributeValue(v, ctxArgs)
		if err != nil {
			return nil, err
		}
		args[i] = arg
	}

	var ctor *il.MethodDef
	for _, cand := range t.Def.Constructors() {
		if len(cand.Params) != len(args) {
			continue
		}
		match := true
		for i, p := range cand.Params {
			pt, err := m.closeType(p.Type, t.Args, nil)
			if err != nil || (args[i] != nil && !m.isInstance(coerce(args[i], pt), pt)) {
				match = false
				break
			}
		}
		if match {
			ctor = cand
			break
		}
	}
	if ctor == nil {
		return nil, errors.New(errors.PhaseRuntime, errors.KindNotFound).
			Type(t.String()).Member(il.CtorName).
			Detail("no constructor accepts %d annotation arguments", len(args)).
			Build()
	}
	inst, err := m.newObject(c.th, t, ctor, args)
	if err != nil {
		return nil, err
	}

	for _, na := range a.Named {
		v, err := m.attributeValue(na.Value, ctxArgs)
		if err != nil {
			return nil, err
		}
		if setter, owner, _, err := m.selectMethod(t, il.SetterPrefix+na.Name, 1, false); err == nil {
			if _, err := m.invoke(c.th, setter, owner, nil, inst, []any{v}); err != nil {
				return nil, err
			}
			continue
		}
		obj, ok := inst.(*Object)
		if !ok || t.Def.FindField(na.Name) == nil {
			return nil, errors.MemberNotFound(errors.PhaseRuntime, t.String(), na.Name)
		}
		obj.SetField(na.Name, v)
	}
	return inst, nil
}

func (m *Machine) attributeValue(v any, ctxArgs []*RuntimeType) (any, error) {
	if s, ok := v.(*il.TypeSig); ok {
		return m.closeType(s, ctxArgs, nil)
	}
	return v, nil
}

func registryRegister(c *Call, _ any, args []any) (any, error) {
	if args[0] == nil || args[1] == nil {
		return nil, errors.NullReference(errors.PhaseRuntime, "registration argument")
	}
	c.Machine.registry.Register(args[0], args[1])
	return nil, nil
}

func registryGet(c *Call, _ any, args []any) (any, error) {
	if args[0] == nil {
		return nil, errors.NullReference(errors.PhaseRuntime, "member")
	}
	return &Array{Elem: c.Machine.named(il.TypeObject), Items: c.Machine.registry.Get(args[0])}, nil
}

func accessByName(c *Call, this any, args []any) (any, error) {
	if obj, ok := this.(*Object); ok {
		obj.SetField("Name", args[0])
	}
	return nil, nil
}

func accessByType(c *Call, this any, args []any) (any, error) {
	if obj, ok := this.(*Object); ok {
		obj.SetField("AttributeType", args[0])
	}
	return nil, nil
}

func asTask(this any) (*Task, error) {
	t, ok := this.(*Task)
	if !ok || t == nil {
		return nil, errors.NullReference(errors.PhaseRuntime, "task")
	}
	return t, nil
}

func taskWait(c *Call, this any, _ []any) (any, error) {
	t, err := asTask(this)
	if err != nil {
		return nil, err
	}
	_, err = t.WaitContext(c.Context())
	return nil, err
}

func taskResult(c *Call, this any, _ []any) (any, error) {
	t, err := asTask(this)
	if err != nil {
		return nil, err
	}
	return t.WaitContext(c.Context())
}

func taskIsCompleted(c *Call, this any, _ []any) (any, error) {
	t, err := asTask(this)
	if err != nil {
		return nil, err
	}
	return t.Done(), nil
}

func taskIsFaulted(c *Call, this any, _ []any) (any, error) {
	t, err := asTask(this)
	if err != nil {
		return nil, err
	}
	return t.Faulted(), nil
}

func taskCompleted(c *Call, _ any, _ []any) (any, error) {
	t := newTask(c.Type)
	t.Complete(nil, nil)
	return t, nil
}

func taskFromResult(c *Call, _ any, args []any) (any, error) {
	t := newTask(c.Type)
	t.Complete(args[0], nil)
	return t, nil
}

func taskFromException(c *Call, _ any, args []any) (any, error) {
	if args[0] == nil {
		return nil, errors.NullReference(errors.PhaseRuntime, "exception")
	}
	t := newTask(c.Type)
	t.Complete(nil, c.Machine.toException(args[0]))
	return t, nil
}

// forward completes out with the outcome of in, converting the result
// through conv. Completed tasks are forwarded without a goroutine.
func forward(c *Call, in, out *Task, conv func(any) (any, error)) {
	complete := func(r any, err error) {
		if err == nil && conv != nil {
			r, err = conv(r)
		}
		out.Complete(r, err)
	}
	if in.Done() {
		complete(in.Wait())
		return
	}
	c.Go(func(c *Call) {
		complete(in.WaitContext(c.Context()))
	})
}

func bridgeWrap(c *Call, _ any, args []any) (any, error) {
	in, err := asTask(args[0])
	if err != nil {
		return nil, err
	}
	out := newTask(c.Machine.objectTaskType())
	forward(c, in, out, nil)
	return out, nil
}

func bridgeUnwrap(c *Call, _ any, args []any) (any, error) {
	in, err := asTask(args[0])
	if err != nil {
		return nil, err
	}
	if len(c.MethodArgs) != 1 {
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Member("Unwrap").Detail("missing type argument").Build()
	}
	elem := c.MethodArgs[0]
	out := newTask(c.Machine.intern(contract.TaskOf, c.Machine.resolver.ResolveType(contract.TaskOf), []*RuntimeType{elem}))
	forward(c, in, out, func(r any) (any, error) {
		if r == nil {
			if elem.IsValueType() {
				return nil, errors.NullReference(errors.PhaseRuntime, "task result of type "+elem.String())
			}
			return nil, nil
		}
		r = coerce(r, elem)
		if !c.Machine.isInstance(r, elem) {
			return nil, errors.TypeMismatch(errors.PhaseRuntime, elem.String(), c.Machine.typeOfValue(r).String())
		}
		return r, nil
	})
	return out, nil
}

func bridgeWrapVoid(c *Call, _ any, args []any) (any, error) {
	in, err := asTask(args[0])
	if err != nil {
		return nil, err
	}
	out := newTask(c.Machine.objectTaskType())
	forward(c, in, out, func(any) (any, error) { return nil, nil })
	return out, nil
}

func bridgeUnwrapVoid(c *Call, _ any, args []any) (any, error) {
	in, err := asTask(args[0])
	if err != nil {
		return nil, err
	}
	out := newTask(c.Machine.named(contract.Task))
	forward(c, in, out, func(any) (any, error) { return nil, nil })
	return out, nil
}

type injectedField struct {
	getter *Delegate
	setter *Delegate
}

func injectedCtor(c *Call, this any, args []any) (any, error) {
	obj, ok := this.(*Object)
	if !ok {
		return nil, errors.NullReference(errors.PhaseRuntime, "injected field")
	}
	get, _ := args[0].(*Delegate)
	set, _ := args[1].(*Delegate)
	if get == nil || set == nil {
		return nil, errors.NullReference(errors.PhaseRuntime, "injected field accessor")
	}
	obj.Host = &injectedField{getter: get, setter: set}
	return nil, nil
}

func injected(this any) (*injectedField, error) {
	if obj, ok := this.(*Object); ok {
		if f, ok := obj.Host.(*injectedField); ok {
			return f, nil
		}
	}
	return nil, errors.New(errors.PhaseRuntime, errors.KindNotInitialized).
		Type(contract.InjectedField).Detail("accessors not bound").Build()
}

func injectedGet(c *Call, this any, args []any) (any, error) {
	f, err := injected(this)
	if err != nil {
		return nil, err
	}
	return c.Invoke(f.getter, args[0])
}

func injectedSet(c *Call, this any, args []any) (any, error) {
	f, err := injected(this)
	if err != nil {
		return nil, err
	}
	_, err = c.Invoke(f.setter, args[0], args[1])
	return nil, err
}

func delegateCtor(c *Call, this any, args []any) (any, error) {
	fn, ok := args[1].(*FnPtr)
	if !ok {
		return nil, errors.NullReference(errors.PhaseRuntime, "delegate method")
	}
	if !fn.Method.IsStatic() && args[0] == nil {
		return nil, errors.NullReference(errors.PhaseRuntime, "delegate target of "+fn.Method.FullName())
	}
	return &Delegate{Type: c.Type, Target: args[0], Fn: fn}, nil
}

func delegateInvoke(c *Call, this any, args []any) (any, error) {
	d, ok := this.(*Delegate)
	if !ok {
		return nil, errors.NullReference(errors.PhaseRuntime, "delegate")
	}
	return c.Invoke(d, args...)
}
