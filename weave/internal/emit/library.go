package emit

import (
	"fmt"

	"github.com/wippyai/weaver/contract"
	"github.com/wippyai/weaver/il"
)

// References into the run-time library are built fresh on every call:
// linking binds definitions in place, so refs are never shared between
// modules or passes.

func libRef(format string, args ...any) *il.MethodRef {
	src := fmt.Sprintf(format, args...)
	ref, err := il.ParseMethodRef(src)
	if err != nil {
		panic(fmt.Sprintf("emit: bad library reference %q: %v", src, err))
	}
	return ref
}

// ObjectCtor is object::.ctor().
func ObjectCtor() *il.MethodRef {
	return libRef("instance void object::.ctor()")
}

// ResolveMethod is Resolver::Method(Type, string).
func ResolveMethod() *il.MethodRef {
	return libRef("%s %s::Method(%s,string)", contract.MethodInfo, contract.ReflectionResolver, contract.TypeInfo)
}

// ResolveProperty is Resolver::Property(Type, string).
func ResolveProperty() *il.MethodRef {
	return libRef("%s %s::Property(%s,string)", contract.PropertyInfo, contract.ReflectionResolver, contract.TypeInfo)
}

// ResolveEvent is Resolver::Event(Type, string).
func ResolveEvent() *il.MethodRef {
	return libRef("%s %s::Event(%s,string)", contract.EventInfo, contract.ReflectionResolver, contract.TypeInfo)
}

// GetAttribute is Attributes::Get(object, Type, int).
func GetAttribute() *il.MethodRef {
	return libRef("object %s::Get(object,%s,int)", contract.Attributes, contract.TypeInfo)
}

// GetAssemblyAttribute is Attributes::GetAssembly(Type, Type, int).
func GetAssemblyAttribute() *il.MethodRef {
	return libRef("object %s::GetAssembly(%s,%s,int)", contract.Attributes, contract.TypeInfo, contract.TypeInfo)
}

// Register is ExtensionRegistry::Register(object, object).
func Register() *il.MethodRef {
	return libRef("void %s::Register(object,object)", contract.ExtensionRegistry)
}

// WovenCtor is the constructor of the woven-module marker.
func WovenCtor() *il.MethodRef {
	return libRef("instance void %s::.ctor()", contract.WovenAttribute)
}

// Intercept is IMethodInterceptor::Invoke.
func Intercept() *il.MethodRef {
	return libRef("instance object %s::%s(%s,object,%s[],object[],%s)",
		contract.MethodInterceptor, contract.InvokeMethod, contract.MethodInfo, contract.TypeInfo,
		ProceedSig(false))
}

// InterceptAsync is IAsyncMethodInterceptor::InvokeAsync.
func InterceptAsync() *il.MethodRef {
	return libRef("instance %s %s::%s(%s,object,%s[],object[],%s)",
		contract.TaskOfSig(il.Object()), contract.AsyncMethodInterceptor, contract.InvokeAsyncMethod,
		contract.MethodInfo, contract.TypeInfo, ProceedSig(true))
}

// GetValue is IPropertyGetInterceptor::GetValue.
func GetValue() *il.MethodRef {
	return libRef("instance object %s::%s(%s,object,%s)",
		contract.PropertyGetInterceptor, contract.GetValueMethod, contract.PropertyInfo, contract.FuncSig(il.Object()))
}

// SetValue is IPropertySetInterceptor::SetValue.
func SetValue() *il.MethodRef {
	return libRef("instance void %s::%s(%s,object,object,object,%s)",
		contract.PropertySetInterceptor, contract.SetValueMethod, contract.PropertyInfo, contract.ActionSig(il.Object()))
}

// OnAdd is IEventAddInterceptor::OnAdd.
func OnAdd() *il.MethodRef {
	return libRef("instance void %s::%s(%s,object,object,%s)",
		contract.EventAddInterceptor, contract.OnAddMethod, contract.EventInfo, contract.ActionSig(il.Object()))
}

// OnRemove is IEventRemoveInterceptor::OnRemove.
func OnRemove() *il.MethodRef {
	return libRef("instance void %s::%s(%s,object,object,%s)",
		contract.EventRemoveInterceptor, contract.OnRemoveMethod, contract.EventInfo, contract.ActionSig(il.Object()))
}

// Initialize is IInstanceInitializer::Initialize.
func Initialize() *il.MethodRef {
	return libRef("instance void %s::%s(object,%s)", contract.InstanceInitializer, contract.InitializeMethod, contract.MemberInfo)
}

// Preinitialize is IInstancePreinitializer::Preinitialize.
func Preinitialize() *il.MethodRef {
	return libRef("instance void %s::%s(object,%s)", contract.InstancePreinitializer, contract.PreinitMethod, contract.MemberInfo)
}

// InjectedFieldCtor is InjectedField`1<t>::.ctor(getter, setter).
func InjectedFieldCtor(t *il.TypeSig) *il.MethodRef {
	ref := libRef("instance void %s::.ctor(%s,%s)", contract.InjectedField,
		contract.FuncSig(il.Var(0), il.Object()), contract.ActionSig(il.Object(), il.Var(0)))
	ref.DeclaringType = InjectedFieldSig(t)
	return ref
}

// InjectedFieldSig returns InjectedField`1<t>.
func InjectedFieldSig(t *il.TypeSig) *il.TypeSig {
	return il.Named(contract.InjectedField, t)
}

// Wrap is AsyncBridge::Wrap<t>, or WrapVoid when t is nil.
func Wrap(t *il.TypeSig) *il.MethodRef {
	if t == nil {
		return libRef("%s %s::WrapVoid(%s)", contract.TaskOfSig(il.Object()), contract.AsyncBridge, contract.Task)
	}
	ref := libRef("%s %s::Wrap`1(%s)", contract.TaskOfSig(il.Object()), contract.AsyncBridge, contract.TaskOfSig(il.MVar(0)))
	ref.GenericArgs = []*il.TypeSig{t}
	return ref
}

// Unwrap is AsyncBridge::Unwrap<t>, or UnwrapVoid when t is nil.
func Unwrap(t *il.TypeSig) *il.MethodRef {
	if t == nil {
		return libRef("%s %s::UnwrapVoid(%s)", contract.Task, contract.AsyncBridge, contract.TaskOfSig(il.Object()))
	}
	ref := libRef("%s %s::Unwrap`1(%s)", contract.TaskOfSig(il.MVar(0)), contract.AsyncBridge, contract.TaskOfSig(il.Object()))
	ref.GenericArgs = []*il.TypeSig{t}
	return ref
}

// ProceedSig is the delegate type of a method proceed callback:
// Func`2<object[],object>, or Func`2<object[],Task`1<object>> when async.
func ProceedSig(async bool) *il.TypeSig {
	if async {
		return contract.FuncSig(contract.TaskOfSig(il.Object()), contract.ObjectArraySig())
	}
	return contract.FuncSig(il.Object(), contract.ObjectArraySig())
}

// Awaitable classifies a return type: ok reports Task or Task`1<X>, and
// result is X, or nil for the non-generic Task.
func Awaitable(ret *il.TypeSig) (result *il.TypeSig, ok bool) {
	if ret == nil || ret.Kind != il.SigNamed {
		return nil, false
	}
	switch {
	case ret.Name == contract.Task && len(ret.Args) == 0:
		return nil, true
	case ret.Name == contract.TaskOf && len(ret.Args) == 1:
		return ret.Args[0], true
	}
	return nil, false
}
