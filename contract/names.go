package contract

import "github.com/wippyai/weaver/il"

// Capability contracts recognized on annotation types.
const (
	MethodInterceptor      = "Weaver.Contracts.IMethodInterceptor"
	AsyncMethodInterceptor = "Weaver.Contracts.IAsyncMethodInterceptor"
	PropertyGetInterceptor = "Weaver.Contracts.IPropertyGetInterceptor"
	PropertySetInterceptor = "Weaver.Contracts.IPropertySetInterceptor"
	EventAddInterceptor    = "Weaver.Contracts.IEventAddInterceptor"
	EventRemoveInterceptor = "Weaver.Contracts.IEventRemoveInterceptor"
	InstanceInitializer    = "Weaver.Contracts.IInstanceInitializer"
	InstancePreinitializer = "Weaver.Contracts.IInstancePreinitializer"
	StateExtension         = "Weaver.Contracts.IStateExtension"
	ClassEnhancer          = "Weaver.Contracts.IClassEnhancer"

	// Scoped variants take the scope marker as their single type argument.
	ScopedInstanceInitializer    = "Weaver.Contracts.IInstanceInitializer`1"
	ScopedInstancePreinitializer = "Weaver.Contracts.IInstancePreinitializer`1"
	ScopedStateExtension         = "Weaver.Contracts.IStateExtension`1"
)

// Contracts lists every capability contract, scoped variants included.
var Contracts = []string{
	MethodInterceptor,
	AsyncMethodInterceptor,
	PropertyGetInterceptor,
	PropertySetInterceptor,
	EventAddInterceptor,
	EventRemoveInterceptor,
	InstanceInitializer,
	InstancePreinitializer,
	StateExtension,
	ClassEnhancer,
	ScopedInstanceInitializer,
	ScopedInstancePreinitializer,
	ScopedStateExtension,
}

// Operations called on annotation instances.
const (
	InvokeMethod      = "Invoke"
	InvokeAsyncMethod = "InvokeAsync"
	GetValueMethod    = "GetValue"
	SetValueMethod    = "SetValue"
	OnAddMethod       = "OnAdd"
	OnRemoveMethod    = "OnRemove"
	InitializeMethod  = "Initialize"
	PreinitMethod     = "Preinitialize"
)

// Scope markers.
const (
	ScopeProperty = "Weaver.Scopes.Property"
	ScopeMethod   = "Weaver.Scopes.Method"
	ScopeEvent    = "Weaver.Scopes.Event"
	ScopeClass    = "Weaver.Scopes.Class"
)

// State and access support types.
const (
	InjectedField   = "Weaver.Contracts.InjectedField`1"
	StaticAttribute = "Weaver.Contracts.StaticAttribute"
	AccessAttribute = "Weaver.Contracts.AccessAttribute"
	AttributeBase   = "Weaver.Attribute"
)

// Reflection descriptors.
const (
	MemberInfo   = "Weaver.Reflection.MemberInfo"
	TypeInfo     = "Weaver.Reflection.Type"
	MethodInfo   = "Weaver.Reflection.MethodInfo"
	PropertyInfo = "Weaver.Reflection.PropertyInfo"
	EventInfo    = "Weaver.Reflection.EventInfo"
)

// Run-time library entry points.
const (
	ExtensionRegistry  = "Weaver.Runtime.ExtensionRegistry"
	ReflectionResolver = "Weaver.Reflection.Resolver"
	Attributes         = "Weaver.Reflection.Attributes"
	AsyncBridge        = "Weaver.Runtime.AsyncBridge"
	WovenAttribute     = "Weaver.Runtime.WovenAttribute"
	Task               = "Weaver.Tasks.Task"
	TaskOf             = "Weaver.Tasks.Task`1"
	Exception          = "Weaver.Exception"
	FuncPrefix         = "Weaver.Func"
	ActionName         = "Weaver.Action"
)

// MaxDelegateParams is the largest number of parameters a library delegate accepts.
const MaxDelegateParams = 6

// Sig helpers for well-known library types.

func TypeSig() *il.TypeSig         { return il.Named(TypeInfo) }
func TypeArraySig() *il.TypeSig    { return il.ArrayOf(TypeSig()) }
func ObjectArraySig() *il.TypeSig  { return il.ArrayOf(il.Object()) }
func MethodInfoSig() *il.TypeSig   { return il.Named(MethodInfo) }
func PropertyInfoSig() *il.TypeSig { return il.Named(PropertyInfo) }
func EventInfoSig() *il.TypeSig    { return il.Named(EventInfo) }
func MemberInfoSig() *il.TypeSig   { return il.Named(MemberInfo) }
func TaskSig() *il.TypeSig         { return il.Named(Task) }

// TaskOfSig returns Task`1<t>.
func TaskOfSig(t *il.TypeSig) *il.TypeSig { return il.Named(TaskOf, t) }

// FuncSig returns the delegate type taking params and returning ret.
func FuncSig(ret *il.TypeSig, params ...*il.TypeSig) *il.TypeSig {
	args := append(append([]*il.TypeSig(nil), params...), ret)
	return il.Named(il.GenericName(FuncPrefix, len(args)), args...)
}

// ActionSig returns the delegate type taking params and returning nothing.
func ActionSig(params ...*il.TypeSig) *il.TypeSig {
	if len(params) == 0 {
		return il.Named(ActionName)
	}
	return il.Named(il.GenericName(ActionName, len(params)), append([]*il.TypeSig(nil), params...)...)
}

// DelegateSig returns FuncSig or ActionSig depending on ret.
func DelegateSig(ret *il.TypeSig, params ...*il.TypeSig) *il.TypeSig {
	if ret.IsVoid() {
		return ActionSig(params...)
	}
	return FuncSig(ret, params...)
}

// DelegateCtor returns the (object, native) constructor reference of a delegate type.
func DelegateCtor(delegate *il.TypeSig) *il.MethodRef {
	return &il.MethodRef{
		DeclaringType: delegate,
		Name:          il.CtorName,
		HasThis:       true,
		ReturnType:    il.Void(),
		Params:        []*il.TypeSig{il.Object(), il.Native()},
	}
}

// DelegateInvoke returns the Invoke reference of a delegate type, with
// parameters in the delegate definition's generic context.
func DelegateInvoke(delegate *il.TypeSig) *il.MethodRef {
	n := len(delegate.Args)
	ref := &il.MethodRef{DeclaringType: delegate, Name: "Invoke", HasThis: true, ReturnType: il.Void()}
	isFunc := len(delegate.Name) > len(FuncPrefix) && delegate.Name[:len(FuncPrefix)] == FuncPrefix
	params := n
	if isFunc {
		params = n - 1
		ref.ReturnType = il.Var(n - 1)
	}
	for i := 0; i < params; i++ {
		ref.Params = append(ref.Params, il.Var(i))
	}
	return ref
}

// IsScope reports whether name is one of the scope markers.
func IsScope(name string) bool {
	switch name {
	case ScopeProperty, ScopeMethod, ScopeEvent, ScopeClass:
		return true
	}
	return false
}
