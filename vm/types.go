package vm

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/wippyai/weaver/errors"
	"github.com/wippyai/weaver/il"
)

// RuntimeType is a closed type: a definition together with concrete type
// arguments. Runtime types are interned per Machine, so pointer equality
// is type identity. Each closed type owns its static fields and runs its
// type initializer at most once.
type RuntimeType struct {
	Name    string
	Def     *il.TypeDef
	Args    []*RuntimeType
	Elem    *RuntimeType
	key     string
	statics map[string]any
	smu     sync.Mutex
	initMu  sync.Mutex
	inited  atomic.Bool
	initErr error
}

func (t *RuntimeType) String() string { return t.key }

// FullName is the display name including type arguments.
func (t *RuntimeType) FullName() string { return t.key }

// IsArray reports whether the type is an array type.
func (t *RuntimeType) IsArray() bool { return t.Elem != nil }

// IsValueType reports whether values of the type are not references.
func (t *RuntimeType) IsValueType() bool {
	switch t.Name {
	case il.TypeInt, il.TypeLong, il.TypeFloat, il.TypeDouble, il.TypeBool, il.TypeNative:
		return true
	}
	return t.Def != nil && t.Def.IsValueType()
}

// IsInterface reports whether the type is an interface.
func (t *RuntimeType) IsInterface() bool { return t.Def != nil && t.Def.IsInterface() }

// Static reads a static field of the closed type.
func (t *RuntimeType) Static(name string) any {
	t.smu.Lock()
	defer t.smu.Unlock()
	return t.statics[name]
}

func (t *RuntimeType) static(name string) (any, bool) {
	t.smu.Lock()
	defer t.smu.Unlock()
	v, ok := t.statics[name]
	return v, ok
}

func (t *RuntimeType) setStatic(name string, v any) {
	t.smu.Lock()
	if t.statics == nil {
		t.statics = make(map[string]any)
	}
	t.statics[name] = v
	t.smu.Unlock()
}

// typeKey builds the interning key of a closed named type.
func typeKey(name string, args []*RuntimeType) string {
	if len(args) == 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('<')
	for i, a := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(a.key)
	}
	b.WriteByte('>')
	return b.String()
}

// closeType resolves a signature in a generic context to a runtime type.
func (m *Machine) closeType(s *il.TypeSig, typeArgs, methodArgs []*RuntimeType) (*RuntimeType, error) {
	if s == nil {
		return m.named(il.TypeVoid), nil
	}
	switch s.Kind {
	case il.SigVar:
		if s.Index >= len(typeArgs) || typeArgs[s.Index] == nil {
			return nil, errors.New(errors.PhaseRuntime, errors.KindOutOfBounds).
				Detail("type parameter %s has no argument in this context", s).Build()
		}
		return typeArgs[s.Index], nil
	case il.SigMVar:
		if s.Index >= len(methodArgs) || methodArgs[s.Index] == nil {
			return nil, errors.New(errors.PhaseRuntime, errors.KindOutOfBounds).
				Detail("method type parameter %s has no argument in this context", s).Build()
		}
		return methodArgs[s.Index], nil
	case il.SigArray:
		elem, err := m.closeType(s.Elem, typeArgs, methodArgs)
		if err != nil {
			return nil, err
		}
		return m.arrayOf(elem), nil
	}
	var args []*RuntimeType
	if len(s.Args) > 0 {
		args = make([]*RuntimeType, len(s.Args))
		for i, a := range s.Args {
			rt, err := m.closeType(a, typeArgs, methodArgs)
			if err != nil {
				return nil, err
			}
			args[i] = rt
		}
	}
	def := s.Def
	if def == nil {
		def = m.resolver.ResolveType(s.Name)
	}
	if def == nil && !il.IsPrimitiveName(s.Name) {
		return nil, errors.NotFound(errors.PhaseRuntime, "type", s.Name)
	}
	return m.intern(s.Name, def, args), nil
}

func (m *Machine) intern(name string, def *il.TypeDef, args []*RuntimeType) *RuntimeType {
	key := typeKey(name, args)
	m.typesMu.Lock()
	defer m.typesMu.Unlock()
	if rt, ok := m.types[key]; ok {
		return rt
	}
	rt := &RuntimeType{Name: name, Def: def, Args: args, key: key}
	m.types[key] = rt
	return rt
}

func (m *Machine) arrayOf(elem *RuntimeType) *RuntimeType {
	key := elem.key + "[]"
	m.typesMu.Lock()
	defer m.typesMu.Unlock()
	if rt, ok := m.types[key]; ok {
		return rt
	}
	rt := &RuntimeType{Name: key, Elem: elem, key: key}
	m.types[key] = rt
	return rt
}

// named returns a non-generic type by name. Unknown names yield a
// definition-less type so built-ins work without the library.
func (m *Machine) named(name string) *RuntimeType {
	m.typesMu.Lock()
	rt, ok := m.types[name]
	m.typesMu.Unlock()
	if ok {
		return rt
	}
	return m.intern(name, m.resolver.ResolveType(name), nil)
}

// Type returns the runtime type for a signature written in assembler syntax,
// such as "Sample.Box`1<int>".
func (m *Machine) Type(sig string) (*RuntimeType, error) {
	s, err := il.ParseSig(sig)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err, "parse type "+sig)
	}
	return m.closeType(s, nil, nil)
}

// baseOf returns the closed base type, or nil.
func (m *Machine) baseOf(t *RuntimeType) *RuntimeType {
	if t.Def == nil || t.Def.BaseType == nil {
		if t.Elem != nil || (t.Name != il.TypeObject && !t.IsInterface()) {
			return m.named(il.TypeObject)
		}
		return nil
	}
	base, err := m.closeType(t.Def.BaseType, t.Args, nil)
	if err != nil {
		return nil
	}
	return base
}

// assignable reports whether a value of type from can be used as type to.
func (m *Machine) assignable(from, to *RuntimeType) bool {
	if from == to || to.Name == il.TypeObject {
		return true
	}
	if to.Def == nil && to.Elem == nil && !il.IsPrimitiveName(to.Name) {
		return true
	}
	if from.Elem != nil && to.Elem != nil {
		return !from.Elem.IsValueType() && m.assignable(from.Elem, to.Elem)
	}
	for cur, depth := from, 0; cur != nil && depth < 64; cur, depth = m.baseOf(cur), depth+1 {
		if cur == to {
			return true
		}
		if to.IsInterface() && cur.Def != nil {
			for _, iface := range il.AllInterfaces(cur.Def, m.resolver) {
				rt, err := m.closeType(iface, cur.Args, nil)
				if err == nil && rt == to {
					return true
				}
			}
		}
	}
	return false
}

// typeOfValue returns the dynamic type of a value, or nil for null.
func (m *Machine) typeOfValue(v any) *RuntimeType {
	switch x := v.(type) {
	case nil:
		return nil
	case int32:
		return m.named(il.TypeInt)
	case int64:
		return m.named(il.TypeLong)
	case float32:
		return m.named(il.TypeFloat)
	case float64:
		return m.named(il.TypeDouble)
	case bool:
		return m.named(il.TypeBool)
	case string:
		return m.named(il.TypeString)
	case *FnPtr:
		return m.named(il.TypeNative)
	case *Object:
		return x.Type
	case *Array:
		return m.arrayOf(x.Elem)
	case *Delegate:
		return x.Type
	case *Task:
		return x.Type
	case *Exception:
		return x.Type
	case *RuntimeType:
		return m.named(typeInfoName)
	case *MethodInfo:
		return m.named(methodInfoName)
	case *PropertyInfo:
		return m.named(propertyInfoName)
	case *EventInfo:
		return m.named(eventInfoName)
	}
	return m.named(il.TypeObject)
}

// isInstance reports whether v may be stored in a location of type t.
func (m *Machine) isInstance(v any, t *RuntimeType) bool {
	if v == nil {
		return !t.IsValueType()
	}
	return m.assignable(m.typeOfValue(v), t)
}

func zeroValue(t *RuntimeType) any {
	switch t.Name {
	case il.TypeInt:
		return int32(0)
	case il.TypeLong:
		return int64(0)
	case il.TypeFloat:
		return float32(0)
	case il.TypeDouble:
		return float64(0)
	case il.TypeBool:
		return false
	}
	return nil
}

// coerce adapts stack values to the declared storage type: the evaluation
// stack carries booleans as int, storage keeps bool.
func coerce(v any, t *RuntimeType) any {
	switch t.Name {
	case il.TypeBool:
		if n, ok := v.(int32); ok {
			return n != 0
		}
	case il.TypeInt:
		if b, ok := v.(bool); ok {
			if b {
				return int32(1)
			}
			return int32(0)
		}
	}
	return v
}
