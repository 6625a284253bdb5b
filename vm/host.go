package vm

import (
	"reflect"
	"sync"

	"github.com/wippyai/weaver/errors"
)

// HostFunc implements an extern method in Go. this is nil for static
// methods and for constructors invoked through newobj on a host type,
// in which case the function returns the new instance.
type HostFunc func(c *Call, this any, args []any) (any, error)

// Host is the interface for struct-based host types.
// Exported methods with the HostFunc signature are registered under their
// Go name; hosts needing special member names (".ctor", "get_Value")
// implement ExplicitRegistrar.
type Host interface {
	// TypeName returns the full name of the managed type implemented.
	TypeName() string
}

// ExplicitRegistrar allows hosts to provide exact member names.
type ExplicitRegistrar interface {
	Register() map[string]HostFunc
}

// HostRegistry maps managed type names to Go implementations of their
// extern members. Members are keyed by plain name or by signature
// ("Get(object)"); the signature entry wins when both exist.
type HostRegistry struct {
	funcs map[string]map[string]HostFunc
	mu    sync.RWMutex
}

// NewHostRegistry creates an empty registry.
func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		funcs: make(map[string]map[string]HostFunc),
	}
}

var hostFuncType = reflect.TypeOf(HostFunc(nil))

// RegisterHost registers every member a struct-based host provides.
func (r *HostRegistry) RegisterHost(h Host) error {
	typeName := h.TypeName()
	if typeName == "" {
		return errors.InvalidInput(errors.PhaseHost, "type name cannot be empty")
	}

	if er, ok := h.(ExplicitRegistrar); ok {
		for name, fn := range er.Register() {
			if err := r.RegisterFunc(typeName, name, fn); err != nil {
				return err
			}
		}
		return nil
	}

	rv := reflect.ValueOf(h)
	rt := rv.Type()
	registered := 0
	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		if !method.IsExported() || method.Name == "TypeName" {
			continue
		}
		bound := rv.Method(i)
		if !bound.Type().ConvertibleTo(hostFuncType) {
			continue
		}
		fn := bound.Convert(hostFuncType).Interface().(HostFunc)
		if err := r.RegisterFunc(typeName, method.Name, fn); err != nil {
			return err
		}
		registered++
	}
	if registered == 0 {
		return errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Type(typeName).
			Detail("host has no methods with the HostFunc signature").
			Build()
	}
	return nil
}

// RegisterFunc registers a single member implementation.
func (r *HostRegistry) RegisterFunc(typeName, member string, fn HostFunc) error {
	if typeName == "" {
		return errors.InvalidInput(errors.PhaseHost, "type name cannot be empty")
	}
	if member == "" {
		return errors.InvalidInput(errors.PhaseHost, "member name cannot be empty")
	}
	if fn == nil {
		return errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Type(typeName).Member(member).
			Detail("handler cannot be nil").
			Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.funcs[typeName] == nil {
		r.funcs[typeName] = make(map[string]HostFunc)
	}
	r.funcs[typeName][member] = fn
	return nil
}

// Lookup finds the implementation of a member by signature, then by name.
func (r *HostRegistry) Lookup(typeName, signature, name string) (HostFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.funcs[typeName]
	if members == nil {
		return nil, false
	}
	if fn, ok := members[signature]; ok {
		return fn, true
	}
	fn, ok := members[name]
	return fn, ok
}

// Types returns the names of all types with registered members.
func (r *HostRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		out = append(out, name)
	}
	return out
}
