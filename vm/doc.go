// Package vm executes linked modules, woven or not.
//
// # Quick Start
//
//	mod, err := il.LoadFile("sample.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	m, err := vm.New(vm.Config{Modules: []*il.Module{mod}})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := m.CallStatic(ctx, "Sample.Calc", "Add", int32(1), int32(2))
//
// # Values
//
// Primitives travel as Go values (int32, int64, float32, float64, bool,
// string); null is nil. Module objects are *Object, arrays *Array,
// delegates *Delegate, tasks *Task and reflection descriptors
// *RuntimeType, *MethodInfo, *PropertyInfo and *EventInfo. Descriptors
// are interned, so the same member always yields the same pointer.
//
// # Host Types
//
// Extern methods are implemented in Go and registered on the machine's
// HostRegistry, either one at a time:
//
//	m.Hosts().RegisterFunc("Sample.Doubler", "Invoke",
//	    func(c *vm.Call, this any, args []any) (any, error) {
//	        proceed := args[4].(*vm.Delegate)
//	        return c.Invoke(proceed, args[3])
//	    })
//
// or from a struct whose exported methods have the HostFunc signature.
// The run-time library (Weaver.Runtime) is bound automatically: the
// reflection resolver, annotation instantiation, the extension registry,
// tasks, the async bridge, injected fields and delegates.
//
// Extern members of module types without a binding get implicit
// behaviour: constructors store their arguments in fields named after the
// parameters, get_X and set_X read and write field X.
//
// # Type Initialization
//
// Static fields live on closed types. A type initializer runs once per
// closed type, before the first static access, static call or
// instantiation. Concurrent first use blocks until initialization ends;
// re-entrant access from the initializing goroutine proceeds.
//
// # Errors
//
// A managed throw surfaces as *Exception and propagates unchanged through
// calls, delegates and tasks. Faults detected by the machine are
// *errors.Error values in the runtime phase.
package vm
