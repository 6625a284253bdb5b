// Package weaver is a static, annotation-driven weaving engine for managed
// modules.
//
// Members annotated with types that implement capability contracts are
// rewritten so that calls, property accesses, event subscriptions and
// construction route through the annotation instance, which can observe,
// alter or short-circuit them. The original behaviour stays reachable
// through synthesized shadow members.
//
// # Architecture Overview
//
//	weaver/
//	├── il/          Module model, text IL, YAML container, linking, validation
//	├── contract/    Run-time library module and the well-known names
//	├── weave/       Public Transform API, matchers and diagnostics
//	│   └── internal/
//	│       ├── scan/     Extension point discovery and scope resolution
//	│       ├── binder/   Generic context binding of member references
//	│       ├── emit/     Instruction emitter, carriers and naming
//	│       ├── cache/    Annotation/descriptor cache and registry emitter
//	│       ├── diag/     Diagnostic channels
//	│       └── engine/   Per-kind weavers and the fixed-order pass
//	├── registry/    Run-time extension registry
//	├── vm/          Interpreter for linked modules, woven or not
//	├── errors/      Structured error types
//	└── cmd/weave/   Command line front end
//
// # Quick Start
//
// Weave a module and run it:
//
//	mod, err := il.LoadFile("app.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := weave.Transform(mod, weave.Config{}); err != nil {
//	    log.Fatal(err)
//	}
//
//	m, err := vm.New(vm.Config{Modules: []*il.Module{mod}})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	m.Hosts().RegisterFunc("App.Log", "Invoke",
//	    func(c *vm.Call, this any, args []any) (any, error) {
//	        fmt.Println("calling", args[0])
//	        return c.Invoke(args[4].(*vm.Delegate), args[3])
//	    })
//	result, err := m.CallStatic(ctx, "App.Calc", "Add", int32(1), int32(2))
//
// # Thread Safety
//
// A weave pass mutates its module and must not share it; independent
// modules can be woven concurrently. Machines and the extension registry
// are safe for concurrent use.
package weaver
