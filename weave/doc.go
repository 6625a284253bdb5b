// Package weave rewrites a module so that annotated members route through
// their annotations at run time.
//
// # Overview
//
// An annotation is an attribute whose type implements one or more
// capability contracts from Weaver.Contracts. Weaving finds every
// (member, annotation) pair, moves the original body of the member into a
// private shadow member and replaces it with code that hands control to the
// annotation instance. The annotation decides whether, when and with what
// arguments the original body runs.
//
// Annotation instances are created once per (member, annotation) pair by
// the declaring type's static initializer, which also registers them in
// the run-time extension registry.
//
// # Capabilities
//
//	IMethodInterceptor        Invoke(method, instance, typeArgs, args, proceed)
//	IAsyncMethodInterceptor   InvokeAsync(...) for task-returning methods
//	IPropertyGetInterceptor   GetValue(property, instance, getter)
//	IPropertySetInterceptor   SetValue(property, instance, current, value, setter)
//	IEventAddInterceptor      OnAdd(event, instance, handler, proceed)
//	IEventRemoveInterceptor   OnRemove(event, instance, handler, proceed)
//	IInstancePreinitializer   runs after the base constructor call
//	IInstanceInitializer      runs before each constructor return
//	IStateExtension           InjectedField`1 properties get per-member storage
//	IClassEnhancer            AccessAttribute properties get non-public delegates
//
// Annotations declared on a type apply to all its members and those of
// derived types; annotations declared on the module apply to every type.
//
// # Usage
//
//	mod, err := il.LoadFile("app.yaml")
//	if err != nil {
//	    return err
//	}
//	report, err := weave.Transform(mod, weave.Config{
//	    References: refs,
//	})
//	if err != nil {
//	    return err
//	}
//	for kind, n := range report.Counts() {
//	    fmt.Println(kind, n)
//	}
//
// Restricting the pass to some types:
//
//	report, err := weave.Transform(mod, weave.Config{
//	    Types: []string{"App.Orders.*", "App.Billing.Invoice"},
//	})
//
// A module is woven once. Transform stamps it with
// Weaver.Runtime.WovenAttribute and a fresh Mvid, and rejects stamped
// modules with an already-woven error.
//
// # Diagnostics
//
// Warnings about skipped members and incompatible annotations go to
// Config.Diagnostics, which defaults to the package logger. A pass fails
// only on errors: unresolved access targets, ambiguous overloads and
// malformed input.
package weave
