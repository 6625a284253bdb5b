// Package il models the managed module graph rewritten by the weaver.
//
// A Module owns TypeDefs; types own fields, methods, properties, events
// and nested types. Method bodies are flat instruction lists whose branch
// operands point at the target instruction, so bodies can be edited in
// place with the MethodBody helpers without renumbering.
//
// Types are referenced through TypeSig values. Generic parameters are
// positional: !n names the n-th parameter of the enclosing type and !!n
// the n-th parameter of the enclosing method. A MethodRef keeps its
// return and parameter types in the generic context of the definition;
// the instantiation is carried separately in DeclaringType.Args and
// GenericArgs.
//
// Two textual forms exist. The assembler syntax is used for single
// signatures, member references and method bodies:
//
//	ldarg 0
//	call instance !0 Sample.Box`1<!0>::get_Value()
//	brtrue DONE
//	ldstr "empty"
//	DONE: ret
//
// The container form is a YAML document describing a whole module; see
// Decode and Encode.
//
// Link binds references against a Resolver (usually a ModuleSet holding
// the module and its references) and Validate checks structural
// well-formedness.
package il
