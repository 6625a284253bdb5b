// Package errors provides structured error types for the weaver.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: element path, type and member names, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseWeave, errors.KindAmbiguous).
//		Type("Sample.Account").
//		Member("Validate").
//		Detail("two private overloads match the access key").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.MemberNotFound(errors.PhaseLink, "Sample.Account", "Validate")
//	err := errors.AlreadyWoven("Sample")
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
