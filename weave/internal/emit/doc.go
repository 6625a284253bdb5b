// Package emit provides the instruction synthesis shared by all weavers.
//
// # Responsibilities
//
//   - Build instruction sequences fluently (Emitter)
//   - Box and unbox values crossing the object boundary
//   - Generate unique member names per pass (Namer)
//   - Choose the key a member descriptor is resolved by
//   - Reference run-time library members
//   - Synthesize proceed carriers for intercepted methods
//
// This package is internal to the weaver.
package emit
