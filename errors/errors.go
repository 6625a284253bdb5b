package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad     Phase = "load"     // YAML / text decoding
	PhaseLink     Phase = "link"     // reference resolution
	PhaseValidate Phase = "validate" // structural validation
	PhaseScan     Phase = "scan"     // extension point discovery
	PhaseBind     Phase = "bind"     // generic rebinding
	PhaseEmit     Phase = "emit"     // instruction synthesis
	PhaseWeave    Phase = "weave"    // member transformation
	PhaseRuntime  Phase = "runtime"  // woven module execution
	PhaseHost     Phase = "host"     // host type registration
)

// Kind categorizes the error
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindAmbiguous      Kind = "ambiguous"
	KindMalformed      Kind = "malformed"
	KindUnsupported    Kind = "unsupported"
	KindInvalidInput   Kind = "invalid_input"
	KindInvalidData    Kind = "invalid_data"
	KindTypeMismatch   Kind = "type_mismatch"
	KindOutOfBounds    Kind = "out_of_bounds"
	KindNullReference  Kind = "null_reference"
	KindAlreadyWoven   Kind = "already_woven"
	KindNotInitialized Kind = "not_initialized"
	KindRegistration   Kind = "registration"
	KindAborted        Kind = "aborted"
)

// Error is the structured error type used throughout the weaver
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Type   string
	Member string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "/"))
	}

	if e.Type != "" || e.Member != "" {
		b.WriteString(": ")
		switch {
		case e.Type != "" && e.Member != "":
			b.WriteString(e.Type)
			b.WriteString("::")
			b.WriteString(e.Member)
		case e.Type != "":
			b.WriteString("type ")
			b.WriteString(e.Type)
		default:
			b.WriteString("member ")
			b.WriteString(e.Member)
		}
	}

	if e.Detail != "" {
		if e.Type != "" || e.Member != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the element path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Type sets the type name
func (b *Builder) Type(t string) *Builder {
	b.err.Type = t
	return b
}

// Member sets the member name
func (b *Builder) Member(m string) *Builder {
	b.err.Member = m
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// NotFound creates a lookup failure error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// MemberNotFound creates a lookup failure for a member of a type
func MemberNotFound(phase Phase, typeName, member string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Type:   typeName,
		Member: member,
		Detail: "member not found",
	}
}

// Ambiguous creates an ambiguous match error
func Ambiguous(phase Phase, typeName, key string, candidates []string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAmbiguous,
		Type:   typeName,
		Member: key,
		Detail: fmt.Sprintf("%d candidates match: %s", len(candidates), strings.Join(candidates, ", ")),
		Value:  candidates,
	}
}

// Malformed creates a malformed capability usage error
func Malformed(phase Phase, typeName, member, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindMalformed,
		Type:   typeName,
		Member: member,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Type:   want,
		Detail: fmt.Sprintf("cannot use %s as %s", got, want),
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// NullReference creates a null dereference error
func NullReference(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNullReference,
		Detail: fmt.Sprintf("%s on null reference", what),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// AlreadyWoven reports an attempt to weave a module twice
func AlreadyWoven(module string) *Error {
	return &Error{
		Phase:  PhaseWeave,
		Kind:   KindAlreadyWoven,
		Detail: fmt.Sprintf("module %q is already woven; re-weaving is not supported", module),
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// Registration creates a host registration error
func Registration(phase Phase, typeName, member string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRegistration,
		Type:   typeName,
		Member: member,
		Detail: "register host member",
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}

// UnresolvedReference is a single reference that could not be bound
type UnresolvedReference struct {
	Owner string // e.g., "Sample.Calculator::Add"
	Ref   string // e.g., "void Sample.Missing::Run()"
}

// UnresolvedReferencesError is returned when linking leaves references without a definition
type UnresolvedReferencesError struct {
	Refs []UnresolvedReference
}

// NewUnresolvedReferencesError creates an error from a list of "owner|reference" strings
func NewUnresolvedReferencesError(refs []string) *UnresolvedReferencesError {
	result := &UnresolvedReferencesError{
		Refs: make([]UnresolvedReference, 0, len(refs)),
	}
	for _, r := range refs {
		owner, ref := parseRefKey(r)
		result.Refs = append(result.Refs, UnresolvedReference{
			Owner: owner,
			Ref:   ref,
		})
	}
	return result
}

func parseRefKey(key string) (owner, ref string) {
	o, r, found := strings.Cut(key, "|")
	if found {
		return o, r
	}
	return "", key
}

func (e *UnresolvedReferencesError) Error() string {
	if len(e.Refs) == 0 {
		return "[link] not_found: no references specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d unresolved reference(s):\n", len(e.Refs)))

	// Group by owner for cleaner output
	byOwner := make(map[string][]string)
	var order []string
	for _, r := range e.Refs {
		if _, exists := byOwner[r.Owner]; !exists {
			order = append(order, r.Owner)
		}
		byOwner[r.Owner] = append(byOwner[r.Owner], r.Ref)
	}

	for _, owner := range order {
		b.WriteString("\n  ")
		if owner == "" {
			b.WriteString("<module>")
		} else {
			b.WriteString(owner)
		}
		b.WriteString(":\n")
		for _, ref := range byOwner[owner] {
			b.WriteString("    - ")
			b.WriteString(ref)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *UnresolvedReferencesError) Is(target error) bool {
	_, ok := target.(*UnresolvedReferencesError)
	return ok
}
