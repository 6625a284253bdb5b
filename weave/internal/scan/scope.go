package scan

import (
	"github.com/wippyai/weaver/contract"
	"github.com/wippyai/weaver/il"
)

// Family is a scope-sensitive capability: the marker-free contract and its
// scope-parameterized variant.
type Family struct {
	Unscoped string
	Scoped   string
}

var (
	Initializers    = Family{contract.InstanceInitializer, contract.ScopedInstanceInitializer}
	Preinitializers = Family{contract.InstancePreinitializer, contract.ScopedInstancePreinitializer}
	States          = Family{contract.StateExtension, contract.ScopedStateExtension}
)

var markerScopes = map[string]Scope{
	contract.ScopeProperty: ScopeProperty,
	contract.ScopeMethod:   ScopeMethod,
	contract.ScopeEvent:    ScopeEvent,
	contract.ScopeClass:    ScopeClass,
}

// Resolution is the outcome of a scope check.
type Resolution uint8

const (
	// NoMatch: the annotation does not carry the capability for this member.
	NoMatch Resolution = iota
	// Match: the capability applies.
	Match
	// Mismatch: the annotation is scoped, but to none of the member's kind.
	Mismatch
)

// ScopeResolver decides whether a scope-sensitive capability applies to a
// member.
type ScopeResolver struct {
	r il.Resolver
}

// NewScopeResolver creates a resolver that looks up contracts through r.
func NewScopeResolver(r il.Resolver) *ScopeResolver {
	return &ScopeResolver{r: r}
}

// Scopes returns the scopes the annotation is lifted to through scoped
// variants of f. Unknown markers are ignored.
func (s *ScopeResolver) Scopes(annotation *il.TypeDef, f Family) []Scope {
	var out []Scope
	for _, inst := range il.ImplementsAll(annotation, f.Scoped, s.r) {
		if len(inst.Args) != 1 {
			continue
		}
		if sc, ok := markerScopes[inst.Args[0].Name]; ok {
			out = append(out, sc)
		}
	}
	return out
}

// Resolve checks d against a member of the given natural scope. A scoped
// variant matches when one of its markers equals the natural scope; without
// scoped variants the unscoped contract matches only where it was declared.
func (s *ScopeResolver) Resolve(d *Descriptor, f Family, natural Scope) Resolution {
	if scopes := s.Scopes(d.Annotation, f); len(scopes) > 0 {
		for _, sc := range scopes {
			if sc == natural {
				return Match
			}
		}
		return Mismatch
	}
	if _, ok := il.Implements(d.Annotation, f.Unscoped, s.r); ok && d.Scope == natural {
		return Match
	}
	return NoMatch
}
