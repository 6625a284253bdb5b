package weave

import (
	"strings"

	"github.com/wippyai/weaver/weave/internal/engine"
)

// TypeMatcher determines if a type takes part in weaving.
type TypeMatcher = engine.TypeMatcher

// MemberMatcher determines if a member is excluded from weaving. Members
// are named "Ns.Type::Name" for properties and events and
// "Ns.Type::Name(params)" for methods.
type MemberMatcher = engine.MemberMatcher

// ExactMatcher matches exact "Ns.Type" or just "Type" patterns.
type ExactMatcher struct {
	patterns map[string]bool
}

// NewExactMatcher creates a matcher from a list of patterns.
// Patterns can be "Type" (matches any namespace) or "Ns.Type" (exact match).
func NewExactMatcher(patterns []string) *ExactMatcher {
	m := &ExactMatcher{patterns: make(map[string]bool)}
	for _, p := range patterns {
		m.patterns[p] = true
	}
	return m
}

// Match returns true if the type matches any pattern.
func (m *ExactMatcher) Match(namespace, name string) bool {
	if m.patterns[qualify(namespace, name)] {
		return true
	}
	return m.patterns[name]
}

func qualify(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

// WildcardMatcher matches type patterns with wildcard support.
//
// Supports patterns like:
//   - "Ns.Type" - exact match
//   - "Type" - matches this type name in any namespace
//   - "Ns.*" - matches all types directly in namespace Ns
//   - "Ns.**" - matches all types in Ns and its sub-namespaces
//   - "*" - matches everything
type WildcardMatcher struct {
	exact    map[string]bool // exact "Ns.Type" matches
	names    map[string]bool // unqualified "Type" matches
	nsWilds  map[string]bool // "Ns.*" matches
	subtrees []string        // "Ns.**" matches
	matchAll bool            // "*" matches everything
}

// NewWildcardMatcher creates a matcher with wildcard support.
func NewWildcardMatcher(patterns []string) *WildcardMatcher {
	m := &WildcardMatcher{
		exact:   make(map[string]bool),
		names:   make(map[string]bool),
		nsWilds: make(map[string]bool),
	}
	for _, p := range patterns {
		switch {
		case p == "*":
			m.matchAll = true
		case strings.HasSuffix(p, ".**"):
			m.subtrees = append(m.subtrees, strings.TrimSuffix(p, ".**"))
		case strings.HasSuffix(p, ".*"):
			m.nsWilds[strings.TrimSuffix(p, ".*")] = true
		case strings.Contains(p, "."):
			m.exact[p] = true
		default:
			m.names[p] = true
		}
	}
	return m
}

// Match returns true if the type matches any pattern.
func (m *WildcardMatcher) Match(namespace, name string) bool {
	if m.matchAll {
		return true
	}
	if m.nsWilds[namespace] {
		return true
	}
	for _, ns := range m.subtrees {
		if namespace == ns || strings.HasPrefix(namespace, ns+".") {
			return true
		}
	}
	if m.exact[qualify(namespace, name)] {
		return true
	}
	return m.names[name]
}

// GenericMatcher matches types regardless of generic arity.
//
// Supports patterns like:
//   - "Ns.Box`1" - exact match
//   - "Ns.Box" - any arity, including none
//   - "Ns.Bo*" - full name prefix
type GenericMatcher struct {
	exact    map[string]bool
	noArity  map[string]bool
	prefixes []string
}

// NewGenericMatcher creates an arity-insensitive matcher.
func NewGenericMatcher(patterns []string) *GenericMatcher {
	m := &GenericMatcher{
		exact:   make(map[string]bool),
		noArity: make(map[string]bool),
	}
	for _, p := range patterns {
		if strings.HasSuffix(p, "*") {
			m.prefixes = append(m.prefixes, strings.TrimSuffix(p, "*"))
		} else if !strings.Contains(p, "`") {
			m.noArity[p] = true
		} else {
			m.exact[p] = true
		}
	}
	return m
}

// Match returns true if the type matches any pattern.
func (m *GenericMatcher) Match(namespace, name string) bool {
	full := qualify(namespace, name)
	if m.exact[full] {
		return true
	}
	if m.noArity[stripArity(full)] {
		return true
	}
	for _, prefix := range m.prefixes {
		if strings.HasPrefix(full, prefix) {
			return true
		}
	}
	return false
}

func stripArity(name string) string {
	if idx := strings.LastIndexByte(name, '`'); idx >= 0 {
		return name[:idx]
	}
	return name
}

// CompositeMatcher combines multiple matchers.
type CompositeMatcher struct {
	matchers []TypeMatcher
}

// NewCompositeMatcher creates a matcher that matches if any sub-matcher matches.
func NewCompositeMatcher(matchers ...TypeMatcher) *CompositeMatcher {
	return &CompositeMatcher{matchers: matchers}
}

// Match returns true if any sub-matcher matches.
func (m *CompositeMatcher) Match(namespace, name string) bool {
	for _, matcher := range m.matchers {
		if matcher.Match(namespace, name) {
			return true
		}
	}
	return false
}

// MemberNameMatcher matches members by exact name.
type MemberNameMatcher struct {
	names map[string]bool
}

// NewMemberNameMatcher creates a matcher from a list of member names.
func NewMemberNameMatcher(names []string) *MemberNameMatcher {
	m := &MemberNameMatcher{names: make(map[string]bool)}
	for _, n := range names {
		m.names[n] = true
	}
	return m
}

// MatchMember returns true if the member name matches.
func (m *MemberNameMatcher) MatchMember(name string) bool {
	return m.names[name]
}

// MemberPrefixMatcher matches members by name prefix.
type MemberPrefixMatcher struct {
	prefixes []string
}

// NewMemberPrefixMatcher creates a matcher that matches members starting with any prefix.
func NewMemberPrefixMatcher(prefixes []string) *MemberPrefixMatcher {
	return &MemberPrefixMatcher{prefixes: prefixes}
}

// MatchMember returns true if the member name starts with any prefix.
func (m *MemberPrefixMatcher) MatchMember(name string) bool {
	for _, p := range m.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// CompositeMemberMatcher combines multiple member matchers.
type CompositeMemberMatcher struct {
	matchers []MemberMatcher
}

// NewCompositeMemberMatcher creates a matcher that matches if any sub-matcher matches.
func NewCompositeMemberMatcher(matchers ...MemberMatcher) *CompositeMemberMatcher {
	return &CompositeMemberMatcher{matchers: matchers}
}

// MatchMember returns true if any sub-matcher matches.
func (m *CompositeMemberMatcher) MatchMember(name string) bool {
	for _, matcher := range m.matchers {
		if matcher.MatchMember(name) {
			return true
		}
	}
	return false
}
