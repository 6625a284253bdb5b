package emit

import (
	"strconv"
	"strings"
	"sync"

	"github.com/wippyai/weaver/il"
)

type nameKey struct {
	owner      *il.TypeDef
	member     string
	annotation string
	base       string
}

// Namer hands out member names that are unique within their owner type.
// A Namer belongs to one pass; counters are keyed by owner, member,
// annotation type and base name.
type Namer struct {
	counters map[nameKey]int
	mu       sync.Mutex
}

// NewNamer creates a namer with no names issued.
func NewNamer() *Namer {
	return &Namer{counters: make(map[nameKey]int)}
}

// Next returns base$N for the next free N. Names already declared on owner
// are skipped, so synthesized names never collide with existing members.
func (n *Namer) Next(owner *il.TypeDef, member, annotation, base string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := nameKey{owner, member, annotation, base}
	for {
		i := n.counters[key]
		n.counters[key] = i + 1
		name := base + "$" + strconv.Itoa(i)
		if owner == nil || !taken(owner, name) {
			return name
		}
	}
}

func taken(t *il.TypeDef, name string) bool {
	for _, m := range t.Methods {
		if m.Name == name {
			return true
		}
	}
	for _, f := range t.Fields {
		if f.Name == name {
			return true
		}
	}
	for _, nt := range t.NestedTypes {
		if nt.Name == name || strings.HasPrefix(nt.Name, name+"`") {
			return true
		}
	}
	return t.FindProperty(name) != nil || t.FindEvent(name) != nil
}

// ShortName is the simple name of an annotation type: no namespace, no
// nesting and no generic arity marker.
func ShortName(s *il.TypeSig) string {
	name := s.Name
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	_, name = il.SplitFullName(name)
	if i := strings.IndexByte(name, '`'); i >= 0 {
		name = name[:i]
	}
	return name
}

// MethodKey is the key the run-time resolver finds md by: the plain name,
// or the full signature when the name is overloaded.
func MethodKey(md *il.MethodDef) string {
	if md.IsOverloaded() {
		return md.Signature()
	}
	return md.Name
}
