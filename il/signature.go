package il

import (
	"strconv"
	"strings"
)

// Signature returns the disambiguating signature of the method: name,
// generic arity and parameter types. The return type is not part of it,
// so overloads differing only by return type collide.
func (m *MethodDef) Signature() string {
	return methodSignature(m.Name, len(m.GenericParams), m.ParamTypes())
}

func methodSignature(name string, arity int, params []*TypeSig) string {
	var b strings.Builder
	b.WriteString(name)
	if arity > 0 {
		b.WriteByte('`')
		b.WriteString(strconv.Itoa(arity))
	}
	b.WriteByte('(')
	b.WriteString(SigsString(params))
	b.WriteByte(')')
	return b.String()
}

// IsOverloaded reports whether another method on the declaring type shares the name.
func (m *MethodDef) IsOverloaded() bool {
	if m.DeclaringType == nil {
		return false
	}
	return len(m.DeclaringType.MethodsNamed(m.Name)) > 1
}
