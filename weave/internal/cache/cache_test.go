package cache

import (
	"strings"
	"testing"

	"github.com/wippyai/weaver/contract"
	"github.com/wippyai/weaver/il"
	"github.com/wippyai/weaver/weave/internal/emit"
	"github.com/wippyai/weaver/weave/internal/scan"
)

const source = `
name: Sample
attributes:
  - type: Sample.Log
types:
  - name: Sample.Log
    base: Weaver.Attribute
    interfaces: [Weaver.Contracts.IMethodInterceptor]
    methods:
      - {name: .ctor, flags: [public, extern]}
      - name: Invoke
        flags: [public, virtual, extern]
        returns: object
        params:
          - Weaver.Reflection.MethodInfo method
          - object instance
          - Weaver.Reflection.Type[] typeArguments
          - object[] arguments
          - Weaver.Func^2<object[],object> proceed
  - name: Sample.Calc
    base: object
    attributes:
      - type: Sample.Log
    fields:
      - {name: ready, type: bool, flags: [private, static]}
    methods:
      - name: .cctor
        flags: [private, static]
        body: |
          ldc.i4 1
          stsfld bool Sample.Calc::ready
          ret
      - name: Add
        flags: [public, static]
        returns: int
        params: [int a, int b]
        attributes:
          - type: Sample.Log
          - type: Sample.Log
        body: |
          ldarg 0
          ldarg 1
          add
          ret
`

func setup(t *testing.T) (*il.Module, il.Resolver, *Emitter, *[]string) {
	t.Helper()
	m, err := il.Decode([]byte(strings.ReplaceAll(source, "^", "`")))
	if err != nil {
		t.Fatal(err)
	}
	r, err := contract.Resolver(m)
	if err != nil {
		t.Fatal(err)
	}
	if err := il.Link(m, r); err != nil {
		t.Fatal(err)
	}
	var synth []string
	c := New(m, r, emit.NewNamer(), func(what, name string) { synth = append(synth, what+" "+name) })
	return m, r, c, &synth
}

func TestDescriptorMemoized(t *testing.T) {
	m, _, c, synth := setup(t)
	add := m.FindType("Sample.Calc").MethodsNamed("Add")[0]

	f1 := c.Descriptor(add)
	f2 := c.Descriptor(add)
	if f1 != f2 {
		t.Error("Descriptor must return the same field for the same member")
	}
	if f1.Name != "$desc$Add$0" || f1.Type.String() != contract.MethodInfo {
		t.Errorf("descriptor field = %s", f1)
	}
	if len(*synth) != 1 {
		t.Errorf("synthesized %v, want one field", *synth)
	}
}

func TestAnnotationSegmentsAndFinish(t *testing.T) {
	m, _, c, _ := setup(t)
	calc := m.FindType("Sample.Calc")
	add := calc.MethodsNamed("Add")[0]
	logDef := m.FindType("Sample.Log")

	second := &scan.Descriptor{Type: calc, Member: add, Attribute: add.Attributes[1], Annotation: logDef, Index: 1, Scope: scan.ScopeMethod}
	class := &scan.Descriptor{Type: calc, Attribute: calc.Attributes[0], Annotation: logDef, Scope: scan.ScopeClass}
	asm := &scan.Descriptor{Attribute: m.Attributes[0], Annotation: logDef, Scope: scan.ScopeAssembly}

	f := c.Annotation(add, second)
	if c.Annotation(add, second) != f {
		t.Error("Annotation must be memoized per (member, descriptor)")
	}
	if c.Annotation(add, class) == f {
		t.Error("distinct descriptors need distinct fields")
	}
	c.Annotation(add, asm)
	c.Append(calc, SegState, il.Op0(il.OpNop))

	if err := c.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	relinked, err := contract.Resolver(m)
	if err != nil {
		t.Fatal(err)
	}
	if err := il.Link(m, relinked); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if err := il.Validate(m); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	body := il.FormatBody(calc.TypeInitializer().Body.Instrs)
	order := []string{
		"call Weaver.Reflection.MethodInfo Weaver.Reflection.Resolver::Method(Weaver.Reflection.Type,string)",
		"ldc.i4 1\ncall object Weaver.Reflection.Attributes::Get(object,Weaver.Reflection.Type,int)",
		"ldtoken Sample.Calc\nldtoken Sample.Log\nldc.i4 0",
		"ldsfld Sample.Log Sample.Generated.AssemblyExtensions::$ann$Log$0",
		"nop",
		"stsfld bool Sample.Calc::ready",
	}
	pos := -1
	for _, want := range order {
		i := strings.Index(body, want)
		if i < 0 {
			t.Fatalf("static initializer lacks %q:\n%s", want, body)
		}
		if i < pos {
			t.Errorf("%q out of order:\n%s", want, body)
		}
		pos = i
	}
	if n := strings.Count(body, "ExtensionRegistry::Register"); n != 3 {
		t.Errorf("%d registrations, want 3", n)
	}

	holder := m.FindType("Sample.Generated." + HolderName)
	if holder == nil || holder.TypeInitializer() == nil {
		t.Fatal("assembly holder with initializer not synthesized")
	}
	if !strings.Contains(il.FormatBody(holder.TypeInitializer().Body.Instrs), "Attributes::GetAssembly") {
		t.Error("holder does not read assembly annotations")
	}
}

func TestHolderNamespace(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Sample", "Sample.Generated"},
		{"my-app.core", "my_app.core.Generated"},
	}
	for _, tt := range tests {
		if got := HolderNamespace(tt.in); got != tt.want {
			t.Errorf("HolderNamespace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
