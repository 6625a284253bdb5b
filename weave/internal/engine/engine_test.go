package engine

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	werrors "github.com/wippyai/weaver/errors"
	"github.com/wippyai/weaver/il"
	"github.com/wippyai/weaver/weave/internal/scan"
)

// "^" stands for the generic arity marker, which raw strings cannot hold.
// Test modules append their own types to this list.
const annotations = `
name: Sample
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
  - name: Sample.Lifecycle
    base: Weaver.Attribute
    interfaces: [Weaver.Contracts.IInstanceInitializer, Weaver.Contracts.IInstancePreinitializer]
    methods:
      - {name: .ctor, flags: [public, extern]}
      - {name: Initialize, flags: [public, virtual, extern], params: [object instance, Weaver.Reflection.MemberInfo member]}
      - {name: Preinitialize, flags: [public, virtual, extern], params: [object instance, Weaver.Reflection.MemberInfo member]}
  - name: Sample.Friend
    base: Weaver.Attribute
    interfaces: [Weaver.Contracts.IClassEnhancer]
    methods:
      - {name: .ctor, flags: [public, extern]}
      - {name: get_Secret, flags: [public, extern], returns: "Weaver.Func^3<object,int,int>"}
      - {name: set_Secret, flags: [public, extern], params: ["Weaver.Func^3<object,int,int> value"]}
    properties:
      - name: Secret
        type: "Weaver.Func^3<object,int,int>"
        get: get_Secret
        set: set_Secret
        attributes:
          - {type: Weaver.Contracts.AccessAttribute, args: [secret]}
`

const calcTypes = `
  - name: Sample.Calc
    base: object
    methods:
      - name: .ctor
        flags: [public]
        params: [bool early]
        body: |
          ldarg 0
          call instance void object::.ctor()
          ldarg 1
          brfalse LATE
          ret
          LATE: nop
          ret
      - name: .ctor
        flags: [public]
        body: |
          ldarg 0
          ldc.i4 1
          call instance void Sample.Calc::.ctor(bool)
          ret
      - name: Add
        flags: [public, static]
        returns: int
        params: [int a, int b]
        attributes: [Sample.Log]
        body: |
          ldarg 0
          ldarg 1
          add
          ret
      - name: Sub
        flags: [public, static]
        returns: int
        params: [int a, int b]
        body: |
          ldarg 0
          ldarg 1
          sub
          ret
`

func load(t *testing.T, types string) *il.Module {
	t.Helper()
	m, err := il.Decode([]byte(strings.ReplaceAll(annotations+types, "^", "`")))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return m
}

func lines(md *il.MethodDef) []string {
	out := make([]string, len(md.Body.Instrs))
	for i, in := range md.Body.Instrs {
		out[i] = il.FormatInstruction(in, nil)
	}
	return out
}

func count(ls []string, sub string) int {
	n := 0
	for _, l := range ls {
		if strings.Contains(l, sub) {
			n++
		}
	}
	return n
}

func TestTransformMethod(t *testing.T) {
	m := load(t, calcTypes)
	calc := m.FindType("Sample.Calc")
	before := il.FormatBody(calc.MethodsNamed("Sub")[0].Body.Instrs)

	res, err := New(Config{}).Transform(m)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(res.Woven) != 1 || res.Woven[0].Kind != scan.KindMethod {
		t.Fatalf("woven = %v", res.Woven)
	}

	shadow := calc.MethodsNamed("Add$Log$0")
	if len(shadow) != 1 {
		t.Fatal("shadow method missing")
	}
	if shadow[0].Flags&il.MethodPrivate == 0 || shadow[0].Flags&il.MethodSynthetic == 0 || !shadow[0].IsStatic() {
		t.Errorf("shadow flags = %b", shadow[0].Flags)
	}
	if got := count(lines(shadow[0]), "add"); got != 1 {
		t.Errorf("shadow must hold the original body, got %v", lines(shadow[0]))
	}
	if calc.FindNestedType("Add$Log$Proceed$0") == nil {
		t.Error("carrier type missing")
	}

	add := lines(calc.MethodsNamed("Add")[0])
	if count(add, "IMethodInterceptor::Invoke") != 1 {
		t.Errorf("Add does not call the interceptor: %v", add)
	}
	if add[len(add)-2] != "unbox.any int" || add[len(add)-1] != "ret" {
		t.Errorf("Add must unbox the result, tail = %v", add[len(add)-2:])
	}
	if after := il.FormatBody(calc.MethodsNamed("Sub")[0].Body.Instrs); after != before {
		t.Errorf("unannotated method changed:\n%s\nwant\n%s", after, before)
	}
	if calc.TypeInitializer() == nil {
		t.Error("static initializer missing")
	}
	if !IsWoven(m) || m.Mvid == uuid.Nil {
		t.Error("module must be stamped as woven")
	}
}

func TestTransformRejectsWoven(t *testing.T) {
	m := load(t, calcTypes)
	if _, err := New(Config{}).Transform(m); err != nil {
		t.Fatal(err)
	}
	_, err := New(Config{}).Transform(m)
	if !stderrors.Is(err, &werrors.Error{Phase: werrors.PhaseWeave, Kind: werrors.KindAlreadyWoven}) {
		t.Errorf("second pass: got %v, want already woven", err)
	}
}

func TestInitializerPlacement(t *testing.T) {
	m := load(t, strings.Replace(calcTypes, "    base: object\n", "    base: object\n    attributes: [Sample.Lifecycle]\n", 1))
	res, err := New(Config{}).Transform(m)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	kinds := map[scan.Kind]int{}
	for _, task := range res.Woven {
		kinds[task.Kind]++
	}
	if kinds[scan.KindInit] != 1 || kinds[scan.KindPreinit] != 1 {
		t.Fatalf("woven kinds = %v", kinds)
	}

	ctors := m.FindType("Sample.Calc").Constructors()
	primary := lines(ctors[0])
	if !strings.Contains(primary[1], "object::.ctor") || !strings.Contains(primary[5], "::Preinitialize(") {
		t.Errorf("preinitializer must follow the base constructor call: %v", primary)
	}
	if got := count(primary, "::Initialize("); got != 2 {
		t.Errorf("initializer calls = %d, want one per return", got)
	}
	for i, l := range primary {
		if strings.Contains(l, "::Initialize(") && primary[i+1] != "ret" {
			t.Errorf("initializer at %d is not followed by ret", i)
		}
	}
	// The early return branch must still reach the initializer.
	for _, in := range ctors[0].Body.Instrs {
		if in.Op == il.OpBrfalse && in.Target().Op == il.OpRet {
			t.Error("branch skips the initializer")
		}
	}

	delegating := lines(ctors[1])
	if count(delegating, "Initialize(") != 0 {
		t.Errorf("delegating constructor must not be instrumented: %v", delegating)
	}
}

func TestAccess(t *testing.T) {
	vault := func(methods string) string {
		return `
  - name: Sample.Vault
    base: object
    attributes: [Sample.Friend]
    methods:
` + methods
	}
	secret := `
      - name: secret
        flags: [private]
        returns: int
        params: [int x]
        body: |
          ldarg 1
          ret
`
	t.Run("binds trampoline", func(t *testing.T) {
		m := load(t, vault(secret))
		res, err := New(Config{}).Transform(m)
		if err != nil {
			t.Fatalf("Transform: %v", err)
		}
		v := m.FindType("Sample.Vault")
		tramp := v.MethodsNamed("$access$secret$0")
		if len(tramp) != 1 || !tramp[0].IsStatic() || len(tramp[0].Params) != 2 {
			t.Fatalf("trampoline = %v", tramp)
		}
		cctor := lines(v.TypeInitializer())
		if count(cctor, "Sample.Friend::set_Secret(") != 1 {
			t.Errorf("static initializer must bind the delegate: %v", cctor)
		}
		if len(res.Woven) != 1 || res.Woven[0].Kind != scan.KindAccess {
			t.Errorf("woven = %v", res.Woven)
		}
	})

	tests := []struct {
		name    string
		methods string
		kind    werrors.Kind
	}{
		{"missing", `
      - name: other
        flags: [private]
        body: ret
`, werrors.KindNotFound},
		{"ambiguous", secret + `
      - name: secret
        flags: [private]
        returns: int
        params: [long x]
        body: |
          ldc.i4 0
          ret
`, werrors.KindAmbiguous},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{}).Transform(load(t, vault(tt.methods)))
			if !stderrors.Is(err, &werrors.Error{Phase: werrors.PhaseWeave, Kind: tt.kind}) {
				t.Errorf("got %v, want %s", err, tt.kind)
			}
		})
	}
}

type nameSet map[string]bool

func (s nameSet) Match(namespace, name string) bool { return s[namespace+"."+name] }
func (s nameSet) MatchMember(name string) bool      { return s[name] }

func TestFilters(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		woven int
	}{
		{"default", Config{}, 1},
		{"only other", Config{OnlyList: nameSet{"Sample.Other": true}}, 0},
		{"removed type", Config{RemoveList: nameSet{"Sample.Calc": true}}, 0},
		{"removed member", Config{RemoveMembers: nameSet{"Sample.Calc::Add(int,int)": true}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := New(tt.cfg).Transform(load(t, calcTypes))
			if err != nil {
				t.Fatalf("Transform: %v", err)
			}
			if len(res.Woven) != tt.woven {
				t.Errorf("woven = %d, want %d", len(res.Woven), tt.woven)
			}
		})
	}
}

func TestDryRun(t *testing.T) {
	m := load(t, calcTypes)
	res, err := New(Config{DryRun: true}).Transform(m)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(res.Tasks) != 1 || len(res.Woven) != 0 {
		t.Errorf("tasks = %v, woven = %v", res.Tasks, res.Woven)
	}
	if IsWoven(m) || len(m.FindType("Sample.Calc").MethodsNamed("Add$Log$0")) != 0 {
		t.Error("dry run must not modify the module")
	}
}
