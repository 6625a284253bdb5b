package weave

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	werrors "github.com/wippyai/weaver/errors"
	"github.com/wippyai/weaver/il"
	"github.com/wippyai/weaver/vm"
)

const extraModule = `
name: Extra
references: [Weaver.Runtime]
types:
  - name: Extra.Pass
    base: Weaver.Attribute
    interfaces: [Weaver.Contracts.IMethodInterceptor]
    methods:
      - {name: .ctor, flags: [public, extern]}
      - &invoke
        name: Invoke
        flags: [public, virtual, extern]
        returns: object
        params:
          - Weaver.Reflection.MethodInfo method
          - object instance
          - Weaver.Reflection.Type[] typeArguments
          - object[] arguments
          - Weaver.Func^2<object[],object> proceed

  - name: Extra.Guard
    base: Weaver.Attribute
    interfaces: ["Weaver.Contracts.IStateExtension^1<Weaver.Scopes.Class>", Weaver.Contracts.IMethodInterceptor]
    methods:
      - {name: .ctor, flags: [public, extern]}
      - *invoke
      - {name: get_Calls, flags: [public, extern], returns: "Weaver.Contracts.InjectedField^1<int>"}
      - {name: set_Calls, flags: [public, extern], params: ["Weaver.Contracts.InjectedField^1<int> value"]}
    properties:
      - {name: Calls, type: "Weaver.Contracts.InjectedField^1<int>", get: get_Calls, set: set_Calls}

  - name: Extra.Tag
    base: Weaver.Attribute
    interfaces: [Weaver.Contracts.IInstanceInitializer, Weaver.Contracts.IInstancePreinitializer]
    methods:
      - {name: .ctor, flags: [public, extern], params: [string tag]}
      - {name: Initialize, flags: [public, virtual, extern], params: [object instance, Weaver.Reflection.MemberInfo member]}
      - {name: Preinitialize, flags: [public, virtual, extern], params: [object instance, Weaver.Reflection.MemberInfo member]}

  - name: Extra.Friend
    base: Weaver.Attribute
    interfaces: [Weaver.Contracts.IClassEnhancer]
    methods:
      - {name: .ctor, flags: [public, extern]}
      - {name: get_Peek, flags: [public, extern], returns: "Weaver.Func^3<object,int,int>"}
      - {name: set_Peek, flags: [public, extern], params: ["Weaver.Func^3<object,int,int> value"]}
    properties:
      - name: Peek
        type: "Weaver.Func^3<object,int,int>"
        get: get_Peek
        set: set_Peek
        attributes:
          - {type: Weaver.Contracts.AccessAttribute, args: [peek]}

  - name: Extra.Svc
    flags: [public]
    base: object
    attributes: [Extra.Guard]
    methods:
      - name: .ctor
        flags: [public]
        body: |
          ldarg 0
          call instance void object::.ctor()
          ret
      - name: Run
        flags: [public]
        returns: int
        body: |
          ldc.i4 -1
          ret

  - name: Extra.SubSvc
    flags: [public]
    base: Extra.Svc
    methods:
      - name: .ctor
        flags: [public]
        body: |
          ldarg 0
          call instance void Extra.Svc::.ctor()
          ret
      - name: Ping
        flags: [public]
        returns: int
        body: |
          ldc.i4 -1
          ret

  - name: Extra.Staged
    flags: [public]
    base: object
    attributes:
      - {type: Extra.Tag, args: ["1"]}
      - {type: Extra.Tag, args: ["2"]}
    fields:
      - {name: log, type: string}
    methods:
      - name: .ctor
        flags: [public]
        body: |
          ldarg 0
          call instance void object::.ctor()
          ldarg 0
          ldarg 0
          ldfld string Extra.Staged::log
          ldstr "ctor;"
          add
          stfld string Extra.Staged::log
          ret

  - name: Extra.Core
    flags: [public]
    base: object
    methods:
      - name: .ctor
        flags: [public]
        body: |
          ldarg 0
          call instance void object::.ctor()
          ret
      - name: peek
        flags: [family]
        returns: int
        params: [int x]
        body: |
          ldarg 1
          ldc.i4 2
          mul
          ret

  - name: Extra.Shell
    flags: [public]
    base: Extra.Core
    attributes: [Extra.Friend]
    methods:
      - name: .ctor
        flags: [public]
        body: |
          ldarg 0
          call instance void Extra.Core::.ctor()
          ret

  - name: Extra.Ops
    flags: [public]
    base: object
    methods:
      - name: Boom
        flags: [public, static]
        returns: int
        attributes: [Extra.Pass]
        body: |
          ldstr "bad input"
          newobj instance void Weaver.Exception::.ctor(string)
          throw
`

func weaveExtra(t *testing.T) (*vm.Machine, *Report) {
	t.Helper()
	mod := decode(t, extraModule)
	rep, err := Transform(mod, Config{})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	m, err := vm.New(vm.Config{Modules: []*il.Module{mod}})
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	return m, rep
}

func TestClassStateSharedWithInterceptors(t *testing.T) {
	ctx := context.Background()
	m, rep := weaveExtra(t)
	if n := rep.Counts()["state"]; n != 1 {
		t.Fatalf("state tasks = %d, want 1", n)
	}
	host(t, m, "Extra.Guard", "Invoke", func(c *vm.Call, this any, args []any) (any, error) {
		slot := this.(*vm.Object).Field("Calls")
		if slot == nil {
			return nil, fmt.Errorf("Calls not wired into the %s interceptor", args[0].(*vm.MethodInfo))
		}
		v, err := c.CallMethod(slot, "Get", args[1])
		if err != nil {
			return nil, err
		}
		n, _ := v.(int32)
		n++
		if _, err := c.CallMethod(slot, "Set", args[1], n); err != nil {
			return nil, err
		}
		return n, nil
	})

	a, err := m.New(ctx, "Extra.Svc")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := m.New(ctx, "Extra.Svc")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sub, err := m.New(ctx, "Extra.SubSvc")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name   string
		this   any
		method string
		want   int32
	}{
		{"first call", a, "Run", 1},
		{"second call", a, "Run", 2},
		{"storage is per instance", b, "Run", 1},
		{"derived member sees the class storage", sub, "Ping", 1},
		{"inherited member shares it", sub, "Run", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.CallMethod(ctx, tt.this, tt.method)
			if err != nil {
				t.Fatalf("%s: %v", tt.method, err)
			}
			if got != tt.want {
				t.Errorf("%s = %v, want %d", tt.method, got, tt.want)
			}
		})
	}
}

func TestStackedInitializersKeepOrder(t *testing.T) {
	ctx := context.Background()
	m, rep := weaveExtra(t)
	counts := rep.Counts()
	if counts["preinit"] != 2 || counts["init"] != 2 {
		t.Fatalf("counts = %v", counts)
	}
	stamp := func(prefix string) vm.HostFunc {
		return func(c *vm.Call, this any, args []any) (any, error) {
			tag, _ := this.(*vm.Object).Field("tag").(string)
			obj := args[0].(*vm.Object)
			s, _ := obj.Field("log").(string)
			obj.SetField("log", s+prefix+tag+";")
			return nil, nil
		}
	}
	host(t, m, "Extra.Tag", "Preinitialize", stamp("pre"))
	host(t, m, "Extra.Tag", "Initialize", stamp("init"))

	obj, err := m.New(ctx, "Extra.Staged")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := obj.(*vm.Object).Field("log"); got != "pre1;pre2;ctor;init1;init2;" {
		t.Errorf("log = %v", got)
	}
}

func TestSyncExceptionThroughProceed(t *testing.T) {
	ctx := context.Background()
	m, _ := weaveExtra(t)
	var seen error
	host(t, m, "Extra.Pass", "Invoke", func(c *vm.Call, this any, args []any) (any, error) {
		r, err := c.Invoke(args[4].(*vm.Delegate), args[3])
		seen = err
		return r, err
	})

	_, err := m.CallStatic(ctx, "Extra.Ops", "Boom")
	var ex *vm.Exception
	if !stderrors.As(err, &ex) {
		t.Fatalf("Boom error = %v, want *vm.Exception", err)
	}
	if ex.Message != "bad input" {
		t.Errorf("message = %q", ex.Message)
	}
	var inner *vm.Exception
	if !stderrors.As(seen, &inner) || inner != ex {
		t.Errorf("caller got %v, proceed returned %v; want the same exception", err, seen)
	}
}

func TestAccessToProtectedBaseMethod(t *testing.T) {
	ctx := context.Background()
	m, rep := weaveExtra(t)
	if n := rep.Counts()["access"]; n != 1 {
		t.Fatalf("access tasks = %d, want 1 (warnings %v)", n, rep.Warnings)
	}

	obj, err := m.New(ctx, "Extra.Shell")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	shell, err := m.Type("Extra.Shell")
	if err != nil {
		t.Fatalf("Type: %v", err)
	}
	exts := m.Registry().Get(shell)
	if len(exts) != 1 {
		t.Fatalf("extensions = %v", exts)
	}
	peek, ok := exts[0].(*vm.Object).Field("Peek").(*vm.Delegate)
	if !ok {
		t.Fatal("Peek was not bound")
	}
	got, err := m.Invoke(ctx, peek, obj, int32(21))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != int32(42) {
		t.Errorf("peek(21) = %v, want 42", got)
	}
}

const clashModule = `
name: Clash
references: [Weaver.Runtime]
types:
  - name: Clash.Pass
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
  - name: Clash.Twin
    flags: [public]
    base: object
    methods:
      - name: M
        flags: [public, static]
        returns: int
        params: [int x]
        attributes: [Clash.Pass]
        body: |
          ldarg 0
          ret
      - name: M
        flags: [public, static]
        returns: long
        params: [int x]
        attributes: [Clash.Pass]
        body: |
          ldc.i8 0
          ret
`

func TestReturnTypeOverloadsRejected(t *testing.T) {
	mod := decode(t, clashModule)
	_, err := Transform(mod, Config{})
	if !stderrors.Is(err, &werrors.Error{Phase: werrors.PhaseWeave, Kind: werrors.KindAmbiguous}) {
		t.Fatalf("Transform = %v, want ambiguous", err)
	}
	var werr *werrors.Error
	if stderrors.As(err, &werr) && werr.Member != "M(int)" {
		t.Errorf("member = %q, want M(int)", werr.Member)
	}
}
