package weave

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"

	werrors "github.com/wippyai/weaver/errors"
	"github.com/wippyai/weaver/il"
	"github.com/wippyai/weaver/vm"
)

// "^" stands for the generic arity marker, which raw strings cannot hold.
// The anchors only shorten the repeated interceptor signatures.
const sampleModule = `
name: Sample
references: [Weaver.Runtime]
types:
  - name: Sample.Doubler
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

  - name: Sample.TypeNames
    base: Weaver.Attribute
    interfaces: [Weaver.Contracts.IMethodInterceptor]
    methods:
      - {name: .ctor, flags: [public, extern]}
      - *invoke

  - name: Sample.Retry
    base: Weaver.Attribute
    interfaces: [Weaver.Contracts.IMethodInterceptor, Weaver.Contracts.IAsyncMethodInterceptor]
    methods:
      - {name: .ctor, flags: [public, extern]}
      - *invoke
      - name: InvokeAsync
        flags: [public, virtual, extern]
        returns: "Weaver.Tasks.Task^1<object>"
        params:
          - Weaver.Reflection.MethodInfo method
          - object instance
          - Weaver.Reflection.Type[] typeArguments
          - object[] arguments
          - "Weaver.Func^2<object[],Weaver.Tasks.Task^1<object>> proceed"

  - name: Sample.Twice
    base: Weaver.Attribute
    interfaces: [Weaver.Contracts.IPropertyGetInterceptor]
    methods:
      - {name: .ctor, flags: [public, extern]}
      - &getValue
        name: GetValue
        flags: [public, virtual, extern]
        returns: object
        params: [Weaver.Reflection.PropertyInfo property, object instance, "Weaver.Func^1<object> getter"]

  - name: Sample.Memo
    base: Weaver.Attribute
    interfaces: [Weaver.Contracts.IPropertyGetInterceptor]
    methods:
      - {name: .ctor, flags: [public, extern]}
      - *getValue

  - name: Sample.Suffix
    base: Weaver.Attribute
    interfaces: [Weaver.Contracts.IPropertyGetInterceptor]
    methods:
      - {name: .ctor, flags: [public, extern], params: [string suffix]}
      - *getValue

  - name: Sample.Clamp
    base: Weaver.Attribute
    interfaces: [Weaver.Contracts.IPropertySetInterceptor]
    methods:
      - {name: .ctor, flags: [public, extern]}
      - name: SetValue
        flags: [public, virtual, extern]
        params: [Weaver.Reflection.PropertyInfo property, object instance, object current, object value, "Weaver.Action^1<object> setter"]

  - name: Sample.Watch
    base: Weaver.Attribute
    interfaces: [Weaver.Contracts.IEventAddInterceptor, Weaver.Contracts.IEventRemoveInterceptor]
    methods:
      - {name: .ctor, flags: [public, extern]}
      - {name: OnAdd, flags: [public, virtual, extern], params: [Weaver.Reflection.EventInfo event, object instance, object handler, "Weaver.Action^1<object> proceed"]}
      - {name: OnRemove, flags: [public, virtual, extern], params: [Weaver.Reflection.EventInfo event, object instance, object handler, "Weaver.Action^1<object> proceed"]}

  - name: Sample.Counter
    base: Weaver.Attribute
    interfaces: ["Weaver.Contracts.IStateExtension^1<Weaver.Scopes.Method>", Weaver.Contracts.IMethodInterceptor]
    methods:
      - {name: .ctor, flags: [public, extern]}
      - *invoke
      - {name: get_Hits, flags: [public, extern], returns: "Weaver.Contracts.InjectedField^1<int>"}
      - {name: set_Hits, flags: [public, extern], params: ["Weaver.Contracts.InjectedField^1<int> value"]}
      - {name: get_Total, flags: [public, extern], returns: "Weaver.Contracts.InjectedField^1<int>"}
      - {name: set_Total, flags: [public, extern], params: ["Weaver.Contracts.InjectedField^1<int> value"]}
    properties:
      - {name: Hits, type: "Weaver.Contracts.InjectedField^1<int>", get: get_Hits, set: set_Hits}
      - name: Total
        type: "Weaver.Contracts.InjectedField^1<int>"
        get: get_Total
        set: set_Total
        attributes: [Weaver.Contracts.StaticAttribute]

  - name: Sample.Stamp
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

  - name: Sample.Calc
    flags: [public]
    base: object
    methods:
      - name: Count
        flags: [public, static]
        returns: int
        params: [int a, long b]
        attributes: [Sample.Doubler]
        body: |
          ldc.i4 -1
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

  - name: Sample.Box^1
    flags: [public]
    generic: [T]
    base: object
    methods:
      - name: .ctor
        flags: [public]
        body: |
          ldarg 0
          call instance void object::.ctor()
          ret
      - name: Describe
        flags: [public]
        generic: [U, V]
        returns: string
        params: ["!0 a", "!!0 u", "!!1 v"]
        attributes: [Sample.TypeNames]
        body: |
          ldstr "plain"
          ret

  - name: Sample.Jobs
    flags: [public]
    base: object
    attributes: [Sample.Retry]
    methods:
      - name: Compute
        flags: [public, static]
        returns: "Weaver.Tasks.Task^1<int>"
        params: [int x]
        body: |
          ldarg 0
          ldc.i4 2
          mul
          call Weaver.Tasks.Task^1<!0> Weaver.Tasks.Task^1<int>::FromResult(!0)
          ret
      - name: Fail
        flags: [public, static]
        returns: "Weaver.Tasks.Task^1<int>"
        body: |
          ldstr "boom"
          newobj instance void Weaver.Exception::.ctor(string)
          call Weaver.Tasks.Task^1<!0> Weaver.Tasks.Task^1<int>::FromException(Weaver.Exception)
          ret
      - name: Plain
        flags: [public, static]
        returns: int
        body: |
          ldc.i4 7
          ret

  - name: Sample.Gauge
    flags: [public]
    base: object
    fields:
      - {name: value, type: int}
      - {name: level, type: int}
      - {name: computed, type: int, flags: [static]}
    methods:
      - name: .ctor
        flags: [public]
        params: [int value]
        body: |
          ldarg 0
          call instance void object::.ctor()
          ldarg 0
          ldarg 1
          stfld int Sample.Gauge::value
          ret
      - name: get_Value
        flags: [public]
        returns: int
        body: |
          ldarg 0
          ldfld int Sample.Gauge::value
          ret
      - name: get_Expensive
        flags: [public]
        returns: string
        body: |
          ldsfld int Sample.Gauge::computed
          ldc.i4 1
          add
          stsfld int Sample.Gauge::computed
          ldstr "data"
          ret
      - name: get_Name
        flags: [public]
        returns: string
        body: |
          ldstr "foo"
          ret
      - name: get_Level
        flags: [public]
        returns: int
        body: |
          ldarg 0
          ldfld int Sample.Gauge::level
          ret
      - name: set_Level
        flags: [public]
        params: [int value]
        body: |
          ldarg 0
          ldarg 1
          stfld int Sample.Gauge::level
          ret
    properties:
      - {name: Value, type: int, get: get_Value, attributes: [Sample.Twice]}
      - {name: Expensive, type: string, get: get_Expensive, attributes: [Sample.Memo]}
      - name: Name
        type: string
        get: get_Name
        attributes:
          - {type: Sample.Suffix, args: [A]}
          - {type: Sample.Suffix, args: [B]}
      - {name: Level, type: int, get: get_Level, set: set_Level, attributes: [Sample.Clamp]}

  - name: Sample.Button
    flags: [public]
    base: object
    fields:
      - {name: handlers, type: int}
    methods:
      - name: .ctor
        flags: [public]
        body: |
          ldarg 0
          call instance void object::.ctor()
          ret
      - name: add_Clicked
        flags: [public]
        params: [Weaver.Action handler]
        body: |
          ldarg 0
          ldarg 0
          ldfld int Sample.Button::handlers
          ldc.i4 1
          add
          stfld int Sample.Button::handlers
          ret
      - name: remove_Clicked
        flags: [public]
        params: [Weaver.Action handler]
        body: |
          ldarg 0
          ldarg 0
          ldfld int Sample.Button::handlers
          ldc.i4 1
          sub
          stfld int Sample.Button::handlers
          ret
    events:
      - {name: Clicked, type: Weaver.Action, add: add_Clicked, remove: remove_Clicked, attributes: [Sample.Watch]}

  - name: Sample.Clicker
    flags: [public]
    base: object
    attributes: [Sample.Counter]
    methods:
      - name: .ctor
        flags: [public]
        body: |
          ldarg 0
          call instance void object::.ctor()
          ret
      - name: Click
        flags: [public]
        returns: int
        body: |
          ldc.i4 0
          ret
      - name: Other
        flags: [public]
        returns: int
        body: |
          ldc.i4 0
          ret

  - name: Sample.Widget
    flags: [public]
    base: object
    attributes: [Sample.Stamp]
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
          ldfld string Sample.Widget::log
          ldstr "ctor;"
          add
          stfld string Sample.Widget::log
          ret

  - name: Sample.Vault
    flags: [public]
    base: object
    attributes: [Sample.Friend]
    fields:
      - {name: seed, type: int}
    methods:
      - name: .ctor
        flags: [public]
        params: [int seed]
        body: |
          ldarg 0
          call instance void object::.ctor()
          ldarg 0
          ldarg 1
          stfld int Sample.Vault::seed
          ret
      - name: secret
        flags: [private]
        returns: int
        params: [int x]
        body: |
          ldarg 1
          ldarg 0
          ldfld int Sample.Vault::seed
          add
          ret
`

func decode(t *testing.T, src string) *il.Module {
	t.Helper()
	mod, err := il.Decode([]byte(strings.ReplaceAll(src, "^", "`")))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return mod
}

func weaveSample(t *testing.T) (*vm.Machine, *Report) {
	t.Helper()
	mod := decode(t, sampleModule)
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

func host(t *testing.T, m *vm.Machine, typeName, member string, fn vm.HostFunc) {
	t.Helper()
	if err := m.Hosts().RegisterFunc(typeName, member, fn); err != nil {
		t.Fatalf("RegisterFunc %s::%s: %v", typeName, member, err)
	}
}

func TestReport(t *testing.T) {
	_, rep := weaveSample(t)
	counts := rep.Counts()
	want := map[string]int{
		"method":       5,
		"async":        2,
		"property-get": 4,
		"property-set": 1,
		"event-add":    1,
		"event-remove": 1,
		"state":        2,
		"preinit":      1,
		"init":         1,
		"access":       1,
	}
	for k, n := range want {
		if counts[k] != n {
			t.Errorf("counts[%s] = %d, want %d (all: %v)", k, counts[k], n, counts)
		}
	}
	if len(rep.Skipped) != 0 {
		t.Errorf("skipped = %v", rep.Skipped)
	}
}

func TestMethodInterception(t *testing.T) {
	ctx := context.Background()
	m, _ := weaveSample(t)
	host(t, m, "Sample.Doubler", "Invoke", func(c *vm.Call, this any, args []any) (any, error) {
		mi := args[0].(*vm.MethodInfo)
		return int32(len(mi.Def.Params) * 2), nil
	})

	got, err := m.CallStatic(ctx, "Sample.Calc", "Count", int32(5), int64(9))
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if got != int32(4) {
		t.Errorf("Count = %v, want 4", got)
	}

	got, err = m.CallStatic(ctx, "Sample.Calc", "Sub", int32(5), int32(3))
	if err != nil {
		t.Fatalf("Sub: %v", err)
	}
	if got != int32(2) {
		t.Errorf("Sub = %v, want 2", got)
	}
}

func TestProceedPassesArguments(t *testing.T) {
	ctx := context.Background()
	m, _ := weaveSample(t)
	var seen []any
	host(t, m, "Sample.Doubler", "Invoke", func(c *vm.Call, this any, args []any) (any, error) {
		if args[1] != nil {
			t.Errorf("instance = %v, want nil for a static method", args[1])
		}
		seen = append([]any(nil), args[3].(*vm.Array).Items...)
		return c.Invoke(args[4].(*vm.Delegate), args[3])
	})

	got, err := m.CallStatic(ctx, "Sample.Calc", "Count", int32(5), int64(9))
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if got != int32(-1) {
		t.Errorf("Count = %v, want the original -1", got)
	}
	if len(seen) != 2 || seen[0] != int32(5) || seen[1] != int64(9) {
		t.Errorf("arguments = %v", seen)
	}
}

func TestGenericTypeArguments(t *testing.T) {
	ctx := context.Background()
	m, _ := weaveSample(t)
	host(t, m, "Sample.TypeNames", "Invoke", func(c *vm.Call, this any, args []any) (any, error) {
		mi := args[0].(*vm.MethodInfo)
		var names []string
		for _, a := range mi.Type.Args {
			names = append(names, a.String())
		}
		for _, it := range args[2].(*vm.Array).Items {
			names = append(names, it.(*vm.RuntimeType).String())
		}
		return strings.Join(names, ","), nil
	})

	box, err := m.New(ctx, "Sample.Box`1<float>")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := m.CallMethod(ctx, box, "Describe<long,double>", float32(1.5), int64(2), 2.5)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if got != "float,long,double" {
		t.Errorf("Describe = %v", got)
	}
}

func TestAsyncInterception(t *testing.T) {
	ctx := context.Background()
	m, _ := weaveSample(t)
	host(t, m, "Sample.Retry", "InvokeAsync", func(c *vm.Call, this any, args []any) (any, error) {
		r, err := c.Invoke(args[4].(*vm.Delegate), args[3])
		if err != nil {
			return nil, err
		}
		v, err := r.(*vm.Task).Wait()
		if err != nil {
			return c.CompletedTask(nil, err), nil
		}
		return c.CompletedTask(v.(int32)+1, nil), nil
	})
	host(t, m, "Sample.Retry", "Invoke", func(c *vm.Call, this any, args []any) (any, error) {
		r, err := c.Invoke(args[4].(*vm.Delegate), args[3])
		if err != nil {
			return nil, err
		}
		return r.(int32) * 10, nil
	})

	r, err := m.CallStatic(ctx, "Sample.Jobs", "Compute", int32(20))
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	v, err := r.(*vm.Task).Wait()
	if err != nil || v != int32(41) {
		t.Errorf("Compute = %v, %v; want 41", v, err)
	}

	r, err = m.CallStatic(ctx, "Sample.Jobs", "Fail")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	_, err = r.(*vm.Task).Wait()
	var ex *vm.Exception
	if !stderrors.As(err, &ex) || ex.Message != "boom" {
		t.Errorf("Fail error = %v, want the original exception", err)
	}

	// Methods that return no task take the synchronous path.
	got, err := m.CallStatic(ctx, "Sample.Jobs", "Plain")
	if err != nil || got != int32(70) {
		t.Errorf("Plain = %v, %v; want 70", got, err)
	}
}

func TestPropertyGetters(t *testing.T) {
	ctx := context.Background()
	m, _ := weaveSample(t)
	host(t, m, "Sample.Twice", "GetValue", func(c *vm.Call, this any, args []any) (any, error) {
		v, err := c.Invoke(args[2].(*vm.Delegate))
		if err != nil {
			return nil, err
		}
		return v.(int32) * 2, nil
	})
	var mu sync.Mutex
	memo := map[any]any{}
	host(t, m, "Sample.Memo", "GetValue", func(c *vm.Call, this any, args []any) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		if v, ok := memo[this]; ok {
			return v, nil
		}
		v, err := c.Invoke(args[2].(*vm.Delegate))
		if err != nil {
			return nil, err
		}
		memo[this] = v
		return v, nil
	})
	host(t, m, "Sample.Suffix", "GetValue", func(c *vm.Call, this any, args []any) (any, error) {
		v, err := c.Invoke(args[2].(*vm.Delegate))
		if err != nil {
			return nil, err
		}
		return v.(string) + this.(*vm.Object).Field("suffix").(string), nil
	})

	g, err := m.New(ctx, "Sample.Gauge", int32(3))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		getter string
		want   any
	}{
		{"get_Value", int32(6)},
		{"get_Expensive", "data"},
		{"get_Expensive", "data"},
		{"get_Name", "fooAB"},
	}
	for _, tt := range tests {
		got, err := m.CallMethod(ctx, g, tt.getter)
		if err != nil {
			t.Fatalf("%s: %v", tt.getter, err)
		}
		if got != tt.want {
			t.Errorf("%s = %v, want %v", tt.getter, got, tt.want)
		}
	}

	computed, err := m.StaticField(ctx, "Sample.Gauge", "computed")
	if err != nil {
		t.Fatalf("StaticField: %v", err)
	}
	if computed != int32(1) {
		t.Errorf("expensive getter ran %v times, want 1", computed)
	}
}

func TestPropertySetter(t *testing.T) {
	ctx := context.Background()
	m, _ := weaveSample(t)
	var currents []any
	host(t, m, "Sample.Clamp", "SetValue", func(c *vm.Call, this any, args []any) (any, error) {
		currents = append(currents, args[2])
		v := args[3].(int32)
		if v > 100 {
			v = 100
		}
		return c.Invoke(args[4].(*vm.Delegate), v)
	})

	g, err := m.New(ctx, "Sample.Gauge", int32(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, v := range []int32{150, 20} {
		if _, err := m.CallMethod(ctx, g, "set_Level", v); err != nil {
			t.Fatalf("set_Level(%d): %v", v, err)
		}
	}
	if got := g.(*vm.Object).Field("level"); got != int32(20) {
		t.Errorf("level = %v, want 20", got)
	}
	if len(currents) != 2 || currents[0] != int32(0) || currents[1] != int32(100) {
		t.Errorf("current values = %v, want [0 100]", currents)
	}
}

func TestEventInterception(t *testing.T) {
	ctx := context.Background()
	m, _ := weaveSample(t)
	var calls []string
	host(t, m, "Sample.Watch", "OnAdd", func(c *vm.Call, this any, args []any) (any, error) {
		calls = append(calls, "add")
		return c.Invoke(args[3].(*vm.Delegate), args[2])
	})
	host(t, m, "Sample.Watch", "OnRemove", func(c *vm.Call, this any, args []any) (any, error) {
		calls = append(calls, "remove")
		return nil, nil
	})

	action, err := m.Type("Weaver.Action")
	if err != nil {
		t.Fatalf("Type: %v", err)
	}
	handler := vm.NewDelegate(action, func(*vm.Call, []any) (any, error) { return nil, nil })

	b, err := m.New(ctx, "Sample.Button")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := m.CallMethod(ctx, b, "add_Clicked", handler); err != nil {
		t.Fatalf("add_Clicked: %v", err)
	}
	if _, err := m.CallMethod(ctx, b, "remove_Clicked", handler); err != nil {
		t.Fatalf("remove_Clicked: %v", err)
	}

	if got := b.(*vm.Object).Field("handlers"); got != int32(1) {
		t.Errorf("handlers = %v, want 1 since removal was not forwarded", got)
	}
	if strings.Join(calls, ",") != "add,remove" {
		t.Errorf("calls = %v", calls)
	}
}

// counterHost bumps the per-instance and static slots of the calling
// method and reports hits*10+total.
func counterHost(c *vm.Call, this any, args []any) (any, error) {
	ann := this.(*vm.Object)
	bump := func(field string) (int32, error) {
		slot := ann.Field(field)
		v, err := c.CallMethod(slot, "Get", args[1])
		if err != nil {
			return 0, err
		}
		n, _ := v.(int32)
		n++
		_, err = c.CallMethod(slot, "Set", args[1], n)
		return n, err
	}
	hits, err := bump("Hits")
	if err != nil {
		return nil, err
	}
	total, err := bump("Total")
	if err != nil {
		return nil, err
	}
	return hits*10 + total, nil
}

func TestStateInjection(t *testing.T) {
	ctx := context.Background()
	m, _ := weaveSample(t)
	host(t, m, "Sample.Counter", "Invoke", counterHost)

	a, err := m.New(ctx, "Sample.Clicker")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := m.New(ctx, "Sample.Clicker")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name   string
		this   any
		method string
		want   int32
	}{
		{"first click", a, "Click", 11},
		{"second click", a, "Click", 22},
		{"other instance shares static", b, "Click", 13},
		{"other method has its own slots", a, "Other", 11},
		{"back to first method", b, "Click", 24},
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

func TestInitializers(t *testing.T) {
	ctx := context.Background()
	m, _ := weaveSample(t)
	var members []string
	host(t, m, "Sample.Stamp", "Preinitialize", func(c *vm.Call, this any, args []any) (any, error) {
		members = append(members, args[1].(*vm.RuntimeType).String())
		args[0].(*vm.Object).SetField("log", "pre;")
		return nil, nil
	})
	host(t, m, "Sample.Stamp", "Initialize", func(c *vm.Call, this any, args []any) (any, error) {
		obj := args[0].(*vm.Object)
		s, _ := obj.Field("log").(string)
		obj.SetField("log", s+"init;")
		return nil, nil
	})

	w, err := m.New(ctx, "Sample.Widget")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := w.(*vm.Object).Field("log"); got != "pre;ctor;init;" {
		t.Errorf("log = %v", got)
	}
	if len(members) != 1 || members[0] != "Sample.Widget" {
		t.Errorf("members = %v", members)
	}
}

func TestNonPublicAccess(t *testing.T) {
	ctx := context.Background()
	m, _ := weaveSample(t)

	v, err := m.New(ctx, "Sample.Vault", int32(41))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vault, err := m.Type("Sample.Vault")
	if err != nil {
		t.Fatalf("Type: %v", err)
	}
	exts := m.Registry().Get(vault)
	if len(exts) != 1 {
		t.Fatalf("extensions = %v", exts)
	}
	secret, ok := exts[0].(*vm.Object).Field("Secret").(*vm.Delegate)
	if !ok {
		t.Fatal("Secret was not bound")
	}
	got, err := m.Invoke(ctx, secret, v, int32(1))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != int32(42) {
		t.Errorf("secret(1) = %v, want 42", got)
	}
}

func TestRegistryStable(t *testing.T) {
	ctx := context.Background()
	m, _ := weaveSample(t)
	var seen []any
	host(t, m, "Sample.Doubler", "Invoke", func(c *vm.Call, this any, args []any) (any, error) {
		seen = append(seen, this)
		return int32(0), nil
	})

	for i := 0; i < 2; i++ {
		if _, err := m.CallStatic(ctx, "Sample.Calc", "Count", int32(1), int64(1)); err != nil {
			t.Fatalf("Count: %v", err)
		}
	}
	mi, err := m.Method("Sample.Calc", "Count")
	if err != nil {
		t.Fatalf("Method: %v", err)
	}
	first, second := m.Registry().Get(mi), m.Registry().Get(mi)
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("extensions = %v, %v", first, second)
	}
	if first[0] != second[0] || seen[0] != seen[1] || seen[0] != first[0] {
		t.Error("annotation instance changed between calls")
	}
}

func TestRejectsWovenModule(t *testing.T) {
	mod := decode(t, sampleModule)
	if _, err := Transform(mod, Config{}); err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if !IsWoven(mod) {
		t.Fatal("module not marked as woven")
	}
	_, err := Transform(mod, Config{})
	if !stderrors.Is(err, &werrors.Error{Phase: werrors.PhaseWeave, Kind: werrors.KindAlreadyWoven}) {
		t.Errorf("second Transform = %v, want already woven", err)
	}
}

func TestTypesFilter(t *testing.T) {
	mod := decode(t, sampleModule)
	rep, err := Transform(mod, Config{Types: []string{"Sample.Calc"}})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(rep.Woven) != 1 || rep.Woven[0].Member != "Sample.Calc::Count(int,long)" {
		t.Errorf("woven = %v", rep.Woven)
	}
}

const assemblyModule = `
name: Traced
references: [Weaver.Runtime]
attributes: [Traced.Trace]
types:
  - name: Traced.Trace
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
  - name: Traced.Ops
    flags: [public]
    base: object
    methods:
      - name: Inc
        flags: [public, static]
        returns: int
        params: [int v]
        body: |
          ldarg 0
          ldc.i4 1
          add
          ret
`

func TestAssemblyAnnotation(t *testing.T) {
	ctx := context.Background()
	mod := decode(t, assemblyModule)
	if _, err := Transform(mod, Config{}); err != nil {
		t.Fatalf("Transform: %v", err)
	}
	m, err := vm.New(vm.Config{Modules: []*il.Module{mod}})
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	var traced []string
	host(t, m, "Traced.Trace", "Invoke", func(c *vm.Call, this any, args []any) (any, error) {
		traced = append(traced, args[0].(*vm.MethodInfo).String())
		return c.Invoke(args[4].(*vm.Delegate), args[3])
	})

	got, err := m.CallStatic(ctx, "Traced.Ops", "Inc", int32(1))
	if err != nil || got != int32(2) {
		t.Fatalf("Inc = %v, %v", got, err)
	}
	if len(traced) != 1 || traced[0] != "Traced.Ops::Inc(int)" {
		t.Errorf("traced = %v", traced)
	}
}
