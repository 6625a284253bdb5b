package vm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	werrors "github.com/wippyai/weaver/errors"
	"github.com/wippyai/weaver/il"
)

// "^" stands for the generic arity marker, which raw strings cannot hold.
const sampleSource = `
name: Sample
references: [Weaver.Runtime]
types:
  - name: Sample.Tag
    flags: [public]
    base: Weaver.Attribute
    fields:
      - {name: label, type: string}
    methods:
      - {name: .ctor, flags: [public, extern], params: [string label]}
      - {name: get_Weight, flags: [public, extern], returns: int}
      - {name: set_Weight, flags: [public, extern], params: [int value]}
    properties:
      - {name: Weight, type: int, get: get_Weight, set: set_Weight}

  - name: Sample.Calc
    flags: [public]
    base: object
    attributes:
      - {type: Sample.Tag, args: [first]}
      - {type: Sample.Tag, args: [second], named: {Weight: 7}}
    fields:
      - {name: calls, type: int, flags: [static]}
      - {name: ready, type: bool, flags: [static]}
    methods:
      - name: .cctor
        body: |
          ldc.i4 1
          stsfld bool Sample.Calc::ready
          ret
      - name: Add
        flags: [public, static]
        returns: int
        params: [int a, int b]
        body: |
          ldsfld int Sample.Calc::calls
          ldc.i4 1
          add
          stsfld int Sample.Calc::calls
          ldarg 0
          ldarg 1
          add
          ret
      - name: Sum
        flags: [public, static]
        returns: long
        params: [int n]
        locals: [long]
        body: |
          LOOP: ldarg 0
          brfalse DONE
          ldloc 0
          ldarg 0
          add
          stloc 0
          ldarg 0
          ldc.i4 1
          sub
          starg 0
          br LOOP
          DONE: ldloc 0
          ret
      - name: Echo
        flags: [public, static]
        generic: [T]
        returns: "!!0"
        params: ["!!0 v"]
        body: |
          ldarg 0
          box !!0
          unbox.any !!0
          ret
      - name: Fail
        flags: [public, static]
        params: [string message]
        body: |
          ldarg 0
          newobj instance void Weaver.Exception::.ctor(string)
          throw
      - name: Ready
        flags: [public, static]
        returns: bool
        body: |
          ldsfld bool Sample.Calc::ready
          ret
      - name: Twice
        flags: [public, static]
        returns: int
        params: [int v]
        body: |
          ldarg 0
          ldc.i4 2
          mul
          ret
      - name: TwiceDelegate
        flags: [public, static]
        returns: "Weaver.Func^2<int,int>"
        body: |
          ldnull
          ldftn int Sample.Calc::Twice(int)
          newobj instance void Weaver.Func^2<int,int>::.ctor(object,native)
          ret
      - name: Later
        flags: [public, static]
        returns: "Weaver.Tasks.Task^1<int>"
        params: [int v]
        body: |
          ldarg 0
          call Weaver.Tasks.Task^1<!0> Weaver.Tasks.Task^1<int>::FromResult(!0)
          ret
      - name: Sizes
        flags: [public, static]
        returns: int
        body: |
          ldc.i4 3
          newarr string
          ldlen
          ret

  - name: Sample.Shape
    flags: [public]
    base: object
    fields:
      - {name: name, type: string}
    methods:
      - name: .ctor
        flags: [public]
        params: [string name]
        body: |
          ldarg 0
          call instance void object::.ctor()
          ldarg 0
          ldarg 1
          stfld string Sample.Shape::name
          ret
      - name: Describe
        flags: [public, virtual]
        returns: string
        body: |
          ldarg 0
          ldfld string Sample.Shape::name
          ret
      - name: Show
        flags: [public]
        returns: string
        body: |
          ldarg 0
          callvirt instance string Sample.Shape::Describe()
          ret

  - name: Sample.Circle
    flags: [public]
    base: Sample.Shape
    methods:
      - name: .ctor
        flags: [public]
        body: |
          ldarg 0
          ldstr "circle"
          call instance void Sample.Shape::.ctor(string)
          ret
      - name: Describe
        flags: [public, virtual]
        returns: string
        body: |
          ldstr "round "
          ldarg 0
          ldfld string Sample.Shape::name
          add
          ret

  - name: Sample.Hosted
    flags: [public]
    base: object
    methods:
      - {name: Scale, flags: [public, static, extern], returns: double, params: [double v]}
      - name: ScaleTwice
        flags: [public, static]
        returns: double
        params: [double v]
        body: |
          ldarg 0
          call double Sample.Hosted::Scale(double)
          call double Sample.Hosted::Scale(double)
          ret
`

func newSample(t *testing.T) *Machine {
	t.Helper()
	mod, err := il.Decode([]byte(strings.ReplaceAll(sampleSource, "^", "`")))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m, err := New(Config{Modules: []*il.Module{mod}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestCallStatic(t *testing.T) {
	m := newSample(t)
	ctx := context.Background()

	tests := []struct {
		name string
		key  string
		args []any
		want any
	}{
		{"add", "Add", []any{int32(2), int32(3)}, int32(5)},
		{"loop", "Sum", []any{int32(4)}, int64(10)},
		{"generic", "Echo<string>", []any{"x"}, "x"},
		{"generic value", "Echo<double>", []any{1.5}, 1.5},
		{"by signature", "Add(int,int)", []any{int32(1), int32(1)}, int32(2)},
		{"static init", "Ready", nil, true},
		{"array", "Sizes", nil, int32(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.CallStatic(ctx, "Sample.Calc", tt.key, tt.args...)
			if err != nil {
				t.Fatalf("CallStatic: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestStaticState(t *testing.T) {
	m := newSample(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := m.CallStatic(ctx, "Sample.Calc", "Add", int32(i), int32(i)); err != nil {
			t.Fatal(err)
		}
	}
	calls, err := m.StaticField(ctx, "Sample.Calc", "calls")
	if err != nil {
		t.Fatal(err)
	}
	if calls != int32(3) {
		t.Errorf("calls = %v, want 3", calls)
	}
}

func TestConcurrentTypeInitialization(t *testing.T) {
	m := newSample(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := m.CallStatic(ctx, "Sample.Calc", "Ready")
			if err != nil {
				errs <- err
				return
			}
			if v != true {
				errs <- errors.New("type used before initialization finished")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestVirtualDispatch(t *testing.T) {
	m := newSample(t)
	ctx := context.Background()

	shape, err := m.New(ctx, "Sample.Shape", "square")
	if err != nil {
		t.Fatal(err)
	}
	circle, err := m.New(ctx, "Sample.Circle")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		this any
		want string
	}{
		{shape, "square"},
		{circle, "round circle"},
	}
	for _, tt := range tests {
		got, err := m.CallMethod(ctx, tt.this, "Show")
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("Show = %q, want %q", got, tt.want)
		}
	}
}

func TestThrowPropagates(t *testing.T) {
	m := newSample(t)
	_, err := m.CallStatic(context.Background(), "Sample.Calc", "Fail", "boom")

	var ex *Exception
	if !errors.As(err, &ex) {
		t.Fatalf("error %v is not an *Exception", err)
	}
	if ex.Message != "boom" || ex.Type.Name != "Weaver.Exception" {
		t.Errorf("exception = %v", ex)
	}
}

func TestDelegates(t *testing.T) {
	m := newSample(t)
	ctx := context.Background()

	v, err := m.CallStatic(ctx, "Sample.Calc", "TwiceDelegate")
	if err != nil {
		t.Fatal(err)
	}
	d, ok := v.(*Delegate)
	if !ok {
		t.Fatalf("got %T, want *Delegate", v)
	}
	got, err := m.Invoke(ctx, d, int32(21))
	if err != nil {
		t.Fatal(err)
	}
	if got != int32(42) {
		t.Errorf("Invoke = %v, want 42", got)
	}
}

func TestTasks(t *testing.T) {
	m := newSample(t)
	v, err := m.CallStatic(context.Background(), "Sample.Calc", "Later", int32(9))
	if err != nil {
		t.Fatal(err)
	}
	task, ok := v.(*Task)
	if !ok {
		t.Fatalf("got %T, want *Task", v)
	}
	if task.Type.String() != "Weaver.Tasks.Task`1<int>" {
		t.Errorf("task type = %s", task.Type)
	}
	r, err := task.Wait()
	if err != nil || r != int32(9) {
		t.Errorf("Wait = %v, %v", r, err)
	}
}

func TestHostFunctions(t *testing.T) {
	m := newSample(t)
	ctx := context.Background()

	_, err := m.CallStatic(ctx, "Sample.Hosted", "ScaleTwice", 2.0)
	if !errors.Is(err, &werrors.Error{Phase: werrors.PhaseRuntime, Kind: werrors.KindNotFound}) {
		t.Fatalf("unbound extern: got %v", err)
	}

	err = m.Hosts().RegisterFunc("Sample.Hosted", "Scale", func(c *Call, _ any, args []any) (any, error) {
		return args[0].(float64) * 10, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.CallStatic(ctx, "Sample.Hosted", "ScaleTwice", 2.0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 200.0 {
		t.Errorf("ScaleTwice = %v, want 200", got)
	}
}

type scaler struct{ factor float64 }

func (s *scaler) TypeName() string { return "Sample.Hosted" }

func (s *scaler) Scale(c *Call, _ any, args []any) (any, error) {
	return args[0].(float64) * s.factor, nil
}

func TestRegisterHost(t *testing.T) {
	m := newSample(t)
	if err := m.Hosts().RegisterHost(&scaler{factor: 3}); err != nil {
		t.Fatal(err)
	}
	got, err := m.CallStatic(context.Background(), "Sample.Hosted", "ScaleTwice", 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 9.0 {
		t.Errorf("ScaleTwice = %v, want 9", got)
	}
}

func TestHostRegistryValidation(t *testing.T) {
	r := NewHostRegistry()
	tests := []struct {
		name     string
		typeName string
		member   string
		fn       HostFunc
	}{
		{"empty type", "", "M", noop},
		{"empty member", "T", "", noop},
		{"nil handler", "T", "M", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.RegisterFunc(tt.typeName, tt.member, tt.fn)
			if !errors.Is(err, &werrors.Error{Phase: werrors.PhaseHost, Kind: werrors.KindInvalidInput}) {
				t.Errorf("got %v, want invalid input", err)
			}
		})
	}
}

func TestDescriptorsInterned(t *testing.T) {
	m := newSample(t)
	a, err := m.Method("Sample.Calc", "Add")
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Method("Sample.Calc", "Add(int,int)")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("descriptors for the same method differ")
	}
	if _, err := m.Method("Sample.Calc", "Missing"); err == nil {
		t.Error("expected an error for a missing method")
	}
}

func TestAttributeInstancesAreFresh(t *testing.T) {
	m := newSample(t)
	ctx := context.Background()
	calc, err := m.Type("Sample.Calc")
	if err != nil {
		t.Fatal(err)
	}
	tag, err := m.Type("Sample.Tag")
	if err != nil {
		t.Fatal(err)
	}

	get := func(index int32) *Object {
		t.Helper()
		c := &Call{Machine: m, th: newThread(ctx)}
		v, err := attributesGet(c, nil, []any{calc, tag, index})
		if err != nil {
			t.Fatalf("Attributes.Get(%d): %v", index, err)
		}
		return v.(*Object)
	}

	first, again := get(0), get(0)
	if first == again {
		t.Error("each query must construct a new instance")
	}
	if first.Field("label") != "first" {
		t.Errorf("label = %v", first.Field("label"))
	}
	second := get(1)
	if second.Field("label") != "second" || second.Field("Weight") != int32(7) {
		t.Errorf("second annotation = label %v, weight %v", second.Field("label"), second.Field("Weight"))
	}
}
