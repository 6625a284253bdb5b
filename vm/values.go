package vm

import (
	"context"
	"fmt"
	"sync"

	"github.com/wippyai/weaver/il"
)

// Values on the evaluation stack are plain Go values:
//
//	int      int32
//	long     int64
//	float    float32
//	double   float64
//	bool     bool
//	string   string
//	null     nil
//
// and the reference kinds below. Boxing a primitive keeps the Go value;
// unbox.any checks the dynamic type.

// Object is an instance of a module-defined or library type.
type Object struct {
	Type   *RuntimeType
	Host   any // state owned by host-implemented members
	fields map[string]any
	mu     sync.Mutex
}

// Field returns the value of an instance field, or nil when unset.
func (o *Object) Field(name string) any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fields[name]
}

// SetField stores an instance field.
func (o *Object) SetField(name string, v any) {
	o.mu.Lock()
	if o.fields == nil {
		o.fields = make(map[string]any)
	}
	o.fields[name] = v
	o.mu.Unlock()
}

func (o *Object) field(name string) (any, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.fields[name]
	return v, ok
}

func (o *Object) String() string { return o.Type.String() }

// TypeName returns the full name of the object's type.
func (o *Object) TypeName() string { return o.Type.String() }

// Array is a single-dimensional array.
type Array struct {
	Elem  *RuntimeType
	Items []any
}

func (a *Array) String() string { return fmt.Sprintf("%s[%d]", a.Elem, len(a.Items)) }

// FnPtr is the result of ldftn: a method bound to its generic context.
type FnPtr struct {
	Method     *il.MethodDef
	Type       *RuntimeType
	MethodArgs []*RuntimeType
}

// Delegate is a callable object of a Weaver.Func or Weaver.Action type.
type Delegate struct {
	Type   *RuntimeType
	Target any
	Fn     *FnPtr
	Native func(c *Call, args []any) (any, error)
}

func (d *Delegate) String() string {
	if d.Fn != nil {
		return d.Type.String() + "(" + d.Fn.Method.FullName() + ")"
	}
	return d.Type.String() + "(native)"
}

// NewDelegate wraps a Go function as a delegate of the given type.
func NewDelegate(t *RuntimeType, fn func(c *Call, args []any) (any, error)) *Delegate {
	return &Delegate{Type: t, Native: fn}
}

// Exception is a thrown managed exception. It travels as a Go error.
type Exception struct {
	Type    *RuntimeType
	Message string
	Cause   error
}

func (e *Exception) Error() string {
	if e.Type == nil {
		return e.Message
	}
	return e.Type.String() + ": " + e.Message
}

func (e *Exception) Unwrap() error { return e.Cause }

// Task is a possibly pending asynchronous result.
type Task struct {
	Type   *RuntimeType
	done   chan struct{}
	result any
	err    error
	once   sync.Once
}

func newTask(t *RuntimeType) *Task {
	return &Task{Type: t, done: make(chan struct{})}
}

// Complete resolves the task. Only the first completion wins.
func (t *Task) Complete(result any, err error) {
	t.once.Do(func() {
		t.result, t.err = result, err
		close(t.done)
	})
}

// Wait blocks until the task completes and returns its outcome.
func (t *Task) Wait() (any, error) {
	<-t.done
	return t.result, t.err
}

// WaitContext is Wait bounded by ctx.
func (t *Task) WaitContext(ctx context.Context) (any, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done reports whether the task has completed.
func (t *Task) Done() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Faulted reports whether the task completed with an error.
func (t *Task) Faulted() bool {
	return t.Done() && t.err != nil
}

// MethodInfo describes a method of a closed type.
type MethodInfo struct {
	Def  *il.MethodDef
	Type *RuntimeType
}

func (m *MethodInfo) String() string { return m.Type.String() + "::" + m.Def.Signature() }

// PropertyInfo describes a property of a closed type.
type PropertyInfo struct {
	Def  *il.PropertyDef
	Type *RuntimeType
}

func (p *PropertyInfo) String() string { return p.Type.String() + "::" + p.Def.Name }

// EventInfo describes an event of a closed type.
type EventInfo struct {
	Def  *il.EventDef
	Type *RuntimeType
}

func (e *EventInfo) String() string { return e.Type.String() + "::" + e.Def.Name }

// memberAttributes returns the annotations attached to a descriptor.
func memberAttributes(member any) ([]*il.Attribute, *RuntimeType, bool) {
	switch v := member.(type) {
	case *MethodInfo:
		return v.Def.Attributes, v.Type, true
	case *PropertyInfo:
		return v.Def.Attributes, v.Type, true
	case *EventInfo:
		return v.Def.Attributes, v.Type, true
	case *RuntimeType:
		if v.Def == nil {
			return nil, v, true
		}
		return v.Def.Attributes, v, true
	}
	return nil, nil, false
}
