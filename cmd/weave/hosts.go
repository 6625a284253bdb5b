package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/wippyai/weaver/contract"
	"github.com/wippyai/weaver/il"
	"github.com/wippyai/weaver/vm"
)

// tracer implements the extern operations of annotation types that have
// no Go binding: each call is written to out and forwarded unchanged.
type tracer struct {
	mu  sync.Mutex
	out io.Writer
}

type traceOp struct {
	contract string
	op       string
	fn       func(t *tracer, typeName string) vm.HostFunc
}

var traceOps = []traceOp{
	{contract.MethodInterceptor, contract.InvokeMethod, proceed(4, 3)},
	{contract.AsyncMethodInterceptor, contract.InvokeAsyncMethod, proceed(4, 3)},
	{contract.PropertyGetInterceptor, contract.GetValueMethod, proceed(2, -1)},
	{contract.PropertySetInterceptor, contract.SetValueMethod, proceed(4, 3)},
	{contract.EventAddInterceptor, contract.OnAddMethod, proceed(3, 2)},
	{contract.EventRemoveInterceptor, contract.OnRemoveMethod, proceed(3, 2)},
	{contract.InstanceInitializer, contract.InitializeMethod, (*tracer).notify},
	{contract.InstancePreinitializer, contract.PreinitMethod, (*tracer).notify},
}

// bindTracers registers tracing hosts for the annotation types of mods.
func bindTracers(m *vm.Machine, out io.Writer, mods ...*il.Module) (int, error) {
	t := &tracer{out: out}
	n := 0
	for _, mod := range mods {
		for _, td := range mod.AllTypes() {
			name := td.FullName()
			for _, op := range traceOps {
				if _, ok := il.Implements(td, op.contract, m.Resolver()); !ok {
					continue
				}
				if _, bound := m.Hosts().Lookup(name, "", op.op); bound {
					continue
				}
				if err := m.Hosts().RegisterFunc(name, op.op, op.fn(t, name)); err != nil {
					return n, err
				}
				n++
			}
		}
	}
	return n, nil
}

func (t *tracer) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

// proceed builds a host that calls the delegate at index fn with the
// argument at index arg, or with no argument when arg is negative.
func proceed(fn, arg int) func(t *tracer, typeName string) vm.HostFunc {
	return func(t *tracer, typeName string) vm.HostFunc {
		return func(c *vm.Call, this any, args []any) (any, error) {
			t.printf("-> %s.%s %v\n", typeName, c.Method.Name, args[0])
			d, ok := args[fn].(*vm.Delegate)
			if !ok {
				return nil, fmt.Errorf("%s.%s: continuation is not a delegate", typeName, c.Method.Name)
			}
			var (
				r   any
				err error
			)
			if arg < 0 {
				r, err = c.Invoke(d)
			} else {
				r, err = c.Invoke(d, args[arg])
			}
			if err != nil {
				t.printf("<- %s.%s error: %v\n", typeName, c.Method.Name, err)
				return nil, err
			}
			t.printf("<- %s.%s %v\n", typeName, c.Method.Name, r)
			return r, nil
		}
	}
}

func (t *tracer) notify(typeName string) vm.HostFunc {
	return func(c *vm.Call, this any, args []any) (any, error) {
		t.printf("-- %s.%s %v\n", typeName, c.Method.Name, args[1])
		return nil, nil
	}
}
