package vm

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/weaver/contract"
	"github.com/wippyai/weaver/errors"
	"github.com/wippyai/weaver/il"
	"github.com/wippyai/weaver/registry"
)

const (
	typeInfoName     = contract.TypeInfo
	methodInfoName   = contract.MethodInfo
	propertyInfoName = contract.PropertyInfo
	eventInfoName    = contract.EventInfo

	maxCallDepth = 512
)

// Config configures a Machine.
type Config struct {
	// Modules are linked against each other and the run-time library.
	Modules []*il.Module

	// Hosts supplies Go implementations of extern members. A new registry
	// is created when nil; library bindings are added either way.
	Hosts *HostRegistry

	// Registry backs Weaver.Runtime.ExtensionRegistry. A new registry is
	// created when nil.
	Registry *registry.Registry
}

// Machine executes linked modules. A Machine is safe for concurrent use;
// static state is shared by all callers.
type Machine struct {
	resolver *il.ModuleSet
	hosts    *HostRegistry
	registry *registry.Registry

	types   map[string]*RuntimeType
	typesMu sync.Mutex

	descs  map[memberKey]any
	descMu sync.Mutex

	branches sync.Map // *il.MethodBody -> map[*il.Instruction]int
}

type memberKey struct {
	def any
	typ *RuntimeType
}

// New links cfg.Modules and creates a Machine over them.
func New(cfg Config) (*Machine, error) {
	resolver, err := contract.Resolver(cfg.Modules...)
	if err != nil {
		return nil, err
	}
	for _, mod := range cfg.Modules {
		if err := il.Link(mod, resolver); err != nil {
			return nil, errors.Wrap(errors.PhaseLink, errors.KindNotFound, err, "link module "+mod.Name)
		}
	}

	m := &Machine{
		resolver: resolver,
		hosts:    cfg.Hosts,
		registry: cfg.Registry,
		types:    make(map[string]*RuntimeType),
		descs:    make(map[memberKey]any),
	}
	if m.hosts == nil {
		m.hosts = NewHostRegistry()
	}
	if m.registry == nil {
		m.registry = registry.New()
	}
	if err := bindLibrary(m.hosts); err != nil {
		return nil, err
	}

	Logger().Debug("machine created", zap.Int("modules", len(cfg.Modules)))
	return m, nil
}

// Hosts returns the host registry of the machine.
func (m *Machine) Hosts() *HostRegistry { return m.hosts }

// Registry returns the extension registry woven code registers into.
func (m *Machine) Registry() *registry.Registry { return m.registry }

// Resolver returns the type resolver of the machine.
func (m *Machine) Resolver() il.Resolver { return m.resolver }

// thread is the per-goroutine execution state.
type thread struct {
	ctx          context.Context
	initializing map[*RuntimeType]bool
	depth        int
}

func newThread(ctx context.Context) *thread {
	if ctx == nil {
		ctx = context.Background()
	}
	return &thread{ctx: ctx, initializing: make(map[*RuntimeType]bool)}
}

// Call is the context passed to host functions.
type Call struct {
	Machine    *Machine
	Method     *il.MethodDef
	Type       *RuntimeType   // closed declaring type
	MethodArgs []*RuntimeType // method generic arguments
	th         *thread
}

// Context returns the context of the managed call that reached the host.
func (c *Call) Context() context.Context { return c.th.ctx }

// Invoke calls a delegate on the current thread.
func (c *Call) Invoke(d *Delegate, args ...any) (any, error) {
	return c.Machine.invokeDelegate(c.th, d, args)
}

// CallMethod invokes a method on this by key with virtual dispatch.
func (c *Call) CallMethod(this any, key string, args ...any) (any, error) {
	return c.Machine.callMethod(c.th, this, key, args)
}

// Go runs fn on a new goroutine with its own execution state.
func (c *Call) Go(fn func(c *Call)) {
	fork := &Call{
		Machine:    c.Machine,
		Method:     c.Method,
		Type:       c.Type,
		MethodArgs: c.MethodArgs,
		th:         newThread(c.th.ctx),
	}
	go fn(fork)
}

// Throw builds a Weaver.Exception carrying msg.
func (c *Call) Throw(msg string) *Exception {
	return &Exception{Type: c.Machine.named(contract.Exception), Message: msg}
}

// CompletedTask returns a completed Task`1<object>.
func (c *Call) CompletedTask(result any, err error) *Task {
	t := newTask(c.Machine.objectTaskType())
	t.Complete(result, err)
	return t
}

func (m *Machine) objectTaskType() *RuntimeType {
	return m.intern(contract.TaskOf, m.resolver.ResolveType(contract.TaskOf), []*RuntimeType{m.named(il.TypeObject)})
}

// CallStatic invokes a static method. key is a method name, a signature
// such as "Add(int,int)", or a name with method type arguments such as
// "Pair<int,string>".
func (m *Machine) CallStatic(ctx context.Context, typeSig, key string, args ...any) (any, error) {
	t, err := m.Type(typeSig)
	if err != nil {
		return nil, err
	}
	th := newThread(ctx)
	md, owner, margs, err := m.selectMethod(t, key, len(args), true)
	if err != nil {
		return nil, err
	}
	return m.invoke(th, md, owner, margs, nil, args)
}

// New creates an instance of typeSig through the constructor matching args.
func (m *Machine) New(ctx context.Context, typeSig string, args ...any) (any, error) {
	t, err := m.Type(typeSig)
	if err != nil {
		return nil, err
	}
	if t.Def == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "type", typeSig)
	}
	th := newThread(ctx)
	var ctor *il.MethodDef
	for _, c := range t.Def.Constructors() {
		if len(c.Params) == len(args) {
			if ctor != nil {
				return nil, errors.Ambiguous(errors.PhaseRuntime, t.String(), il.CtorName, []string{ctor.Signature(), c.Signature()})
			}
			ctor = c
		}
	}
	if ctor == nil {
		return nil, errors.MemberNotFound(errors.PhaseRuntime, t.String(), il.CtorName)
	}
	return m.newObject(th, t, ctor, args)
}

// CallMethod invokes an instance method on this by key with virtual dispatch.
func (m *Machine) CallMethod(ctx context.Context, this any, key string, args ...any) (any, error) {
	return m.callMethod(newThread(ctx), this, key, args)
}

// Invoke calls a delegate.
func (m *Machine) Invoke(ctx context.Context, d *Delegate, args ...any) (any, error) {
	return m.invokeDelegate(newThread(ctx), d, args)
}

// StaticField reads a static field, running the type initializer first.
func (m *Machine) StaticField(ctx context.Context, typeSig, name string) (any, error) {
	t, err := m.Type(typeSig)
	if err != nil {
		return nil, err
	}
	if t.Def == nil || t.Def.FindField(name) == nil {
		return nil, errors.MemberNotFound(errors.PhaseRuntime, typeSig, name)
	}
	if err := m.ensureInit(newThread(ctx), t); err != nil {
		return nil, err
	}
	v, _ := t.static(name)
	return v, nil
}

// Method returns the interned descriptor of a method declared on typeSig.
func (m *Machine) Method(typeSig, key string) (*MethodInfo, error) {
	t, err := m.Type(typeSig)
	if err != nil {
		return nil, err
	}
	return m.resolveMethod(t, key)
}

// Property returns the interned descriptor of a property declared on typeSig.
func (m *Machine) Property(typeSig, name string) (*PropertyInfo, error) {
	t, err := m.Type(typeSig)
	if err != nil {
		return nil, err
	}
	return m.resolveProperty(t, name)
}

// Event returns the interned descriptor of an event declared on typeSig.
func (m *Machine) Event(typeSig, name string) (*EventInfo, error) {
	t, err := m.Type(typeSig)
	if err != nil {
		return nil, err
	}
	return m.resolveEvent(t, name)
}

func (m *Machine) callMethod(th *thread, this any, key string, args []any) (any, error) {
	if this == nil {
		return nil, errors.NullReference(errors.PhaseRuntime, "receiver of "+key)
	}
	t := m.typeOfValue(this)
	md, owner, margs, err := m.selectMethod(t, key, len(args), false)
	if err != nil {
		return nil, err
	}
	return m.invoke(th, md, owner, margs, this, args)
}

// selectMethod finds a method by key on t or its bases and returns it with
// the closed type declaring it.
func (m *Machine) selectMethod(t *RuntimeType, key string, argc int, static bool) (*il.MethodDef, *RuntimeType, []*RuntimeType, error) {
	name, typeArgs, err := splitMethodKey(key)
	if err != nil {
		return nil, nil, nil, err
	}
	var margs []*RuntimeType
	for _, s := range typeArgs {
		rt, err := m.closeType(s, nil, nil)
		if err != nil {
			return nil, nil, nil, err
		}
		margs = append(margs, rt)
	}

	bySignature := strings.Contains(name, "(")
	for cur := t; cur != nil; cur = m.baseOf(cur) {
		if cur.Def == nil {
			continue
		}
		var found []*il.MethodDef
		for _, md := range cur.Def.Methods {
			if md.IsStatic() != static || md.IsTypeInitializer() {
				continue
			}
			if bySignature {
				if md.Signature() == name {
					found = append(found, md)
				}
				continue
			}
			if md.Name == name && len(md.Params) == argc && len(md.GenericParams) == len(margs) {
				found = append(found, md)
			}
		}
		switch len(found) {
		case 0:
			continue
		case 1:
			return found[0], cur, margs, nil
		default:
			cands := make([]string, len(found))
			for i, f := range found {
				cands[i] = f.Signature()
			}
			return nil, nil, nil, errors.Ambiguous(errors.PhaseRuntime, cur.String(), key, cands)
		}
	}
	return nil, nil, nil, errors.MemberNotFound(errors.PhaseRuntime, t.String(), key)
}

// splitMethodKey separates "Name<int,string>" into the name and type arguments.
func splitMethodKey(key string) (string, []*il.TypeSig, error) {
	open := strings.IndexByte(key, '<')
	paren := strings.IndexByte(key, '(')
	if open < 0 || (paren >= 0 && paren < open) || !strings.HasSuffix(key, ">") {
		return key, nil, nil
	}
	var args []*il.TypeSig
	for _, part := range splitTopLevel(key[open+1 : len(key)-1]) {
		s, err := il.ParseSig(part)
		if err != nil {
			return "", nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err, "method key "+key)
		}
		args = append(args, s)
	}
	return key[:open], args, nil
}

func splitTopLevel(s string) []string {
	var out []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

// ownerOf walks t's base chain to the closed type defined by def.
func (m *Machine) ownerOf(t *RuntimeType, def *il.TypeDef) *RuntimeType {
	for cur := t; cur != nil; cur = m.baseOf(cur) {
		if cur.Def == def {
			return cur
		}
	}
	if len(def.GenericParams) == 0 {
		return m.intern(def.FullName(), def, nil)
	}
	return t
}

// ensureInit runs the static initializer of t once. Access from within
// the initializer on the same thread proceeds without waiting.
func (m *Machine) ensureInit(th *thread, t *RuntimeType) error {
	if t.inited.Load() {
		return t.initErr
	}
	if th.initializing[t] || t.Def == nil {
		return nil
	}
	t.initMu.Lock()
	defer t.initMu.Unlock()
	if t.inited.Load() {
		return t.initErr
	}

	th.initializing[t] = true
	defer delete(th.initializing, t)

	for _, f := range t.Def.Fields {
		if !f.IsStatic() {
			continue
		}
		ft, err := m.closeType(f.Type, t.Args, nil)
		if err != nil {
			t.initErr = err
			t.inited.Store(true)
			return err
		}
		t.setStatic(f.Name, zeroValue(ft))
	}

	var err error
	if cctor := t.Def.TypeInitializer(); cctor != nil && cctor.HasBody() {
		_, err = m.invoke(th, cctor, t, nil, nil, nil)
		if err != nil {
			Logger().Debug("type initializer failed", zap.String("type", t.String()), zap.Error(err))
			err = errors.New(errors.PhaseRuntime, errors.KindNotInitialized).
				Type(t.String()).Member(il.TypeInitName).
				Cause(err).
				Build()
		}
	}
	t.initErr = err
	t.inited.Store(true)
	Logger().Debug("type initialized", zap.String("type", t.String()))
	return err
}
