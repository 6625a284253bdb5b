package engine

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/weaver/contract"
	"github.com/wippyai/weaver/errors"
	"github.com/wippyai/weaver/il"
	"github.com/wippyai/weaver/weave/internal/cache"
	"github.com/wippyai/weaver/weave/internal/diag"
	"github.com/wippyai/weaver/weave/internal/emit"
	"github.com/wippyai/weaver/weave/internal/scan"
)

// TypeMatcher selects types by namespace and simple name.
type TypeMatcher interface {
	Match(namespace, name string) bool
}

// MemberMatcher selects members by "Type::Member" name.
type MemberMatcher interface {
	MatchMember(name string) bool
}

// Config configures the weaving engine.
type Config struct {
	// References are modules the woven module depends on besides the
	// run-time library.
	References    []*il.Module
	Diagnostics   diag.Sink
	Logger        *zap.Logger
	OnlyList      TypeMatcher
	RemoveList    TypeMatcher
	RemoveMembers MemberMatcher
	// DryRun scans and reports without modifying the module.
	DryRun bool
}

// Synthesized names a member or type created by the pass.
type Synthesized struct {
	What string
	Name string
}

// Result describes a finished pass.
type Result struct {
	Module      string
	Tasks       []scan.Task
	Woven       []scan.Task
	Skipped     []scan.Task
	Synthesized []Synthesized
	Warnings    []string
}

// Engine runs weave passes. It holds no state between passes.
type Engine struct {
	references    []*il.Module
	diagnostics   diag.Sink
	log           *zap.Logger
	onlyList      TypeMatcher
	removeList    TypeMatcher
	removeMembers MemberMatcher
	dryRun        bool
}

// New creates a new engine with the given config.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		references:    cfg.References,
		diagnostics:   cfg.Diagnostics,
		log:           log,
		onlyList:      cfg.OnlyList,
		removeList:    cfg.RemoveList,
		removeMembers: cfg.RemoveMembers,
		dryRun:        cfg.DryRun,
	}
}

// pass is the state of one Transform call.
type pass struct {
	mod    *il.Module
	r      il.Resolver
	diag   *diag.Tracker
	namer  *emit.Namer
	cache  *cache.Emitter
	result *Result

	// preAnchors is the last preinitializer instruction placed per
	// constructor.
	preAnchors map[*il.MethodDef]*il.Instruction
}

func (p *pass) track(what, name string) {
	p.result.Synthesized = append(p.result.Synthesized, Synthesized{What: what, Name: name})
}

// IsWoven reports whether m carries the woven-module marker.
func IsWoven(m *il.Module) bool {
	return il.HasAttribute(m.Attributes, contract.WovenAttribute)
}

// Transform weaves m in place.
//
// The transformation:
//  1. Links m against itself, its references and the run-time library
//  2. Scans every eligible type for extension points
//  3. Applies each task with its kind's weaver
//  4. Emits static initializer code for caches and registration
//  5. Marks the module woven with a fresh Mvid, relinks and validates
//
// Any write to the error channel aborts the pass; the module is then in an
// undefined state and must be discarded.
func (e *Engine) Transform(m *il.Module) (*Result, error) {
	if IsWoven(m) {
		return nil, errors.AlreadyWoven(m.Name)
	}
	r, err := e.resolverFor(m)
	if err != nil {
		return nil, err
	}
	if err := il.Link(m, r); err != nil {
		return nil, errors.Wrap(errors.PhaseLink, errors.KindNotFound, err, "link module "+m.Name)
	}

	tracker := diag.NewTracker(e.diagnostics)
	p := &pass{
		mod:    m,
		r:      r,
		diag:   tracker,
		namer:  emit.NewNamer(),
		result: &Result{Module: m.Name},

		preAnchors: make(map[*il.MethodDef]*il.Instruction),
	}
	p.cache = cache.New(m, r, p.namer, p.track)

	plan := scan.Scan(m, scan.Config{
		Resolver: r,
		Diag:     tracker,
		Include:  e.includeType,
	})
	p.result.Tasks = plan.All()
	e.log.Debug("scanned module",
		zap.String("module", m.Name),
		zap.Int("tasks", plan.Len()))

	if e.dryRun {
		p.result.Warnings = tracker.Warnings()
		return p.result, tracker.Err()
	}

	for _, kind := range scan.Order {
		for _, task := range plan.Tasks(kind) {
			if e.removeMembers != nil && e.removeMembers.MatchMember(scan.MemberName(task.Target)) {
				p.result.Skipped = append(p.result.Skipped, task)
				continue
			}
			woven, err := p.weave(task)
			if err != nil {
				return nil, err
			}
			if tracker.Failed() {
				return nil, tracker.Err()
			}
			if woven {
				p.result.Woven = append(p.result.Woven, task)
			} else {
				p.result.Skipped = append(p.result.Skipped, task)
			}
		}
	}

	if err := p.cache.Finish(); err != nil {
		return nil, err
	}
	m.Attributes = append(m.Attributes, &il.Attribute{Type: il.Named(contract.WovenAttribute)})
	m.Mvid = uuid.New()

	// Synthesized types are only visible to a fresh resolver.
	r, err = e.resolverFor(m)
	if err != nil {
		return nil, err
	}
	if err := il.Link(m, r); err != nil {
		return nil, errors.Wrap(errors.PhaseEmit, errors.KindNotFound, err, "relink woven module "+m.Name)
	}
	if err := il.Validate(m); err != nil {
		return nil, err
	}
	p.result.Warnings = tracker.Warnings()
	e.log.Info("woven module",
		zap.String("module", m.Name),
		zap.Int("woven", len(p.result.Woven)),
		zap.Int("skipped", len(p.result.Skipped)),
		zap.Int("synthesized", len(p.result.Synthesized)))
	return p.result, nil
}

// resolverFor searches m first, then the references, then the library.
func (e *Engine) resolverFor(m *il.Module) (il.Resolver, error) {
	mods := append([]*il.Module{m}, e.references...)
	r, err := contract.Resolver(mods...)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "load run-time library")
	}
	return r, nil
}

func (e *Engine) includeType(t *il.TypeDef) bool {
	ns, name := il.SplitFullName(t.FullName())
	if e.onlyList != nil && !e.onlyList.Match(ns, name) {
		return false
	}
	if e.removeList != nil && e.removeList.Match(ns, name) {
		return false
	}
	return true
}

func (p *pass) weave(task scan.Task) (bool, error) {
	if md, ok := task.Target.(*il.MethodDef); ok {
		if rivals := returnOverloads(md); len(rivals) > 0 {
			// Descriptors resolve methods by signature, which omits the
			// return type.
			names := []string{md.ReturnType.String() + " " + md.Signature()}
			for _, o := range rivals {
				names = append(names, o.ReturnType.String()+" "+o.Signature())
			}
			return false, p.fail(task, errors.Ambiguous(errors.PhaseWeave, md.DeclaringType.FullName(), md.Signature(), names))
		}
	}
	switch task.Kind {
	case scan.KindState:
		return p.weaveState(task)
	case scan.KindAccess:
		return p.weaveAccess(task)
	case scan.KindPreinit:
		return p.weaveInitializer(task, true)
	case scan.KindInit:
		return p.weaveInitializer(task, false)
	case scan.KindMethod:
		return p.weaveMethod(task, false)
	case scan.KindAsync:
		return p.weaveMethod(task, true)
	case scan.KindGet:
		return p.weaveGetter(task)
	case scan.KindSet:
		return p.weaveSetter(task)
	case scan.KindAdd, scan.KindRemove:
		return p.weaveEvent(task)
	}
	return false, errors.Unsupported(errors.PhaseWeave, "task kind "+task.Kind.String())
}

// returnOverloads lists the other methods of md's type that share its
// signature and differ only by return type.
func returnOverloads(md *il.MethodDef) []*il.MethodDef {
	var out []*il.MethodDef
	sig := md.Signature()
	for _, o := range md.DeclaringType.Methods {
		if o != md && o.Flags&il.MethodSynthetic == 0 && o.Signature() == sig {
			out = append(out, o)
		}
	}
	return out
}

// warn reports a non-fatal problem with a task; the member stays unmodified.
func (p *pass) warn(task scan.Task, msg string, fields ...zap.Field) {
	fields = append([]zap.Field{
		zap.Stringer("kind", task.Kind),
		zapMember(task.Target),
		zapAnnotation(task),
	}, fields...)
	p.diag.Warning(msg, fields...)
}

// fail reports a fatal problem through the error channel and returns err.
func (p *pass) fail(task scan.Task, err error) error {
	p.diag.Error(err.Error(), zap.Stringer("kind", task.Kind), zapMember(task.Target), zapAnnotation(task))
	return err
}

func zapMember(member any) zap.Field {
	return zap.String("member", scan.MemberName(member))
}

func zapAnnotation(task scan.Task) zap.Field {
	return zap.String("annotation", task.Desc.String())
}
