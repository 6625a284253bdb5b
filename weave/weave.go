package weave

import (
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/weaver/il"
	"github.com/wippyai/weaver/weave/internal/diag"
	"github.com/wippyai/weaver/weave/internal/engine"
	"github.com/wippyai/weaver/weave/internal/scan"
)

// Diagnostics receives the three diagnostic channels of a pass. Writing to
// Error aborts the pass.
type Diagnostics = diag.Sink

// NewZapDiagnostics routes diagnostics to l: Info, Warn and Error levels.
func NewZapDiagnostics(l *zap.Logger) Diagnostics {
	return diag.NewZap(l)
}

// IsWoven reports whether m has already been through a weave pass.
func IsWoven(m *il.Module) bool {
	return engine.IsWoven(m)
}

// Config configures a weave pass.
type Config struct {
	// References are modules m depends on besides the run-time library.
	References []*il.Module
	// Diagnostics defaults to the package logger.
	Diagnostics Diagnostics
	// OnlyList restricts weaving to matching types.
	OnlyList TypeMatcher
	// RemoveList excludes matching types.
	RemoveList TypeMatcher
	// RemoveMembers excludes matching members; their tasks are reported
	// as skipped.
	RemoveMembers MemberMatcher
	// Types adds wildcard type patterns to OnlyList.
	Types []string
	// DryRun reports the extension points without modifying the module.
	DryRun bool
}

// Task is one (member, extension point) pair handled by a weaver.
type Task struct {
	Kind       string
	Member     string
	Annotation string
}

func (t Task) String() string {
	return t.Kind + " " + t.Member + " <- " + t.Annotation
}

// Synthesized names a type or member created by weaving.
type Synthesized = engine.Synthesized

// Report summarizes a weave pass.
type Report struct {
	Module      string
	Tasks       []Task
	Woven       []Task
	Skipped     []Task
	Warnings    []string
	Synthesized []Synthesized
}

// Counts returns the number of woven tasks per weaver kind.
func (r *Report) Counts() map[string]int {
	out := make(map[string]int)
	for _, t := range r.Woven {
		out[t.Kind]++
	}
	return out
}

// Transform weaves m in place.
//
// Members carrying annotations that implement a capability contract are
// rewritten to call into the annotation instance; the original bodies move
// to synthesized shadow members. Annotation instances, member descriptors
// and their run-time registration are cached in static initializers.
//
// The transformation:
//   - Rejects modules that are already woven
//   - Discovers extension points on every eligible type
//   - Runs the weavers in fixed order (state, access, initializers,
//     methods, async methods, properties, events)
//   - Stamps the module as woven and validates the result
//
// On error the module must be discarded.
func Transform(m *il.Module, cfg Config) (*Report, error) {
	only := cfg.OnlyList
	if len(cfg.Types) > 0 {
		only = &typePatternMatcher{patterns: cfg.Types, fallback: cfg.OnlyList}
	}
	diagnostics := cfg.Diagnostics
	if diagnostics == nil {
		diagnostics = NewZapDiagnostics(Logger())
	}

	eng := engine.New(engine.Config{
		References:    cfg.References,
		Diagnostics:   diagnostics,
		Logger:        Logger(),
		OnlyList:      only,
		RemoveList:    cfg.RemoveList,
		RemoveMembers: cfg.RemoveMembers,
		DryRun:        cfg.DryRun,
	})
	res, err := eng.Transform(m)
	if res == nil {
		return nil, err
	}
	return &Report{
		Module:      res.Module,
		Tasks:       tasks(res.Tasks),
		Woven:       tasks(res.Woven),
		Skipped:     tasks(res.Skipped),
		Warnings:    res.Warnings,
		Synthesized: res.Synthesized,
	}, err
}

func tasks(in []scan.Task) []Task {
	out := make([]Task, len(in))
	for i, t := range in {
		out[i] = Task{
			Kind:       t.Kind.String(),
			Member:     scan.MemberName(t.Target),
			Annotation: t.Desc.String(),
		}
	}
	return out
}

// typePatternMatcher matches types from a list of patterns.
type typePatternMatcher struct {
	fallback TypeMatcher
	patterns []string
}

func (m *typePatternMatcher) Match(namespace, name string) bool {
	full := qualify(namespace, name)
	for _, p := range m.patterns {
		if p == "*" || p == full || p == name {
			return true
		}
		if ns, ok := strings.CutSuffix(p, ".*"); ok && ns == namespace {
			return true
		}
	}
	// Fall back to provided matcher
	if m.fallback != nil {
		return m.fallback.Match(namespace, name)
	}
	return false
}
