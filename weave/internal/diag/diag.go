// Package diag carries the info, warning and error channels of a weave pass.
package diag

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/weaver/errors"
)

// Sink receives diagnostics. An Error write aborts the pass that emitted it.
type Sink interface {
	Info(msg string, fields ...zap.Field)
	Warning(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

type zapSink struct {
	l *zap.Logger
}

// NewZap returns a Sink writing to l. A nil logger discards everything.
func NewZap(l *zap.Logger) Sink {
	if l == nil {
		l = zap.NewNop()
	}
	return &zapSink{l: l}
}

func (s *zapSink) Info(msg string, fields ...zap.Field)    { s.l.Info(msg, fields...) }
func (s *zapSink) Warning(msg string, fields ...zap.Field) { s.l.Warn(msg, fields...) }
func (s *zapSink) Error(msg string, fields ...zap.Field)   { s.l.Error(msg, fields...) }

// Tracker forwards to a Sink and remembers what was reported.
type Tracker struct {
	sink     Sink
	warnings []string
	errs     []string
	mu       sync.Mutex
}

// NewTracker wraps sink; a nil sink discards.
func NewTracker(sink Sink) *Tracker {
	if sink == nil {
		sink = NewZap(nil)
	}
	return &Tracker{sink: sink}
}

func (t *Tracker) Info(msg string, fields ...zap.Field) {
	t.sink.Info(msg, fields...)
}

func (t *Tracker) Warning(msg string, fields ...zap.Field) {
	t.mu.Lock()
	t.warnings = append(t.warnings, render(msg, fields))
	t.mu.Unlock()
	t.sink.Warning(msg, fields...)
}

func (t *Tracker) Error(msg string, fields ...zap.Field) {
	t.mu.Lock()
	t.errs = append(t.errs, render(msg, fields))
	t.mu.Unlock()
	t.sink.Error(msg, fields...)
}

// Failed reports whether anything was written to the error channel.
func (t *Tracker) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.errs) > 0
}

// Warnings returns the rendered warnings in emission order.
func (t *Tracker) Warnings() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.warnings...)
}

// Errors returns the rendered errors in emission order.
func (t *Tracker) Errors() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.errs...)
}

// Err returns an aborted error naming the first reported error, or nil.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.errs) == 0 {
		return nil
	}
	b := errors.New(errors.PhaseWeave, errors.KindAborted).Detail("%s", t.errs[0])
	if n := len(t.errs); n > 1 {
		b = b.Value(n)
	}
	return b.Build()
}

// render flattens a message and its fields into a single line for reports.
func render(msg string, fields []zap.Field) string {
	if len(fields) == 0 {
		return msg
	}
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	var b strings.Builder
	b.WriteString(msg)
	for _, f := range fields {
		if v, ok := enc.Fields[f.Key]; ok {
			fmt.Fprintf(&b, " %s=%v", f.Key, v)
		}
	}
	return b.String()
}
