package diag

import (
	stderrors "errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	werrors "github.com/wippyai/weaver/errors"
)

func TestTrackerChannels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tr := NewTracker(NewZap(zap.New(core)))

	tr.Info("scanned", zap.String("type", "Sample.Calc"))
	tr.Warning("skipped", zap.String("member", "Sample.Calc::Abstract"))
	if tr.Failed() {
		t.Fatal("Failed() = true after a warning")
	}
	if err := tr.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}

	tr.Error("lookup failed", zap.String("key", "Missing"))
	if !tr.Failed() {
		t.Fatal("Failed() = false after an error")
	}

	if got := logs.Len(); got != 3 {
		t.Fatalf("logged %d entries, want 3", got)
	}
	levels := []string{"info", "warn", "error"}
	for i, e := range logs.All() {
		if e.Level.String() != levels[i] {
			t.Errorf("entry %d level = %s, want %s", i, e.Level, levels[i])
		}
	}

	warnings := tr.Warnings()
	if len(warnings) != 1 || !strings.Contains(warnings[0], "member=Sample.Calc::Abstract") {
		t.Errorf("Warnings() = %q", warnings)
	}

	err := tr.Err()
	if !stderrors.Is(err, &werrors.Error{Phase: werrors.PhaseWeave, Kind: werrors.KindAborted}) {
		t.Fatalf("Err() = %v, want weave/aborted", err)
	}
	if !strings.Contains(err.Error(), "key=Missing") {
		t.Errorf("Err() = %q, want the first error's fields", err)
	}
}

func TestNilSinkDiscards(t *testing.T) {
	tr := NewTracker(nil)
	tr.Info("a")
	tr.Warning("b")
	if len(tr.Warnings()) != 1 {
		t.Errorf("Warnings() = %v", tr.Warnings())
	}
}
