package logger

import (
	"testing"
)

func TestNopLoggerBeforeInitialize(t *testing.T) {
	// Package-level helpers must not panic before Initialize is called.
	Infow("engine starting", "workers", 4)
	Warnw("claim dropped", "claim_id", "C-1")
	Errorw("adjudicator unreachable", "error", "dial refused")
	Debugw("chunk settled", "size", 3)
}

func TestInitializeJSON(t *testing.T) {
	if err := Initialize(true); err != nil {
		t.Fatalf("Initialize(true) failed: %v", err)
	}
	if !JSONOutput {
		t.Error("expected JSONOutput to be true")
	}
	if Logger == nil {
		t.Fatal("expected Logger to be set")
	}
	Infow("json logger ready")
	Cleanup()
}

func TestInitializeConsole(t *testing.T) {
	if err := Initialize(false); err != nil {
		t.Fatalf("Initialize(false) failed: %v", err)
	}
	if JSONOutput {
		t.Error("expected JSONOutput to be false")
	}
	Infow("console logger ready")
	Cleanup()
}
