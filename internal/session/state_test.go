package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fentz26/warden/internal/config"
	"github.com/fentz26/warden/internal/models"
)

func TestReadMissingFileDefaultsToPause(t *testing.T) {
	state := Read(t.TempDir())
	if state.DesiredState != models.PhasePause {
		t.Errorf("desired = %s, want pause", state.DesiredState)
	}
	if state.CurrentState != models.PhasePause {
		t.Errorf("current = %s, want pause", state.CurrentState)
	}
}

func TestReadMalformedFileDefaultsToPause(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid json", `{not json`},
		{"unknown state value", `{"desired_state": "warp", "current_state": "pause", "timestamp": "2026-01-01T00:00:00Z", "setBy": "x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, config.StateFileName)
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write fixture: %v", err)
			}
			state := Read(dir)
			if state.DesiredState != models.PhasePause || state.CurrentState != models.PhasePause {
				t.Errorf("got %s/%s, want pause/pause", state.DesiredState, state.CurrentState)
			}
		})
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	err := Write(dir, models.SessionState{
		DesiredState:  models.PhaseContinuous,
		CurrentState:  models.PhaseRunOnce,
		SetBy:         "operator",
		Note:          "kick off",
		RecoveryPoint: &models.RecoveryPoint{Commit: "abc123"},
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	state := Read(dir)
	if state.DesiredState != models.PhaseContinuous {
		t.Errorf("desired = %s, want continuous", state.DesiredState)
	}
	if state.CurrentState != models.PhaseRunOnce {
		t.Errorf("current = %s, want run_once", state.CurrentState)
	}
	if state.RecoveryPoint == nil || state.RecoveryPoint.Commit != "abc123" {
		t.Errorf("recovery point = %+v, want commit abc123", state.RecoveryPoint)
	}
	if state.Timestamp.IsZero() {
		t.Error("timestamp not set on write")
	}
	if _, err := os.Stat(filepath.Join(dir, config.StateFileName+".tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind after Write")
	}
}

func TestSetDesiredPreservesCurrent(t *testing.T) {
	dir := t.TempDir()
	if err := Advance(dir, models.PhaseRunOnce, "working"); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if err := SetDesired(dir, models.PhaseTerminated, "operator", "shut it down"); err != nil {
		t.Fatalf("SetDesired failed: %v", err)
	}

	state := Read(dir)
	if state.DesiredState != models.PhaseTerminated {
		t.Errorf("desired = %s, want terminated", state.DesiredState)
	}
	if state.CurrentState != models.PhaseRunOnce {
		t.Errorf("current = %s, want run_once (must not be touched)", state.CurrentState)
	}
	if state.SetBy != "operator" {
		t.Errorf("setBy = %s, want operator", state.SetBy)
	}
}

func TestSetDesiredRejectsInvalidPhase(t *testing.T) {
	if err := SetDesired(t.TempDir(), "bogus", "operator", ""); err == nil {
		t.Error("expected error for invalid phase")
	}
}
