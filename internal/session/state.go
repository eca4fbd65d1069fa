// Package session persists the harness state-machine record.
//
// The state file is the narrow contract between the harness and an
// operator: the operator writes desired_state, the harness advances
// current_state at phase boundaries, and recovery_point carries the
// last verified git commit for crash recovery.
package session

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/warden/internal/config"
	"github.com/fentz26/warden/internal/models"
)

// Read loads agent_state.json from dir. A missing, malformed, or
// partially written file never fails the caller: the harness must be
// able to start from a wrecked state directory, so defaults (pause)
// are returned instead, with the reason in the note field.
func Read(dir string) models.SessionState {
	path := filepath.Join(dir, config.StateFileName)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return defaultState("Default state (file did not exist)")
	}
	if err != nil {
		log.Printf("warning: could not read %s: %v", config.StateFileName, err)
		return defaultState(fmt.Sprintf("Read error: %v", err))
	}

	var state models.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Printf("warning: could not parse %s: %v", config.StateFileName, err)
		return defaultState("JSON decode error")
	}
	if !models.ValidPhase(state.DesiredState) || !models.ValidPhase(state.CurrentState) {
		log.Printf("warning: %s has unknown state values, treating as pause", config.StateFileName)
		return defaultState("Malformed state file")
	}
	return state
}

// Write persists the record atomically (temp file + rename). Timestamp
// is always refreshed.
func Write(dir string, state models.SessionState) error {
	state.Timestamp = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, config.StateFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace session state: %w", err)
	}
	return nil
}

// SetDesired updates only the operator-owned desired_state field.
func SetDesired(dir string, phase models.SessionPhase, setBy, note string) error {
	if !models.ValidPhase(phase) {
		return fmt.Errorf("invalid desired state %q", phase)
	}
	state := Read(dir)
	state.DesiredState = phase
	state.SetBy = setBy
	if note != "" {
		state.Note = note
	}
	return Write(dir, state)
}

// Advance moves current_state and records who moved it. The harness is
// the only writer of current_state.
func Advance(dir string, phase models.SessionPhase, note string) error {
	if !models.ValidPhase(phase) {
		return fmt.Errorf("invalid current state %q", phase)
	}
	state := Read(dir)
	state.CurrentState = phase
	state.SetBy = "harness"
	if note != "" {
		state.Note = note
	}
	return Write(dir, state)
}

// SetRecoveryPoint records the last verified commit.
func SetRecoveryPoint(dir, commit string) error {
	state := Read(dir)
	state.RecoveryPoint = &models.RecoveryPoint{Commit: commit}
	state.SetBy = "harness"
	return Write(dir, state)
}

func defaultState(note string) models.SessionState {
	return models.SessionState{
		DesiredState: models.PhasePause,
		CurrentState: models.PhasePause,
		Timestamp:    time.Now().UTC(),
		SetBy:        "harness",
		Note:         note,
	}
}
