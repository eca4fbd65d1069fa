// Package models defines the core domain types for Warden.
package models

import "time"

// TaskStatus is the derived view of a task's lifecycle state.
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusPassed  TaskStatus = "passed"
	TaskStatusFailed  TaskStatus = "failed"
)

// Task is one atomic, independently verifiable unit of work in the
// feature list. The wire format mirrors feature_list.json: completion
// is a boolean "passes" flag, and the pending/passed/failed status is
// derived from it together with the retry counter.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Steps       string `json:"steps,omitempty"`
	Passes      bool   `json:"passes"`
	RetryCount  int    `json:"retry_count"`
}

// Status derives the task status given the configured retry limit.
// A task that has exhausted its retries without passing is failed.
func (t Task) Status(maxRetries int) TaskStatus {
	if t.Passes {
		return TaskStatusPassed
	}
	if t.RetryCount >= maxRetries {
		return TaskStatusFailed
	}
	return TaskStatusPending
}

// SessionPhase names the operator-visible lifecycle states recorded in
// the session state file.
type SessionPhase string

const (
	PhaseContinuous SessionPhase = "continuous"
	PhaseRunOnce    SessionPhase = "run_once"
	PhaseRunCleanup SessionPhase = "run_cleanup"
	PhasePause      SessionPhase = "pause"
	PhaseTerminated SessionPhase = "terminated"
)

// ValidPhase reports whether p is a known session phase.
func ValidPhase(p SessionPhase) bool {
	switch p {
	case PhaseContinuous, PhaseRunOnce, PhaseRunCleanup, PhasePause, PhaseTerminated:
		return true
	}
	return false
}

// RecoveryPoint identifies the last verified git commit. On crash the
// next invocation discards uncommitted changes back to this commit.
type RecoveryPoint struct {
	Commit string `json:"commit"`
}

// SessionState is the persisted state-machine record. desired_state is
// writable by an operator at any time; current_state is advanced only
// by the harness.
type SessionState struct {
	DesiredState  SessionPhase   `json:"desired_state"`
	CurrentState  SessionPhase   `json:"current_state"`
	Timestamp     time.Time      `json:"timestamp"`
	SetBy         string         `json:"setBy"`
	Note          string         `json:"note,omitempty"`
	RecoveryPoint *RecoveryPoint `json:"recovery_point,omitempty"`
}

// Lease is a claim on a shared resource with an acquisition time.
// Expiry is derived: a lease older than the configured timeout is
// presumed abandoned by a crashed holder.
type Lease struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id"`
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Age returns how long the lease has been held as of now.
func (l Lease) Age(now time.Time) time.Duration {
	return now.Sub(l.AcquiredAt)
}

// Expired reports whether the lease has outlived the timeout.
func (l Lease) Expired(now time.Time, timeout time.Duration) bool {
	return l.Age(now) > timeout
}
