// Package agent defines the narrow contract between the harness and the
// coding-agent runtime. The harness never talks to a model directly; it
// hands a session spec to a Runtime and reads back a result. Tool-call
// arbitration flows through the Hooks callbacks so every runtime, real or
// fake, is confined the same way.
package agent

import (
	"context"

	"github.com/fentz26/warden/internal/sandbox"
)

// Hooks are the sandbox's taps into a running session.
type Hooks struct {
	// Authorize arbitrates a tool call before it executes. A denial is
	// delivered to the agent as the tool result, never raised as an
	// error that would abort the session.
	Authorize func(req sandbox.ToolCallRequest) sandbox.Decision
	// OnRead is invoked after a successful file read so evidence views
	// can be tracked.
	OnRead func(path string)
}

// SessionSpec describes one agent session.
type SessionSpec struct {
	Prompt       string
	SystemPrompt string
	AllowedTools []string
	WorkDir      string
	MaxTurns     int
	Hooks        Hooks
}

// SessionResult summarizes a completed session.
type SessionResult struct {
	// NumTurns is how many agent turns the session used.
	NumTurns int
	// FinalOutput is the agent's closing message.
	FinalOutput string
}

// Runtime runs agent sessions. Implementations must respect ctx
// cancellation and route every tool call through spec.Hooks.
type Runtime interface {
	RunSession(ctx context.Context, spec SessionSpec) (*SessionResult, error)
}
