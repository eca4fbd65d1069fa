// Package harness runs one structured agent session: environment setup,
// smoke test, task selection, a sandboxed agent run, and validation of
// what the agent claims it did. The harness decides what to build and
// when work is done; the agent only decides how to build.
//
// The process exit code is the contract with the outer scheduler:
// 0 continue, 1 complete, 2 failed, 3 broken state.
package harness

import (
	"context"
	"fmt"
	"log"

	"github.com/fentz26/warden/internal/agent"
	"github.com/fentz26/warden/internal/audit"
	"github.com/fentz26/warden/internal/config"
	"github.com/fentz26/warden/internal/features"
	"github.com/fentz26/warden/internal/gitops"
	"github.com/fentz26/warden/internal/models"
	"github.com/fentz26/warden/internal/retry"
	"github.com/fentz26/warden/internal/sandbox"
	"github.com/fentz26/warden/internal/session"
)

// ExitStatus is the scheduler contract, surfaced as the process exit code.
type ExitStatus int

const (
	// StatusContinue: the session made progress, schedule another one.
	StatusContinue ExitStatus = 0
	// StatusComplete: every task passes, the session is finished.
	StatusComplete ExitStatus = 1
	// StatusFailed: unrecoverable failure or a task out of retries.
	StatusFailed ExitStatus = 2
	// StatusBrokenState: the application itself is broken; human needed.
	StatusBrokenState ExitStatus = 3
)

func (s ExitStatus) String() string {
	switch s {
	case StatusContinue:
		return "CONTINUE"
	case StatusComplete:
		return "COMPLETE"
	case StatusFailed:
		return "FAILED"
	case StatusBrokenState:
		return "BROKEN_STATE"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

// Harness drives one worker invocation.
type Harness struct {
	cfg     *config.Config
	runtime agent.Runtime
	audit   *audit.Logger
	git     *gitops.Client
	retry   *retry.Policy

	// startServers and smokeProbe are injection points for tests.
	startServers func(ctx context.Context) error
	smokeProbe   func(ctx context.Context) error
}

// New builds a harness around the given runtime and audit sink.
func New(cfg *config.Config, runtime agent.Runtime, auditLog *audit.Logger) *Harness {
	if auditLog == nil {
		auditLog = audit.Disabled()
	}
	h := &Harness{
		cfg:     cfg,
		runtime: runtime,
		audit:   auditLog,
		git:     gitops.New(cfg.RepoDir()),
		retry:   retry.DefaultPolicy(),
	}
	h.startServers = h.runInitScript
	h.smokeProbe = h.probeDevServer
	return h
}

// Run executes the full phase sequence and returns the exit status. It
// never panics outward; every failure maps to a status.
func (h *Harness) Run(ctx context.Context) ExitStatus {
	h.audit.SessionStart(h.cfg.SessionID)
	status := h.run(ctx)
	h.audit.SessionEnd(h.cfg.SessionID, status.String())
	log.Printf("harness: session %s finished: %s", h.cfg.SessionID, status)
	return status
}

func (h *Harness) run(ctx context.Context) ExitStatus {
	stateDir := h.cfg.StateDir()

	// SETUP
	if err := h.setup(ctx); err != nil {
		log.Printf("harness: setup failed: %v", err)
		return StatusBrokenState
	}
	if state := session.Read(stateDir); state.DesiredState == models.PhaseTerminated {
		log.Printf("harness: session marked terminated by %s, nothing to do", state.SetBy)
		return StatusComplete
	}
	if err := session.Advance(stateDir, models.PhaseRunOnce, "session started"); err != nil {
		log.Printf("harness: cannot record session state: %v", err)
	}

	// SMOKE_TEST
	if err := h.smokeTest(ctx); err != nil {
		log.Printf("harness: smoke test failed: %v", err)
		h.finish(ctx, StatusBrokenState)
		return StatusBrokenState
	}

	// SELECT_TASK
	list, err := features.Init(h.cfg.FeatureListPath())
	if err != nil {
		log.Printf("harness: cannot load feature list: %v", err)
		h.finish(ctx, StatusBrokenState)
		return StatusBrokenState
	}
	task := list.SelectNext(h.cfg.MaxRetriesPerTask)
	if task == nil {
		status := StatusComplete
		if list.Exhausted(h.cfg.MaxRetriesPerTask) {
			log.Printf("harness: all remaining tasks have exhausted retries")
			status = StatusFailed
		} else {
			log.Printf("harness: all tasks pass, nothing to do")
		}
		h.finish(ctx, status)
		return status
	}
	log.Printf("harness: selected task %s: %s", task.ID, task.Description)

	// The recovery point is the commit everything after this session can
	// be rolled back to if we die mid-run.
	base, err := h.git.HeadCommit(ctx)
	if err != nil {
		log.Printf("harness: cannot resolve HEAD: %v", err)
		h.finish(ctx, StatusBrokenState)
		return StatusBrokenState
	}
	if err := session.SetRecoveryPoint(stateDir, base); err != nil {
		log.Printf("harness: cannot record recovery point: %v", err)
	}

	// AGENT_RUN
	if err := h.runAgent(ctx, task); err != nil {
		log.Printf("harness: agent session failed: %v", err)
		h.finish(ctx, StatusFailed)
		return StatusFailed
	}

	// VALIDATE
	status := h.validate(ctx, task.ID, base)
	h.finish(ctx, status)
	return status
}

// setup clones or refreshes the working tree, checks out the work
// branch, and rolls back any half-done work a crashed invocation left.
func (h *Harness) setup(ctx context.Context) error {
	if err := h.git.EnsureClone(ctx, h.cfg.RepoURL); err != nil {
		return err
	}
	if err := h.git.CheckoutBranch(ctx, h.cfg.Branch); err != nil {
		return err
	}
	if err := h.git.ConfigureIdentity(ctx, "Warden Agent", "warden-agent@noreply.invalid"); err != nil {
		return err
	}
	if err := h.git.InstallAutoPush(h.cfg.Branch); err != nil {
		return err
	}

	// current_state still run_once means the previous invocation died
	// before reaching its phase boundary; roll its half-done work back.
	state := session.Read(h.cfg.StateDir())
	if state.CurrentState == models.PhaseRunOnce &&
		state.RecoveryPoint != nil && state.RecoveryPoint.Commit != "" {
		dirty, err := h.git.HasUncommittedChanges(ctx)
		if err != nil {
			return err
		}
		if dirty {
			log.Printf("harness: found uncommitted work from an interrupted session, resetting to %s",
				state.RecoveryPoint.Commit)
			if err := h.git.ResetTo(ctx, state.RecoveryPoint.Commit); err != nil {
				return err
			}
		}
	}
	return nil
}

// runAgent builds the sandbox and the focused prompt, then hands the
// session to the runtime. Transient runtime failures are retried.
func (h *Harness) runAgent(ctx context.Context, task *models.Task) error {
	policy := sandbox.DefaultPolicy()
	if h.cfg.SandboxPolicyPath != "" {
		var err error
		policy, err = sandbox.LoadPolicy(h.cfg.SandboxPolicyPath)
		if err != nil {
			return fmt.Errorf("load sandbox policy: %w", err)
		}
	}
	box, err := sandbox.New(h.cfg.RepoDir(), h.cfg.SessionID, policy, h.audit)
	if err != nil {
		return fmt.Errorf("build sandbox: %w", err)
	}

	spec := agent.SessionSpec{
		Prompt:       h.buildPrompt(task),
		SystemPrompt: h.loadSystemPrompt(),
		AllowedTools: []string{"Read", "Write", "Edit", "Glob", "Grep", "Bash"},
		WorkDir:      h.cfg.RepoDir(),
		Hooks: agent.Hooks{
			Authorize: box.Authorize,
			OnRead:    box.TrackRead,
		},
	}

	return h.retry.Execute(ctx, "agent session", func() error {
		result, err := h.runtime.RunSession(ctx, spec)
		if err != nil {
			return err
		}
		log.Printf("harness: agent session completed in %d turns", result.NumTurns)
		return nil
	}, retry.ClassifyDefault)
}

// validate re-reads the feature list and decides the exit status. The
// agent's claim of success is only believed when a commit backs it up.
func (h *Harness) validate(ctx context.Context, taskID, baseCommit string) ExitStatus {
	list, err := features.Load(h.cfg.FeatureListPath())
	if err != nil {
		log.Printf("harness: feature list unreadable after agent run: %v", err)
		return StatusBrokenState
	}
	task, err := list.Get(taskID)
	if err != nil {
		log.Printf("harness: assigned task vanished from feature list: %v", err)
		return StatusBrokenState
	}

	committed, err := h.git.HasCommitSince(ctx, baseCommit)
	if err != nil {
		log.Printf("harness: cannot verify commit: %v", err)
		committed = false
	}

	if task.Passes && !committed {
		// Claimed but unverified: no commit means no reviewable work.
		log.Printf("harness: task %s claimed passing with no commit, downgrading", taskID)
		task.Passes = false
		task.RetryCount++
		if err := list.Save(); err != nil {
			log.Printf("harness: cannot persist downgrade: %v", err)
		}
		if task.Status(h.cfg.MaxRetriesPerTask) == models.TaskStatusFailed {
			return StatusFailed
		}
		return StatusContinue
	}

	if !task.Passes {
		task.RetryCount++
		if err := list.Save(); err != nil {
			log.Printf("harness: cannot persist retry count: %v", err)
		}
		if committed {
			h.push(ctx)
		}
		if task.Status(h.cfg.MaxRetriesPerTask) == models.TaskStatusFailed {
			log.Printf("harness: task %s failed after %d attempts", taskID, task.RetryCount)
			return StatusFailed
		}
		log.Printf("harness: task %s not passing yet, will retry", taskID)
		return StatusContinue
	}

	h.push(ctx)
	if list.AllPass() {
		log.Printf("harness: all tasks pass, implementation complete")
		return StatusComplete
	}
	log.Printf("harness: task %s passed, more tasks remain", taskID)
	return StatusContinue
}

func (h *Harness) push(ctx context.Context) {
	if err := h.git.Push(ctx, h.cfg.Branch); err != nil {
		// Work stays committed locally; the next invocation pushes again.
		log.Printf("harness: push failed: %v", err)
	}
}

// finish records the terminal state of this invocation at the phase
// boundary: the latest commit as recovery point, then back to pause.
func (h *Harness) finish(ctx context.Context, status ExitStatus) {
	stateDir := h.cfg.StateDir()
	if head, err := h.git.HeadCommit(ctx); err == nil {
		if err := session.SetRecoveryPoint(stateDir, head); err != nil {
			log.Printf("harness: cannot record recovery point: %v", err)
		}
	}
	if err := session.Advance(stateDir, models.PhasePause, "session finished: "+status.String()); err != nil {
		log.Printf("harness: cannot record session state: %v", err)
	}
}
