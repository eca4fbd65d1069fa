package harness

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fentz26/warden/internal/agent"
	"github.com/fentz26/warden/internal/audit"
	"github.com/fentz26/warden/internal/config"
	"github.com/fentz26/warden/internal/features"
	"github.com/fentz26/warden/internal/models"
	"github.com/fentz26/warden/internal/sandbox"
	"github.com/fentz26/warden/internal/session"
)

func sessionSetTerminated(dir string) error {
	return session.SetDesired(dir, models.PhaseTerminated, "operator", "shut down")
}

type fakeRuntime struct {
	invoked int
	run     func(ctx context.Context, spec agent.SessionSpec) error
}

func (f *fakeRuntime) RunSession(ctx context.Context, spec agent.SessionSpec) (*agent.SessionResult, error) {
	f.invoked++
	if f.run != nil {
		if err := f.run(ctx, spec); err != nil {
			return nil, err
		}
	}
	return &agent.SessionResult{NumTurns: 1}, nil
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// initRemote creates a git repository holding the given feature list,
// serving as the clone source for harness runs.
func initRemote(t *testing.T, tasks []models.Task) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.name", "test")
	runGit(t, dir, "config", "user.email", "test@example.com")

	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		t.Fatalf("encode tasks: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, config.FeatureListName), data, 0o644); err != nil {
		t.Fatalf("write feature list: %v", err)
	}
	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "-m", "seed feature list")
	return dir
}

func newTestConfig(t *testing.T, remote string) *config.Config {
	t.Helper()
	return &config.Config{
		SessionID:         "s1",
		RepoURL:           remote,
		Branch:            "agent-runtime",
		WorkspaceDir:      t.TempDir(),
		MaxRetriesPerTask: 3,
		SmokeTestTimeout:  100 * time.Millisecond,
		LockTimeout:       config.DefaultLockTimeout,
		DevServerPort:     config.DefaultDevServerPort,
	}
}

func newTestHarness(cfg *config.Config, rt agent.Runtime, log *audit.Logger) *Harness {
	h := New(cfg, rt, log)
	h.startServers = func(context.Context) error { return nil }
	h.smokeProbe = func(context.Context) error { return nil }
	return h
}

// flipTaskPass rewrites one task's passes flag in the working tree the
// way an agent edit would.
func flipTaskPass(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read feature list: %v", err)
	}
	updated := strings.Replace(string(data), `"passes": false`, `"passes": true`, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("write feature list: %v", err)
	}
}

func TestAllTasksPassSkipsAgent(t *testing.T) {
	remote := initRemote(t, []models.Task{
		{ID: "task-1", Description: "done", Passes: true},
		{ID: "task-2", Description: "also done", Passes: true},
	})
	cfg := newTestConfig(t, remote)
	rt := &fakeRuntime{}
	h := newTestHarness(cfg, rt, audit.Disabled())

	status := h.Run(context.Background())
	if status != StatusComplete {
		t.Fatalf("status = %s, want COMPLETE", status)
	}
	if rt.invoked != 0 {
		t.Errorf("agent invoked %d times, want 0", rt.invoked)
	}
}

func TestSmokeFailureIsBrokenState(t *testing.T) {
	remote := initRemote(t, []models.Task{
		{ID: "task-1", Description: "pending", Passes: false},
	})
	cfg := newTestConfig(t, remote)
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	auditLog := audit.New(logPath)
	defer auditLog.Close()

	rt := &fakeRuntime{}
	h := newTestHarness(cfg, rt, auditLog)
	h.smokeProbe = func(context.Context) error { return os.ErrDeadlineExceeded }

	status := h.Run(context.Background())
	if status != StatusBrokenState {
		t.Fatalf("status = %s, want BROKEN_STATE", status)
	}
	if rt.invoked != 0 {
		t.Errorf("agent invoked despite broken state")
	}

	events, err := audit.Tail(logPath, 0, audit.EventSessionEnd)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d session_end events, want 1", len(events))
	}
	if events[0].Payload["outcome"] != "BROKEN_STATE" {
		t.Errorf("outcome = %v, want BROKEN_STATE", events[0].Payload["outcome"])
	}

	// No task was touched.
	list, err := features.Load(cfg.FeatureListPath())
	if err != nil {
		t.Fatalf("load feature list: %v", err)
	}
	if list.Tasks[0].RetryCount != 0 || list.Tasks[0].Passes {
		t.Errorf("task mutated by broken-state run: %+v", list.Tasks[0])
	}
}

func TestClaimedPassWithoutCommitIsDowngraded(t *testing.T) {
	remote := initRemote(t, []models.Task{
		{ID: "task-1", Description: "pending", Passes: false},
	})
	cfg := newTestConfig(t, remote)
	rt := &fakeRuntime{
		run: func(_ context.Context, _ agent.SessionSpec) error {
			// Claim success without committing anything.
			flipTaskPass(t, cfg.FeatureListPath())
			return nil
		},
	}
	h := newTestHarness(cfg, rt, audit.Disabled())

	status := h.Run(context.Background())
	if status != StatusContinue {
		t.Fatalf("status = %s, want CONTINUE", status)
	}

	list, err := features.Load(cfg.FeatureListPath())
	if err != nil {
		t.Fatalf("load feature list: %v", err)
	}
	task := list.Tasks[0]
	if task.Passes {
		t.Error("unbacked pass claim survived validation")
	}
	if task.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", task.RetryCount)
	}
	if task.Status(cfg.MaxRetriesPerTask) != models.TaskStatusPending {
		t.Errorf("status = %s, want pending", task.Status(cfg.MaxRetriesPerTask))
	}
}

func TestPathEscapeDeniedWithoutCrash(t *testing.T) {
	remote := initRemote(t, []models.Task{
		{ID: "task-1", Description: "pending", Passes: false},
	})
	cfg := newTestConfig(t, remote)
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	auditLog := audit.New(logPath)
	defer auditLog.Close()

	var decision sandbox.Decision
	rt := &fakeRuntime{
		run: func(_ context.Context, spec agent.SessionSpec) error {
			decision = spec.Hooks.Authorize(sandbox.FileWrite{
				Path:      "../../etc/passwd",
				NewString: "pwned",
			})
			return nil
		},
	}
	h := newTestHarness(cfg, rt, auditLog)

	status := h.Run(context.Background())
	if status != StatusContinue {
		t.Fatalf("status = %s, want CONTINUE", status)
	}
	if decision.Allow {
		t.Error("escape write was allowed")
	}
	if decision.Category != sandbox.CategoryPath {
		t.Errorf("category = %s, want path", decision.Category)
	}

	events, err := audit.Tail(logPath, 0, audit.EventFileBlocked)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("got %d file_blocked events, want 1", len(events))
	}
}

func TestVerifiedPassCompletesAndPushes(t *testing.T) {
	remote := initRemote(t, []models.Task{
		{ID: "task-1", Description: "the only task", Passes: false},
	})
	cfg := newTestConfig(t, remote)
	rt := &fakeRuntime{
		run: func(_ context.Context, _ agent.SessionSpec) error {
			flipTaskPass(t, cfg.FeatureListPath())
			runGit(t, cfg.RepoDir(), "add", "-A")
			runGit(t, cfg.RepoDir(), "commit", "-m", "implement task-1")
			return nil
		},
	}
	h := newTestHarness(cfg, rt, audit.Disabled())

	status := h.Run(context.Background())
	if status != StatusComplete {
		t.Fatalf("status = %s, want COMPLETE", status)
	}

	// The work branch reached the remote.
	out := runGit(t, remote, "branch", "--list", cfg.Branch)
	if !strings.Contains(out, cfg.Branch) {
		t.Errorf("branch %s not pushed to remote (branches: %q)", cfg.Branch, out)
	}
}

func TestPassWithMoreTasksRemainingContinues(t *testing.T) {
	remote := initRemote(t, []models.Task{
		{ID: "task-1", Description: "first", Passes: false},
		{ID: "task-2", Description: "second", Passes: false},
	})
	cfg := newTestConfig(t, remote)
	rt := &fakeRuntime{
		run: func(_ context.Context, _ agent.SessionSpec) error {
			flipTaskPass(t, cfg.FeatureListPath())
			runGit(t, cfg.RepoDir(), "add", "-A")
			runGit(t, cfg.RepoDir(), "commit", "-m", "implement task-1")
			return nil
		},
	}
	h := newTestHarness(cfg, rt, audit.Disabled())

	if status := h.Run(context.Background()); status != StatusContinue {
		t.Fatalf("status = %s, want CONTINUE", status)
	}
}

func TestRetryExhaustionFails(t *testing.T) {
	remote := initRemote(t, []models.Task{
		{ID: "task-1", Description: "stubborn", Passes: false, RetryCount: 2},
	})
	cfg := newTestConfig(t, remote)
	rt := &fakeRuntime{} // agent does nothing
	h := newTestHarness(cfg, rt, audit.Disabled())

	if status := h.Run(context.Background()); status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", status)
	}

	list, err := features.Load(cfg.FeatureListPath())
	if err != nil {
		t.Fatalf("load feature list: %v", err)
	}
	if list.Tasks[0].RetryCount != 3 {
		t.Errorf("retry_count = %d, want 3", list.Tasks[0].RetryCount)
	}
}

func TestCrashRecoveryResetsDirtyTree(t *testing.T) {
	remote := initRemote(t, []models.Task{
		{ID: "task-1", Description: "pending", Passes: false},
	})
	cfg := newTestConfig(t, remote)
	junk := filepath.Join(cfg.RepoDir(), "half-done.txt")

	first := &fakeRuntime{
		run: func(_ context.Context, _ agent.SessionSpec) error {
			// Leave uncommitted work behind, as a crashed session would.
			return os.WriteFile(junk, []byte("partial"), 0o644)
		},
	}
	h := newTestHarness(cfg, first, audit.Disabled())
	if status := h.Run(context.Background()); status != StatusContinue {
		t.Fatalf("first run status = %s, want CONTINUE", status)
	}
	if _, err := os.Stat(junk); err != nil {
		t.Fatalf("junk file missing after first run: %v", err)
	}

	// Simulate the crash: the state file still says run_once.
	if err := session.Advance(cfg.StateDir(), models.PhaseRunOnce, "crashed mid-run"); err != nil {
		t.Fatalf("advance state: %v", err)
	}

	second := newTestHarness(cfg, &fakeRuntime{}, audit.Disabled())
	if status := second.Run(context.Background()); status != StatusContinue {
		t.Fatalf("second run status = %s, want CONTINUE", status)
	}
	if _, err := os.Stat(junk); !os.IsNotExist(err) {
		t.Error("uncommitted work from interrupted session survived recovery")
	}
}

func TestExhaustedTasksSkippedAndAllExhaustedFails(t *testing.T) {
	remote := initRemote(t, []models.Task{
		{ID: "task-1", Description: "exhausted", Passes: false, RetryCount: 3},
		{ID: "task-2", Description: "also exhausted", Passes: false, RetryCount: 5},
	})
	cfg := newTestConfig(t, remote)
	rt := &fakeRuntime{}
	h := newTestHarness(cfg, rt, audit.Disabled())

	if status := h.Run(context.Background()); status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", status)
	}
	if rt.invoked != 0 {
		t.Errorf("agent invoked for exhausted tasks")
	}
}

func TestTerminatedSessionDoesNothing(t *testing.T) {
	remote := initRemote(t, []models.Task{
		{ID: "task-1", Description: "pending", Passes: false},
	})
	cfg := newTestConfig(t, remote)

	// Clone first so the state dir exists, then mark terminated.
	rt := &fakeRuntime{}
	h := newTestHarness(cfg, rt, audit.Disabled())
	if status := h.Run(context.Background()); status != StatusContinue {
		t.Fatalf("priming run status = %s, want CONTINUE", status)
	}

	if err := sessionSetTerminated(cfg.StateDir()); err != nil {
		t.Fatalf("set terminated: %v", err)
	}
	rt.invoked = 0
	if status := h.Run(context.Background()); status != StatusComplete {
		t.Fatalf("status = %s, want COMPLETE", status)
	}
	if rt.invoked != 0 {
		t.Errorf("agent invoked on terminated session")
	}
}
