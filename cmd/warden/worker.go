package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"github.com/fentz26/warden/internal/agent"
	"github.com/fentz26/warden/internal/audit"
	"github.com/fentz26/warden/internal/config"
	"github.com/fentz26/warden/internal/harness"
	"github.com/fentz26/warden/internal/lock"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run exactly one harness-enforced agent session",
	Long: `Runs one session: setup, smoke test, task selection, sandboxed agent
run, validation. The process exit code is the scheduler contract:

  0  CONTINUE      progress made (or session busy), schedule another run
  1  COMPLETE      every task passes
  2  FAILED        unrecoverable error or a task out of retries
  3  BROKEN_STATE  the application is broken, human attention needed`,
	SilenceUsage: true,
	Run:          runWorker,
}

func runWorker(cmd *cobra.Command, args []string) {
	status, err := workerMain(cmd.Context())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(int(status))
}

func workerMain(ctx context.Context) (harness.ExitStatus, error) {
	cfg, err := config.FromEnvironment()
	if err != nil {
		return harness.StatusFailed, fmt.Errorf("configuration: %w", err)
	}

	auditLog := audit.New(cfg.AuditLogPath())
	defer auditLog.Close()

	store, err := lock.NewSQLiteStore(cfg.LockDBPath())
	if err != nil {
		return harness.StatusFailed, fmt.Errorf("open lease store: %w", err)
	}
	defer store.Close()

	hostname, _ := os.Hostname()
	locks := lock.NewManager(store, "worker@"+hostname, cfg.LockTimeout, cfg.LockJitterMax)

	res, err := locks.TryAcquire(ctx, cfg.SessionID)
	if err != nil {
		return harness.StatusFailed, fmt.Errorf("acquire session lease: %w", err)
	}
	if !res.Acquired {
		// Someone else is working this session; let the scheduler retry.
		log.Printf("worker: session %s held by %s for %s, yielding",
			cfg.SessionID, res.Holder, res.Age.Round(time.Second))
		return harness.StatusContinue, nil
	}
	if res.StaleLockReleased {
		log.Printf("worker: reclaimed stale lease on session %s", cfg.SessionID)
	}
	defer func() {
		if err := locks.Release(context.Background(), cfg.SessionID); err != nil {
			log.Printf("worker: release lease: %v", err)
		}
	}()

	runtime, err := newRuntime()
	if err != nil {
		return harness.StatusFailed, err
	}

	return harness.New(cfg, runtime, auditLog).Run(ctx), nil
}

// execRuntime delegates the session to an external agent CLI named by
// AGENT_COMMAND. The prompt arrives on stdin; system prompt and tool
// list are passed in the environment. In-process arbitration hooks do
// not cross a process boundary, so deployments that need the sandbox on
// every tool call embed warden as a library and provide a Runtime that
// wires SessionSpec.Hooks directly.
type execRuntime struct {
	argv []string
}

func newRuntime() (agent.Runtime, error) {
	raw := os.Getenv("AGENT_COMMAND")
	if raw == "" {
		if found := agent.DetectCLIs(); len(found) > 0 {
			names := make([]string, len(found))
			for i, c := range found {
				names[i] = c.Name
			}
			return nil, fmt.Errorf("AGENT_COMMAND is required (agent CLIs on PATH: %s)",
				strings.Join(names, ", "))
		}
		return nil, fmt.Errorf("AGENT_COMMAND is required: the agent CLI warden hands sessions to")
	}
	argv, err := shellquote.Split(raw)
	if err != nil || len(argv) == 0 {
		return nil, fmt.Errorf("AGENT_COMMAND is not a valid command line: %q", raw)
	}
	return &execRuntime{argv: argv}, nil
}

func (r *execRuntime) RunSession(ctx context.Context, spec agent.SessionSpec) (*agent.SessionResult, error) {
	cmd := exec.CommandContext(ctx, r.argv[0], r.argv[1:]...)
	cmd.Dir = spec.WorkDir
	cmd.Stdin = strings.NewReader(spec.Prompt)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		"AGENT_SYSTEM_PROMPT="+spec.SystemPrompt,
		"AGENT_ALLOWED_TOOLS="+strings.Join(spec.AllowedTools, ","),
	)

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("agent command: %w", err)
	}
	return &agent.SessionResult{NumTurns: 1}, nil
}
