// Package config loads worker configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for optional settings.
const (
	DefaultBranch           = "agent-runtime"
	DefaultMaxRetries       = 3
	DefaultSmokeTestTimeout = 30 * time.Second
	DefaultLockTimeout      = 600 * time.Second
	DefaultLockJitterMax    = 5 * time.Second
	DefaultDevServerPort    = 6174
)

// Well-known file names inside the working tree.
const (
	FeatureListName  = "feature_list.json"
	StateFileName    = "agent_state.json"
	ProgressFileName = "claude-progress.txt"
	InitScriptName   = "init.sh"
	BuildPlanName    = "BUILD_PLAN.md"
	AuditLogName     = "audit.jsonl"
	ScreenshotsDir   = "screenshots"
)

// Config is the worker configuration, separated from execution logic.
type Config struct {
	// SessionID identifies the unit of work (issue number or task key).
	SessionID string
	// RepoURL is the git remote the working tree is cloned from.
	RepoURL string
	// Branch is the git branch the agent works on.
	Branch string

	WorkspaceDir      string
	MaxRetriesPerTask int
	SmokeTestTimeout  time.Duration
	LockTimeout       time.Duration
	LockJitterMax     time.Duration
	DevServerPort     int

	// SandboxPolicyPath optionally overrides the built-in sandbox policy
	// with a YAML file.
	SandboxPolicyPath string
}

// FromEnvironment builds a Config from environment variables, loading a
// .env file first if one is present in the working directory.
//
// Required: SESSION_ID, REPO_URL.
// Optional: AGENT_BRANCH, WORKSPACE_DIR, MAX_RETRIES_PER_TEST,
// SMOKE_TEST_TIMEOUT, LOCK_TIMEOUT_SECONDS, LOCK_JITTER_MAX_SECONDS,
// DEV_SERVER_PORT, SANDBOX_POLICY.
func FromEnvironment() (*Config, error) {
	// Best effort; absence of a .env file is the normal case.
	_ = godotenv.Load()

	sessionID := os.Getenv("SESSION_ID")
	if sessionID == "" {
		return nil, fmt.Errorf("SESSION_ID environment variable is required")
	}
	repoURL := os.Getenv("REPO_URL")
	if repoURL == "" {
		return nil, fmt.Errorf("REPO_URL environment variable is required")
	}

	workspace := os.Getenv("WORKSPACE_DIR")
	if workspace == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve workspace dir: %w", err)
		}
		workspace = filepath.Join(cwd, "workspace")
	}

	cfg := &Config{
		SessionID:         sessionID,
		RepoURL:           repoURL,
		Branch:            envString("AGENT_BRANCH", DefaultBranch),
		WorkspaceDir:      workspace,
		MaxRetriesPerTask: DefaultMaxRetries,
		SmokeTestTimeout:  DefaultSmokeTestTimeout,
		LockTimeout:       DefaultLockTimeout,
		LockJitterMax:     DefaultLockJitterMax,
		DevServerPort:     DefaultDevServerPort,
		SandboxPolicyPath: os.Getenv("SANDBOX_POLICY"),
	}

	var err error
	if cfg.MaxRetriesPerTask, err = envInt("MAX_RETRIES_PER_TEST", cfg.MaxRetriesPerTask); err != nil {
		return nil, err
	}
	if cfg.SmokeTestTimeout, err = envSeconds("SMOKE_TEST_TIMEOUT", cfg.SmokeTestTimeout); err != nil {
		return nil, err
	}
	if cfg.LockTimeout, err = envSeconds("LOCK_TIMEOUT_SECONDS", cfg.LockTimeout); err != nil {
		return nil, err
	}
	if cfg.LockJitterMax, err = envSeconds("LOCK_JITTER_MAX_SECONDS", cfg.LockJitterMax); err != nil {
		return nil, err
	}
	if cfg.DevServerPort, err = envInt("DEV_SERVER_PORT", cfg.DevServerPort); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RepoDir is the directory the repository is cloned into.
func (c *Config) RepoDir() string {
	return filepath.Join(c.WorkspaceDir, "repo")
}

// FeatureListPath is the path to feature_list.json inside the clone.
func (c *Config) FeatureListPath() string {
	return filepath.Join(c.RepoDir(), FeatureListName)
}

// StateDir is the directory holding agent_state.json. It sits outside
// the clone so state writes never dirty the working tree.
func (c *Config) StateDir() string {
	return c.WorkspaceDir
}

// ProgressFilePath is the path to the agent progress notes file.
func (c *Config) ProgressFilePath() string {
	return filepath.Join(c.RepoDir(), ProgressFileName)
}

// InitScriptPath is the path to the dev-server init script.
func (c *Config) InitScriptPath() string {
	return filepath.Join(c.RepoDir(), InitScriptName)
}

// AuditLogPath is the path to the JSONL audit trail.
func (c *Config) AuditLogPath() string {
	return filepath.Join(c.WorkspaceDir, "logs", AuditLogName)
}

// LockDBPath is the path to the SQLite lease store.
func (c *Config) LockDBPath() string {
	return filepath.Join(c.WorkspaceDir, "locks.db")
}

// DevServerAddress is the full URL of the dev server under test.
func (c *Config) DevServerAddress() string {
	return fmt.Sprintf("http://localhost:%d", c.DevServerPort)
}

// ScreenshotsPath is the per-session screenshot directory inside the clone.
func (c *Config) ScreenshotsPath() string {
	return filepath.Join(c.RepoDir(), ScreenshotsDir, c.SessionID)
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func envSeconds(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer number of seconds: %w", key, err)
	}
	return time.Duration(n) * time.Second, nil
}
