package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fentz26/warden/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden - session harness and security sandbox for unattended coding agents",
	Long: `Warden runs structured, sandboxed coding-agent sessions. The harness
decides what to build and when work is done; the agent only decides how.
Every file and command decision is audited, and sessions are serialized
through a lease so two workers never fight over one workspace.`,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	workspaceDir string
	sessionID    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&workspaceDir, "workspace", "", "workspace directory (default $WORKSPACE_DIR or ./workspace)")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "", "session ID (default $SESSION_ID)")

	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(featuresCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(tuiCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// operatorConfig builds the config the read/operate subcommands need.
// Unlike the worker, they do not require a repo URL: they point at an
// existing workspace.
func operatorConfig() (*config.Config, error) {
	cfg := &config.Config{
		SessionID:         sessionID,
		WorkspaceDir:      workspaceDir,
		Branch:            config.DefaultBranch,
		MaxRetriesPerTask: config.DefaultMaxRetries,
		SmokeTestTimeout:  config.DefaultSmokeTestTimeout,
		LockTimeout:       config.DefaultLockTimeout,
		LockJitterMax:     config.DefaultLockJitterMax,
		DevServerPort:     config.DefaultDevServerPort,
	}
	if cfg.SessionID == "" {
		cfg.SessionID = os.Getenv("SESSION_ID")
	}
	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = os.Getenv("WORKSPACE_DIR")
	}
	if cfg.WorkspaceDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve workspace dir: %w", err)
		}
		cfg.WorkspaceDir = filepath.Join(cwd, "workspace")
	}
	return cfg, nil
}
