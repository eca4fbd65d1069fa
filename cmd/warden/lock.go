package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/warden/internal/config"
	"github.com/fentz26/warden/internal/lock"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect and manage the session lease",
}

var lockStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show who holds the session lease",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, mgr, cleanup, err := lockManager()
		if err != nil {
			return err
		}
		defer cleanup()

		st, err := mgr.Status(cmd.Context(), cfg.SessionID)
		if err != nil {
			return err
		}
		if !st.Locked {
			fmt.Printf("Session %s: unheld\n", cfg.SessionID)
			return nil
		}
		fmt.Printf("Session %s: held by %s for %s", cfg.SessionID, st.Holder, st.Age.Round(time.Second))
		if st.Stale {
			fmt.Print(" (stale, will be reclaimed)")
		}
		fmt.Println()
		return nil
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Force-release the session lease",
	Long: `Removes the lease record regardless of holder. Only use this when
the holding worker is known to be dead; releasing a live worker's lease
lets a second worker into the same workspace.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, mgr, cleanup, err := lockManager()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := mgr.Release(cmd.Context(), cfg.SessionID); err != nil {
			return err
		}
		fmt.Printf("Released lease on session %s\n", cfg.SessionID)
		return nil
	},
}

func lockManager() (*config.Config, *lock.Manager, func(), error) {
	cfg, err := operatorConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := lock.NewSQLiteStore(cfg.LockDBPath())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open lease store: %w", err)
	}
	mgr := lock.NewManager(store, "operator", cfg.LockTimeout, cfg.LockJitterMax)
	return cfg, mgr, func() { store.Close() }, nil
}

func init() {
	lockCmd.AddCommand(lockStatusCmd)
	lockCmd.AddCommand(lockReleaseCmd)
}
