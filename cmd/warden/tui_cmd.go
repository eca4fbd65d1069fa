package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/fentz26/warden/internal/lock"
	"github.com/fentz26/warden/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Live dashboard over the session: tasks, lease, state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := operatorConfig()
		if err != nil {
			return err
		}

		// The dashboard works without the lease store; the lock panel
		// just shows unavailable.
		var locks *lock.Manager
		store, err := lock.NewSQLiteStore(cfg.LockDBPath())
		if err != nil {
			log.Printf("tui: lease store unavailable: %v", err)
		} else {
			defer store.Close()
			locks = lock.NewManager(store, "tui", cfg.LockTimeout, cfg.LockJitterMax)
		}

		return tui.New(cfg, locks).Run()
	},
}
