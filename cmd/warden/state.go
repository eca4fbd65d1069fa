package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/warden/internal/models"
	"github.com/fentz26/warden/internal/session"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and steer the session state machine",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the session state record",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := operatorConfig()
		if err != nil {
			return err
		}
		st := session.Read(cfg.StateDir())

		fmt.Printf("Desired state: %s\n", st.DesiredState)
		fmt.Printf("Current state: %s\n", st.CurrentState)
		fmt.Printf("Set by:        %s\n", st.SetBy)
		fmt.Printf("Timestamp:     %s\n", st.Timestamp.Format(time.RFC3339))
		if st.RecoveryPoint != nil {
			fmt.Printf("Recovery:      %s\n", st.RecoveryPoint.Commit)
		}
		if st.Note != "" {
			fmt.Printf("Note:          %s\n", st.Note)
		}
		return nil
	},
}

var (
	stateSetBy   string
	stateSetNote string
)

var stateSetCmd = &cobra.Command{
	Use:   "set <phase>",
	Short: "Set the desired state (continuous, run_once, run_cleanup, pause, terminated)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := operatorConfig()
		if err != nil {
			return err
		}
		phase := models.SessionPhase(args[0])
		if err := session.SetDesired(cfg.StateDir(), phase, stateSetBy, stateSetNote); err != nil {
			return err
		}
		fmt.Printf("Desired state set to %s\n", phase)
		return nil
	},
}

func init() {
	stateSetCmd.Flags().StringVar(&stateSetBy, "by", "operator", "who is making the change")
	stateSetCmd.Flags().StringVar(&stateSetNote, "note", "", "reason for the change")

	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateSetCmd)
}
