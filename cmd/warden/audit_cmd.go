package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/warden/internal/audit"
)

var (
	auditTailCount int
	auditTailType  string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Read the session audit trail",
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := operatorConfig()
		if err != nil {
			return err
		}
		events, err := audit.Tail(cfg.AuditLogPath(), auditTailCount, audit.EventType(auditTailType))
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tTYPE\tALLOWED\tDETAIL")
		for _, ev := range events {
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\n",
				ev.Timestamp.Format(time.RFC3339), ev.Type, ev.Allowed, eventDetail(ev))
		}
		return w.Flush()
	},
}

// eventDetail picks the most informative payload field for the one-line view.
func eventDetail(ev audit.Event) string {
	for _, key := range []string{"command", "path", "session_id", "status"} {
		if v, ok := ev.Payload[key]; ok {
			return truncateText(fmt.Sprintf("%v", v), 70)
		}
	}
	if ev.Reason != "" {
		return truncateText(ev.Reason, 70)
	}
	return ""
}

func init() {
	auditTailCmd.Flags().IntVarP(&auditTailCount, "count", "n", 20, "number of events to show")
	auditTailCmd.Flags().StringVar(&auditTailType, "type", "", "only show events of this type (e.g. command_blocked)")

	auditCmd.AddCommand(auditTailCmd)
}
