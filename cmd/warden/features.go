package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fentz26/warden/internal/features"
	"github.com/fentz26/warden/internal/models"
)

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Inspect and edit the feature list",
}

var featuresListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tasks with derived status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := operatorConfig()
		if err != nil {
			return err
		}
		list, err := features.Load(cfg.FeatureListPath())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tRETRIES\tDESCRIPTION")
		for _, t := range list.Tasks {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				t.ID, t.Status(cfg.MaxRetriesPerTask), t.RetryCount, truncateText(t.Description, 60))
		}
		return w.Flush()
	},
}

var featuresShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one task in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := operatorConfig()
		if err != nil {
			return err
		}
		list, err := features.Load(cfg.FeatureListPath())
		if err != nil {
			return err
		}
		task, err := list.Get(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("ID:          %s\n", task.ID)
		fmt.Printf("Status:      %s\n", task.Status(cfg.MaxRetriesPerTask))
		fmt.Printf("Retries:     %d\n", task.RetryCount)
		fmt.Printf("Description: %s\n", task.Description)
		if task.Steps != "" {
			fmt.Printf("Steps:\n%s\n", task.Steps)
		}
		return nil
	},
}

var (
	addTaskDescription string
	addTaskSteps       string
)

var featuresAddCmd = &cobra.Command{
	Use:   "add <task-id>",
	Short: "Append a new pending task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := operatorConfig()
		if err != nil {
			return err
		}
		list, err := features.Init(cfg.FeatureListPath())
		if err != nil {
			return err
		}
		task := models.Task{
			ID:          args[0],
			Description: addTaskDescription,
			Steps:       addTaskSteps,
		}
		if err := list.Append(task); err != nil {
			return err
		}
		fmt.Printf("Added task %s\n", task.ID)
		return nil
	},
}

var featuresResetCmd = &cobra.Command{
	Use:   "reset <task-id>",
	Short: "Clear a task's retry counter so the harness picks it up again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := operatorConfig()
		if err != nil {
			return err
		}
		list, err := features.Load(cfg.FeatureListPath())
		if err != nil {
			return err
		}
		if err := list.ResetRetries(args[0]); err != nil {
			return err
		}
		fmt.Printf("Reset retries for task %s\n", args[0])
		return nil
	},
}

func init() {
	featuresAddCmd.Flags().StringVar(&addTaskDescription, "description", "", "one-line task description")
	featuresAddCmd.Flags().StringVar(&addTaskSteps, "steps", "", "verification steps for the task")
	featuresAddCmd.MarkFlagRequired("description")

	featuresCmd.AddCommand(featuresListCmd)
	featuresCmd.AddCommand(featuresShowCmd)
	featuresCmd.AddCommand(featuresAddCmd)
	featuresCmd.AddCommand(featuresResetCmd)
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
