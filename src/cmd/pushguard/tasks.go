package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pushguard/src/internal/gateway"
	"pushguard/src/internal/guard"
	"pushguard/src/internal/sanitize"
	"pushguard/src/internal/tasks"
)

var (
	toggleEnabled   bool
	editTimeRange   string
	editInitialSend string
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List and act on push tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, sanitized, with repaired fields marked",
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := openGateway()
		if err != nil {
			return err
		}
		defer gw.Close()

		records, report, err := gw.Client.ListTasks(cmd.Context())
		if err != nil {
			return err
		}
		out := struct {
			Tasks   []tasks.Record    `json:"tasks" yaml:"tasks"`
			Repairs []sanitize.Repair `json:"repairs" yaml:"repairs"`
		}{records, report.Repairs}
		return printOutput(out, func() error {
			return printTaskTable(records, report)
		})
	},
}

func printTaskTable(records []tasks.Record, report sanitize.Report) error {
	if len(records) == 0 {
		fmt.Println("No tasks")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tENABLED\tTIME RANGE\tFIRST SEND\tWEBHOOKS\tQUERIES\tREPAIRED")
	for i, r := range records {
		t := tasks.View(r)
		id := t.IDString()
		if id == "" {
			id = "-"
		}
		repaired := ""
		if report.Touched(i) {
			repaired = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\t%d\t%d\t%s\n", id, t.Name, t.Enabled, t.TimeRange, t.InitialSendTime, t.Webhooks, t.Queries, repaired)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if report.Len() > 0 {
		fmt.Printf("\n%d field(s) repaired in %d record(s)\n", report.Len(), len(records))
	}
	return nil
}

// guarded validates id before any request and journals the refusal the
// way the page guard does.
func guarded(ctx context.Context, gw *gateway.Gateway, intent guard.Intent, id string, fn func() error) error {
	if err := guard.ValidateID(id, true); err != nil {
		gw.RecordBlock(ctx, guard.NewBlock(intent, id, err))
		return fmt.Errorf("%s: %w", gw.Config.Guard.Message(intent), err)
	}
	return fn()
}

// findRecord looks id up in a fresh listing.
func findRecord(ctx context.Context, gw *gateway.Gateway, id string) (tasks.Record, error) {
	records, _, err := gw.Client.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if tasks.View(r).IDString() == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("task %s not found", id)
}

func taskAction(intent guard.Intent, done string, fn func(ctx context.Context, gw *gateway.Gateway, id string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		gw, err := openGateway()
		if err != nil {
			return err
		}
		defer gw.Close()

		id := args[0]
		ctx := cmd.Context()
		if err := guarded(ctx, gw, intent, id, func() error { return fn(ctx, gw, id) }); err != nil {
			return err
		}
		fmt.Printf("Task %s %s\n", id, done)
		return nil
	}
}

var tasksDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: taskAction(guard.IntentDelete, "deleted", func(ctx context.Context, gw *gateway.Gateway, id string) error {
		return gw.Client.DeleteTask(ctx, id)
	}),
}

var tasksToggleCmd = &cobra.Command{
	Use:   "toggle ID",
	Short: "Flip a task's enabled state, or set it with --enabled",
	Args:  cobra.ExactArgs(1),
}

var tasksRunCmd = &cobra.Command{
	Use:   "run ID",
	Short: "Send a task now",
	Args:  cobra.ExactArgs(1),
	RunE: taskAction(guard.IntentEdit, "triggered", func(ctx context.Context, gw *gateway.Gateway, id string) error {
		return gw.Client.RunTask(ctx, id)
	}),
}

var tasksEditCmd = &cobra.Command{
	Use:   "edit ID",
	Short: "Change a task's time range or first send time",
	Args:  cobra.ExactArgs(1),
}

func init() {
	tasksToggleCmd.RunE = taskAction(guard.IntentEdit, "updated", func(ctx context.Context, gw *gateway.Gateway, id string) error {
		enabled := toggleEnabled
		if !tasksToggleCmd.Flags().Changed("enabled") {
			rec, err := findRecord(ctx, gw, id)
			if err != nil {
				return err
			}
			enabled = !tasks.View(rec).Enabled
		}
		return gw.Client.ToggleTask(ctx, id, enabled)
	})
	tasksEditCmd.RunE = taskAction(guard.IntentEdit, "updated", func(ctx context.Context, gw *gateway.Gateway, id string) error {
		if editTimeRange == "" && editInitialSend == "" {
			return fmt.Errorf("nothing to change, pass --time-range or --initial-send-time")
		}
		rec, err := findRecord(ctx, gw, id)
		if err != nil {
			return err
		}
		if editTimeRange != "" {
			rec[tasks.FieldTimeRange] = editTimeRange
		}
		if editInitialSend != "" {
			rec[tasks.FieldInitialSendTime] = editInitialSend
		}
		return gw.Client.UpdateTask(ctx, id, rec)
	})

	tasksToggleCmd.Flags().BoolVar(&toggleEnabled, "enabled", false, "Set the enabled state instead of flipping it")
	tasksEditCmd.Flags().StringVar(&editTimeRange, "time-range", "", "New time range, e.g. 30m or 2h")
	tasksEditCmd.Flags().StringVar(&editInitialSend, "initial-send-time", "", "New first send time, HH:MM")

	tasksCmd.AddCommand(tasksListCmd, tasksDeleteCmd, tasksToggleCmd, tasksRunCmd, tasksEditCmd)
	rootCmd.AddCommand(tasksCmd)
}
