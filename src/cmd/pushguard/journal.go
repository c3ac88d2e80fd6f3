package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	journalLimit int
	journalPrune time.Duration
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show repaired fields and blocked actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := openGateway()
		if err != nil {
			return err
		}
		defer gw.Close()
		if gw.Journal == nil {
			return fmt.Errorf("journal is disabled (journal.enabled: false)")
		}

		ctx := cmd.Context()
		if journalPrune > 0 {
			n, err := gw.Journal.Prune(ctx, time.Now().Add(-journalPrune))
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "pruned %d event(s)\n", n)
		}

		events, err := gw.Journal.List(ctx, journalLimit)
		if err != nil {
			return err
		}
		return printOutput(events, func() error {
			if len(events) == 0 {
				fmt.Println("Journal is empty")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "AT\tKIND\tTASK\tDETAIL")
			for _, ev := range events {
				detail := ev.Detail
				if ev.Field != "" {
					detail = fmt.Sprintf("%s: %s -> %s", ev.Field, ev.From, ev.To)
				} else if ev.Intent != "" {
					detail = ev.Intent + ": " + ev.Detail
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.At.Format(time.DateTime), ev.Kind, ev.TaskID, detail)
			}
			return w.Flush()
		})
	},
}

func init() {
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 50, "Number of events to show (0 for all)")
	journalCmd.Flags().DurationVar(&journalPrune, "prune-older-than", 0, "Delete events older than this first, e.g. 720h")
	rootCmd.AddCommand(journalCmd)
}
