package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pushguard/src/internal/config"
	"pushguard/src/internal/dom"
	"pushguard/src/internal/dom/htmldom"
	"pushguard/src/internal/guard"
)

var errAuditBlocked = errors.New("page has controls that would be blocked")

type auditRow struct {
	Button  string `json:"button" yaml:"button"`
	Intent  string `json:"intent" yaml:"intent"`
	ID      string `json:"id" yaml:"id"`
	Blocked bool   `json:"blocked" yaml:"blocked"`
	Reason  string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

type auditReport struct {
	Buttons      []auditRow `json:"buttons" yaml:"buttons"`
	Instrumented int        `json:"instrumented" yaml:"instrumented"`
	Blocked      int        `json:"blocked" yaml:"blocked"`
}

var auditStrict bool

var auditCmd = &cobra.Command{
	Use:   "audit FILE.html",
	Short: "Report which buttons of a saved page the guard would block",
	Long: `Parse a saved copy of the console page, instrument it with the same
rules the in-page guard uses and print every button with its intent, the
task id it resolves to and whether a click would be blocked.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		doc, err := htmldom.Parse(f)
		if err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}
		rep := audit(doc, cfg.Guard)

		if err := printOutput(rep, func() error { return printAuditTable(rep) }); err != nil {
			return err
		}
		if auditStrict && rep.Blocked > 0 {
			return errAuditBlocked
		}
		return nil
	},
}

// audit instruments doc the way the page guard would and checks every
// button.
func audit(doc *htmldom.Document, opts guard.Options) auditReport {
	inst := guard.NewInstaller(doc, nil, opts, nil)
	rep := auditReport{Instrumented: inst.Scan()}

	for _, el := range doc.QueryAll("button") {
		intent, id, err := inst.Check(el)
		row := auditRow{Button: describe(el), Intent: intent.String(), ID: id}
		if err != nil {
			row.Blocked, row.Reason = true, err.Error()
			rep.Blocked++
		}
		rep.Buttons = append(rep.Buttons, row)
	}
	return rep
}

func describe(el dom.Element) string {
	label := el.Text()
	if label == "" {
		label = "." + el.ClassName()
	}
	if id, ok := el.Attr("id"); ok && id != "" {
		return "#" + id + " " + label
	}
	return label
}

func printAuditTable(rep auditReport) error {
	rows := rep.Buttons
	if len(rows) == 0 {
		fmt.Println("No buttons found")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BUTTON\tINTENT\tID\tBLOCKED\tREASON")
	for _, r := range rows {
		id := r.ID
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", r.Button, r.Intent, id, r.Blocked, r.Reason)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d of %d button(s) guarded, %d would be blocked\n", rep.Instrumented, len(rows), rep.Blocked)
	return nil
}

func init() {
	auditCmd.Flags().BoolVar(&auditStrict, "strict", false, "Exit non-zero when any control would be blocked")
	rootCmd.AddCommand(auditCmd)
}
