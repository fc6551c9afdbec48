package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sheetsync/custsync/internal/record"
	"github.com/sheetsync/custsync/internal/sheet"
	"github.com/sheetsync/custsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "inspect",
	Short:   "Show configuration, store and journal status",
	Long: `Display where custsync reads and writes, how many customer records
the store holds, and what the journal recorded in the last 24 hours.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		records, skipped, err := record.ReadDir(cfg.Store.Dir)
		if err != nil {
			return err
		}

		configFile := cfg.File
		if configFile == "" {
			configFile = "(defaults)"
		}
		fmt.Fprintf(out, "%s custsync status\n\n", ui.RenderAccent("●"))
		ui.Pairs(out,
			[2]string{"config", configFile},
			[2]string{"store", cfg.Store.Dir},
			[2]string{"customers", fmt.Sprintf("%d (%d unreadable)", len(records), len(skipped))},
			[2]string{"sheet", describeSheet()},
		)

		if cfg.Journal.Path == "" {
			fmt.Fprintf(out, "\n%s Journal disabled\n", ui.RenderWarn("⚠"))
			return nil
		}
		if _, err := os.Stat(cfg.Journal.Path); os.IsNotExist(err) {
			fmt.Fprintf(out, "\n%s No passes recorded yet\n", ui.RenderWarn("⚠"))
			fmt.Fprintf(out, "   Run 'custsync sync' to fill the sheet\n")
			return nil
		}

		j, err := openJournal(ctx)
		if err != nil {
			return err
		}
		defer j.Close()

		last, err := j.LastPass(ctx)
		if err != nil {
			return err
		}
		counts, err := j.Counts(ctx, time.Now().Add(-24*time.Hour))
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "\n%s Journal (%s)\n", ui.RenderAccent("●"), cfg.Journal.Path)
		if last != nil {
			ui.Pairs(out, [2]string{"last pass", fmt.Sprintf("%s %s %s %s",
				last.StartedAt.Local().Format("2006-01-02 15:04:05"), ui.Status(last.Status), last.CustomerID, last.Op)})
		}
		ok, failed := 0, 0
		for _, byStatus := range counts {
			ok += byStatus["ok"]
			failed += byStatus["failed"]
		}
		ui.Pairs(out,
			[2]string{"last 24h", fmt.Sprintf("%d ok, %d failed", ok, failed)},
			[2]string{"appended", fmt.Sprint(counts["append"]["ok"])},
			[2]string{"updated", fmt.Sprint(counts["overwrite"]["ok"])},
			[2]string{"deleted", fmt.Sprint(counts["delete"]["ok"])},
		)
		return nil
	},
}

func describeSheet() string {
	layout := cfg.Layout()
	span := fmt.Sprintf("%s %s:%s", layout.Sheet, layout.KeyColumn, layout.LastColumn)
	switch cfg.Sheet.Backend {
	case sheet.BackendGoogle:
		return fmt.Sprintf("google %s, %s", cfg.Sheet.SpreadsheetID, span)
	case sheet.BackendXLSX:
		return fmt.Sprintf("xlsx %s, %s", cfg.Sheet.XLSXPath, span)
	default:
		return fmt.Sprintf("%s, %s", cfg.Sheet.Backend, span)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
