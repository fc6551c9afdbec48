package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sheetsync/custsync/internal/record"
	"github.com/sheetsync/custsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Upsert every customer record into the sheet",
	Long: `Perform a full sync from the store directory to the sheet.

Every {customerId}.json file is reconciled as an update: its row is
overwritten when the customer id is found in the key column and appended
otherwise. Rows of customers that no longer have a file are left alone.

Unreadable files are reported and skipped. The command fails when any
customer could not be written.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		records, skipped, err := record.ReadDir(cfg.Store.Dir)
		if err != nil {
			return err
		}
		for _, serr := range skipped {
			fmt.Fprintf(out, "%s %v\n", ui.RenderWarn("⚠"), serr)
		}

		rt, err := newSyncRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		fmt.Fprintf(out, "%s Syncing %d customers from %s...\n", ui.RenderAccent("→"), len(records), cfg.Store.Dir)
		stats, err := rt.reconciler.FullSync(ctx, records, cfg.Sync.Workers)
		if err != nil {
			return err
		}

		marker := ui.RenderPass("✓")
		if stats.Failed > 0 {
			marker = ui.RenderFail("✗")
		}
		fmt.Fprintf(out, "%s Sync complete in %v\n", marker, stats.Duration.Round(time.Millisecond))
		ui.Pairs(out,
			[2]string{"appended", fmt.Sprint(stats.Appended)},
			[2]string{"updated", fmt.Sprint(stats.Updated)},
			[2]string{"failed", fmt.Sprint(stats.Failed)},
		)
		for _, id := range stats.FailedIDs {
			fmt.Fprintf(out, "  %s %s\n", ui.RenderFail("✗"), ui.RenderAccent(id))
		}
		if stats.Failed > 0 {
			return errFailed
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
