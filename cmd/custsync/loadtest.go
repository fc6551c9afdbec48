package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sheetsync/custsync/internal/loadtest"
	"github.com/sheetsync/custsync/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "inspect",
	Short:   "Measure reconciliation under concurrent change events",
	Long: `Drive random create, update and delete events at a reconciler backed
by an in-memory sheet with simulated call latency.

Use --serialize=false to see what per-customer serialization prevents:
overlapping creates for one customer both miss in the key column and
append duplicate rows.

The configured sheet is never touched.`,
	Annotations: map[string]string{skipConfig: "true"},
	Args:        cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := loadtest.DefaultOptions()
		opts.Customers, _ = cmd.Flags().GetInt("customers")
		opts.Events, _ = cmd.Flags().GetInt("events")
		opts.Concurrency, _ = cmd.Flags().GetInt("concurrency")
		opts.Latency, _ = cmd.Flags().GetDuration("latency")
		opts.Serialize, _ = cmd.Flags().GetBool("serialize")
		opts.DeleteRatio, _ = cmd.Flags().GetFloat64("delete-ratio")
		opts.Seed, _ = cmd.Flags().GetUint64("seed")

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %d events over %d customers, %d in flight, %v per call (serialize=%v)\n",
			ui.RenderAccent("→"), opts.Events, opts.Customers, opts.Concurrency, opts.Latency, opts.Serialize)

		result, err := loadtest.Run(cmd.Context(), opts)
		if err != nil {
			return err
		}

		result.Latency.Print(out)
		marker := ui.RenderPass("✓")
		if result.DuplicateRows > 0 {
			marker = ui.RenderWarn("⚠")
		}
		fmt.Fprintf(out, "%s %d rows, %d duplicate rows, %d row-store calls in %v\n",
			marker, result.Rows, result.DuplicateRows, result.RowStoreCalls, result.Elapsed)
		return nil
	},
}

func init() {
	def := loadtest.DefaultOptions()
	loadtestCmd.Flags().Int("customers", def.Customers, "distinct customer ids")
	loadtestCmd.Flags().Int("events", def.Events, "total change events")
	loadtestCmd.Flags().Int("concurrency", def.Concurrency, "events in flight at once")
	loadtestCmd.Flags().Duration("latency", def.Latency, "simulated latency per row-store call")
	loadtestCmd.Flags().Bool("serialize", def.Serialize, "serialize passes per customer")
	loadtestCmd.Flags().Float64("delete-ratio", def.DeleteRatio, "share of events that delete the customer")
	loadtestCmd.Flags().Uint64("seed", 0, "random seed (0 = time based)")
	rootCmd.AddCommand(loadtestCmd)
}
