package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sheetsync/custsync/internal/trigger"
	"github.com/sheetsync/custsync/internal/ui"
	custsync "github.com/sheetsync/custsync/internal/sync"
)

var applyCmd = &cobra.Command{
	Use:     "apply <customerId> [event.json|-]",
	GroupID: "sync",
	Short:   "Reconcile a single change event",
	Long: `Run one reconciliation pass for a change event.

The event has the same shape the HTTP trigger accepts:

  {"before": {...} | null, "after": {...} | null}

It is read from the named file, or from stdin when the file is "-" or
omitted. The store directory is not consulted.

Examples:
  custsync apply cust-42 event.json
  echo '{"before": {}, "after": null}' | custsync apply cust-42`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id := args[0]

		var (
			data []byte
			err  error
		)
		if len(args) < 2 || args[1] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			path := args[1]
			if !filepath.IsAbs(path) {
				path = filepath.Join(workDir, path)
			}
			// #nosec G304 - event path from CLI
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		ev, err := trigger.DecodeEvent(id, data)
		if err != nil {
			return fmt.Errorf("invalid event: %w", err)
		}

		var pass custsync.Pass
		rt, err := newSyncRuntime(ctx, custsync.ListenerFunc(func(p custsync.Pass) { pass = p }))
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.reconciler.OnCustomerChange(ctx, ev); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch pass.Operation.Kind {
		case custsync.OpNoop:
			fmt.Fprintf(out, "%s %s: nothing to do\n", ui.RenderPass("✓"), ui.RenderAccent(id))
		case custsync.OpAppend:
			fmt.Fprintf(out, "%s %s: append\n", ui.RenderPass("✓"), ui.RenderAccent(id))
		default:
			fmt.Fprintf(out, "%s %s: %s row %d\n", ui.RenderPass("✓"), ui.RenderAccent(id), pass.Operation.Kind, pass.Operation.Row)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)
}
