package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sheetsync/custsync/internal/daemon"
	"github.com/sheetsync/custsync/internal/dashboard"
	"github.com/sheetsync/custsync/internal/logging"
	"github.com/sheetsync/custsync/internal/metrics"
	"github.com/sheetsync/custsync/internal/trigger"
	"github.com/sheetsync/custsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Watch the store directory and reconcile every change (foreground)",
	Long: `Start the sync daemon in the foreground.

The daemon will:
  1. Perform a full sync of the store directory
  2. Watch the directory for created, modified and deleted customer files
  3. Debounce bursts of writes and reconcile each changed customer once
  4. Serve the dashboard, /metrics and the HTTP change trigger when
     dashboard.addr is set

Stop it with Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		collector := metrics.New()
		rt, err := newSyncRuntime(ctx, collector)
		if err != nil {
			return err
		}
		defer rt.Close()

		dcfg := cfg.DaemonConfig()
		dcfg.Logger = logging.Component(logger, "daemon")
		dcfg.OnQueueChange = collector.SetPending

		var server *dashboard.Server
		if cfg.Dashboard.Addr != "" {
			server = dashboard.NewServer(&dashboard.Config{
				Addr:    cfg.Dashboard.Addr,
				Trigger: trigger.Handler(rt.reconciler.OnCustomerChange, logging.Component(logger, "trigger")),
				Metrics: collector.Handler(),
				Logger:  logging.Component(logger, "dashboard"),
			})
			handler := dashboard.NewHandler(server, logging.Component(logger, "dashboard"))
			rt.reconciler.AddListener(handler)
			dcfg.OnFullSync = handler.OnSyncComplete

			if err := server.Start(); err != nil {
				return err
			}
			defer func() {
				if err := server.Stop(); err != nil {
					logger.Warn("dashboard shutdown failed", "err", err)
				}
			}()
		}

		d, err := daemon.NewWithConfig(rt.reconciler, cfg.Store.Dir, dcfg)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "%s Starting custsync daemon...\n", ui.RenderAccent("→"))
		pairs := [][2]string{
			{"store", cfg.Store.Dir},
			{"sheet", cfg.Sheet.Backend + " " + cfg.Layout().Sheet},
			{"watch", dcfg.WatchMode},
		}
		if server != nil {
			pairs = append(pairs,
				[2]string{"dashboard", "http://" + server.Addr()},
				[2]string{"trigger", "http://" + server.Addr() + "/v1/customers/{customerId}/change"},
			)
		}
		if cfg.Journal.Path != "" {
			pairs = append(pairs, [2]string{"journal", cfg.Journal.Path})
		}
		ui.Pairs(out, pairs...)
		fmt.Fprintf(out, "\nPress Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			return fmt.Errorf("daemon stopped: %w", err)
		}
		fmt.Fprintf(out, "%s Daemon stopped\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
