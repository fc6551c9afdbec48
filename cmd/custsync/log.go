package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/sheetsync/custsync/internal/journal"
	"github.com/sheetsync/custsync/internal/ui"
)

var logCmd = &cobra.Command{
	Use:     "log",
	GroupID: "inspect",
	Short:   "List recorded reconciliation passes",
	Long: `List passes from the journal, newest first.

--since accepts an RFC3339 time, a Go duration counted back from now
("90m", "48h"), or a natural expression ("yesterday", "last monday").

Examples:
  custsync log --limit 20
  custsync log --customer cust-42 --since 48h
  custsync log --failed --since yesterday`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		customer, _ := cmd.Flags().GetString("customer")
		sinceText, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")
		failedOnly, _ := cmd.Flags().GetBool("failed")

		filter := journal.Filter{CustomerID: customer, Limit: limit}
		if failedOnly {
			filter.Status = "failed"
		}
		if sinceText != "" {
			since, err := parseSince(sinceText, time.Now())
			if err != nil {
				return err
			}
			filter.Since = since
		}

		j, err := openJournal(ctx)
		if err != nil {
			return err
		}
		defer j.Close()

		entries, err := j.Recent(ctx, filter)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, "No passes recorded")
			return nil
		}
		for _, e := range entries {
			row := ""
			if e.Row > 0 {
				row = fmt.Sprintf(" row %d", e.Row)
			}
			fmt.Fprintf(out, "%s %s %-9s %s%s %s\n",
				ui.Status(e.Status),
				ui.RenderMuted(e.StartedAt.Local().Format("2006-01-02 15:04:05")),
				e.Op,
				ui.RenderAccent(e.CustomerID),
				row,
				ui.RenderMuted(e.Duration.String()),
			)
			if e.Error != "" {
				fmt.Fprintf(out, "    %s\n", ui.RenderFail(e.Error))
			}
		}
		return nil
	},
}

// parseSince resolves an RFC3339 time, a duration back from now, or a
// natural language expression.
func parseSince(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(text); err == nil {
		if d < 0 {
			d = -d
		}
		return now.Add(-d), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: not a time, duration or date expression", text)
	}
	return r.Time, nil
}

func init() {
	logCmd.Flags().String("customer", "", "only passes for this customer id")
	logCmd.Flags().String("since", "", "only passes after this time")
	logCmd.Flags().Int("limit", 50, "maximum number of passes (0 = all)")
	logCmd.Flags().Bool("failed", false, "only failed passes")
	rootCmd.AddCommand(logCmd)
}
