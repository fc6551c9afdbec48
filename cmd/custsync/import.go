package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sheetsync/custsync/internal/migrate"
	"github.com/sheetsync/custsync/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "setup",
	Short:   "Import a customer export into the store directory",
	Long: `Write one {customerId}.json file per customer found in an export.

Accepted inputs:
  - a JSON export tree: {"customers": {"cust-42": {...}, ...}}
    (--path selects another sub-tree; a top-level id map also works)
  - JSONL: one object per line with an "id" or "customerId" field

Field order is kept. Existing customer files are left alone unless
--overwrite is given. Run 'custsync sync' afterwards to fill the sheet.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		path, _ := cmd.Flags().GetString("path")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		from := args[0]
		if !filepath.IsAbs(from) {
			from = filepath.Join(workDir, from)
		}

		result, err := migrate.Import(cmd.Context(), migrate.Options{
			From:      from,
			ToDir:     cfg.Store.Dir,
			Format:    format,
			Path:      path,
			DryRun:    dryRun,
			Overwrite: overwrite,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Fprintf(out, "%s %s %d customers (%s)\n", ui.RenderPass("✓"), verb, result.Customers, result.Format)
		ui.Pairs(out,
			[2]string{"written", fmt.Sprint(result.FilesWritten)},
			[2]string{"skipped", fmt.Sprint(result.Skipped)},
			[2]string{"store", cfg.Store.Dir},
		)
		for _, msg := range result.Errors {
			fmt.Fprintf(out, "  %s %s\n", ui.RenderWarn("⚠"), msg)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().String("format", migrate.FormatAuto, "input format: auto, json, jsonl")
	importCmd.Flags().String("path", migrate.DefaultPath, "gjson path of the customers object in a JSON export")
	importCmd.Flags().Bool("dry-run", false, "report what would be written")
	importCmd.Flags().Bool("overwrite", false, "replace existing customer files")
	rootCmd.AddCommand(importCmd)
}
