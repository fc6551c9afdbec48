package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sheetsync/custsync/internal/config"
	"github.com/sheetsync/custsync/internal/sheet"
	"github.com/sheetsync/custsync/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "setup",
	Short:   "Write a custsync.toml in the working directory",
	Long: `Create custsync.toml with the default layout and an empty store directory.

On a terminal the backend and its location are asked for interactively;
pass --no-input (or run without a terminal) to take the flag values as is.

Examples:
  custsync init
  custsync init --backend google --spreadsheet-id 1AbC... --credentials sa.json
  custsync init --backend xlsx --xlsx-path out/customers.xlsx --no-input`,
	Annotations: map[string]string{skipConfig: "true"},
	Args:        cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		noInput, _ := cmd.Flags().GetBool("no-input")

		path := filepath.Join(workDir, config.FileName)
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		c := config.Default()
		c.Sheet.Backend, _ = cmd.Flags().GetString("backend")
		c.Sheet.SpreadsheetID, _ = cmd.Flags().GetString("spreadsheet-id")
		c.Sheet.CredentialsFile, _ = cmd.Flags().GetString("credentials")
		if cmd.Flags().Changed("xlsx-path") {
			c.Sheet.XLSXPath, _ = cmd.Flags().GetString("xlsx-path")
		}
		if cmd.Flags().Changed("store") {
			c.Store.Dir, _ = cmd.Flags().GetString("store")
		}

		if !noInput && term.IsTerminal(int(os.Stdin.Fd())) {
			if err := initForm(c).Run(); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return fmt.Errorf("init aborted")
				}
				return err
			}
		}

		if err := c.Validate(); err != nil {
			return err
		}

		var buf bytes.Buffer
		buf.WriteString("# custsync configuration. CUSTSYNC_<SECTION>_<KEY> environment\n")
		buf.WriteString("# variables override any value below.\n\n")
		if err := toml.NewEncoder(&buf).Encode(c.Map()); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}

		storeDir := c.Store.Dir
		if !filepath.IsAbs(storeDir) {
			storeDir = filepath.Join(workDir, storeDir)
		}
		if err := os.MkdirAll(storeDir, 0o755); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Wrote %s\n", ui.RenderPass("✓"), path)
		ui.Pairs(out,
			[2]string{"backend", c.Sheet.Backend},
			[2]string{"store", c.Store.Dir},
		)
		fmt.Fprintf(out, "\nAdd {customerId}.json files to the store, then run 'custsync sync'\n")
		return nil
	},
}

// initForm asks for the backend and where it lives, editing c in place.
func initForm(c *config.Config) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where should customer rows go?").
				Options(
					huh.NewOption("Local .xlsx workbook", sheet.BackendXLSX),
					huh.NewOption("Google Sheets", sheet.BackendGoogle),
				).
				Value(&c.Sheet.Backend),
			huh.NewInput().
				Title("Store directory").
				Description("Holds one {customerId}.json per customer").
				Value(&c.Store.Dir),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Workbook path").
				Value(&c.Sheet.XLSXPath),
		).WithHideFunc(func() bool { return c.Sheet.Backend != sheet.BackendXLSX }),
		huh.NewGroup(
			huh.NewInput().
				Title("Spreadsheet ID").
				Validate(func(s string) error {
					if s == "" {
						return errors.New("spreadsheet ID is required")
					}
					return nil
				}).
				Value(&c.Sheet.SpreadsheetID),
			huh.NewInput().
				Title("Service account credentials file").
				Description("Leave empty to use application default credentials").
				Value(&c.Sheet.CredentialsFile),
		).WithHideFunc(func() bool { return c.Sheet.Backend != sheet.BackendGoogle }),
	)
}

func init() {
	initCmd.Flags().String("backend", sheet.BackendXLSX, "sheet backend: xlsx or google")
	initCmd.Flags().String("spreadsheet-id", "", "Google spreadsheet ID")
	initCmd.Flags().String("credentials", "", "Google service account credentials file")
	initCmd.Flags().String("xlsx-path", "", "workbook path for the xlsx backend")
	initCmd.Flags().String("store", "", "store directory")
	initCmd.Flags().Bool("force", false, "overwrite an existing custsync.toml")
	initCmd.Flags().Bool("no-input", false, "never prompt")
	rootCmd.AddCommand(initCmd)
}
