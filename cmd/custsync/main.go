// Command custsync mirrors customer records into a spreadsheet.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/sheetsync/custsync/internal/config"
	"github.com/sheetsync/custsync/internal/logging"
	"github.com/sheetsync/custsync/internal/ui"
)

// skipConfig marks commands that run without a loaded configuration.
const skipConfig = "skip-config"

var (
	configFile string
	workDir    string
	logLevel   string
	logJSON    bool

	cfg    *config.Config
	logger *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "custsync",
	Short: "Mirror customer records into a spreadsheet",
	Long: `custsync keeps one spreadsheet row per customer record.

Customer records live as {customerId}.json files in the store directory.
Every create, update or delete of a record is reconciled against the sheet:
the row keyed by the customer id is appended, overwritten or deleted.

Configuration is read from custsync.toml (see 'custsync init'), .env and
CUSTSYNC_* environment variables.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./custsync.toml)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "C", "", "run as if started in this directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "setup", Title: "Setup Commands:"},
		&cobra.Group{ID: "inspect", Title: "Inspection Commands:"},
	)
}

// setup resolves the working directory, loads the configuration and builds
// the logger before any command runs.
func setup(cmd *cobra.Command, _ []string) error {
	ui.SetOutput(cmd.OutOrStdout())

	dir, err := baseDir()
	if err != nil {
		return err
	}
	workDir = dir

	lcfg := logging.DefaultConfig()
	if cmd.Annotations[skipConfig] == "" {
		file := configFile
		if file != "" && !filepath.IsAbs(file) {
			file = filepath.Join(dir, file)
		}
		cfg, err = config.Load(config.LoadOptions{File: file, Dir: dir})
		if err != nil {
			return err
		}
		lcfg = cfg.LoggingConfig()
	}

	if cmd.Flags().Changed("log-level") {
		lcfg.Level = logLevel
	}
	if logJSON {
		lcfg.JSON = true
	}
	logger = logging.New(lcfg)
	return nil
}

// baseDir returns the absolute -C directory, or the working directory.
func baseDir() (string, error) {
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		return wd, nil
	}
	dir, err := filepath.Abs(workDir)
	if err != nil {
		return "", fmt.Errorf("invalid directory %q: %w", workDir, err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("directory %s does not exist", dir)
	}
	return dir, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
