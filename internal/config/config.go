// Package config loads custsync settings.
//
// Sources, lowest precedence first: built-in defaults, the config file
// (custsync.toml in the working directory or $XDG_CONFIG_HOME/custsync),
// a .env file in the working directory, then CUSTSYNC_* environment
// variables (CUSTSYNC_SHEET_SPREADSHEET_ID for sheet.spreadsheet_id).
//
// A loaded Config is read-only; every component receives a copy of the
// values it needs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sheetsync/custsync/internal/daemon"
	"github.com/sheetsync/custsync/internal/logging"
	"github.com/sheetsync/custsync/internal/record"
	"github.com/sheetsync/custsync/internal/sheet"
	custsync "github.com/sheetsync/custsync/internal/sync"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// FileName is the config file name searched for without --config.
const FileName = "custsync.toml"

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "CUSTSYNC"

// Config is the complete custsync configuration.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Sheet     SheetConfig     `mapstructure:"sheet"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// StoreConfig locates the customer record directory.
type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

// SheetConfig selects the row-store backend and the sheet layout.
type SheetConfig struct {
	Backend         string   `mapstructure:"backend"`
	SpreadsheetID   string   `mapstructure:"spreadsheet_id"`
	CredentialsFile string   `mapstructure:"credentials_file"`
	Name            string   `mapstructure:"name"`
	ID              int64    `mapstructure:"id"`
	KeyColumn       string   `mapstructure:"key_column"`
	LastColumn      string   `mapstructure:"last_column"`
	XLSXPath        string   `mapstructure:"xlsx_path"`
	Columns         []string `mapstructure:"columns"`
	KeyHeader       string   `mapstructure:"key_header"`
}

// SyncConfig tunes the reconciler.
type SyncConfig struct {
	SerializePerCustomer bool `mapstructure:"serialize_per_customer"`
	Workers              int  `mapstructure:"workers"`
}

// DaemonConfig tunes the watcher daemon.
type DaemonConfig struct {
	WatchMode     string        `mapstructure:"watch_mode"`
	Debounce      time.Duration `mapstructure:"debounce"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RetryAttempts uint64        `mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
}

// JournalConfig locates the pass journal. An empty path disables it.
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// DashboardConfig configures the daemon's HTTP listener. An empty address
// disables it.
type DashboardConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig mirrors logging.Config.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	JSON       bool   `mapstructure:"json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	layout := sheet.DefaultLayout()
	dcfg := daemon.DefaultConfig()
	lcfg := logging.DefaultConfig()
	return &Config{
		Store: StoreConfig{Dir: "customers"},
		Sheet: SheetConfig{
			Backend:    sheet.BackendXLSX,
			Name:       layout.Sheet,
			ID:         layout.SheetID,
			KeyColumn:  layout.KeyColumn,
			LastColumn: layout.LastColumn,
			XLSXPath:   "customers.xlsx",
			KeyHeader:  record.DefaultKeyHeader,
		},
		Sync: SyncConfig{SerializePerCustomer: true, Workers: 4},
		Daemon: DaemonConfig{
			WatchMode:    dcfg.WatchMode,
			Debounce:     dcfg.DebounceInterval,
			PollInterval: dcfg.PollInterval,
			RetryBackoff: dcfg.RetryBackoff,
		},
		Journal: JournalConfig{Path: filepath.Join(".custsync", "journal.db")},
		Log: LogConfig{
			Level:      lcfg.Level,
			MaxSizeMB:  lcfg.MaxSizeMB,
			MaxBackups: lcfg.MaxBackups,
			MaxAgeDays: lcfg.MaxAgeDays,
		},
	}
}

// LoadOptions controls where Load looks.
type LoadOptions struct {
	// File is an explicit config file; it must exist when set.
	File string
	// Dir is the working directory. Relative paths in the config are
	// resolved against it. Defaults to the process working directory.
	Dir string
}

// Load reads, resolves and validates the configuration.
func Load(opts LoadOptions) (*Config, error) {
	dir := opts.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}

	envFile := filepath.Join(dir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		// Existing environment variables win over .env entries.
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("toml")
		v.AddConfigPath(dir)
		if xdg, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(xdg, "custsync"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.resolve(dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, def *Config) {
	for key, value := range flatten("", def.Map()) {
		v.SetDefault(key, value)
	}
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			for sk, sv := range flatten(key, sub) {
				out[sk] = sv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// resolve makes relative paths absolute against dir.
func (c *Config) resolve(dir string) {
	for _, p := range []*string{&c.Store.Dir, &c.Sheet.XLSXPath, &c.Sheet.CredentialsFile, &c.Journal.Path, &c.Log.File} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// Validate checks the configuration for values no component could use.
func (c *Config) Validate() error {
	var problems []string
	if c.Store.Dir == "" {
		problems = append(problems, "store.dir is required")
	}

	switch c.Sheet.Backend {
	case sheet.BackendGoogle:
		if c.Sheet.SpreadsheetID == "" {
			problems = append(problems, "sheet.spreadsheet_id is required for the google backend")
		}
	case sheet.BackendXLSX:
		if c.Sheet.XLSXPath == "" {
			problems = append(problems, "sheet.xlsx_path is required for the xlsx backend")
		}
	case sheet.BackendMemory:
	default:
		problems = append(problems, fmt.Sprintf("sheet.backend %q is not one of google, xlsx, memory", c.Sheet.Backend))
	}

	layout := c.Layout()
	if err := layout.Validate(); err != nil {
		problems = append(problems, "sheet layout: "+err.Error())
	} else if cols := record.Columns(c.Sheet.Columns); cols.Declared() {
		if err := cols.Validate(); err != nil {
			problems = append(problems, "sheet.columns: "+err.Error())
		} else if len(cols)+1 > layout.Width() {
			problems = append(problems, fmt.Sprintf("sheet.columns: %d columns plus the key do not fit %s:%s",
				len(cols), layout.KeyColumn, layout.LastColumn))
		}
	}
	if c.Sheet.KeyHeader == "" {
		problems = append(problems, "sheet.key_header is required")
	}

	if c.Sync.Workers < 1 {
		problems = append(problems, "sync.workers must be at least 1")
	}
	switch c.Daemon.WatchMode {
	case daemon.WatchFSNotify, daemon.WatchPoll:
	default:
		problems = append(problems, fmt.Sprintf("daemon.watch_mode %q is not one of fsnotify, poll", c.Daemon.WatchMode))
	}
	if c.Daemon.Debounce < 0 || c.Daemon.PollInterval <= 0 || c.Daemon.RetryBackoff < 0 {
		problems = append(problems, "daemon intervals must not be negative and poll_interval must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Layout returns the sheet layout.
func (c *Config) Layout() sheet.Layout {
	return sheet.Layout{
		Sheet:      c.Sheet.Name,
		SheetID:    c.Sheet.ID,
		KeyColumn:  strings.ToUpper(c.Sheet.KeyColumn),
		LastColumn: strings.ToUpper(c.Sheet.LastColumn),
	}
}

// SheetOptions returns the options for sheet.Open.
func (c *Config) SheetOptions() sheet.Options {
	return sheet.Options{
		Backend:         c.Sheet.Backend,
		Layout:          c.Layout(),
		Header:          record.Columns(c.Sheet.Columns).Header(c.Sheet.KeyHeader),
		SpreadsheetID:   c.Sheet.SpreadsheetID,
		CredentialsFile: c.Sheet.CredentialsFile,
		XLSXPath:        c.Sheet.XLSXPath,
	}
}

// SyncOptions returns the reconciler options. Listeners and logger are
// left for the caller.
func (c *Config) SyncOptions() *custsync.Options {
	opts := custsync.DefaultOptions()
	opts.Columns = record.Columns(c.Sheet.Columns)
	opts.KeyHeader = c.Sheet.KeyHeader
	opts.SerializePerCustomer = c.Sync.SerializePerCustomer
	return opts
}

// DaemonConfig returns the daemon settings. Logger and hooks are left for
// the caller.
func (c *Config) DaemonConfig() *daemon.Config {
	d := daemon.DefaultConfig()
	d.WatchMode = c.Daemon.WatchMode
	d.DebounceInterval = c.Daemon.Debounce
	d.PollInterval = c.Daemon.PollInterval
	d.Workers = c.Sync.Workers
	d.RetryAttempts = c.Daemon.RetryAttempts
	d.RetryBackoff = c.Daemon.RetryBackoff
	return d
}

// LoggingConfig returns the logging settings.
func (c *Config) LoggingConfig() *logging.Config {
	return &logging.Config{
		Level:      c.Log.Level,
		JSON:       c.Log.JSON,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

// Map returns the configuration as nested maps keyed by config key, with
// durations as strings. It is the shape written by init and printed by
// config show.
func (c *Config) Map() map[string]any {
	columns := c.Sheet.Columns
	if columns == nil {
		columns = []string{}
	}
	return map[string]any{
		"store": map[string]any{
			"dir": c.Store.Dir,
		},
		"sheet": map[string]any{
			"backend":          c.Sheet.Backend,
			"spreadsheet_id":   c.Sheet.SpreadsheetID,
			"credentials_file": c.Sheet.CredentialsFile,
			"name":             c.Sheet.Name,
			"id":               c.Sheet.ID,
			"key_column":       c.Sheet.KeyColumn,
			"last_column":      c.Sheet.LastColumn,
			"xlsx_path":        c.Sheet.XLSXPath,
			"columns":          columns,
			"key_header":       c.Sheet.KeyHeader,
		},
		"sync": map[string]any{
			"serialize_per_customer": c.Sync.SerializePerCustomer,
			"workers":                c.Sync.Workers,
		},
		"daemon": map[string]any{
			"watch_mode":     c.Daemon.WatchMode,
			"debounce":       c.Daemon.Debounce.String(),
			"poll_interval":  c.Daemon.PollInterval.String(),
			"retry_attempts": c.Daemon.RetryAttempts,
			"retry_backoff":  c.Daemon.RetryBackoff.String(),
		},
		"journal": map[string]any{
			"path": c.Journal.Path,
		},
		"dashboard": map[string]any{
			"addr": c.Dashboard.Addr,
		},
		"log": map[string]any{
			"level":        c.Log.Level,
			"json":         c.Log.JSON,
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
		},
	}
}
