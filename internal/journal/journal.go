// Package journal records reconciliation passes in an embedded SQLite
// database.
//
// The journal is an audit trail, not a source of truth: the sheet is never
// rebuilt from it. It backs `custsync status` and `custsync log`.
//
// Architecture:
//   - Database file: journal.path (e.g. .custsync/journal.db)
//   - WAL mode: the daemon writes while CLI commands read
//   - Schema: one passes table, indexed by customer and start time
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/sheetsync/custsync/internal/logging"
	custsync "github.com/sheetsync/custsync/internal/sync"
)

// timeLayout keeps started_at lexically sortable.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one journaled pass.
type Entry struct {
	ID         string
	CustomerID string
	Op         string
	Row        int
	Status     string
	Error      string
	StartedAt  time.Time
	Duration   time.Duration
}

// EntryFromPass converts a reconciliation pass to a journal entry.
func EntryFromPass(p custsync.Pass) Entry {
	e := Entry{
		ID:         uuid.NewString(),
		CustomerID: p.Event.CustomerID,
		Op:         p.Operation.Kind.String(),
		Row:        p.Operation.Row,
		Status:     p.Status(),
		StartedAt:  p.Started,
		Duration:   p.Duration,
	}
	if p.Err != nil {
		e.Error = p.Err.Error()
	}
	return e
}

// Journal wraps the SQLite connection.
type Journal struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

// Open creates or opens the journal at path.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	j, err := journal.Open(".custsync/journal.db")
//	if err != nil {
//	    return err
//	}
//	defer j.Close()
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	j := &Journal{conn: conn, path: path, logger: logging.Component(nil, "journal")}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = j.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return j, nil
}

// SetLogger replaces the logger used for listener failures.
func (j *Journal) SetLogger(l *log.Logger) {
	if l != nil {
		j.logger = l
	}
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

// Close checkpoints the WAL and closes the connection.
func (j *Journal) Close() error {
	if j.conn == nil {
		return nil
	}
	if _, err := j.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		j.logger.Warn("failed to checkpoint WAL", "err", err)
	}
	if err := j.conn.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	j.conn = nil
	return nil
}

// InitSchema creates the schema if needed. It is idempotent.
func (j *Journal) InitSchema() error {
	return j.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (j *Journal) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS passes (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		op TEXT NOT NULL,          -- noop, append, overwrite, delete
		row INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,      -- ok, failed
		error TEXT,
		started_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_passes_customer ON passes(customer_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_passes_started ON passes(started_at);
	CREATE INDEX IF NOT EXISTS idx_passes_status ON passes(status);
	`
	if _, err := j.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Record stores one entry. A missing ID is generated.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CustomerID == "" {
		return fmt.Errorf("journal entry has no customer id")
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}

	query := `
	INSERT INTO passes (id, customer_id, op, row, status, error, started_at, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := j.conn.ExecContext(ctx, query,
		e.ID,
		e.CustomerID,
		e.Op,
		e.Row,
		e.Status,
		nullString(e.Error),
		e.StartedAt.UTC().Format(timeLayout),
		e.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record pass: %w", err)
	}
	return nil
}

// OnPass implements sync.Listener. Failures are logged, never returned.
func (j *Journal) OnPass(p custsync.Pass) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.Record(ctx, EntryFromPass(p)); err != nil {
		j.logger.Warn("failed to journal pass", "customer", p.Event.CustomerID, "err", err)
	}
}

// Filter narrows Recent.
type Filter struct {
	// CustomerID filters by customer (empty = all customers)
	CustomerID string
	// Status filters by status (empty = all)
	Status string
	// Since excludes older passes (zero = no bound)
	Since time.Time
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// Recent returns passes newest first.
func (j *Journal) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	var conditions []string
	var args []interface{}

	if f.CustomerID != "" {
		conditions = append(conditions, "customer_id = ?")
		args = append(args, f.CustomerID)
	}
	if f.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}

	query := `SELECT id, customer_id, op, row, status, error, started_at, duration_ms FROM passes`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := j.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query passes: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read passes: %w", err)
	}
	return entries, nil
}

// LastPass returns the most recent pass, or nil when the journal is empty.
func (j *Journal) LastPass(ctx context.Context) (*Entry, error) {
	entries, err := j.Recent(ctx, Filter{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// Counts returns the number of passes per op and status since the given
// time (zero = all time).
func (j *Journal) Counts(ctx context.Context, since time.Time) (map[string]map[string]int, error) {
	query := `SELECT op, status, COUNT(*) FROM passes`
	var args []interface{}
	if !since.IsZero() {
		query += ` WHERE started_at >= ?`
		args = append(args, since.UTC().Format(timeLayout))
	}
	query += ` GROUP BY op, status`

	rows, err := j.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count passes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]map[string]int)
	for rows.Next() {
		var op, status string
		var n int
		if err := rows.Scan(&op, &status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		if counts[op] == nil {
			counts[op] = make(map[string]int)
		}
		counts[op][status] = n
	}
	return counts, rows.Err()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e          Entry
		errText    sql.NullString
		startedAt  string
		durationMS int64
	)
	if err := rows.Scan(&e.ID, &e.CustomerID, &e.Op, &e.Row, &e.Status, &errText, &startedAt, &durationMS); err != nil {
		return Entry{}, fmt.Errorf("failed to scan pass: %w", err)
	}
	t, err := time.Parse(timeLayout, startedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid started_at %q: %w", startedAt, err)
	}
	e.StartedAt = t
	e.Error = errText.String
	e.Duration = time.Duration(durationMS) * time.Millisecond
	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ErrDisabled is returned by commands that need a journal when journal.path
// is empty.
var ErrDisabled = errors.New("journal is disabled (journal.path is empty)")
