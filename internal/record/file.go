package record

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/pretty"
)

// ErrInvalidID is returned for customer identifiers that cannot name a record.
var ErrInvalidID = errors.New("invalid customer id")

// fileExt is the extension of record files: {customerId}.json.
const fileExt = ".json"

// ValidateID checks that id can be used as a record key. The rules follow
// the source store's key restrictions.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if strings.ContainsAny(id, "/\\.$#[]") {
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidID, id)
	}
	return nil
}

// Filename returns the canonical record filename for id.
func Filename(id string) string {
	return id + fileExt
}

// Path returns the record file path for id inside dir.
func Path(dir, id string) string {
	return filepath.Join(dir, Filename(id))
}

// IDFromPath extracts the customer id from a record file path.
// Returns false for paths that are not record files.
func IDFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, fileExt) || strings.HasPrefix(base, ".") {
		return "", false
	}
	id := strings.TrimSuffix(base, fileExt)
	if ValidateID(id) != nil {
		return "", false
	}
	return id, true
}

// ReadFile reads and parses a record file.
func ReadFile(path string) (*Record, error) {
	// #nosec G304 - record paths come from the configured store directory
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record file %s: %w", path, err)
	}
	rec, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse record file %s: %w", path, err)
	}
	return rec, nil
}

// WriteFile writes rec to dir/{id}.json as indented JSON.
// The file is replaced atomically via a temp file.
func WriteFile(dir, id string, rec *Record) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	data, err := rec.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", id, err)
	}
	data = pretty.Pretty(data)

	path := Path(dir, id)
	tmpPath := filepath.Join(dir, "."+Filename(id)+".tmp")
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// RemoveFile deletes the record file for id. Missing files are not an error.
func RemoveFile(dir, id string) error {
	if err := os.Remove(Path(dir, id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove record %s: %w", id, err)
	}
	return nil
}

// ReadDir reads every record file in dir.
//
// A missing directory is an empty store. Files that cannot be read or parsed
// are skipped and reported in the returned slice so callers can log them.
func ReadDir(dir string) (map[string]*Record, []error, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Record{}, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	records := make(map[string]*Record, len(entries))
	var skipped []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := IDFromPath(entry.Name())
		if !ok {
			continue
		}
		rec, err := ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		records[id] = rec
	}
	return records, skipped, nil
}
