// Package migrate imports customer exports into the file-backed store.
//
// Two input formats are accepted:
//
//   - a JSON export tree, e.g. {"customers": {"cust-42": {...}, ...}}; the
//     sub-tree holding the customers is selected with a gjson path
//   - JSONL, one object per line, identified by its "id" or "customerId"
//     field
//
// Every customer becomes one {id}.json file with its field order kept.
package migrate

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sheetsync/custsync/internal/record"
)

// Input formats.
const (
	FormatAuto  = "auto"
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
)

// DefaultPath selects the customers collection of an export tree.
const DefaultPath = "customers"

// idFields are the JSONL fields that carry the customer id, in lookup order.
var idFields = []string{"id", "customerId"}

// Options contains configuration for an import
type Options struct {
	From      string // Input file path
	ToDir     string // Store directory
	Format    string // auto, json or jsonl (default auto)
	Path      string // gjson path of the customers object in a JSON tree (default "customers")
	DryRun    bool   // Preview without writing
	Overwrite bool   // Replace existing customer files
}

// Result contains statistics about the import
type Result struct {
	Format       string
	Customers    int
	FilesWritten int
	Skipped      int
	Errors       []string
}

// Customer is one imported record with its id.
type Customer struct {
	ID     string
	Record *record.Record
}

// Import reads opts.From and writes one file per customer into opts.ToDir.
// Customers with invalid ids are reported in Result.Errors and skipped.
func Import(ctx context.Context, opts Options) (*Result, error) {
	if opts.ToDir == "" {
		return nil, fmt.Errorf("target directory is required")
	}
	// #nosec G304 - controlled path from CLI
	data, err := os.ReadFile(opts.From)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}

	format := opts.Format
	if format == "" || format == FormatAuto {
		format = DetectFormat(opts.From, data)
	}

	var customers []Customer
	switch format {
	case FormatJSON:
		path := opts.Path
		if path == "" {
			path = DefaultPath
		}
		customers, err = FromJSONTree(data, path)
	case FormatJSONL:
		customers, err = FromJSONL(data)
	default:
		return nil, fmt.Errorf("unknown import format %q", format)
	}
	if err != nil {
		return nil, err
	}

	result := &Result{Format: format}
	for _, c := range customers {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("import interrupted: %w", err)
		}
		if err := record.ValidateID(c.ID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("customer %q: %v", c.ID, err))
			continue
		}
		result.Customers++

		if !opts.Overwrite {
			if _, err := os.Stat(record.Path(opts.ToDir, c.ID)); err == nil {
				result.Skipped++
				continue
			}
		}
		if opts.DryRun {
			continue
		}
		if err := record.WriteFile(opts.ToDir, c.ID, c.Record); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to write customer %s: %v", c.ID, err))
			continue
		}
		result.FilesWritten++
	}
	return result, nil
}

// DetectFormat picks JSONL for .jsonl/.ndjson files and for content that is
// not a single JSON document, JSON otherwise.
func DetectFormat(name string, data []byte) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jsonl", ".ndjson":
		return FormatJSONL
	}
	if gjson.ValidBytes(data) {
		return FormatJSON
	}
	return FormatJSONL
}

// FromJSONTree returns the customers of the object found at path. When path
// does not exist the top-level object is taken as the id map. Customers are
// returned in document order.
func FromJSONTree(data []byte, path string) ([]Customer, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("input is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	tree := root
	if path != "" {
		if sub := root.Get(path); sub.Exists() {
			tree = sub
		}
	}
	if !tree.IsObject() {
		return nil, fmt.Errorf("customers at %q is not an object of id: record", path)
	}

	var customers []Customer
	var bad []string
	tree.ForEach(func(key, value gjson.Result) bool {
		if !value.IsObject() {
			bad = append(bad, key.String())
			return true
		}
		customers = append(customers, Customer{ID: key.String(), Record: record.FromResult(value)})
		return true
	})
	if len(bad) > 0 {
		return nil, fmt.Errorf("customers %s are not objects", strings.Join(bad, ", "))
	}
	return customers, nil
}

// FromJSONL parses one customer object per line. The id field is removed
// from the stored record since the file name carries it.
func FromJSONL(data []byte) ([]Customer, error) {
	var customers []Customer
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		rec, err := record.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}

		id := ""
		for _, field := range idFields {
			if v, ok := rec.Get(field); ok {
				if s, ok := v.(string); ok && s != "" {
					id = s
					rec.Delete(field)
					break
				}
			}
		}
		if id == "" {
			return nil, fmt.Errorf("line %d has no %s field", lineNum, strings.Join(idFields, " or "))
		}
		customers = append(customers, Customer{ID: id, Record: rec})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSONL: %w", err)
	}
	return customers, nil
}
