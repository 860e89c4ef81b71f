// Package snapshot exports the record store as JSONL, one record per line.
package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/apprise/tracksync/internal/schema"
)

// Lister lists the active records of a kind. *store.DB implements Lister.
type Lister interface {
	ListActive(ctx context.Context, kind schema.Kind) ([]*schema.Record, error)
}

// Result contains statistics about an export
type Result struct {
	Records int
	ByKind  map[schema.Kind]int
}

// Export writes every active record to w, kinds in dependency order so a
// reader meets each parent before the records referencing it.
func Export(ctx context.Context, src Lister, w io.Writer) (*Result, error) {
	result := &Result{ByKind: make(map[schema.Kind]int)}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	for _, kind := range schema.Kinds() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recs, err := src.ListActive(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", kind.Plural(), err)
		}
		for _, rec := range recs {
			if err := enc.Encode(rec); err != nil {
				return nil, fmt.Errorf("failed to encode %s %d: %w", kind, rec.LocalID, err)
			}
			result.Records++
			result.ByKind[kind]++
		}
	}

	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}
	return result, nil
}

// ExportFile writes the snapshot to path atomically via a temp file.
func ExportFile(ctx context.Context, src Lister, path string) (*Result, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	result, err := Export(ctx, src, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close temp file: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return result, nil
}

// Read parses a snapshot back into records.
func Read(r io.Reader) ([]*schema.Record, error) {
	var recs []*schema.Record
	dec := json.NewDecoder(r)
	for line := 1; ; line++ {
		var rec schema.Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", line, err)
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("invalid record at line %d: %w", line, err)
		}
		recs = append(recs, &rec)
	}
	return recs, nil
}
