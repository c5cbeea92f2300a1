// Package storage is the SQLite-backed record store read by the indexer, plus
// the JSONL import used to load it.
package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/matsen/litsearch/internal/record"
)

// MaxJSONLLineCapacity is the maximum buffer size for reading JSONL lines (1MB per line).
const MaxJSONLLineCapacity = 1024 * 1024

// ReadAll reads all records from a JSONL file. A missing file is an error
// matching os.ErrNotExist.
func ReadAll(path string) ([]record.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening records file: %w", err)
	}
	defer f.Close()

	var recs []record.Record
	scanner := bufio.NewScanner(f)

	buf := make([]byte, MaxJSONLLineCapacity)
	scanner.Buffer(buf, MaxJSONLLineCapacity)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec record.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("parsing line %d: %w", lineNum, err)
		}
		recs = append(recs, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading records file: %w", err)
	}

	return recs, nil
}

// WriteAll writes all records to a JSONL file, replacing existing content.
func WriteAll(path string, recs []record.Record) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating records file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing records file: %w", cerr)
		}
	}()

	for i, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding record %d: %w", i, err)
		}
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("writing record %d: %w", i, err)
		}
		if _, err := f.WriteString("\n"); err != nil {
			return fmt.Errorf("writing newline: %w", err)
		}
	}

	return nil
}

// ImportJSONL upserts every record of a JSONL file into the database.
func (d *DB) ImportJSONL(ctx context.Context, path string) (int, error) {
	recs, err := ReadAll(path)
	if err != nil {
		return 0, fmt.Errorf("reading JSONL: %w", err)
	}

	for _, rec := range recs {
		if err := d.UpsertRecord(ctx, rec); err != nil {
			return 0, err
		}
	}

	return len(recs), nil
}

// ExportJSONL writes every record in the database to a JSONL file in id
// order, in the format ImportJSONL reads.
func (d *DB) ExportJSONL(ctx context.Context, path string) (int, error) {
	var recs []record.Record
	for rec, err := range d.ListRecords(ctx, record.ListOptions{}) {
		if err != nil {
			return 0, err
		}
		recs = append(recs, rec)
	}
	if err := WriteAll(path, recs); err != nil {
		return 0, err
	}
	return len(recs), nil
}
