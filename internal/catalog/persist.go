package catalog

import (
	"bufio"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/pierrec/lz4/v4"
)

// FormatVersion is the version of the serialized catalog.
const FormatVersion = 2

// FormatName identifies a serialized catalog in its header line.
const FormatName = "lits-catalog"

// The serialized catalog is an lz4 frame holding JSON Lines: one header
// object, then one row per entry in ascending id order.
//
//	{"format":"lits-catalog","version":2,"count":2}
//	{"id":0,"record_id":"A","title":"...","text_hash":"..."}
//	{"id":1,"record_id":"B","title":"...","text_hash":"..."}
type header struct {
	Format  string `json:"format"`
	Version int    `json:"version"`
	Count   int    `json:"count"`
}

type row struct {
	ID            uint32   `json:"id"`
	RecordID      string   `json:"record_id"`
	Title         string   `json:"title"`
	Year          int      `json:"year,omitempty"`
	Authors       []string `json:"authors,omitempty"`
	SourceTitle   string   `json:"source_title,omitempty"`
	CitationCount int      `json:"citation_count"`
	DOI           string   `json:"doi,omitempty"`
	TextHash      string   `json:"text_hash"`
}

func rowOf(id uint32, e Entry) row {
	return row{
		ID:            id,
		RecordID:      e.RecordID,
		Title:         e.Title,
		Year:          e.Year,
		Authors:       e.Authors,
		SourceTitle:   e.SourceTitle,
		CitationCount: e.CitationCount,
		DOI:           e.DOI,
		TextHash:      e.TextHash,
	}
}

func (r row) entry() Entry {
	return Entry{
		RecordID:      r.RecordID,
		Title:         r.Title,
		Year:          r.Year,
		Authors:       r.Authors,
		SourceTitle:   r.SourceTitle,
		CitationCount: r.CitationCount,
		DOI:           r.DOI,
		TextHash:      r.TextHash,
	}
}

// countingWriter tracks bytes written to the underlying writer.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// WriteTo writes the catalog as lz4-framed JSON Lines, ids ascending.
func (c *Catalog) WriteTo(w io.Writer) (int64, error) {
	c.mu.RLock()
	rows := make([]row, 0, len(c.entries))
	for id, e := range c.entries {
		rows = append(rows, rowOf(id, e))
	}
	c.mu.RUnlock()
	slices.SortFunc(rows, func(a, b row) int { return cmp.Compare(a.ID, b.ID) })

	cw := &countingWriter{w: w}
	zw := lz4.NewWriter(cw)
	enc := json.NewEncoder(zw)
	if err := enc.Encode(header{Format: FormatName, Version: FormatVersion, Count: len(rows)}); err != nil {
		zw.Close()
		return cw.n, fmt.Errorf("encoding catalog header: %w", err)
	}
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			zw.Close()
			return cw.n, fmt.Errorf("encoding catalog entry %d: %w", r.ID, err)
		}
	}
	if err := zw.Close(); err != nil {
		return cw.n, fmt.Errorf("flushing catalog: %w", err)
	}
	return cw.n, nil
}

// Read decodes a catalog written by WriteTo.
func Read(r io.Reader) (*Catalog, error) {
	dec := json.NewDecoder(bufio.NewReader(lz4.NewReader(r)))

	var h header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("decoding catalog header: %w", err)
	}
	if h.Format != FormatName {
		return nil, fmt.Errorf("not a catalog: format %q", h.Format)
	}
	if h.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported catalog version %d", h.Version)
	}

	c := New()
	for {
		var rw row
		err := dec.Decode(&rw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding catalog entry %d: %w", c.Len(), err)
		}
		if err := c.Put(rw.ID, rw.entry()); err != nil {
			return nil, fmt.Errorf("loading catalog: %w", err)
		}
	}
	if c.Len() != h.Count {
		return nil, fmt.Errorf("catalog header says %d entries, found %d", h.Count, c.Len())
	}
	return c, nil
}
