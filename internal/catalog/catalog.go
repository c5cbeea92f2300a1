// Package catalog maps internal index ids to the article metadata shown in
// query results and used for filtering.
package catalog

import (
	"fmt"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/matsen/litsearch/internal/errs"
	"github.com/matsen/litsearch/internal/record"
)

// Entry is the metadata kept for one indexed article.
type Entry struct {
	RecordID      string   `json:"record_id"`
	Title         string   `json:"title"`
	Year          int      `json:"year,omitempty"`
	Authors       []string `json:"authors,omitempty"`
	SourceTitle   string   `json:"source_title,omitempty"`
	CitationCount int      `json:"citation_count"`
	DOI           string   `json:"doi,omitempty"`

	// TextHash is the hash of the embedded text. Equal hashes mean the
	// stored vector is still valid.
	TextHash string `json:"-"`
}

// EntryFromRecord builds the catalog entry for r.
func EntryFromRecord(r record.Record) Entry {
	return Entry{
		RecordID:      r.ID,
		Title:         record.CollapseSpace(r.Title),
		Year:          r.Year,
		Authors:       r.AuthorNames(),
		SourceTitle:   r.SourceTitle,
		CitationCount: r.CitationCount,
		DOI:           record.NormalizeDOI(r.DOI),
		TextHash:      record.TextHash(r),
	}
}

// IdentityKey is the key under which duplicate articles collapse.
func (e Entry) IdentityKey() string {
	return record.IdentityKey(e.DOI, e.Title, e.Year)
}

// Catalog is safe for concurrent use.
type Catalog struct {
	mu       sync.RWMutex
	entries  map[uint32]Entry
	byRecord map[string]uint32
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{
		entries:  make(map[uint32]Entry),
		byRecord: make(map[string]uint32),
	}
}

// Put stores e under id, replacing whatever id held before.
func (c *Catalog) Put(id uint32, e Entry) error {
	if e.RecordID == "" {
		return fmt.Errorf("catalog entry for id %d has no record id", id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if other, ok := c.byRecord[e.RecordID]; ok && other != id {
		return fmt.Errorf("record %s already cataloged under id %d", e.RecordID, other)
	}
	if old, ok := c.entries[id]; ok && old.RecordID != e.RecordID {
		delete(c.byRecord, old.RecordID)
	}
	e.Authors = slices.Clone(e.Authors)
	c.entries[id] = e
	c.byRecord[e.RecordID] = id
	return nil
}

// Get returns the entry for id, or an error matching errs.ErrNotFound.
func (c *Catalog) Get(id uint32) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("catalog id %d: %w", id, errs.ErrNotFound)
	}
	return e, nil
}

// GetMany returns one entry per id, nil where the id is unknown.
func (c *Catalog) GetMany(ids []uint32) []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Entry, len(ids))
	for i, id := range ids {
		if e, ok := c.entries[id]; ok {
			out[i] = &e
		}
	}
	return out
}

// Delete removes id. Deleting an absent id is a no-op.
func (c *Catalog) Delete(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[id]; ok {
		delete(c.byRecord, e.RecordID)
		delete(c.entries, id)
	}
}

// LookupRecord returns the internal id holding recordID.
func (c *Catalog) LookupRecord(recordID string) (uint32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byRecord[recordID]
	return id, ok
}

// Filter returns the ids of all entries satisfying pred.
func (c *Catalog) Filter(pred func(Entry) bool) *roaring.Bitmap {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bm := roaring.New()
	for id, e := range c.entries {
		if pred(e) {
			bm.Add(id)
		}
	}
	return bm
}

// IDs returns every cataloged id.
func (c *Catalog) IDs() *roaring.Bitmap {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bm := roaring.New()
	for id := range c.entries {
		bm.Add(id)
	}
	return bm
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ByYear counts entries per publication year.
func (c *Catalog) ByYear() map[int]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[int]int)
	for _, e := range c.entries {
		counts[e.Year]++
	}
	return counts
}

// Clone returns an independent copy.
func (c *Catalog) Clone() *Catalog {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := &Catalog{
		entries:  make(map[uint32]Entry, len(c.entries)),
		byRecord: make(map[string]uint32, len(c.byRecord)),
	}
	for id, e := range c.entries {
		e.Authors = slices.Clone(e.Authors)
		out.entries[id] = e
	}
	for rid, id := range c.byRecord {
		out.byRecord[rid] = id
	}
	return out
}

// IDLister is the part of a vector index Verify needs.
type IDLister interface {
	IDs() []uint32
}

// Verify compares the catalog with an index. It returns ids the index holds
// without metadata, and ids cataloged but missing from the index.
func (c *Catalog) Verify(idx IDLister) (uncataloged, unindexed []uint32) {
	indexed := roaring.BitmapOf(idx.IDs()...)
	cataloged := c.IDs()

	uncataloged = roaring.AndNot(indexed, cataloged).ToArray()
	unindexed = roaring.AndNot(cataloged, indexed).ToArray()
	return uncataloged, unindexed
}
