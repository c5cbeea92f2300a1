package record

import (
	"sort"
	"time"
)

// ListOptions narrows a record listing.
type ListOptions struct {
	Since   time.Time // Only records modified after Since (zero = all)
	AfterID string    // Only records whose ID sorts after AfterID (for resuming)
}

// Changeset lists record ids touched since a point in time.
// An id may appear in both lists when a record was removed and re-added.
type Changeset struct {
	Upserted []string `json:"upserted"`
	Removed  []string `json:"removed"`
}

// IsEmpty reports whether the changeset has no work.
func (c Changeset) IsEmpty() bool {
	return len(c.Upserted) == 0 && len(c.Removed) == 0
}

// Normalize sorts both lists and removes duplicate ids within each list.
func (c Changeset) Normalize() Changeset {
	return Changeset{
		Upserted: sortedUnique(c.Upserted),
		Removed:  sortedUnique(c.Removed),
	}
}

func sortedUnique(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := append([]string(nil), ids...)
	sort.Strings(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}
