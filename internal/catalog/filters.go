package catalog

import (
	"fmt"
	"strings"
)

// Filters restricts query results. Zero fields impose no constraint; all set
// fields must hold.
type Filters struct {
	YearMin      int    `json:"year_min,omitempty" yaml:"year_min,omitempty"`
	YearMax      int    `json:"year_max,omitempty" yaml:"year_max,omitempty"`
	Author       string `json:"author,omitempty" yaml:"author,omitempty"`
	Source       string `json:"source,omitempty" yaml:"source,omitempty"`
	MinCitations int    `json:"min_citations,omitempty" yaml:"min_citations,omitempty"`
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return f.YearMin == 0 && f.YearMax == 0 &&
		strings.TrimSpace(f.Author) == "" && strings.TrimSpace(f.Source) == "" &&
		f.MinCitations <= 0
}

// Validate rejects contradictory bounds.
func (f Filters) Validate() error {
	if f.YearMin != 0 && f.YearMax != 0 && f.YearMin > f.YearMax {
		return fmt.Errorf("year_min %d is after year_max %d", f.YearMin, f.YearMax)
	}
	if f.MinCitations < 0 {
		return fmt.Errorf("min_citations must not be negative, got %d", f.MinCitations)
	}
	return nil
}

// Predicate returns the conjunction of all set filters. Author and source
// match case-insensitive substrings.
func (f Filters) Predicate() func(Entry) bool {
	author := strings.ToLower(strings.TrimSpace(f.Author))
	source := strings.ToLower(strings.TrimSpace(f.Source))

	return func(e Entry) bool {
		if f.YearMin != 0 && e.Year < f.YearMin {
			return false
		}
		if f.YearMax != 0 && e.Year > f.YearMax {
			return false
		}
		if f.MinCitations > 0 && e.CitationCount < f.MinCitations {
			return false
		}
		if source != "" && !strings.Contains(strings.ToLower(e.SourceTitle), source) {
			return false
		}
		if author != "" {
			found := false
			for _, name := range e.Authors {
				if strings.Contains(strings.ToLower(name), author) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
}
