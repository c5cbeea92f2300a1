// Package record defines the bibliographic record consumed by the indexer.
package record

// Record is one normalized bibliographic entry.
type Record struct {
	// Identity
	ID  string `json:"id"`            // Stable opaque identifier (e.g. Scopus id)
	DOI string `json:"doi,omitempty"` // Globally unique when present

	// Text used for embedding
	Title        string `json:"title"`
	Abstract     string `json:"abstract,omitempty"`
	Keywords     string `json:"keywords,omitempty"`
	SubjectAreas string `json:"subject_areas,omitempty"`

	// Metadata
	Authors       []Author `json:"authors"`
	Year          int      `json:"year"`
	CitationCount int      `json:"citation_count"`
	SourceTitle   string   `json:"source_title,omitempty"` // Journal or conference name
}

// AuthorNames returns the author display names in order.
func (r Record) AuthorNames() []string {
	names := make([]string, 0, len(r.Authors))
	for _, a := range r.Authors {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	return names
}
