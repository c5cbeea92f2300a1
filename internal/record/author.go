package record

// Author represents a paper author with optional source and ORCID identifiers.
type Author struct {
	Name     string `json:"name"`                // Preferred display name
	AuthorID string `json:"author_id,omitempty"` // Identifier in the source system
	ORCID    string `json:"orcid,omitempty"`     // ORCID identifier (without URL prefix)
}
