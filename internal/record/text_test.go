package record

import (
	"testing"
)

func TestCanonicalText(t *testing.T) {
	tests := []struct {
		name     string
		rec      Record
		expected string
	}{
		{
			name: "all parts",
			rec: Record{
				Title:        "Deep  learning\nfor endoscopy",
				Abstract:     "We study  things.",
				Keywords:     "AI; endoscopy",
				SubjectAreas: "Medicine",
			},
			expected: "Title: Deep learning for endoscopy Abstract: We study things. Keywords: AI; endoscopy Subject: Medicine",
		},
		{
			name:     "title only",
			rec:      Record{Title: "Neural networks"},
			expected: "Title: Neural networks",
		},
		{
			name:     "whitespace parts omitted",
			rec:      Record{Title: "Graphs", Abstract: "   \t "},
			expected: "Title: Graphs",
		},
		{
			name:     "empty record",
			rec:      Record{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalText(tt.rec); got != tt.expected {
				t.Errorf("CanonicalText() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestTextHash(t *testing.T) {
	a := Record{ID: "1", Title: "Same text", CitationCount: 1}
	b := Record{ID: "2", Title: "Same   text", CitationCount: 50}
	c := Record{ID: "1", Title: "Other text"}

	if TextHash(a) != TextHash(b) {
		t.Error("records with the same canonical text should hash equally")
	}
	if TextHash(a) == TextHash(c) {
		t.Error("records with different text should hash differently")
	}
}

func TestNormalizeDOI(t *testing.T) {
	tests := map[string]string{
		"10.1000/ABC":                 "10.1000/abc",
		"https://doi.org/10.1000/xyz": "10.1000/xyz",
		"DOI:10.1/x":                  "10.1/x",
		"  doi.org/10.2/Y ":           "10.2/y",
		"":                            "",
	}
	for in, want := range tests {
		if got := NormalizeDOI(in); got != want {
			t.Errorf("NormalizeDOI(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIdentityKey(t *testing.T) {
	t.Run("prefers DOI", func(t *testing.T) {
		k1 := IdentityKey("10.1/A", "Title one", 2020)
		k2 := IdentityKey("https://doi.org/10.1/a", "Completely different", 2021)
		if k1 != k2 {
			t.Errorf("expected equal keys, got %q and %q", k1, k2)
		}
	})

	t.Run("falls back to title and year", func(t *testing.T) {
		k1 := IdentityKey("", "Machine Learning: A Survey", 2020)
		k2 := IdentityKey("", "machine learning - a survey", 2020)
		if k1 != k2 {
			t.Errorf("expected equal keys, got %q and %q", k1, k2)
		}
		if k3 := IdentityKey("", "machine learning - a survey", 2021); k3 == k1 {
			t.Error("different years should give different keys")
		}
	})
}

func TestAuthorNames(t *testing.T) {
	r := Record{Authors: []Author{{Name: "Ada Lovelace"}, {Name: ""}, {Name: "Alan Turing"}}}
	names := r.AuthorNames()
	if len(names) != 2 || names[0] != "Ada Lovelace" || names[1] != "Alan Turing" {
		t.Errorf("AuthorNames() = %v", names)
	}
}
