package record

import (
	"crypto/sha256"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

// CanonicalText builds the text that is embedded for a record: title, abstract,
// keywords and subject areas, each labelled, with whitespace collapsed.
// Empty parts are omitted.
func CanonicalText(r Record) string {
	var parts []string
	if t := CollapseSpace(r.Title); t != "" {
		parts = append(parts, "Title: "+t)
	}
	if a := CollapseSpace(r.Abstract); a != "" {
		parts = append(parts, "Abstract: "+a)
	}
	if k := CollapseSpace(r.Keywords); k != "" {
		parts = append(parts, "Keywords: "+k)
	}
	if s := CollapseSpace(r.SubjectAreas); s != "" {
		parts = append(parts, "Subject: "+s)
	}
	return strings.Join(parts, " ")
}

// CollapseSpace trims s and replaces every run of whitespace with one space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TextHash computes a SHA256 hash of the record's canonical text.
// Two records with the same hash need not be re-embedded.
func TextHash(r Record) string {
	h := sha256.New()
	io.WriteString(h, CanonicalText(r))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// NormalizeDOI strips URL and scheme prefixes and lowercases a DOI.
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	doi = strings.TrimPrefix(doi, "https://doi.org/")
	doi = strings.TrimPrefix(doi, "http://doi.org/")
	doi = strings.TrimPrefix(doi, "doi.org/")
	doi = strings.TrimPrefix(doi, "DOI:")
	doi = strings.TrimPrefix(doi, "doi:")
	return strings.ToLower(doi)
}

// NormalizeTitle lowercases a title and drops everything but letters, digits and
// single spaces, so that punctuation and casing variants compare equal.
func NormalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return CollapseSpace(b.String())
}

// IdentityKey returns the key used to collapse duplicate records in result
// lists: the normalized DOI when present, otherwise normalized title plus year.
func IdentityKey(doi, title string, year int) string {
	if d := NormalizeDOI(doi); d != "" {
		return "doi:" + d
	}
	return "title:" + NormalizeTitle(title) + "|" + strconv.Itoa(year)
}
