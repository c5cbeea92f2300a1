package engine

import (
	"fmt"
	"strings"
)

// NoResultsMessage is the summary for an empty result list.
const NoResultsMessage = "No results found for your query."

// Summarize renders results as a short plain-text answer: the best match
// followed by the mean publication year and mean score of the list.
func Summarize(query string, results []QueryResult) string {
	if len(results) == 0 {
		return NoResultsMessage
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your search: %q\n", query)
	fmt.Fprintf(&b, "Relevant articles: %d %s found\n", len(results), plural(len(results), "result", "results"))

	top := results[0]
	b.WriteString("\nMost relevant article:\n")
	fmt.Fprintf(&b, "- Title: %s\n", top.Metadata.Title)
	fmt.Fprintf(&b, "- Year: %s\n", yearString(top.Metadata.Year))
	fmt.Fprintf(&b, "- Source: %s\n", top.Metadata.SourceTitle)
	fmt.Fprintf(&b, "- Relevance score: %.3f", top.Score)

	var yearSum, years int
	var scoreSum float64
	for _, r := range results {
		scoreSum += r.Score
		if r.Metadata.Year != 0 {
			yearSum += r.Metadata.Year
			years++
		}
	}
	if years > 0 {
		b.WriteString("\n\nResult analysis:\n")
		fmt.Fprintf(&b, "- Mean year: %.0f\n", float64(yearSum)/float64(years))
		fmt.Fprintf(&b, "- Mean score: %.3f", scoreSum/float64(len(results)))
	}
	return b.String()
}

func yearString(y int) string {
	if y == 0 {
		return "unknown"
	}
	return fmt.Sprint(y)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
