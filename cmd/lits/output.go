package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/matsen/litsearch/internal/engine"
)

// Title truncation and wrap widths for human output.
const (
	ResultTitleMaxLen = 70
	TextWrapWidth     = 68
)

// outputJSON writes a value as formatted JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitWithError outputs an error in the appropriate format (human or JSON) and exits.
func exitWithError(code int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if humanOutput {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	} else {
		outputJSON(ErrorResponse{Error: msg, Code: code})
	}
	os.Exit(code)
}

// ErrorResponse is a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// QueryResponse is the response for the query and similar commands.
type QueryResponse struct {
	Query   string               `json:"query,omitempty"`
	Source  string               `json:"source,omitempty"`
	Results []engine.QueryResult `json:"results"`
	Total   int                  `json:"total"`
	Model   string               `json:"model"`
	Summary string               `json:"summary,omitempty"`
}

// printResultsHuman prints ranked results in human-readable format.
func printResultsHuman(results []engine.QueryResult) {
	for _, r := range results {
		m := r.Metadata
		fmt.Printf("%d. [%.3f] %s\n", r.Rank, r.Score, r.RecordID)
		fmt.Printf("   %s\n", truncateString(m.Title, ResultTitleMaxLen))
		fmt.Printf("   %s (%s)\n", formatAuthorsShort(m.Authors, 3), formatYear(m.Year))
		if m.SourceTitle != "" {
			fmt.Printf("   %s\n", wrapText(m.SourceTitle, TextWrapWidth, "   "))
		}
		fmt.Println()
	}
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

// wrapText wraps text to the specified width with indentation on subsequent lines.
func wrapText(text string, width int, indent string) string {
	if len(text) <= width {
		return text
	}

	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		switch {
		case line.Len() == 0:
			line.WriteString(word)
		case line.Len()+1+len(word) <= width:
			line.WriteString(" ")
			line.WriteString(word)
		default:
			lines = append(lines, line.String())
			line.Reset()
			line.WriteString(word)
		}
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n"+indent)
}

// formatIDList formats a list of IDs as a comma-separated string.
func formatIDList(ids []string) string {
	return strings.Join(ids, ", ")
}

// formatAuthorsShort lists up to max authors, then "et al.".
func formatAuthorsShort(authors []string, max int) string {
	if len(authors) == 0 {
		return "unknown authors"
	}
	if len(authors) <= max {
		return strings.Join(authors, ", ")
	}
	return strings.Join(authors[:max], ", ") + " et al."
}

func formatYear(y int) string {
	if y == 0 {
		return "n.d."
	}
	return fmt.Sprint(y)
}

// printProgress prints a progress bar to stderr.
func printProgress(current, total int) {
	if total == 0 {
		return
	}
	const barWidth = 30
	pct := float64(current) / float64(total) * 100
	filled := barWidth * current / total

	var bar strings.Builder
	for i := 0; i < barWidth; i++ {
		switch {
		case i < filled:
			bar.WriteByte('=')
		case i == filled:
			bar.WriteByte('>')
		default:
			bar.WriteByte(' ')
		}
	}
	fmt.Fprintf(os.Stderr, "\r[%s] %d/%d (%.0f%%)", bar.String(), current, total, pct)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}

// formatBytes formats bytes in a human-readable way.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
