package main

import (
	"testing"
	"time"
)

func TestTruncateString(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"a rather long title", 10, "a rathe..."},
		{"Über die Glaziologie", 8, "Über ..."},
	}
	for _, tt := range tests {
		if got := truncateString(tt.in, tt.maxLen); got != tt.want {
			t.Errorf("truncateString(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
		}
	}
}

func TestWrapText(t *testing.T) {
	got := wrapText("one two three four", 9, "  ")
	want := "one two\n  three\n  four"
	if got != want {
		t.Errorf("wrapText() = %q, want %q", got, want)
	}
}

func TestFormatAuthorsShort(t *testing.T) {
	tests := []struct {
		authors []string
		want    string
	}{
		{nil, "unknown authors"},
		{[]string{"A"}, "A"},
		{[]string{"A", "B", "C"}, "A, B, C"},
		{[]string{"A", "B", "C", "D"}, "A, B, C et al."},
	}
	for _, tt := range tests {
		if got := formatAuthorsShort(tt.authors, 3); got != tt.want {
			t.Errorf("formatAuthorsShort(%v) = %q, want %q", tt.authors, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	if got := formatDuration(1500 * time.Millisecond); got != "1.5s" {
		t.Errorf("formatDuration(1.5s) = %q", got)
	}
	if got := formatDuration(125 * time.Second); got != "2m 5s" {
		t.Errorf("formatDuration(125s) = %q", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		512:         "512 B",
		2048:        "2.0 KB",
		5 * 1 << 20: "5.0 MB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
