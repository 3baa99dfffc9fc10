package scraper

import (
	"testing"
	"time"
)

func TestParseDate_EpochMillis(t *testing.T) {
	got := ParseDate("/Date(1706042280000)/", time.UTC)
	if got == nil {
		t.Fatalf("expected a time, got nil")
	}
	want := time.UnixMilli(1706042280000).UTC()
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestParseDate_Textual(t *testing.T) {
	loc := LoadLocation("America/Toronto")
	got := ParseDate("2026-03-15 14:30:00", loc)
	if got == nil {
		t.Fatalf("expected a time, got nil")
	}
	if got.Location() != loc {
		t.Fatalf("parsed in %v, want %v", got.Location(), loc)
	}
	if got.Hour() != 14 || got.Day() != 15 {
		t.Fatalf("unexpected wall clock: %v", got)
	}
}

func TestParseDate_Garbage(t *testing.T) {
	for _, in := range []string{"", "   ", "not a date at all ???"} {
		if got := ParseDate(in, time.UTC); got != nil {
			t.Fatalf("ParseDate(%q) = %v, want nil", in, got)
		}
	}
}

func TestParseDateLayout(t *testing.T) {
	loc := LoadLocation("America/Toronto")
	got := ParseDateLayout("2026/03/15", "2006/01/02", loc)
	if got == nil {
		t.Fatalf("expected a time, got nil")
	}
	if got.Year() != 2026 || got.Month() != time.March || got.Day() != 15 {
		t.Fatalf("unexpected date: %v", got)
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  hello   world ", "hello world"},
		{"a\n\tb", "a b"},
		{"nbsp here", "nbsp here"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanText(tt.in); got != tt.want {
			t.Fatalf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestScrubPlaceholder(t *testing.T) {
	if got := ScrubPlaceholder("The link has not been posted yet"); got != nil {
		t.Fatalf("expected nil for placeholder, got %q", *got)
	}
	if got := ScrubPlaceholder("TBD"); got != nil {
		t.Fatalf("expected nil for TBD, got %q", *got)
	}
	if got := ScrubPlaceholder("  "); got != nil {
		t.Fatalf("expected nil for blank, got %q", *got)
	}
	got := ScrubPlaceholder(" real   value ")
	if got == nil || *got != "real value" {
		t.Fatalf("expected cleaned value, got %#v", got)
	}
}

func TestAbsoluteURL(t *testing.T) {
	tests := []struct {
		base string
		href string
		want string
	}{
		{"https://example.ca/list", "/detail/5", "https://example.ca/detail/5"},
		{"https://example.ca/list/", "detail/5", "https://example.ca/list/detail/5"},
		{"https://example.ca", "https://other.ca/x", "https://other.ca/x"},
		{"https://example.ca", "", ""},
	}
	for _, tt := range tests {
		if got := AbsoluteURL(tt.base, tt.href); got != tt.want {
			t.Fatalf("AbsoluteURL(%q, %q) = %q, want %q", tt.base, tt.href, got, tt.want)
		}
	}
}

func TestHashID_Stable(t *testing.T) {
	a := HashID("C1234", "Highway 17", "Kenora")
	b := HashID("C1234", "Highway 17", "Kenora")
	if a != b {
		t.Fatalf("hash not stable: %q vs %q", a, b)
	}
	if c := HashID("C1234", "Highway 17", "Dryden"); c == a {
		t.Fatalf("distinct inputs collided")
	}
	if len(a) != 32 {
		t.Fatalf("unexpected hash length %d", len(a))
	}
}
