package scraper

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Every source reports wall-clock times in its own zone; parsing attaches
// the source zone so closings compare correctly across provinces.
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

var epochMillisRe = regexp.MustCompile(`/Date\((-?\d+)\)/`)

// ParseDate turns one source's date text into a time, or nil when the text
// is empty, a placeholder, or unparseable. A bad date never sinks a record.
func ParseDate(raw string, loc *time.Location) *time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}

	// .NET JSON epoch format: /Date(1706042280000)/
	if m := epochMillisRe.FindStringSubmatch(trimmed); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil
		}
		t := time.UnixMilli(ms).In(loc)
		return &t
	}

	t, err := dateparse.ParseIn(trimmed, loc)
	if err != nil {
		return nil
	}
	return &t
}

// ParseDateLayout parses with an exact layout, falling back to the fuzzy
// parser. Sources with ambiguous day/month ordering pin a layout.
func ParseDateLayout(raw, layout string, loc *time.Location) *time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation(layout, trimmed, loc); err == nil {
		return &t
	}
	return ParseDate(trimmed, loc)
}

var spaceRe = regexp.MustCompile(`\s+`)

// CleanText collapses runs of whitespace (including NBSP) to single spaces.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// placeholderFragments mark values some sources emit instead of real data.
var placeholderFragments = []string{
	"not been posted",
	"tbd",
	"to be determined",
	"n/a",
}

// ScrubPlaceholder returns nil when the value is a known filler string.
func ScrubPlaceholder(s string) *string {
	cleaned := CleanText(s)
	if cleaned == "" {
		return nil
	}
	lower := strings.ToLower(cleaned)
	if strings.Contains(lower, "not been posted") {
		return nil
	}
	for _, frag := range placeholderFragments {
		if lower == frag {
			return nil
		}
	}
	return &cleaned
}

// AbsoluteURL resolves href against base, returning href unchanged when it
// is already absolute or base is unusable.
func AbsoluteURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if ref.IsAbs() {
		return href
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

// HashID derives a stable external id from field values for sources that
// expose no usable identifier of their own.
func HashID(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
