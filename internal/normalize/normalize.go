// Package normalize canonicalizes raw identity fields into stable matching
// keys. Attendance exports and the CRM roster must land in the same
// normalized space before any matching happens, so every caller goes
// through these functions rather than cleaning inline.
package normalize

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// deaccent decomposes and strips combining marks: "José" → "Jose".
var deaccent = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var (
	spaceRun   = regexp.MustCompile(`\s+`)
	nonAlpha   = regexp.MustCompile(`[^a-z\s]`)
	excelQuote = regexp.MustCompile(`^="?|"$`)
	zip5       = regexp.MustCompile(`\d{5}`)
)

// CleanEmail standardizes an email for matching: trimmed, lowercased, all
// internal whitespace removed. Blank input yields "".
func CleanEmail(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, "\"'<>")
	var b strings.Builder
	for _, r := range s {
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CleanName produces the canonical matching key for a person name:
// accent-stripped, lowercased, everything outside [a-z\s] replaced by a
// space, whitespace collapsed. Blank input yields "".
func CleanName(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if out, _, err := transform.String(deaccent, s); err == nil {
		s = out
	}
	s = strings.ReplaceAll(s, "'", "")
	s = nonAlpha.ReplaceAllString(s, " ")
	return CollapseSpaces(s)
}

// CollapseSpaces trims and collapses internal whitespace to single spaces.
func CollapseSpaces(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// FullName joins first and last into the human-readable display name.
func FullName(first, last string) string {
	return CollapseSpaces(CollapseSpaces(first) + " " + CollapseSpaces(last))
}

// CleanZip normalizes a raw ZIP to the 5-digit US form. Handles ZIP+4
// ("90814-8124"), Excel ="..." wrappers, and surrounding text. Returns ""
// when no 5-digit run exists.
func CleanZip(raw string) string {
	s := excelQuote.ReplaceAllString(strings.TrimSpace(raw), "")
	return zip5.FindString(s)
}

// PersonKey is the session-level dedup key: email when present, canonical
// name otherwise. "" means the row has no usable identity and is dropped.
func PersonKey(email, name string) string {
	if email != "" {
		return email
	}
	return name
}

// ValidEmail applies the practical validity rule used to split review rows:
// exactly one '@', no spaces, non-empty local part, dotted domain that does
// not start or end with '.'.
func ValidEmail(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t") {
		return false
	}
	at := strings.Count(s, "@")
	if at != 1 {
		return false
	}
	parts := strings.SplitN(s, "@", 2)
	local, domain := parts[0], parts[1]
	if local == "" {
		return false
	}
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	return true
}

// ParseBool recognizes the truthy spellings that appear in exports.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y":
		return true
	}
	return false
}

// timestampLayouts covers the formats seen across Zoom exports and CRM
// "last contact" fields.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
	"2006-01-02",
	"2006_01_02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	"1/2/2006 15:04",
	"1/2/2006",
	"Jan 2, 2006",
}

// ParseTimestamp parses a date or datetime in any supported layout.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// CanonicalDate normalizes a date string to YYYY-MM-DD for key comparison.
// Accepts YYYY_MM_DD, YYYY-MM-DD, and datetime forms; unparseable → "".
func CanonicalDate(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "-")
	if ts, ok := ParseTimestamp(s); ok {
		return ts.Format("2006-01-02")
	}
	return ""
}
