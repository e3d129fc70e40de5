package normalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// clean canonicalizes free text: null bytes removed, surrounding whitespace
// trimmed, Unicode composed (NFC) so "é" and "é" compare equal.
func clean(s string) string {
	s = sanitizeString(s)
	s = strings.TrimSpace(s)
	if !norm.NFC.IsNormalString(s) {
		s = norm.NFC.String(s)
	}
	return s
}

// sanitizeString removes null bytes, which break both SQLite text columns and
// some downstream JSON consumers. Dump extractors occasionally emit them.
// Other bytes, including invalid UTF-8, are left untouched.
func sanitizeString(s string) string {
	if strings.IndexByte(s, 0) < 0 {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "")
}
