// Package cite extracts and classifies the trailing citation tag a
// generated answer carries, e.g. "(Source: report.pdf, page 4)". The parser
// is a deterministic scan over the tail of the string; only the final,
// anchored occurrence counts, so answers that merely mention "Source:"
// mid-text are left untouched.
package cite

import (
	"strings"
)

// Kind classifies the provenance a citation points at.
type Kind string

const (
	KindURL       Kind = "url"
	KindFile      Kind = "file"
	KindUserInput Kind = "user-input"
	KindUnknown   Kind = "unknown"
)

// Citation is the parsed representation of a trailing citation tag.
type Citation struct {
	Raw        string `json:"raw"`
	Kind       Kind   `json:"kind"`
	Identifier string `json:"identifier,omitempty"`
	Page       int    `json:"page,omitempty"` // 0 if absent
}

const tagOpen = "(Source:"

// Parse splits a generated answer into the displayed body and its trailing
// citation. When no valid tag is anchored at the end of the answer the body
// is returned unchanged and the citation has Kind KindUnknown and empty Raw.
func Parse(answer string) (string, Citation) {
	none := Citation{Kind: KindUnknown}

	trimmed := strings.TrimRight(answer, " \t\r\n")
	if !strings.HasSuffix(trimmed, ")") {
		return answer, none
	}

	open := openParen(trimmed)
	if open < 0 {
		return answer, none
	}

	raw := trimmed[open:]
	if !strings.HasPrefix(raw, tagOpen) {
		return answer, none
	}
	inner := strings.TrimSpace(raw[len(tagOpen) : len(raw)-1])
	if inner == "" {
		return answer, none
	}

	identifier, page := splitPage(inner)
	if identifier == "" {
		return answer, none
	}

	body := strings.TrimRight(trimmed[:open], " \t\r\n")

	c := Citation{Raw: raw, Page: page}
	switch {
	case strings.Contains(identifier, "://") || hasURLScheme(identifier):
		c.Kind = KindURL
		c.Identifier = identifier
	case identifier == "user-input":
		c.Kind = KindUserInput
		c.Identifier = identifier
	default:
		c.Kind = KindFile
		c.Identifier = lastPathSegment(identifier)
	}
	return body, c
}

// hasURLScheme reports whether the identifier begins with an RFC 3986 scheme
// followed by ':', which covers schemes without an authority part such as
// "mailto:" or "news:".
func hasURLScheme(s string) bool {
	colon := strings.IndexByte(s, ':')
	if colon <= 0 {
		return false
	}
	if !isAlpha(s[0]) {
		return false
	}
	for i := 1; i < colon; i++ {
		c := s[i]
		if !isAlpha(c) && !isDigit(c) && c != '+' && c != '-' && c != '.' {
			return false
		}
	}
	return true
}

func isAlpha(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// openParen walks backwards from the trailing ')' to its matching '(',
// honouring nested parentheses, so identifiers like a URL ending in "(v2)"
// stay inside the tag. Returns -1 when the tail is unbalanced.
func openParen(s string) int {
	depth := 0
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case ')':
			depth++
		case '(':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitPage peels an optional ", page <digits>" suffix off the tag interior.
// A malformed page suffix is treated as part of the identifier.
func splitPage(inner string) (string, int) {
	idx := strings.LastIndex(inner, ", page ")
	if idx < 0 {
		return inner, 0
	}
	digits := strings.TrimSpace(inner[idx+len(", page "):])
	page := parsePositiveInt(digits)
	if page == 0 {
		return inner, 0
	}
	return strings.TrimSpace(inner[:idx]), page
}

// parsePositiveInt parses a non-empty all-digit string, returning 0 when the
// input is not a positive integer.
func parsePositiveInt(s string) int {
	if s == "" {
		return 0
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
		if n > 1<<30 {
			return 0
		}
	}
	return n
}

// lastPathSegment strips directory components from a file identifier. The
// upload-time uniqueness prefix is already stripped at ingestion; here only
// path separators matter.
func lastPathSegment(s string) string {
	if idx := strings.LastIndexAny(s, `/\`); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
