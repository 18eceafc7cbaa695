package engine

import (
	"strings"
	"unicode"
)

// ParseSyncStandbyNames tokenizes a synchronous_standby_names setting into
// its ordered member names. Supported forms:
//
//	""                      -> nil
//	"s1"                    -> [s1]
//	"s1, s2"                -> [s1, s2]
//	"FIRST 2 (s1, s2)"      -> [s1, s2]
//	"ANY 1 (s1, s2)"        -> [s1, s2]
//	"2 (s1, s2)"            -> [s1, s2]
//	`"node one", "we""ird"` -> [node one, we"ird]
//	"*"                     -> [*]
//
// The first name is the synchronous candidate under the default
// single-sync policy. Membership checks against the result must be exact
// per token; substring matching produces false positives on overlapping
// names like "node1"/"node10".
func ParseSyncStandbyNames(raw string) []string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}

	s = stripMethodPrefix(s)
	if s == "" {
		return nil
	}

	var names []string
	for i := 0; i < len(s); {
		switch {
		case s[i] == ',' || unicode.IsSpace(rune(s[i])):
			i++
		case s[i] == '"':
			name, next := scanQuoted(s, i)
			names = append(names, name)
			i = next
		default:
			start := i
			for i < len(s) && s[i] != ',' && !unicode.IsSpace(rune(s[i])) {
				i++
			}
			names = append(names, s[start:i])
		}
	}
	return names
}

// MatchesSyncNames reports whether name is a synchronous member per the
// parsed list. A "*" entry matches every standby.
func MatchesSyncNames(names []string, name string) bool {
	for _, n := range names {
		if n == "*" || n == name {
			return true
		}
	}
	return false
}

// stripMethodPrefix removes the optional "FIRST n (...)" / "ANY n (...)" /
// "n (...)" wrapper, leaving the bare name list.
func stripMethodPrefix(s string) string {
	rest := s
	lower := strings.ToLower(rest)
	if strings.HasPrefix(lower, "first") && len(rest) > 5 && !isNameChar(rest[5]) {
		rest = strings.TrimSpace(rest[5:])
	} else if strings.HasPrefix(lower, "any") && len(rest) > 3 && !isNameChar(rest[3]) {
		rest = strings.TrimSpace(rest[3:])
	}

	// Optional count before the parenthesized list.
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i > 0 {
		trimmed := strings.TrimSpace(rest[i:])
		if strings.HasPrefix(trimmed, "(") {
			rest = trimmed
		}
	}

	if strings.HasPrefix(rest, "(") && strings.HasSuffix(rest, ")") {
		rest = rest[1 : len(rest)-1]
	}
	return strings.TrimSpace(rest)
}

func isNameChar(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// scanQuoted consumes a double-quoted identifier starting at s[start] == '"',
// un-doubling embedded quotes. Returns the name and the index past it.
func scanQuoted(s string, start int) (string, int) {
	var b strings.Builder
	i := start + 1
	for i < len(s) {
		if s[i] == '"' {
			if i+1 < len(s) && s[i+1] == '"' {
				b.WriteByte('"')
				i += 2
				continue
			}
			return b.String(), i + 1
		}
		b.WriteByte(s[i])
		i++
	}
	// Unterminated quote: take what we have.
	return b.String(), i
}
