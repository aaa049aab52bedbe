// Package strings normalises lists of identifiers read from config and events.
package strings

import (
	"strings"
)

// DedupeAndTrim trims each value and drops blanks and repeats, keeping the
// first occurrence. Used for employer and unit id lists.
func DedupeAndTrim(values []string) []string {
	return normalize(values, strings.TrimSpace)
}

// DedupeAndTrimUpper is DedupeAndTrim with upper-casing, for code lists such
// as identifier types where producers disagree on case.
func DedupeAndTrimUpper(values []string) []string {
	return normalize(values, func(s string) string {
		return strings.ToUpper(strings.TrimSpace(s))
	})
}

func normalize(values []string, fn func(string) string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = fn(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
