package utils

import (
	"regexp"
	"strings"
)

// FirstNonEmpty returns the first non-empty string, or "" when all are empty
func FirstNonEmpty(strs ...string) string {
	for _, s := range strs {
		if s != "" {
			return s
		}
	}
	return ""
}

// SplitByMultipleDelimiters splits s on any of the delimiters
func SplitByMultipleDelimiters(s string, delimiters ...string) []string {
	if len(delimiters) == 0 {
		return []string{s}
	}
	delimiterPattern := "[" + regexp.QuoteMeta(strings.Join(delimiters, "")) + "]"
	re := regexp.MustCompile(delimiterPattern)
	return re.Split(s, -1)
}

// SplitAddrs splits an address list such as "a:1, b:2;c:3" and drops empty entries
func SplitAddrs(s string) []string {
	parts := SplitByMultipleDelimiters(s, ",", ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
