package util

import "strings"

// SplitNonEmpty splits s on sep, trims each part and drops empty ones.
func SplitNonEmpty(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
