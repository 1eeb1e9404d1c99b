// Package match implements the case-insensitive wildcard matching the
// store's event search uses.
package match

import "strings"

// Wildcard reports whether s matches pattern. '*' matches any run of
// characters, including none; everything else matches literally,
// ignoring case. A pattern without wildcards must match s exactly.
func Wildcard(pattern, s string) bool {
	pattern = strings.ToLower(pattern)
	s = strings.ToLower(s)

	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return s == pattern
	}

	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]

	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}

	return strings.HasSuffix(s, parts[len(parts)-1])
}
