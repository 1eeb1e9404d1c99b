package ics

import (
	"strings"
	"sync/atomic"
)

var relaxedParsing atomic.Bool

// SetRelaxedParsing toggles tolerant handling of line folding on
// decode: bare LF or CR line endings are accepted, and a line that
// does not start a new property is treated as a continuation of the
// previous one even without the leading whitespace the format
// requires. The flag is global and must be set before the first
// decode; documents produced by other systems routinely need it.
func SetRelaxedParsing(on bool) {
	relaxedParsing.Store(on)
}

// RelaxedParsing reports the current setting.
func RelaxedParsing() bool {
	return relaxedParsing.Load()
}

// normalize rewrites the raw document into strictly folded CRLF form.
func normalize(text string) string {
	if !relaxedParsing.Load() {
		return text
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		switch {
		case line[0] == ' ' || line[0] == '\t':
			if len(out) > 0 {
				out[len(out)-1] += line[1:]
				continue
			}
		case !startsProperty(line) && len(out) > 0:
			out[len(out)-1] += line
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\r\n") + "\r\n"
}

// startsProperty reports whether the line opens a new content line:
// a property name (letters, digits, hyphens) followed by ':' or ';'.
func startsProperty(line string) bool {
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == ':' || c == ';':
			return i > 0
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
			// still in the name
		default:
			return false
		}
	}
	return false
}
