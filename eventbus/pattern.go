package eventbus

import "strings"

// MatchPattern reports whether an event type matches a subscription pattern.
//
// Rules:
//   - "#" alone matches every type
//   - "+" matches exactly one path segment
//   - "*" matches arbitrarily many segments (including none)
//   - a trailing "/#" matches the prefix itself and anything below it
//   - everything else is an exact segment comparison
//
// Types are dot/slash-delimited; both separators are treated alike.
func MatchPattern(eventType, pattern string) bool {
	if pattern == "#" {
		return true
	}
	return matchSegments(splitType(eventType), splitType(pattern))
}

func splitType(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '.' })
}

func matchSegments(t, p []string) bool {
	if len(p) == 0 {
		return len(t) == 0
	}
	switch p[0] {
	case "#", "*":
		// Matches zero or more segments.
		for i := 0; i <= len(t); i++ {
			if matchSegments(t[i:], p[1:]) {
				return true
			}
		}
		return false
	case "+":
		return len(t) > 0 && matchSegments(t[1:], p[1:])
	default:
		return len(t) > 0 && t[0] == p[0] && matchSegments(t[1:], p[1:])
	}
}
