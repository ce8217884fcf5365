package query

import "strings"

// splitTopLevel splits s on sep, ignoring separators nested inside
// parentheses, braces or double quotes, e.g. `a.in.(1,2),b.eq.3` yields two
// parts.
func splitTopLevel(s string, sep rune) []string {
	var parts []string
	var current strings.Builder
	depth := 0
	quoted := false
	escaped := false

	for _, char := range s {
		switch {
		case escaped:
			escaped = false
		case char == '\\' && quoted:
			escaped = true
		case char == '"':
			quoted = !quoted
		case quoted:
		case char == '(' || char == '{':
			depth++
		case char == ')' || char == '}':
			depth--
		case char == sep && depth == 0:
			parts = append(parts, current.String())
			current.Reset()
			continue
		}
		current.WriteRune(char)
	}
	parts = append(parts, current.String())
	return parts
}

// balanced reports whether every parenthesis in s is closed.
func balanced(s string) bool {
	depth := 0
	quoted := false
	for _, char := range s {
		switch {
		case char == '"':
			quoted = !quoted
		case quoted:
		case char == '(':
			depth++
		case char == ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0 && !quoted
}

// unquote strips one pair of surrounding double quotes and unescapes \" and \\.
func unquote(s string) string {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return s
	}
	s = s[1 : len(s)-1]
	s = strings.ReplaceAll(s, `\"`, `"`)
	return strings.ReplaceAll(s, `\\`, `\`)
}
