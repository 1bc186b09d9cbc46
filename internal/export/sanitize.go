package export

import (
	"strings"
	"unicode"
)

const maxNameLen = 80

// Filename turns a project title into something safe to offer as a download
// name. An empty result falls back to fallback.
func Filename(title, fallback string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case unicode.IsControl(r):
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '.', r == '(', r == ')':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	name := strings.Trim(strings.TrimSpace(b.String()), ".")
	if runes := []rune(name); len(runes) > maxNameLen {
		name = strings.TrimSpace(string(runes[:maxNameLen]))
	}
	if name == "" {
		return fallback
	}
	return name
}
