package validators

import (
	"strings"
	"unicode"
)

const MaxReasonLength = 280

// SanitizeString trims input, drops control characters and truncates to maxLen runes.
func SanitizeString(input string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(input))
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			return string(runes[:maxLen])
		}
	}
	return cleaned
}
