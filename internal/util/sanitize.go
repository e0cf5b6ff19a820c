package util

import (
	"strings"
	"unicode"

	"autoshop-api/pkg/apierror"
)

const (
	MaxUsernameLength = 64
	MaxNameLength     = 100
	MaxPhoneLength    = 32
)

// CleanText trims s, strips control and invisible characters, and truncates
// the result to max runes.
func CleanText(s string, max int) string {
	trimmed := strings.TrimSpace(s)

	builder := strings.Builder{}
	builder.Grow(len(trimmed))

	for _, char := range trimmed {
		if unicode.IsControl(char) || isInvisibleUnicode(char) {
			continue
		}
		builder.WriteRune(char)
	}

	cleaned := strings.TrimSpace(builder.String())

	// Truncate by runes (not bytes) to avoid splitting multi-byte characters.
	runes := []rune(cleaned)
	if max > 0 && len(runes) > max {
		runes = runes[:max]
	}
	return strings.TrimSpace(string(runes))
}

// SanitizeUsername accepts letters, digits and the separators . _ - @.
// Anything else, including inner whitespace, is rejected rather than
// rewritten so two distinct inputs never collapse onto one account.
func SanitizeUsername(name string) (string, error) {
	cleaned := CleanText(name, 0)
	if cleaned == "" {
		return "", apierror.BadRequest("username is required", "username")
	}

	if len([]rune(cleaned)) > MaxUsernameLength {
		return "", apierror.BadRequest("username is too long", "username")
	}

	for _, char := range cleaned {
		if unicode.IsLetter(char) || unicode.IsDigit(char) {
			continue
		}
		switch char {
		case '.', '_', '-', '@':
			continue
		}
		return "", apierror.BadRequest("username contains invalid characters", "username")
	}

	return cleaned, nil
}

// isInvisibleUnicode returns true for zero-width, formatting, and other
// invisible Unicode characters.
func isInvisibleUnicode(r rune) bool {
	switch r {
	case
		'\u200B', // Zero-Width Space
		'\u200C', // Zero-Width Non-Joiner
		'\u200D', // Zero-Width Joiner
		'\u200E', // Left-to-Right Mark
		'\u200F', // Right-to-Left Mark
		'\u2060', // Word Joiner
		'\uFEFF', // Zero-Width No-Break Space / BOM
		'\uFFF9', // Interlinear Annotation Anchor
		'\uFFFA', // Interlinear Annotation Separator
		'\uFFFB': // Interlinear Annotation Terminator
		return true
	}

	return unicode.Is(unicode.Cf, r)
}
