// Package security provides input validation and log sanitization for
// names and text that reach the filesystem, the engine or the logs.
package security

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
)

// Limits.
const (
	MaxNameLength = 64

	// MaxTextSize bounds a single document or query submitted over the API.
	MaxTextSize = 10 * 1024 * 1024

	// DefaultLogLength is the truncation length used by SanitizeForLog.
	DefaultLogLength = 200
)

// nameRegex matches dataset and collection names: alphanumeric, hyphen,
// underscore, starting with an alphanumeric.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ValidateName checks that name is safe to use as a single path element.
func ValidateName(field, name string) error {
	switch {
	case name == "":
		return apperrors.ValidationError(field + " is required").WithDetail("field", field)
	case len(name) > MaxNameLength:
		return apperrors.ValidationError(fmt.Sprintf("%s exceeds %d characters", field, MaxNameLength)).
			WithDetail("field", field)
	case !nameRegex.MatchString(name):
		return apperrors.ValidationError(fmt.Sprintf("%s %q must contain only alphanumeric characters, hyphens and underscores, and start with an alphanumeric", field, SanitizeForLog(name))).
			WithDetail("field", field)
	}
	return nil
}

// ValidateText checks that text is valid UTF-8 no larger than maxSize bytes.
func ValidateText(field, text string, maxSize int) error {
	if len(text) > maxSize {
		return apperrors.ValidationError(fmt.Sprintf("%s exceeds maximum size (size: %s, max: %s)", field, formatSize(len(text)), formatSize(maxSize))).
			WithDetails(map[string]string{
				"field":     field,
				"max_bytes": strconv.Itoa(maxSize),
			})
	}
	if !utf8.ValidString(text) {
		return apperrors.ValidationError(field + " is not valid UTF-8").WithDetail("field", field)
	}
	return nil
}

// SanitizeForLog escapes line breaks, drops other control characters and
// truncates s to DefaultLogLength runes.
func SanitizeForLog(s string) string {
	return SanitizeForLogWithLength(s, DefaultLogLength)
}

// SanitizeForLogWithLength is SanitizeForLog with a custom length.
func SanitizeForLogWithLength(s string, maxLen int) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(min(len(s), maxLen+10))

	count := 0
	for _, r := range s {
		if count >= maxLen {
			b.WriteString("...")
			break
		}
		switch r {
		case '\n':
			b.WriteString(`\n`)
			count += 2
		case '\r':
			b.WriteString(`\r`)
			count += 2
		case '\t':
			b.WriteString(`\t`)
			count += 2
		default:
			if !unicode.IsControl(r) {
				b.WriteRune(r)
				count++
			}
		}
	}
	return b.String()
}

func formatSize(bytes int) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := int64(bytes) / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
