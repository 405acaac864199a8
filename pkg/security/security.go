// Package security provides validation, sanitization, and limits for the
// taskforge coordinator.
package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"taskforge/pkg/core"
)

// Limits enforced at the engine boundary.
const (
	// MaxKindNameLength is the maximum length for task kind names.
	MaxKindNameLength = 255

	// MaxWorkerNameLength is the maximum length for worker display names.
	MaxWorkerNameLength = 255

	// MaxInputSize is the maximum size in bytes for task input payloads (1MB).
	MaxInputSize = 1 << 20

	// MaxResultSize is the maximum size in bytes for result payloads (1MB).
	MaxResultSize = 1 << 20

	// MaxErrorPayloadLength is the maximum length for stored error payloads.
	MaxErrorPayloadLength = 4096
)

// validKindName matches alphanumeric, hyphens, underscores, and dots.
var validKindName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// ValidateKindName validates a task kind name.
func ValidateKindName(name string) error {
	if name == "" {
		return core.ErrInvalidKindName
	}
	if len(name) > MaxKindNameLength {
		return core.ErrKindNameTooLong
	}
	if !validKindName.MatchString(name) {
		return core.ErrInvalidKindName
	}
	return nil
}

// ValidateWorkerName validates a worker display name. Display names are
// free-form but must be non-empty, printable and bounded.
func ValidateWorkerName(name string) error {
	if name == "" || len(name) > MaxWorkerNameLength {
		return core.ErrInvalidWorkerName
	}
	for _, r := range name {
		if r < 32 || r == 127 {
			return core.ErrInvalidWorkerName
		}
	}
	return nil
}

// ValidateInput rejects task inputs over the size limit.
func ValidateInput(input []byte) error {
	if len(input) > MaxInputSize {
		return core.ErrInputTooLarge
	}
	return nil
}

// SanitizeErrorPayload truncates and sanitizes error payloads for storage.
func SanitizeErrorPayload(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	// Truncate if too long
	if utf8.RuneCountInString(result) > MaxErrorPayloadLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorPayloadLength-3]) + "..."
	}

	return result
}
