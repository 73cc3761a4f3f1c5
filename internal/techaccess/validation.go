package techaccess

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nerrad567/gray-logic-access/internal/auth"
)

// Description length bounds, in characters.
const (
	MinDescriptionLength = 20
	MaxDescriptionLength = 200
)

// NormalizeDescription validates a job description and collapses runs of
// spaces and tabs into single spaces. Line breaks are rejected rather than
// folded.
func NormalizeDescription(desc string) (string, error) {
	if strings.ContainsAny(desc, "\r\n") {
		return "", &auth.InputError{Field: "description", Reason: "must be a single line"}
	}
	if !utf8.ValidString(desc) {
		return "", &auth.InputError{Field: "description", Reason: "must be valid text"}
	}

	normalized := strings.Join(strings.Fields(desc), " ")
	for _, r := range normalized {
		if !unicode.IsPrint(r) {
			return "", &auth.InputError{Field: "description", Reason: "contains non-printable characters"}
		}
	}

	n := utf8.RuneCountInString(normalized)
	if n < MinDescriptionLength || n > MaxDescriptionLength {
		return "", &auth.InputError{Field: "description", Reason: "must be 20 to 200 characters"}
	}
	return normalized, nil
}

// validateMinutes rejects grant lengths outside AllowedMinutes.
func validateMinutes(m int) error {
	if !ValidMinutes(m) {
		return &auth.InputError{Field: "minutes", Reason: "must be 30, 60, 90 or 120"}
	}
	return nil
}
