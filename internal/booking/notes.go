package booking

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	domainerrors "appointment-booking-api/internal/errors"
)

const MaxNotesLength = 1000

var notesPolicy = bluemonday.StrictPolicy()

// SanitizeNotes trims notes and rejects anything over MaxNotesLength
// characters or containing markup. Accepted notes are stored as typed.
func SanitizeNotes(notes string) (string, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return "", nil
	}
	if utf8.RuneCountInString(notes) > MaxNotesLength {
		return "", notesError("must not exceed 1000 characters")
	}
	// the strict policy escapes plain text, so compare after unescaping
	if html.UnescapeString(notesPolicy.Sanitize(notes)) != notes {
		return "", notesError("must not contain HTML")
	}
	return notes, nil
}

func notesError(msg string) error {
	return domainerrors.ValidationWithDetails("validation failed", map[string]string{"notes": msg})
}
