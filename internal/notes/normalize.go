// Package notes normalizes notes from the instance API and legacy exports
// into the shape the summarizer works with.
package notes

import (
	"strings"

	"github.com/snappy-loop/notesum/internal/misskey"
)

// GeneratedID is used for notes that arrive without an id.
const GeneratedID = "generated-id"

// Raw is a loosely-typed note. Besides the API field names it accepts the
// aliases found in older exports (note, scope, created_at, date).
type Raw struct {
	ID             string  `json:"id"`
	Text           *string `json:"text"`
	Note           *string `json:"note"`
	CW             *string `json:"cw"`
	Visibility     string  `json:"visibility"`
	Scope          string  `json:"scope"`
	CreatedAt      string  `json:"createdAt"`
	CreatedAtSnake string  `json:"created_at"`
	Date           string  `json:"date"`
}

// Note is a normalized note.
type Note struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	CreatedAt  *string `json:"createdAt"`
	Visibility string  `json:"visibility"`
}

// FromAPI converts an API note into a Raw note.
func FromAPI(n misskey.Note) *Raw {
	return &Raw{
		ID:         n.ID,
		Text:       n.Text,
		CW:         n.CW,
		Visibility: n.Visibility,
		CreatedAt:  n.CreatedAt,
	}
}

// Normalize returns nil for a nil note. The content warning, when present,
// is prefixed as "【CW: ...】" and separated from the body by a space.
func Normalize(raw *Raw) *Note {
	if raw == nil {
		return nil
	}

	var parts []string
	if cw := deref(raw.CW); cw != "" {
		parts = append(parts, "【CW: "+cw+"】")
	}
	if body := firstNonEmpty(deref(raw.Text), deref(raw.Note)); body != "" {
		parts = append(parts, body)
	}

	n := &Note{
		ID:         firstNonEmpty(raw.ID, GeneratedID),
		Text:       strings.TrimSpace(strings.Join(parts, " ")),
		Visibility: firstNonEmpty(raw.Visibility, raw.Scope, misskey.VisibilityPublic),
	}
	if createdAt := firstNonEmpty(raw.CreatedAt, raw.CreatedAtSnake, raw.Date); createdAt != "" {
		n.CreatedAt = &createdAt
	}
	return n
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
