package notes

import (
	"slices"

	"github.com/snappy-loop/notesum/internal/misskey"
)

// AllowedVisibilities lists the visibilities that may be summarized.
// Followers-only notes are included only on request.
func AllowedVisibilities(includeFollowers bool) []string {
	allowed := []string{
		misskey.VisibilityPublic,
		misskey.VisibilityHome,
		misskey.VisibilityPublicNonLTL,
	}
	if includeFollowers {
		allowed = append(allowed, misskey.VisibilityFollowers)
	}
	return allowed
}

// SummarizableTexts keeps notes with an allowed visibility and a non-null
// text, and returns their texts in order. Texts are used as-is.
func SummarizableTexts(in []misskey.Note, includeFollowers bool) []string {
	allowed := AllowedVisibilities(includeFollowers)
	texts := make([]string, 0, len(in))
	for _, n := range in {
		if !slices.Contains(allowed, n.Visibility) {
			continue
		}
		if n.Text == nil {
			continue
		}
		texts = append(texts, *n.Text)
	}
	return texts
}
