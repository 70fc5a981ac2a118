package summarize

import (
	"context"
	"fmt"

	"github.com/snappy-loop/notesum/internal/misskey"
)

// NotesLister is the paging endpoint FetchNotes walks.
type NotesLister interface {
	UserNotes(ctx context.Context, req *misskey.UserNotesRequest) ([]misskey.Note, error)
}

// FetchNotes collects up to limit of the user's latest notes, newest first,
// walking users/notes pages of at most misskey.MaxNotesPerRequest. It stops
// early on an empty page or a page shorter than requested. onPage, when set,
// is called with the running total after each page.
func FetchNotes(ctx context.Context, api NotesLister, userID string, limit int, onPage func(total int)) ([]misskey.Note, error) {
	var (
		all     []misskey.Note
		untilID string
	)
	for len(all) < limit {
		pageSize := min(limit-len(all), misskey.MaxNotesPerRequest)

		page, err := api.UserNotes(ctx, &misskey.UserNotesRequest{
			UserID:           userID,
			WithRenotes:      false,
			WithReplies:      false,
			WithChannelNotes: false,
			WithFiles:        false,
			Limit:            pageSize,
			AllowPartial:     false,
			UntilID:          untilID,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch notes: %w", err)
		}
		if len(page) == 0 {
			break
		}

		all = append(all, page...)
		untilID = page[len(page)-1].ID
		if onPage != nil {
			onPage(len(all))
		}

		if len(page) < pageSize {
			break
		}
	}
	return all, nil
}
