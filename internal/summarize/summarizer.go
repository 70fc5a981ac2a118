// Package summarize collects a user's profile and recent notes (or a single
// note) and asks the LLM client for a summary.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/notesum/internal/llm"
	"github.com/snappy-loop/notesum/internal/misskey"
	"github.com/snappy-loop/notesum/internal/notes"
	"github.com/snappy-loop/notesum/internal/prompt"
)

// DefaultNotesLimit is used when no notes limit is given.
const DefaultNotesLimit = 15

var (
	ErrProfileNotFound      = errors.New("profile not found")
	ErrNoteNotFound         = errors.New("note not found")
	ErrResponseFormat       = errors.New("unexpected llm response format")
	ErrProfileSummarization = errors.New("profile summarization failed")
	ErrNoteSummarization    = errors.New("note summarization failed")
)

// MisskeyAPI is the subset of the instance API the summarizer reads from.
type MisskeyAPI interface {
	ShowUser(ctx context.Context, userID string) (*misskey.User, error)
	ShowNote(ctx context.Context, noteID string) (*misskey.Note, error)
	UserNotes(ctx context.Context, req *misskey.UserNotesRequest) ([]misskey.Note, error)
}

// Generator produces a generateContent result for a request.
type Generator interface {
	Generate(ctx context.Context, req *llm.Request) (*llm.Result, error)
}

// Prompts holds the configurable prompt fragments.
type Prompts struct {
	System          string
	Profile         string
	Note            string
	ProfileTemplate string
}

// Options tune one profile summarization.
type Options struct {
	// NotesLimit caps the number of notes fetched. Nil selects the summarizer's default.
	NotesLimit       *int
	IncludeFollowers bool
	Progress         Progress
}

// Summary is the outcome of a summarization.
type Summary struct {
	UserID       string
	NoteID       string
	Text         string
	NotesFetched int
	NotesUsed    int
	CreatedAt    time.Time
}

// Summarizer runs profile and note summarizations.
type Summarizer struct {
	api          MisskeyAPI
	generator    Generator
	notifier     llm.Notifier
	prompts      Prompts
	defaultLimit int
}

// New creates a Summarizer. defaultLimit <= 0 selects DefaultNotesLimit; a nil notifier logs.
func New(api MisskeyAPI, generator Generator, notifier llm.Notifier, prompts Prompts, defaultLimit int) *Summarizer {
	if defaultLimit <= 0 {
		defaultLimit = DefaultNotesLimit
	}
	if notifier == nil {
		notifier = llm.LogNotifier{}
	}
	return &Summarizer{
		api:          api,
		generator:    generator,
		notifier:     notifier,
		prompts:      prompts,
		defaultLimit: defaultLimit,
	}
}

// SummarizeProfile summarizes the user's profile and latest notes.
// Every failure is returned wrapped in ErrProfileSummarization.
func (s *Summarizer) SummarizeProfile(ctx context.Context, userID string, opts Options) (summary *Summary, err error) {
	progress := opts.Progress
	if progress == nil {
		progress = logProgress{}
	}
	progress.Report(ctx, ProgressEvent{Stage: StageStarted})
	defer func() {
		if err != nil {
			progress.Report(ctx, ProgressEvent{Stage: StageFailed, Message: err.Error()})
			s.notifier.Alert(ctx, llm.AlertError, "Profile summarization failed", err.Error())
			return
		}
		progress.Report(ctx, ProgressEvent{Stage: StageDone, Fetched: summary.NotesFetched})
	}()

	summary, err = s.summarizeProfile(ctx, userID, opts, progress)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfileSummarization, err)
	}
	s.notifier.Alert(ctx, llm.AlertInfo, "", summary.Text)
	return summary, nil
}

func (s *Summarizer) summarizeProfile(ctx context.Context, userID string, opts Options, progress Progress) (*Summary, error) {
	user, err := s.api.ShowUser(ctx, userID)
	if err != nil {
		var apiErr *misskey.APIError
		if errors.As(err, &apiErr) && apiErr.Code == misskey.CodeNoSuchUser {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	if user == nil {
		return nil, ErrProfileNotFound
	}

	limit := s.defaultLimit
	if opts.NotesLimit != nil {
		limit = *opts.NotesLimit
	}

	fetched, err := FetchNotes(ctx, s.api, userID, limit, func(n int) {
		progress.Report(ctx, ProgressEvent{Stage: StagePageFetched, Fetched: n})
	})
	if err != nil {
		return nil, err
	}
	texts := notes.SummarizableTexts(fetched, opts.IncludeFollowers)

	log.Info().
		Str("user_id", userID).
		Int("limit", limit).
		Int("fetched", len(fetched)).
		Int("used", len(texts)).
		Bool("include_followers", opts.IncludeFollowers).
		Msg("Notes collected for profile summary")

	req := &llm.Request{
		UserContent: prompt.ProfileContent(s.prompts.ProfileTemplate, prompt.Profile{
			Name:        profileField(user.Name),
			Location:    profileField(user.Location),
			Description: profileField(user.Description),
		}, texts),
		SystemInstruction: prompt.SystemInstruction(s.prompts.Profile, s.prompts.System),
	}

	progress.Report(ctx, ProgressEvent{Stage: StageGenerating, Fetched: len(fetched)})
	text, err := s.generate(ctx, req)
	if err != nil {
		return nil, err
	}

	return &Summary{
		UserID:       userID,
		Text:         text,
		NotesFetched: len(fetched),
		NotesUsed:    len(texts),
		CreatedAt:    time.Now(),
	}, nil
}

// SummarizeNote summarizes a single note, including its eligible images.
// Every failure is alerted and returned wrapped in ErrNoteSummarization.
func (s *Summarizer) SummarizeNote(ctx context.Context, noteID string) (summary *Summary, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrNoteSummarization, err)
			s.notifier.Alert(ctx, llm.AlertError, "Note summarization failed", err.Error())
		}
	}()

	note, err := s.api.ShowNote(ctx, noteID)
	if err != nil {
		var apiErr *misskey.APIError
		if errors.As(err, &apiErr) && apiErr.Code == misskey.CodeNoSuchNote {
			return nil, ErrNoteNotFound
		}
		return nil, fmt.Errorf("fetch note: %w", err)
	}
	if note == nil {
		return nil, ErrNoteNotFound
	}

	normalized := notes.Normalize(notes.FromAPI(*note))
	withCW := *note
	withCW.Text = &normalized.Text

	text, err := s.generate(ctx, &llm.Request{
		Note:              &withCW,
		SystemInstruction: prompt.SystemInstruction(s.prompts.Note, s.prompts.System),
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Alert(ctx, llm.AlertInfo, "", text)

	return &Summary{
		UserID:       note.UserID,
		NoteID:       note.ID,
		Text:         text,
		NotesFetched: 1,
		NotesUsed:    1,
		CreatedAt:    time.Now(),
	}, nil
}

func (s *Summarizer) generate(ctx context.Context, req *llm.Request) (string, error) {
	result, err := s.generator.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	text, err := llm.ExtractCandidateText(result)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrResponseFormat, err)
	}
	return text, nil
}

// profileField renders an unset profile field as "null", the way the
// instance's web client interpolates it.
func profileField(s *string) string {
	if s == nil {
		return "null"
	}
	return *s
}
