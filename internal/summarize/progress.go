package summarize

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Stage is a step of a summarization run.
type Stage string

const (
	StageStarted     Stage = "started"
	StagePageFetched Stage = "page_fetched"
	StageGenerating  Stage = "generating"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// ProgressEvent reports where a run is. Fetched is the number of notes collected so far.
type ProgressEvent struct {
	Stage   Stage  `json:"stage"`
	Fetched int    `json:"fetched,omitempty"`
	Message string `json:"message,omitempty"`
}

// Progress receives progress events. Every run ends with exactly one
// StageDone or StageFailed event.
type Progress interface {
	Report(ctx context.Context, ev ProgressEvent)
}

// ProgressFunc adapts a function to Progress.
type ProgressFunc func(ctx context.Context, ev ProgressEvent)

func (f ProgressFunc) Report(ctx context.Context, ev ProgressEvent) { f(ctx, ev) }

type logProgress struct{}

func (logProgress) Report(_ context.Context, ev ProgressEvent) {
	log.Debug().
		Str("stage", string(ev.Stage)).
		Int("fetched", ev.Fetched).
		Str("message", ev.Message).
		Msg("Summarization progress")
}
