package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/snappy-loop/notesum/internal/models"
	"github.com/snappy-loop/notesum/internal/summarize"
)

// Summarizer runs the actual summarizations.
type Summarizer interface {
	SummarizeProfile(ctx context.Context, userID string, opts summarize.Options) (*summarize.Summary, error)
	SummarizeNote(ctx context.Context, noteID string) (*summarize.Summary, error)
}

// JobPublisher publishes summary jobs (e.g. to Kafka). May be nil to disable async jobs.
type JobPublisher interface {
	PublishSummaryJob(ctx context.Context, msg *models.SummaryJobMessage) error
}

// summaryRepository is the subset of summary DB operations used by SummaryService.
type summaryRepository interface {
	Create(ctx context.Context, s *models.Summary) error
	MarkRunning(ctx context.Context, id uuid.UUID) error
	Complete(ctx context.Context, id uuid.UUID, text string, notesFetched, notesUsed int, archiveKey *string) error
	Fail(ctx context.Context, id uuid.UUID, code, message string) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Summary, error)
}

// summaryCache is the subset of cache operations used by SummaryService.
type summaryCache interface {
	Get(ctx context.Context, key string) (*models.Summary, error)
	Set(ctx context.Context, key string, s *models.Summary) error
}

// summaryArchive is the subset of archive operations used by SummaryService.
type summaryArchive interface {
	Put(ctx context.Context, s *models.Summary) (string, error)
	PresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error)
}

// quotaLimiter is consumed once per summary that will call Gemini.
type quotaLimiter interface {
	Consume(ctx context.Context) error
}

// webhookDeliverer posts finished job results to the caller's URL.
type webhookDeliverer interface {
	Deliver(ctx context.Context, url string, s *models.Summary) error
}
