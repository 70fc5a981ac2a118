package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/notesum/internal/cache"
	"github.com/snappy-loop/notesum/internal/database"
	"github.com/snappy-loop/notesum/internal/kafka"
	"github.com/snappy-loop/notesum/internal/llm"
	"github.com/snappy-loop/notesum/internal/models"
	"github.com/snappy-loop/notesum/internal/quota"
	"github.com/snappy-loop/notesum/internal/summarize"
)

const archiveURLExpiry = 15 * time.Minute

var (
	ErrNotFound        = errors.New("summary not found")
	ErrJobsUnavailable = errors.New("async summary jobs are not configured")
)

// SummaryDeps are the optional backends of SummaryService. Nil fields disable
// the matching feature.
type SummaryDeps struct {
	Repository summaryRepository
	Cache      summaryCache
	Archive    summaryArchive
	Publisher  JobPublisher
	Quota      quotaLimiter
	Webhooks   webhookDeliverer
}

// SummaryService runs summaries and records them in the configured backends
type SummaryService struct {
	summarizer   Summarizer
	defaultLimit int
	repo         summaryRepository
	cache        summaryCache
	archive      summaryArchive
	publisher    JobPublisher
	quota        quotaLimiter
	webhooks     webhookDeliverer
}

// NewSummaryService creates a new SummaryService
func NewSummaryService(summarizer Summarizer, defaultLimit int, deps SummaryDeps) *SummaryService {
	if defaultLimit <= 0 {
		defaultLimit = summarize.DefaultNotesLimit
	}
	return &SummaryService{
		summarizer:   summarizer,
		defaultLimit: defaultLimit,
		repo:         deps.Repository,
		cache:        deps.Cache,
		archive:      deps.Archive,
		publisher:    deps.Publisher,
		quota:        deps.Quota,
		webhooks:     deps.Webhooks,
	}
}

// SummarizeProfile returns a profile summary, from cache when a fresh one exists.
func (s *SummaryService) SummarizeProfile(ctx context.Context, userID string, req *models.ProfileSummaryRequest, progress summarize.Progress) (*models.SummaryResponse, error) {
	limit := s.limit(req.NotesLimit)
	key := cache.ProfileKey(userID, limit, req.IncludeFollowers)

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Summary cache read failed")
		} else if cached != nil {
			log.Debug().Str("user_id", userID).Str("summary_id", cached.ID.String()).Msg("Summary cache hit")
			reportShortCircuit(ctx, progress, summarize.ProgressEvent{Stage: summarize.StageDone, Fetched: cached.NotesFetched, Message: "cached"})
			return &models.SummaryResponse{Summary: *cached, Cached: true}, nil
		}
	}

	if err := s.consumeQuota(ctx); err != nil {
		reportShortCircuit(ctx, progress, summarize.ProgressEvent{Stage: summarize.StageFailed, Message: err.Error()})
		return nil, err
	}

	record := &models.Summary{
		ID:               uuid.New(),
		Kind:             models.KindProfile,
		TargetID:         userID,
		Status:           models.StatusRunning,
		NotesLimit:       limit,
		IncludeFollowers: req.IncludeFollowers,
		CreatedAt:        time.Now(),
	}
	if err := s.create(ctx, record); err != nil {
		reportShortCircuit(ctx, progress, summarize.ProgressEvent{Stage: summarize.StageFailed, Message: err.Error()})
		return nil, err
	}

	result, err := s.summarizer.SummarizeProfile(ctx, userID, summarize.Options{
		NotesLimit:       &limit,
		IncludeFollowers: req.IncludeFollowers,
		Progress:         progress,
	})
	if err != nil {
		s.fail(ctx, record, err)
		return nil, err
	}

	resp, err := s.complete(ctx, record, result)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, &resp.Summary); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Summary cache write failed")
		}
	}
	return resp, nil
}

// reportShortCircuit emits started followed by last for a request answered
// without running the summarizer.
func reportShortCircuit(ctx context.Context, progress summarize.Progress, last summarize.ProgressEvent) {
	if progress == nil {
		return
	}
	progress.Report(ctx, summarize.ProgressEvent{Stage: summarize.StageStarted})
	progress.Report(ctx, last)
}

// SummarizeNote summarizes a single note. Note summaries are not cached.
func (s *SummaryService) SummarizeNote(ctx context.Context, noteID string) (*models.SummaryResponse, error) {
	if err := s.consumeQuota(ctx); err != nil {
		return nil, err
	}

	record := &models.Summary{
		ID:        uuid.New(),
		Kind:      models.KindNote,
		TargetID:  noteID,
		Status:    models.StatusRunning,
		CreatedAt: time.Now(),
	}
	if err := s.create(ctx, record); err != nil {
		return nil, err
	}

	result, err := s.summarizer.SummarizeNote(ctx, noteID)
	if err != nil {
		s.fail(ctx, record, err)
		return nil, err
	}
	return s.complete(ctx, record, result)
}

// EnqueueProfileSummary records a queued summary and publishes it as a job.
func (s *SummaryService) EnqueueProfileSummary(ctx context.Context, userID string, req *models.ProfileSummaryRequest) (*models.CreateJobResponse, error) {
	if s.repo == nil || s.publisher == nil {
		return nil, ErrJobsUnavailable
	}
	if err := s.consumeQuota(ctx); err != nil {
		return nil, err
	}

	limit := s.limit(req.NotesLimit)
	record := &models.Summary{
		ID:               uuid.New(),
		Kind:             models.KindProfile,
		TargetID:         userID,
		Status:           models.StatusQueued,
		NotesLimit:       limit,
		IncludeFollowers: req.IncludeFollowers,
		CreatedAt:        time.Now(),
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create summary: %w", err)
	}

	msg := &models.SummaryJobMessage{
		JobID:            record.ID,
		UserID:           userID,
		NotesLimit:       &limit,
		IncludeFollowers: req.IncludeFollowers,
		WebhookURL:       req.WebhookURL,
	}
	if err := s.publisher.PublishSummaryJob(ctx, msg); err != nil {
		if ferr := s.repo.Fail(ctx, record.ID, "enqueue_failed", err.Error()); ferr != nil {
			log.Error().Err(ferr).Str("summary_id", record.ID.String()).Msg("Failed to mark summary failed")
		}
		return nil, fmt.Errorf("failed to publish summary job: %w", err)
	}

	log.Info().
		Str("summary_id", record.ID.String()).
		Str("user_id", userID).
		Int("notes_limit", limit).
		Msg("Summary job queued")

	return &models.CreateJobResponse{JobID: record.ID, Status: record.Status, CreatedAt: record.CreatedAt}, nil
}

// GetSummary returns a stored summary, with a presigned archive URL when archived.
func (s *SummaryService) GetSummary(ctx context.Context, id uuid.UUID) (*models.SummaryResponse, error) {
	if s.repo == nil {
		return nil, ErrNotFound
	}
	record, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}

	resp := &models.SummaryResponse{Summary: *record}
	if s.archive != nil && record.ArchiveKey != nil {
		url, err := s.archive.PresignedURL(ctx, *record.ArchiveKey, archiveURLExpiry)
		if err != nil {
			log.Warn().Err(err).Str("summary_id", id.String()).Msg("Failed to presign archive URL")
		} else {
			resp.ArchiveURL = url
		}
	}
	return resp, nil
}

// HandleSummaryJob runs a queued job. Jobs that already finished are skipped.
// Summarization failures are recorded on the job and reported as permanent.
func (s *SummaryService) HandleSummaryJob(ctx context.Context, msg *models.SummaryJobMessage) error {
	if s.repo == nil {
		return fmt.Errorf("%w: %w", kafka.ErrPermanent, ErrJobsUnavailable)
	}

	record, err := s.repo.GetByID(ctx, msg.JobID)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: job %s: %w", kafka.ErrPermanent, msg.JobID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if record.Status == models.StatusSucceeded || record.Status == models.StatusFailed {
		log.Info().Str("summary_id", record.ID.String()).Str("status", record.Status).Msg("Job already finished, skipping")
		return nil
	}

	if err := s.repo.MarkRunning(ctx, record.ID); err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	record.Status = models.StatusRunning

	limit := record.NotesLimit
	if msg.NotesLimit != nil {
		limit = *msg.NotesLimit
	}
	result, err := s.summarizer.SummarizeProfile(ctx, msg.UserID, summarize.Options{
		NotesLimit:       &limit,
		IncludeFollowers: msg.IncludeFollowers,
	})
	if err != nil {
		s.fail(ctx, record, err)
		s.notifyWebhook(ctx, msg.WebhookURL, record)
		return fmt.Errorf("%w: %w", kafka.ErrPermanent, err)
	}

	resp, err := s.complete(ctx, record, result)
	if err != nil {
		return err
	}
	if s.cache != nil {
		key := cache.ProfileKey(msg.UserID, limit, msg.IncludeFollowers)
		if err := s.cache.Set(ctx, key, &resp.Summary); err != nil {
			log.Warn().Err(err).Str("user_id", msg.UserID).Msg("Summary cache write failed")
		}
	}
	s.notifyWebhook(ctx, msg.WebhookURL, &resp.Summary)
	return nil
}

// notifyWebhook reports a finished job. Delivery failures are only logged.
func (s *SummaryService) notifyWebhook(ctx context.Context, url string, record *models.Summary) {
	if url == "" || s.webhooks == nil {
		return
	}
	if err := s.webhooks.Deliver(ctx, url, record); err != nil {
		log.Error().Err(err).Str("summary_id", record.ID.String()).Msg("Webhook delivery failed")
	}
}

func (s *SummaryService) consumeQuota(ctx context.Context) error {
	if s.quota == nil {
		return nil
	}
	if err := s.quota.Consume(ctx); err != nil {
		if errors.Is(err, quota.ErrExceeded) {
			return err
		}
		log.Warn().Err(err).Msg("Quota check failed, allowing summary")
	}
	return nil
}

func (s *SummaryService) limit(requested *int) int {
	if requested != nil {
		return *requested
	}
	return s.defaultLimit
}

func (s *SummaryService) create(ctx context.Context, record *models.Summary) error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to create summary: %w", err)
	}
	return nil
}

// complete archives the result and marks the record succeeded.
func (s *SummaryService) complete(ctx context.Context, record *models.Summary, result *summarize.Summary) (*models.SummaryResponse, error) {
	now := time.Now()
	text := result.Text
	record.Status = models.StatusSucceeded
	record.Text = &text
	record.NotesFetched = result.NotesFetched
	record.NotesUsed = result.NotesUsed
	record.FinishedAt = &now

	if s.archive != nil {
		key, err := s.archive.Put(ctx, record)
		if err != nil {
			log.Warn().Err(err).Str("summary_id", record.ID.String()).Msg("Summary archive failed")
		} else {
			record.ArchiveKey = &key
		}
	}

	if s.repo != nil {
		if err := s.repo.Complete(ctx, record.ID, text, record.NotesFetched, record.NotesUsed, record.ArchiveKey); err != nil {
			return nil, fmt.Errorf("failed to complete summary: %w", err)
		}
	}

	log.Info().
		Str("summary_id", record.ID.String()).
		Str("kind", record.Kind).
		Str("target_id", record.TargetID).
		Int("notes_used", record.NotesUsed).
		Msg("Summary completed")

	return &models.SummaryResponse{Summary: *record}, nil
}

func (s *SummaryService) fail(ctx context.Context, record *models.Summary, cause error) {
	code := ErrorCode(cause)
	msg := cause.Error()
	record.Status = models.StatusFailed
	record.ErrorCode = &code
	record.ErrorMessage = &msg

	log.Error().
		Err(cause).
		Str("summary_id", record.ID.String()).
		Str("error_code", code).
		Msg("Summary failed")

	if s.repo == nil {
		return
	}
	if err := s.repo.Fail(ctx, record.ID, code, msg); err != nil {
		log.Error().Err(err).Str("summary_id", record.ID.String()).Msg("Failed to mark summary failed")
	}
}

// ErrorCode maps a summarization error to a stable machine-readable code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, quota.ErrExceeded):
		return "quota_exceeded"
	case errors.Is(err, summarize.ErrProfileNotFound):
		return "profile_not_found"
	case errors.Is(err, summarize.ErrNoteNotFound):
		return "note_not_found"
	case errors.Is(err, llm.ErrTokenMissing):
		return "token_missing"
	case errors.Is(err, llm.ErrServerDisabled):
		return "server_llm_disabled"
	case errors.Is(err, llm.ErrServerPermission):
		return "server_llm_permission_denied"
	case errors.Is(err, llm.ErrDisabled):
		return "llm_disabled"
	case errors.Is(err, llm.ErrCanceled):
		return "canceled"
	case errors.Is(err, summarize.ErrResponseFormat):
		return "response_format"
	case errors.Is(err, llm.ErrServerLLMAPI):
		return "server_llm_error"
	case errors.Is(err, llm.ErrAPI):
		return "llm_api_error"
	default:
		return "internal_error"
	}
}
