package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/snappy-loop/notesum/internal/cache"
	"github.com/snappy-loop/notesum/internal/database"
	"github.com/snappy-loop/notesum/internal/kafka"
	"github.com/snappy-loop/notesum/internal/llm"
	"github.com/snappy-loop/notesum/internal/models"
	"github.com/snappy-loop/notesum/internal/quota"
	"github.com/snappy-loop/notesum/internal/summarize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSummarizer struct {
	profileCalls int
	lastOpts     summarize.Options
	err          error
}

func (f *fakeSummarizer) SummarizeProfile(_ context.Context, userID string, opts summarize.Options) (*summarize.Summary, error) {
	f.profileCalls++
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &summarize.Summary{UserID: userID, Text: "profile summary", NotesFetched: *opts.NotesLimit, NotesUsed: 3}, nil
}

func (f *fakeSummarizer) SummarizeNote(_ context.Context, noteID string) (*summarize.Summary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &summarize.Summary{NoteID: noteID, Text: "note summary", NotesFetched: 1, NotesUsed: 1}, nil
}

type memRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.Summary
	err  error
}

func newMemRepo() *memRepo { return &memRepo{rows: map[uuid.UUID]*models.Summary{}} }

func (r *memRepo) Create(_ context.Context, s *models.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	cp := *s
	r.rows[s.ID] = &cp
	return nil
}

func (r *memRepo) MarkRunning(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(s *models.Summary) { s.Status = models.StatusRunning })
}

func (r *memRepo) Complete(_ context.Context, id uuid.UUID, text string, fetched, used int, archiveKey *string) error {
	return r.update(id, func(s *models.Summary) {
		s.Status = models.StatusSucceeded
		s.Text = &text
		s.NotesFetched = fetched
		s.NotesUsed = used
		s.ArchiveKey = archiveKey
	})
}

func (r *memRepo) Fail(_ context.Context, id uuid.UUID, code, message string) error {
	return r.update(id, func(s *models.Summary) {
		s.Status = models.StatusFailed
		s.ErrorCode = &code
		s.ErrorMessage = &message
	})
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memRepo) update(id uuid.UUID, fn func(*models.Summary)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return database.ErrNotFound
	}
	fn(s)
	return nil
}

type memCache struct {
	entries map[string]*models.Summary
}

func (c *memCache) Get(_ context.Context, key string) (*models.Summary, error) {
	return c.entries[key], nil
}

func (c *memCache) Set(_ context.Context, key string, s *models.Summary) error {
	cp := *s
	c.entries[key] = &cp
	return nil
}

type fakeArchive struct {
	puts int
	err  error
}

func (a *fakeArchive) Put(_ context.Context, s *models.Summary) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.puts++
	return "summaries/" + s.ID.String() + ".json", nil
}

func (a *fakeArchive) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://s3.example/" + key + "?sig", nil
}

type fakePublisher struct {
	msgs []*models.SummaryJobMessage
	err  error
}

func (p *fakePublisher) PublishSummaryJob(_ context.Context, msg *models.SummaryJobMessage) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

type fakeQuota struct {
	left  int
	err   error
	calls int
}

func (q *fakeQuota) Consume(context.Context) error {
	q.calls++
	if q.err != nil {
		return q.err
	}
	if q.left == 0 {
		return fmt.Errorf("%w: 1/1 summaries used", quota.ErrExceeded)
	}
	q.left--
	return nil
}

type fakeWebhooks struct {
	urls      []string
	summaries []models.Summary
	err       error
}

func (w *fakeWebhooks) Deliver(_ context.Context, url string, s *models.Summary) error {
	w.urls = append(w.urls, url)
	w.summaries = append(w.summaries, *s)
	return w.err
}

func intPtr(n int) *int { return &n }

func TestSummarizeProfile_StoresArchivesAndCaches(t *testing.T) {
	sum := &fakeSummarizer{}
	repo := newMemRepo()
	c := &memCache{entries: map[string]*models.Summary{}}
	archive := &fakeArchive{}
	svc := NewSummaryService(sum, 15, SummaryDeps{Repository: repo, Cache: c, Archive: archive})

	resp, err := svc.SummarizeProfile(context.Background(), "u1", &models.ProfileSummaryRequest{}, nil)
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, models.StatusSucceeded, resp.Summary.Status)
	require.NotNil(t, resp.Summary.Text)
	assert.Equal(t, "profile summary", *resp.Summary.Text)
	assert.Equal(t, 15, resp.Summary.NotesLimit)
	assert.Equal(t, 15, *sum.lastOpts.NotesLimit)
	assert.Equal(t, 1, archive.puts)

	stored, err := repo.GetByID(context.Background(), resp.Summary.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, stored.Status)
	require.NotNil(t, stored.ArchiveKey)

	// Second call with the same parameters is served from cache.
	again, err := svc.SummarizeProfile(context.Background(), "u1", &models.ProfileSummaryRequest{NotesLimit: intPtr(15)}, nil)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, resp.Summary.ID, again.Summary.ID)
	assert.Equal(t, 1, sum.profileCalls)

	// Different parameters miss the cache.
	_, err = svc.SummarizeProfile(context.Background(), "u1", &models.ProfileSummaryRequest{IncludeFollowers: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.profileCalls)
	assert.True(t, sum.lastOpts.IncludeFollowers)
}

func TestSummarizeProfile_NoBackends(t *testing.T) {
	svc := NewSummaryService(&fakeSummarizer{}, 0, SummaryDeps{})

	resp, err := svc.SummarizeProfile(context.Background(), "u1", &models.ProfileSummaryRequest{NotesLimit: intPtr(40)}, nil)
	require.NoError(t, err)
	assert.Equal(t, 40, resp.Summary.NotesLimit)
	assert.Nil(t, resp.Summary.ArchiveKey)
}

func TestSummarizeProfile_FailureRecorded(t *testing.T) {
	repo := newMemRepo()
	sum := &fakeSummarizer{err: fmt.Errorf("%w: %w", summarize.ErrProfileSummarization, summarize.ErrProfileNotFound)}
	svc := NewSummaryService(sum, 15, SummaryDeps{Repository: repo})

	_, err := svc.SummarizeProfile(context.Background(), "ghost", &models.ProfileSummaryRequest{}, nil)
	assert.ErrorIs(t, err, summarize.ErrProfileNotFound)

	require.Len(t, repo.rows, 1)
	for _, row := range repo.rows {
		assert.Equal(t, models.StatusFailed, row.Status)
		require.NotNil(t, row.ErrorCode)
		assert.Equal(t, "profile_not_found", *row.ErrorCode)
	}
}

func TestSummarizeProfile_ArchiveFailureIsNotFatal(t *testing.T) {
	svc := NewSummaryService(&fakeSummarizer{}, 15, SummaryDeps{Repository: newMemRepo(), Archive: &fakeArchive{err: errors.New("s3 down")}})

	resp, err := svc.SummarizeProfile(context.Background(), "u1", &models.ProfileSummaryRequest{}, nil)
	require.NoError(t, err)
	assert.Nil(t, resp.Summary.ArchiveKey)
}

func TestSummarizeNote(t *testing.T) {
	repo := newMemRepo()
	svc := NewSummaryService(&fakeSummarizer{}, 15, SummaryDeps{Repository: repo})

	resp, err := svc.SummarizeNote(context.Background(), "note1")
	require.NoError(t, err)
	assert.Equal(t, models.KindNote, resp.Summary.Kind)
	assert.Equal(t, "note1", resp.Summary.TargetID)
	assert.Equal(t, "note summary", *resp.Summary.Text)
}

func TestEnqueueProfileSummary(t *testing.T) {
	repo := newMemRepo()
	pub := &fakePublisher{}
	svc := NewSummaryService(&fakeSummarizer{}, 15, SummaryDeps{Repository: repo, Publisher: pub})

	resp, err := svc.EnqueueProfileSummary(context.Background(), "u1", &models.ProfileSummaryRequest{IncludeFollowers: true})
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, resp.Status)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, resp.JobID, pub.msgs[0].JobID)
	assert.Equal(t, 15, *pub.msgs[0].NotesLimit)
	assert.True(t, pub.msgs[0].IncludeFollowers)

	stored, err := repo.GetByID(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, stored.Status)
}

func TestEnqueueProfileSummary_Unavailable(t *testing.T) {
	svc := NewSummaryService(&fakeSummarizer{}, 15, SummaryDeps{Repository: newMemRepo()})
	_, err := svc.EnqueueProfileSummary(context.Background(), "u1", &models.ProfileSummaryRequest{})
	assert.ErrorIs(t, err, ErrJobsUnavailable)
}

func TestEnqueueProfileSummary_PublishFailureMarksFailed(t *testing.T) {
	repo := newMemRepo()
	svc := NewSummaryService(&fakeSummarizer{}, 15, SummaryDeps{Repository: repo, Publisher: &fakePublisher{err: errors.New("broker down")}})

	_, err := svc.EnqueueProfileSummary(context.Background(), "u1", &models.ProfileSummaryRequest{})
	assert.Error(t, err)
	for _, row := range repo.rows {
		assert.Equal(t, models.StatusFailed, row.Status)
		assert.Equal(t, "enqueue_failed", *row.ErrorCode)
	}
}

func TestHandleSummaryJob(t *testing.T) {
	repo := newMemRepo()
	pub := &fakePublisher{}
	c := &memCache{entries: map[string]*models.Summary{}}
	sum := &fakeSummarizer{}
	svc := NewSummaryService(sum, 15, SummaryDeps{Repository: repo, Publisher: pub, Cache: c})

	queued, err := svc.EnqueueProfileSummary(context.Background(), "u1", &models.ProfileSummaryRequest{NotesLimit: intPtr(20)})
	require.NoError(t, err)

	require.NoError(t, svc.HandleSummaryJob(context.Background(), pub.msgs[0]))
	stored, err := repo.GetByID(context.Background(), queued.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, stored.Status)
	assert.Equal(t, 20, stored.NotesFetched)
	assert.NotNil(t, c.entries[cache.ProfileKey("u1", 20, false)])

	// Redelivery of a finished job is a no-op.
	require.NoError(t, svc.HandleSummaryJob(context.Background(), pub.msgs[0]))
	assert.Equal(t, 1, sum.profileCalls)
}

func TestHandleSummaryJob_FailuresArePermanent(t *testing.T) {
	repo := newMemRepo()
	pub := &fakePublisher{}
	svc := NewSummaryService(&fakeSummarizer{err: llm.ErrTokenMissing}, 15, SummaryDeps{Repository: repo, Publisher: pub})

	queued, err := svc.EnqueueProfileSummary(context.Background(), "u1", &models.ProfileSummaryRequest{})
	require.NoError(t, err)

	err = svc.HandleSummaryJob(context.Background(), pub.msgs[0])
	assert.ErrorIs(t, err, kafka.ErrPermanent)

	stored, _ := repo.GetByID(context.Background(), queued.JobID)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, "token_missing", *stored.ErrorCode)

	err = svc.HandleSummaryJob(context.Background(), &models.SummaryJobMessage{JobID: uuid.New(), UserID: "u1"})
	assert.ErrorIs(t, err, kafka.ErrPermanent)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandleSummaryJob_Webhook(t *testing.T) {
	repo := newMemRepo()
	pub := &fakePublisher{}
	hooks := &fakeWebhooks{err: errors.New("receiver down")}
	svc := NewSummaryService(&fakeSummarizer{}, 15, SummaryDeps{Repository: repo, Publisher: pub, Webhooks: hooks})

	_, err := svc.EnqueueProfileSummary(context.Background(), "u1", &models.ProfileSummaryRequest{WebhookURL: "https://hooks.example/done"})
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example/done", pub.msgs[0].WebhookURL)

	// delivery failures do not fail the job
	require.NoError(t, svc.HandleSummaryJob(context.Background(), pub.msgs[0]))
	require.Len(t, hooks.urls, 1)
	assert.Equal(t, "https://hooks.example/done", hooks.urls[0])
	assert.Equal(t, models.StatusSucceeded, hooks.summaries[0].Status)
	require.NotNil(t, hooks.summaries[0].Text)
}

func TestHandleSummaryJob_WebhookOnFailure(t *testing.T) {
	repo := newMemRepo()
	pub := &fakePublisher{}
	hooks := &fakeWebhooks{}
	svc := NewSummaryService(&fakeSummarizer{err: summarize.ErrProfileNotFound}, 15, SummaryDeps{Repository: repo, Publisher: pub, Webhooks: hooks})

	_, err := svc.EnqueueProfileSummary(context.Background(), "u1", &models.ProfileSummaryRequest{WebhookURL: "https://hooks.example/done"})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.HandleSummaryJob(context.Background(), pub.msgs[0]), kafka.ErrPermanent)
	require.Len(t, hooks.summaries, 1)
	assert.Equal(t, models.StatusFailed, hooks.summaries[0].Status)
	assert.Equal(t, "profile_not_found", *hooks.summaries[0].ErrorCode)
}

func TestHandleSummaryJob_NoWebhookURL(t *testing.T) {
	pub := &fakePublisher{}
	hooks := &fakeWebhooks{}
	svc := NewSummaryService(&fakeSummarizer{}, 15, SummaryDeps{Repository: newMemRepo(), Publisher: pub, Webhooks: hooks})

	_, err := svc.EnqueueProfileSummary(context.Background(), "u1", &models.ProfileSummaryRequest{})
	require.NoError(t, err)
	require.NoError(t, svc.HandleSummaryJob(context.Background(), pub.msgs[0]))
	assert.Empty(t, hooks.urls)
}

func TestQuota(t *testing.T) {
	q := &fakeQuota{left: 1}
	c := &memCache{entries: map[string]*models.Summary{}}
	sum := &fakeSummarizer{}
	svc := NewSummaryService(sum, 15, SummaryDeps{Cache: c, Quota: q})

	_, err := svc.SummarizeProfile(context.Background(), "u1", &models.ProfileSummaryRequest{}, nil)
	require.NoError(t, err)

	// cache hits are free
	resp, err := svc.SummarizeProfile(context.Background(), "u1", &models.ProfileSummaryRequest{}, nil)
	require.NoError(t, err)
	assert.True(t, resp.Cached)
	assert.Equal(t, 1, q.calls)

	_, err = svc.SummarizeNote(context.Background(), "n1")
	assert.ErrorIs(t, err, quota.ErrExceeded)
	assert.Equal(t, "quota_exceeded", ErrorCode(err))
	assert.Equal(t, 1, sum.profileCalls)
}

func TestSummarizeProfile_ShortCircuitProgress(t *testing.T) {
	var stages []summarize.Stage
	progress := summarize.ProgressFunc(func(_ context.Context, ev summarize.ProgressEvent) {
		stages = append(stages, ev.Stage)
	})
	c := &memCache{entries: map[string]*models.Summary{}}
	svc := NewSummaryService(&fakeSummarizer{}, 15, SummaryDeps{Cache: c, Quota: &fakeQuota{left: 1}})

	_, err := svc.SummarizeProfile(context.Background(), "u1", &models.ProfileSummaryRequest{}, nil)
	require.NoError(t, err)

	resp, err := svc.SummarizeProfile(context.Background(), "u1", &models.ProfileSummaryRequest{}, progress)
	require.NoError(t, err)
	assert.True(t, resp.Cached)
	assert.Equal(t, []summarize.Stage{summarize.StageStarted, summarize.StageDone}, stages)

	stages = nil
	_, err = svc.SummarizeProfile(context.Background(), "u2", &models.ProfileSummaryRequest{}, progress)
	assert.ErrorIs(t, err, quota.ErrExceeded)
	assert.Equal(t, []summarize.Stage{summarize.StageStarted, summarize.StageFailed}, stages)
}

func TestQuota_BackendErrorAllows(t *testing.T) {
	q := &fakeQuota{err: errors.New("redis down")}
	svc := NewSummaryService(&fakeSummarizer{}, 15, SummaryDeps{Quota: q})

	_, err := svc.SummarizeNote(context.Background(), "n1")
	assert.NoError(t, err)
}

func TestQuota_EnqueueRejected(t *testing.T) {
	repo := newMemRepo()
	pub := &fakePublisher{}
	svc := NewSummaryService(&fakeSummarizer{}, 15, SummaryDeps{Repository: repo, Publisher: pub, Quota: &fakeQuota{}})

	_, err := svc.EnqueueProfileSummary(context.Background(), "u1", &models.ProfileSummaryRequest{})
	assert.ErrorIs(t, err, quota.ErrExceeded)
	assert.Empty(t, pub.msgs)
	assert.Empty(t, repo.rows)
}

func TestGetSummary(t *testing.T) {
	repo := newMemRepo()
	svc := NewSummaryService(&fakeSummarizer{}, 15, SummaryDeps{Repository: repo, Archive: &fakeArchive{}})

	created, err := svc.SummarizeProfile(context.Background(), "u1", &models.ProfileSummaryRequest{}, nil)
	require.NoError(t, err)

	got, err := svc.GetSummary(context.Background(), created.Summary.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Summary.ID, got.Summary.ID)
	assert.Contains(t, got.ArchiveURL, created.Summary.ID.String())

	_, err = svc.GetSummary(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: %w", summarize.ErrProfileSummarization, summarize.ErrProfileNotFound), "profile_not_found"},
		{fmt.Errorf("%w: %w", summarize.ErrNoteSummarization, summarize.ErrNoteNotFound), "note_not_found"},
		{llm.ErrTokenMissing, "token_missing"},
		{llm.ErrServerDisabled, "server_llm_disabled"},
		{llm.ErrServerPermission, "server_llm_permission_denied"},
		{llm.ErrDisabled, "llm_disabled"},
		{llm.ErrCanceled, "canceled"},
		{fmt.Errorf("%w: %w", summarize.ErrResponseFormat, llm.ErrInvalidResponse), "response_format"},
		{fmt.Errorf("%w: boom", llm.ErrServerLLMAPI), "server_llm_error"},
		{fmt.Errorf("%w: 500", llm.ErrAPI), "llm_api_error"},
		{fmt.Errorf("%w: 3/3 summaries used", quota.ErrExceeded), "quota_exceeded"},
		{errors.New("other"), "internal_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err), tt.err.Error())
	}
}
