package models

import (
	"time"

	"github.com/google/uuid"
)

// Summary kinds.
const (
	KindProfile = "profile"
	KindNote    = "note"
)

// Summary statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Summary is a stored summarization of a profile or a single note
type Summary struct {
	ID               uuid.UUID  `json:"id"`
	Kind             string     `json:"kind"`      // profile, note
	TargetID         string     `json:"target_id"` // user id or note id on the instance
	Status           string     `json:"status"`    // queued, running, succeeded, failed
	NotesLimit       int        `json:"notes_limit,omitempty"`
	IncludeFollowers bool       `json:"include_followers"`
	Text             *string    `json:"text,omitempty"`
	NotesFetched     int        `json:"notes_fetched"`
	NotesUsed        int        `json:"notes_used"`
	ArchiveKey       *string    `json:"-"`
	ErrorCode        *string    `json:"error_code,omitempty"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

// ProfileSummaryRequest is the body of a profile summary request
type ProfileSummaryRequest struct {
	NotesLimit       *int   `json:"notes_limit,omitempty" validate:"omitempty,min=1,max=1000"`
	IncludeFollowers bool   `json:"include_followers"`
	WebhookURL       string `json:"webhook_url,omitempty" validate:"omitempty,http_url,max=2048"` // jobs only
}

// SummaryResponse is returned for synchronous summaries and lookups
type SummaryResponse struct {
	Summary    Summary `json:"summary"`
	Cached     bool    `json:"cached"`
	ArchiveURL string  `json:"archive_url,omitempty"`
}

// CreateJobResponse is returned when a summary job is queued
type CreateJobResponse struct {
	JobID     uuid.UUID `json:"job_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// SummaryJobMessage is the Kafka payload for an asynchronous profile summary
type SummaryJobMessage struct {
	JobID            uuid.UUID `json:"job_id"`
	UserID           string    `json:"user_id"`
	NotesLimit       *int      `json:"notes_limit,omitempty"`
	IncludeFollowers bool      `json:"include_followers"`
	WebhookURL       string    `json:"webhook_url,omitempty"`
}
