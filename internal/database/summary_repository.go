package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/snappy-loop/notesum/internal/models"
)

// SummaryRepository handles summary persistence
type SummaryRepository struct {
	db *DB
}

// NewSummaryRepository creates a new SummaryRepository
func NewSummaryRepository(db *DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

const summaryColumns = `id, kind, target_id, status, notes_limit, include_followers, text,
	notes_fetched, notes_used, archive_key, error_code, error_message, created_at, finished_at`

// Create inserts a new summary row
func (r *SummaryRepository) Create(ctx context.Context, s *models.Summary) error {
	query := `
		INSERT INTO summaries (` + summaryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.Kind, s.TargetID, s.Status, s.NotesLimit, s.IncludeFollowers, s.Text,
		s.NotesFetched, s.NotesUsed, s.ArchiveKey, s.ErrorCode, s.ErrorMessage, s.CreatedAt, s.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

// MarkRunning moves a queued summary to running
func (r *SummaryRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `UPDATE summaries SET status = $2 WHERE id = $1`, id, models.StatusRunning)
}

// Complete stores the generated text and marks the summary succeeded
func (r *SummaryRepository) Complete(ctx context.Context, id uuid.UUID, text string, notesFetched, notesUsed int, archiveKey *string) error {
	query := `
		UPDATE summaries
		SET status = $2, text = $3, notes_fetched = $4, notes_used = $5, archive_key = $6,
		    error_code = NULL, error_message = NULL, finished_at = $7
		WHERE id = $1
	`
	return r.exec(ctx, query, id, models.StatusSucceeded, text, notesFetched, notesUsed, archiveKey, time.Now())
}

// Fail records the error and marks the summary failed
func (r *SummaryRepository) Fail(ctx context.Context, id uuid.UUID, code, message string) error {
	query := `
		UPDATE summaries
		SET status = $2, error_code = $3, error_message = $4, finished_at = $5
		WHERE id = $1
	`
	return r.exec(ctx, query, id, models.StatusFailed, code, message, time.Now())
}

// GetByID retrieves a summary by ID. Missing rows return ErrNotFound.
func (r *SummaryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Summary, error) {
	query := `SELECT ` + summaryColumns + ` FROM summaries WHERE id = $1`

	s := &models.Summary{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.Kind, &s.TargetID, &s.Status, &s.NotesLimit, &s.IncludeFollowers, &s.Text,
		&s.NotesFetched, &s.NotesUsed, &s.ArchiveKey, &s.ErrorCode, &s.ErrorMessage, &s.CreatedAt, &s.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	return s, nil
}

// ListByTarget returns the most recent summaries for a user or note, newest first
func (r *SummaryRepository) ListByTarget(ctx context.Context, targetID string, limit int) ([]*models.Summary, error) {
	query := `
		SELECT ` + summaryColumns + `
		FROM summaries
		WHERE target_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []*models.Summary
	for rows.Next() {
		s := &models.Summary{}
		if err := rows.Scan(
			&s.ID, &s.Kind, &s.TargetID, &s.Status, &s.NotesLimit, &s.IncludeFollowers, &s.Text,
			&s.NotesFetched, &s.NotesUsed, &s.ArchiveKey, &s.ErrorCode, &s.ErrorMessage, &s.CreatedAt, &s.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SummaryRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
