package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/notesum/internal/llm"
	"github.com/snappy-loop/notesum/internal/models"
	"github.com/snappy-loop/notesum/internal/quota"
	"github.com/snappy-loop/notesum/internal/services"
	"github.com/snappy-loop/notesum/internal/summarize"
)

// summaryService is the subset of services.SummaryService the handlers use.
type summaryService interface {
	SummarizeProfile(ctx context.Context, userID string, req *models.ProfileSummaryRequest, progress summarize.Progress) (*models.SummaryResponse, error)
	SummarizeNote(ctx context.Context, noteID string) (*models.SummaryResponse, error)
	EnqueueProfileSummary(ctx context.Context, userID string, req *models.ProfileSummaryRequest) (*models.CreateJobResponse, error)
	GetSummary(ctx context.Context, id uuid.UUID) (*models.SummaryResponse, error)
}

// Handler contains all HTTP handlers
type Handler struct {
	summaries summaryService
	validate  *validator.Validate
}

// NewHandler creates a new handler
func NewHandler(summaries summaryService) *Handler {
	return &Handler{
		summaries: summaries,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRoutes mounts the summary API on r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/users/{id}/summary", h.SummarizeProfile).Methods(http.MethodPost)
	r.HandleFunc("/users/{id}/summary/jobs", h.EnqueueProfileSummary).Methods(http.MethodPost)
	r.HandleFunc("/users/{id}/summary/ws", h.SummarizeProfileWS).Methods(http.MethodGet)
	r.HandleFunc("/notes/{id}/summary", h.SummarizeNote).Methods(http.MethodPost)
	r.HandleFunc("/summaries/{id}", h.GetSummary).Methods(http.MethodGet)
}

// SummarizeProfile handles POST /v1/users/{id}/summary.
// webhook_url is only accepted on the jobs endpoint.
func (h *Handler) SummarizeProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.instanceID(w, r, "invalid user id")
	if !ok {
		return
	}
	req, ok := h.decodeProfileRequest(w, r)
	if !ok {
		return
	}
	if req.WebhookURL != "" {
		writeJSONError(w, http.StatusBadRequest, "webhook_url is only supported for summary jobs")
		return
	}

	resp, err := h.summaries.SummarizeProfile(r.Context(), userID, req, nil)
	if err != nil {
		writeSummaryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// EnqueueProfileSummary handles POST /v1/users/{id}/summary/jobs
func (h *Handler) EnqueueProfileSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.instanceID(w, r, "invalid user id")
	if !ok {
		return
	}
	req, ok := h.decodeProfileRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.summaries.EnqueueProfileSummary(r.Context(), userID, req)
	if errors.Is(err, services.ErrJobsUnavailable) {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if errors.Is(err, quota.ErrExceeded) {
		writeSummaryError(w, err)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to enqueue summary job")
		writeJSONError(w, http.StatusInternalServerError, "failed to enqueue summary job")
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// SummarizeNote handles POST /v1/notes/{id}/summary
func (h *Handler) SummarizeNote(w http.ResponseWriter, r *http.Request) {
	noteID, ok := h.instanceID(w, r, "invalid note id")
	if !ok {
		return
	}

	resp, err := h.summaries.SummarizeNote(r.Context(), noteID)
	if err != nil {
		writeSummaryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSummary handles GET /v1/summaries/{id}
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid summary id")
		return
	}

	resp, err := h.summaries.GetSummary(r.Context(), id)
	if errors.Is(err, services.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "summary not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("summary_id", id.String()).Msg("Failed to get summary")
		writeJSONError(w, http.StatusInternalServerError, "failed to get summary")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// instanceID validates the {id} path variable as an instance object id.
func (h *Handler) instanceID(w http.ResponseWriter, r *http.Request, message string) (string, bool) {
	id := mux.Vars(r)["id"]
	if err := h.validate.Var(id, "required,alphanum,max=64"); err != nil {
		writeJSONError(w, http.StatusBadRequest, message)
		return "", false
	}
	return id, true
}

// decodeProfileRequest reads an optional JSON body; an empty body selects the defaults.
func (h *Handler) decodeProfileRequest(w http.ResponseWriter, r *http.Request) (*models.ProfileSummaryRequest, bool) {
	var req models.ProfileSummaryRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return nil, false
		}
	}
	if err := h.validate.Struct(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, validationMessage(err))
		return nil, false
	}
	return &req, true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "WebhookURL" {
		return "webhook_url must be an http(s) URL"
	}
	return "notes_limit must be between 1 and 1000"
}

// summaryErrorStatus maps a summarization error to an HTTP status.
func summaryErrorStatus(err error) int {
	switch {
	case errors.Is(err, summarize.ErrProfileNotFound), errors.Is(err, summarize.ErrNoteNotFound):
		return http.StatusNotFound
	case errors.Is(err, quota.ErrExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, llm.ErrServerPermission):
		return http.StatusForbidden
	case errors.Is(err, llm.ErrTokenMissing),
		errors.Is(err, llm.ErrServerDisabled),
		errors.Is(err, llm.ErrDisabled),
		errors.Is(err, llm.ErrCanceled):
		return http.StatusServiceUnavailable
	case errors.Is(err, summarize.ErrResponseFormat),
		errors.Is(err, llm.ErrAPI),
		errors.Is(err, llm.ErrServerLLMAPI):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeSummaryError(w http.ResponseWriter, err error) {
	status := summaryErrorStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Summarization failed")
		writeCodedError(w, status, services.ErrorCode(err), "summarization failed")
		return
	}
	writeCodedError(w, status, services.ErrorCode(err), err.Error())
}
