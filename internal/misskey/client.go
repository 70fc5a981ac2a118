package misskey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// maxErrorBodyBytes bounds how much of a failed response is read for the error envelope.
const maxErrorBodyBytes = 64 << 10

// Client calls a Misskey-compatible instance API (POST /api/<endpoint> with JSON bodies).
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new API client. token may be empty for public endpoints.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Meta fetches detailed instance metadata.
func (c *Client) Meta(ctx context.Context) (*Meta, error) {
	var meta Meta
	if err := c.call(ctx, "meta", map[string]any{"detail": true}, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// ShowUser fetches a user profile. A null body yields (nil, nil).
func (c *Client) ShowUser(ctx context.Context, userID string) (*User, error) {
	var user *User
	if err := c.call(ctx, "users/show", map[string]any{"userId": userID}, &user); err != nil {
		return nil, err
	}
	return user, nil
}

// ShowNote fetches a single note.
func (c *Client) ShowNote(ctx context.Context, noteID string) (*Note, error) {
	var note *Note
	if err := c.call(ctx, "notes/show", map[string]any{"noteId": noteID}, &note); err != nil {
		return nil, err
	}
	return note, nil
}

// UserNotes fetches one page of a user's notes, newest first.
// A response that is not a JSON array yields an empty page.
func (c *Client) UserNotes(ctx context.Context, req *UserNotesRequest) ([]Note, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "users/notes", req, &raw); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		log.Warn().Str("user_id", req.UserID).Msg("users/notes returned a non-array body")
		return nil, nil
	}
	var notes []Note
	if err := json.Unmarshal(trimmed, &notes); err != nil {
		return nil, fmt.Errorf("decode users/notes: %w", err)
	}
	return notes, nil
}

// LLMGen calls the server-mediated Gemini endpoint and returns the raw Gemini response.
func (c *Client) LLMGen(ctx context.Context, req *LLMGenRequest) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "notes/llm-gen", req, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// call POSTs body (plus the access token as "i") to /api/<endpoint> and decodes the response into out.
func (c *Client) call(ctx context.Context, endpoint string, body any, out any) error {
	payload, err := c.withToken(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", endpoint, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/"+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create %s request: %w", endpoint, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	log.Debug().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Misskey API call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	// 204 No Content carries no body; leave out untouched.
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// withToken marshals body and injects the "i" credential field when a token is configured.
func (c *Client) withToken(body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	if c.token == "" {
		return payload, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	token, _ := json.Marshal(c.token)
	fields["i"] = token
	return json.Marshal(fields)
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.ID = envelope.Error.ID
	}
	return apiErr
}
