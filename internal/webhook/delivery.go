// Package webhook notifies callers when an asynchronous summary job finishes.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/notesum/internal/models"
)

const (
	userAgent       = "Notesum-Webhook/1.0"
	timestampHeader = "X-Notesum-Timestamp"
	signatureHeader = "X-Notesum-Signature"
	maxResponseBody = 4096
)

// Payload is the JSON body posted to the webhook URL
type Payload struct {
	SummaryID  uuid.UUID  `json:"summary_id"`
	Kind       string     `json:"kind"`
	TargetID   string     `json:"target_id"`
	Status     string     `json:"status"`
	FinishedAt time.Time  `json:"finished_at"`
	Text       *string    `json:"text,omitempty"`
	Error      *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo represents error information in the webhook
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DeliveryError wraps webhook delivery errors with HTTP status code
type DeliveryError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// IsRetryable reports whether the receiver may accept a later attempt:
// 5xx and 429 are retried, other 4xx are not.
func (e *DeliveryError) IsRetryable() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return e.StatusCode < 400 || e.StatusCode >= 500
}

// Deliverer posts signed payloads with exponential backoff between attempts
type Deliverer struct {
	httpClient  *http.Client
	secret      string
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewDeliverer creates a Deliverer. An empty secret sends unsigned requests.
func NewDeliverer(secret string, maxAttempts int, baseDelay, maxDelay time.Duration) *Deliverer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Deliverer{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		secret:      secret,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		sleep:       sleepContext,
	}
}

// Deliver posts the finished summary to url. It returns the last error once
// attempts are exhausted or the receiver rejects the payload permanently.
func (d *Deliverer) Deliver(ctx context.Context, url string, s *models.Summary) error {
	body, err := json.Marshal(payloadFor(s))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		lastErr = d.send(ctx, url, body)
		if lastErr == nil {
			log.Info().
				Str("summary_id", s.ID.String()).
				Str("url", url).
				Int("attempts", attempt).
				Msg("Webhook delivered")
			return nil
		}

		var deliveryErr *DeliveryError
		if errors.As(lastErr, &deliveryErr) && !deliveryErr.IsRetryable() {
			log.Error().
				Err(lastErr).
				Str("summary_id", s.ID.String()).
				Str("url", url).
				Int("status_code", deliveryErr.StatusCode).
				Msg("Webhook delivery failed with permanent error - not retrying")
			return lastErr
		}

		if attempt == d.maxAttempts {
			break
		}
		log.Warn().
			Err(lastErr).
			Str("summary_id", s.ID.String()).
			Int("attempt", attempt).
			Int("max_attempts", d.maxAttempts).
			Msg("Webhook attempt failed, retrying")
		if err := d.sleep(ctx, d.backoff(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", d.maxAttempts, lastErr)
}

// backoff is baseDelay * 2^(attempt-1), capped at maxDelay.
func (d *Deliverer) backoff(attempt int) time.Duration {
	shift := attempt - 1
	if shift > 16 {
		shift = 16
	}
	delay := d.baseDelay * time.Duration(1<<uint(shift))
	if d.maxDelay > 0 && delay > d.maxDelay {
		delay = d.maxDelay
	}
	return delay
}

func (d *Deliverer) send(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(timestampHeader, strconv.FormatInt(time.Now().Unix(), 10))
	if d.secret != "" {
		req.Header.Set(signatureHeader, generateSignature(body, d.secret))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("webhook returned status %d", resp.StatusCode),
			Body:       string(respBody),
		}
	}
	return nil
}

func payloadFor(s *models.Summary) Payload {
	finishedAt := time.Now()
	if s.FinishedAt != nil {
		finishedAt = *s.FinishedAt
	}
	p := Payload{
		SummaryID:  s.ID,
		Kind:       s.Kind,
		TargetID:   s.TargetID,
		Status:     s.Status,
		FinishedAt: finishedAt,
		Text:       s.Text,
	}
	if s.ErrorCode != nil && s.ErrorMessage != nil {
		p.Error = &ErrorInfo{Code: *s.ErrorCode, Message: *s.ErrorMessage}
	}
	return p
}

// generateSignature returns the hex HMAC-SHA256 of payload
func generateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
