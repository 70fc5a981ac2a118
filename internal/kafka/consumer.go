package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/snappy-loop/notesum/internal/models"
)

const (
	maxBackoffShift = 10
	baseDelay       = 1 * time.Second
	maxDelay        = 5 * time.Minute
	maxAttempts     = 50 // after this many attempts the message is skipped
)

// ErrPermanent marks a handler failure that retrying cannot fix. The message is committed and skipped.
var ErrPermanent = errors.New("permanent failure")

// MessageHandler processes summary jobs
type MessageHandler interface {
	HandleSummaryJob(ctx context.Context, msg *models.SummaryJobMessage) error
}

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads summary jobs with manual commits
type Consumer struct {
	reader  messageReader
	handler MessageHandler
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, topic, groupID string, handler MessageHandler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: 0,    // manual commits
		StartOffset:    kafka.FirstOffset,
	})

	log.Info().
		Strs("brokers", brokers).
		Str("topic", topic).
		Str("group_id", groupID).
		Msg("Kafka consumer initialized")

	return &Consumer{
		reader:  reader,
		handler: handler,
		sleep:   sleepContext,
	}
}

// Start consumes messages until ctx is cancelled. Each message is retried
// with exponential backoff and committed once handled or skipped.
func (c *Consumer) Start(ctx context.Context) error {
	log.Info().Msg("Starting Kafka consumer")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("Consumer context cancelled, stopping")
				return ctx.Err()
			}
			log.Error().Err(err).Msg("Failed to fetch message")
			continue
		}

		if err := c.handleWithRetry(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().
				Err(err).
				Str("topic", msg.Topic).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("Skipping message after failed processing")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			// Redelivery after restart is fine: the handler is idempotent per job id.
			log.Error().Err(err).Msg("Failed to commit message")
		}
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = c.processMessage(ctx, msg)
		if lastErr == nil || errors.Is(lastErr, ErrPermanent) {
			return lastErr
		}

		log.Error().
			Err(lastErr).
			Int64("offset", msg.Offset).
			Int("attempt", attempt+1).
			Int("max_attempts", maxAttempts).
			Msg("Failed to process message - will retry")

		if err := c.sleep(ctx, backoff(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

// processMessage decodes and handles a single Kafka message
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var job models.SummaryJobMessage
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		return fmt.Errorf("%w: unmarshal message: %w", ErrPermanent, err)
	}

	if err := c.handler.HandleSummaryJob(ctx, &job); err != nil {
		return fmt.Errorf("handler error: %w", err)
	}

	log.Info().
		Str("job_id", job.JobID.String()).
		Str("user_id", job.UserID).
		Msg("Message processed successfully")

	return nil
}

// backoff returns the delay before retry number attempt (0-based).
func backoff(attempt int) time.Duration {
	delay := baseDelay * time.Duration(1<<uint(min(attempt, maxBackoffShift)))
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
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

// Close closes the consumer
func (c *Consumer) Close() error {
	log.Info().Msg("Closing Kafka consumer")
	return c.reader.Close()
}
