// Package quota limits how many Gemini-backed summaries run per period.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "notesum:quota:"

// ErrExceeded is returned when the period's quota is used up.
var ErrExceeded = errors.New("summary quota exceeded")

// Service counts summaries in fixed windows stored in Redis
type Service struct {
	client redis.UniversalClient
	limit  int64
	period time.Duration
	now    func() time.Time
}

// NewService creates a new quota service allowing limit summaries per period
// (hourly, daily, weekly, monthly).
func NewService(client redis.UniversalClient, limit int64, period string) *Service {
	return &Service{
		client: client,
		limit:  limit,
		period: getPeriodDuration(period),
		now:    time.Now,
	}
}

// Consume takes one summary from the current window
func (s *Service) Consume(ctx context.Context) error {
	start := windowStart(s.now(), s.period)
	key := windowKey(start)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, start.Add(s.period))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update quota: %w", err)
	}

	used := incr.Val()
	if used > s.limit {
		// keep the counter at the limit so a later raise of the limit takes effect
		if err := s.client.Decr(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to update quota: %w", err)
		}
		return fmt.Errorf("%w: %d/%d summaries used", ErrExceeded, used-1, s.limit)
	}
	return nil
}

func windowStart(now time.Time, period time.Duration) time.Time {
	return now.UTC().Truncate(period)
}

func windowKey(start time.Time) string {
	return keyPrefix + strconv.FormatInt(start.Unix(), 10)
}

func getPeriodDuration(period string) time.Duration {
	switch period {
	case "hourly":
		return time.Hour
	case "daily":
		return 24 * time.Hour
	case "weekly":
		return 7 * 24 * time.Hour
	case "monthly":
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}
