// Package cache keeps recent profile summaries in Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/notesum/internal/models"
)

const keyPrefix = "notesum:summary:"

// SummaryCache stores summaries under a key derived from the request parameters
type SummaryCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// Connect parses redisURL (a redis:// URL or a bare host:port) and pings the server.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{Addr: redisURL}
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	log.Info().Str("addr", opt.Addr).Msg("Redis connection established")
	return client, nil
}

// NewSummaryCache creates a cache whose entries expire after ttl.
func NewSummaryCache(client redis.UniversalClient, ttl time.Duration) *SummaryCache {
	return &SummaryCache{client: client, ttl: ttl}
}

// ProfileKey derives the cache key for a profile summary request.
func ProfileKey(userID string, notesLimit int, includeFollowers bool) string {
	raw := userID + "|" + strconv.Itoa(notesLimit) + "|" + strconv.FormatBool(includeFollowers)
	h := sha256.Sum256([]byte(raw))
	return keyPrefix + hex.EncodeToString(h[:])
}

// Get returns the cached summary, or nil on a miss.
func (c *SummaryCache) Get(ctx context.Context, key string) (*models.Summary, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var s models.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal cached summary: %w", err)
	}
	return &s, nil
}

// Set stores the summary with the cache TTL.
func (c *SummaryCache) Set(ctx context.Context, key string, s *models.Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
