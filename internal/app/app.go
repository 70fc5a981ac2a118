// Package app wires configuration into the summarizer and its optional backends.
// It is shared by the api, worker and notesum binaries.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/notesum/internal/cache"
	"github.com/snappy-loop/notesum/internal/config"
	"github.com/snappy-loop/notesum/internal/database"
	"github.com/snappy-loop/notesum/internal/grpcserver"
	"github.com/snappy-loop/notesum/internal/kafka"
	"github.com/snappy-loop/notesum/internal/llm"
	"github.com/snappy-loop/notesum/internal/misskey"
	"github.com/snappy-loop/notesum/internal/quota"
	"github.com/snappy-loop/notesum/internal/services"
	"github.com/snappy-loop/notesum/internal/storage"
	"github.com/snappy-loop/notesum/internal/summarize"
	"github.com/snappy-loop/notesum/internal/webhook"
	"github.com/snappy-loop/notesum/migrations"
)

// SetupLogging configures the global zerolog logger.
func SetupLogging(out io.Writer, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// Interaction controls how the LLM client talks back to whoever runs it.
type Interaction struct {
	Prompter llm.FallbackPrompter
	Notifier llm.Notifier
}

// ServiceInteraction is used by the api and worker, where nobody can answer a prompt.
func ServiceInteraction(cfg *config.Config) Interaction {
	return Interaction{
		Prompter: llm.PolicyFromConfig(cfg.ServerFallback),
		Notifier: llm.LogNotifier{},
	}
}

// NewGenerator selects the direct Gemini backend named by GEMINI_SDK.
func NewGenerator(cfg *config.Config) llm.Generator {
	switch cfg.GeminiSDK {
	case "langchaingo":
		return llm.NewLangchainGenerator(cfg.GeminiAPIEndpoint)
	default:
		return llm.NewGenAIGenerator(cfg.GeminiAPIEndpoint)
	}
}

// NewSummarizer builds the instance client, the LLM client and the summarizer.
func NewSummarizer(cfg *config.Config, in Interaction) (*summarize.Summarizer, error) {
	if cfg.MisskeyURL == "" {
		return nil, fmt.Errorf("MISSKEY_URL is required")
	}
	api := misskey.NewClient(cfg.MisskeyURL, cfg.MisskeyToken, cfg.MisskeyTimeout)

	prefs := llm.NewMemoryPreferences(llm.Preferences{
		GeminiToken:        cfg.GeminiAPIKey,
		GeminiModel:        cfg.GeminiModel,
		ThinkingBudget:     cfg.GeminiThinkingBudget,
		UseServerLLM:       cfg.UseServerLLM,
		UseGeminiWithMedia: cfg.UseGeminiWithMedia,
	})
	client := llm.NewClient(api, NewGenerator(cfg), llm.NewGeminiUploader(cfg.GeminiAPIEndpoint), prefs, in.Prompter, in.Notifier)

	prompts := summarize.Prompts{
		System:          cfg.GeminiSystemPrompt,
		Profile:         cfg.GeminiPromptProfile,
		Note:            cfg.GeminiPromptNote,
		ProfileTemplate: cfg.ProfilePromptTemplate,
	}
	return summarize.New(api, client, in.Notifier, prompts, cfg.DefaultNotesLimit), nil
}

// Backends holds the optional storage and messaging connections.
// Each field is nil when its configuration is missing or it failed to connect.
type Backends struct {
	DB       *database.DB
	Redis    *redis.Client
	Archive  *storage.Archive
	Producer *kafka.Producer

	cfg *config.Config
}

// Connect opens every configured backend. Only a database that is configured
// but unreachable is fatal; the others degrade with a warning.
func Connect(ctx context.Context, cfg *config.Config, withProducer bool) (*Backends, error) {
	b := &Backends{cfg: cfg}

	if cfg.DatabaseURL != "" {
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := migrations.Run(ctx, db.DB); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		b.DB = db
	} else {
		log.Warn().Msg("DATABASE_URL not set; summaries are not persisted and jobs are disabled")
	}

	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("Redis not available; summary cache disabled")
		} else {
			b.Redis = client
		}
	}

	if cfg.S3Bucket != "" {
		archive, err := storage.NewArchive(ctx, cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey)
		if err != nil {
			log.Warn().Err(err).Msg("S3 not available; summaries are not archived")
		} else {
			b.Archive = archive
		}
	}

	if withProducer && len(cfg.KafkaBrokers) > 0 {
		b.Producer = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicJobs)
	}

	return b, nil
}

// Deps converts the connected backends into service dependencies, leaving
// interface fields nil for anything missing.
func (b *Backends) Deps() services.SummaryDeps {
	var deps services.SummaryDeps
	if b.DB != nil {
		deps.Repository = database.NewSummaryRepository(b.DB)
	}
	if b.Redis != nil {
		deps.Cache = cache.NewSummaryCache(b.Redis, b.cfg.SummaryCacheTTL)
	}
	if b.Archive != nil {
		deps.Archive = b.Archive
	}
	if b.Producer != nil {
		deps.Publisher = b.Producer
	}
	if b.Redis != nil && b.cfg.QuotaSummaries > 0 {
		deps.Quota = quota.NewService(b.Redis, b.cfg.QuotaSummaries, b.cfg.QuotaPeriod)
	} else if b.cfg.QuotaSummaries > 0 {
		log.Warn().Msg("QUOTA_SUMMARIES needs Redis; quota disabled")
	}
	deps.Webhooks = webhook.NewDeliverer(b.cfg.WebhookSecret, b.cfg.WebhookMaxRetries, b.cfg.WebhookRetryBaseDelay, b.cfg.WebhookRetryMaxDelay)
	return deps
}

// HealthChecks returns one check per connected backend.
func (b *Backends) HealthChecks() map[string]grpcserver.Check {
	checks := make(map[string]grpcserver.Check)
	if b.DB != nil {
		checks["database"] = b.DB.Health
	}
	if b.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return b.Redis.Ping(ctx).Err() }
	}
	return checks
}

// Close releases every open backend.
func (b *Backends) Close() {
	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			log.Error().Err(err).Msg("Kafka producer close error")
		}
	}
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("Redis close error")
		}
	}
	if b.DB != nil {
		b.DB.Close()
	}
}
