package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/notesum/internal/app"
	"github.com/snappy-loop/notesum/internal/config"
	"github.com/snappy-loop/notesum/internal/kafka"
	"github.com/snappy-loop/notesum/internal/services"
)

func main() {
	cfg := config.Load()
	app.SetupLogging(os.Stderr, cfg.LogLevel)

	log.Info().Msg("Starting Notesum Worker")

	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal().Msg("KAFKA_BROKERS is required")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backends, err := app.Connect(ctx, cfg, false)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect backends")
	}
	defer backends.Close()

	summarizer, err := app.NewSummarizer(cfg, app.ServiceInteraction(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize summarizer")
	}
	summaryService := services.NewSummaryService(summarizer, cfg.DefaultNotesLimit, backends.Deps())

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopicJobs, cfg.KafkaConsumerGroup, summaryService)
	defer consumer.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Kafka consumer error")
		}
	}()

	log.Info().Str("topic", cfg.KafkaTopicJobs).Msg("Worker started, consuming messages...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-done:
	}

	log.Info().Msg("Shutting down worker...")
	cancel()
	<-done
	log.Info().Msg("Worker exited")
}
