package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/notesum/internal/app"
	"github.com/snappy-loop/notesum/internal/auth"
	"github.com/snappy-loop/notesum/internal/config"
	"github.com/snappy-loop/notesum/internal/grpcserver"
	"github.com/snappy-loop/notesum/internal/handlers"
	"github.com/snappy-loop/notesum/internal/services"
)

func main() {
	cfg := config.Load()
	app.SetupLogging(os.Stderr, cfg.LogLevel)

	log.Info().Msg("Starting Notesum API")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backends, err := app.Connect(ctx, cfg, true)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect backends")
	}
	defer backends.Close()

	summarizer, err := app.NewSummarizer(cfg, app.ServiceInteraction(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize summarizer")
	}
	summaryService := services.NewSummaryService(summarizer, cfg.DefaultNotesLimit, backends.Deps())
	h := handlers.NewHandler(summaryService)
	authService := auth.NewService(cfg.APITokenHash)

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(authService.Middleware)
	h.RegisterRoutes(api)

	srv := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// summaries wait on the instance and on Gemini
		WriteTimeout: 3 * time.Minute,
	}

	health := grpcserver.NewHealthServer(backends.HealthChecks())
	go health.Run(ctx, 15*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("Failed to listen for gRPC")
	}
	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC health listening")
		if err := health.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC server error")
		}
	}()

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down API...")
	cancel()
	health.Stop(10 * time.Second)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("API exited")
}
