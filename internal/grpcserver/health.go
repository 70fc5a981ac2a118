// Package grpcserver exposes the standard grpc.health.v1 service for probes.
package grpcserver

import (
	"context"
	"net"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

const checkTimeout = 3 * time.Second

// HealthServer serves grpc.health.v1. Every named check is exposed as its own
// service; the empty service name is SERVING only when all checks pass.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
	checks map[string]Check
}

// NewHealthServer creates a gRPC server with the health service registered.
// All services start NOT_SERVING until the first Refresh.
func NewHealthServer(checks map[string]Check) *HealthServer {
	h := &HealthServer{
		server: grpc.NewServer(),
		health: health.NewServer(),
		checks: checks,
	}
	healthpb.RegisterHealthServer(h.server, h.health)

	h.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for name := range checks {
		h.health.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return h
}

// Refresh runs every check once and updates the served statuses.
func (h *HealthServer) Refresh(ctx context.Context) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := healthpb.HealthCheckResponse_SERVING
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := h.checks[name](checkCtx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			log.Warn().Err(err).Str("check", name).Msg("Health check failed")
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
		h.health.SetServingStatus(name, status)
	}
	h.health.SetServingStatus("", overall)
}

// Run refreshes immediately and then every interval until ctx is done.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	h.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

// Serve accepts connections on lis until Stop.
func (h *HealthServer) Serve(lis net.Listener) error {
	err := h.server.Serve(lis)
	if err == grpc.ErrServerStopped {
		return nil
	}
	return err
}

// Stop marks everything NOT_SERVING and stops gracefully, forcing the stop
// after timeout.
func (h *HealthServer) Stop(timeout time.Duration) {
	h.health.Shutdown()

	done := make(chan struct{})
	go func() {
		h.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn().Msg("gRPC graceful stop timed out; stopping")
		h.server.Stop()
		<-done
	}
}
