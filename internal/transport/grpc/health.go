package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// WatchReadiness probes ready every interval and mirrors the result into the
// overall health status until ctx is done. It returns after the final
// NOT_SERVING update.
func WatchReadiness(ctx context.Context, hs *health.Server, ready func(ctx context.Context) error, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "grpc.health"))

	current := healthpb.HealthCheckResponse_UNKNOWN
	probe := func() {
		pctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()

		next := healthpb.HealthCheckResponse_SERVING
		if err := ready(pctx); err != nil {
			next = healthpb.HealthCheckResponse_NOT_SERVING
			if current != next {
				log.Warn("readiness probe failed", slog.Any("err", err))
			}
		}
		if next != current {
			hs.SetServingStatus("", next)
			log.Info("health status changed", slog.String("status", next.String()))
			current = next
		}
	}

	probe()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
			return
		case <-ticker.C:
			probe()
		}
	}
}
