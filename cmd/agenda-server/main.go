package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"google.golang.org/grpc"

	"agenda/backend/internal/config"
	"agenda/backend/internal/displacement"
	"agenda/backend/internal/observability/metrics"
	"agenda/backend/internal/service/availability"
	"agenda/backend/internal/service/booking"
	"agenda/backend/internal/store/postgres"
	grpcTransport "agenda/backend/internal/transport/grpc"
	httpTransport "agenda/backend/internal/transport/http"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "agenda-server"),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", "agenda-server"),
	)
	slog.SetDefault(log)

	log.Info("starting",
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("grpc_addr", cfg.GRPCAddr),
		slog.String("log_level", cfg.LogLevel),
		slog.String("timezone", cfg.Scheduling.Location.String()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	db, err := postgres.Open(connectCtx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	cancel()
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		os.Exit(1)
	}
	defer func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	resolver, closeResolver := newDisplacementResolver(cfg, db, log)
	defer closeResolver()

	appointmentRepo := postgres.NewAppointmentRepo(db)
	engine := availability.NewService(
		appointmentRepo,
		postgres.NewBlockRepo(db),
		postgres.NewServiceRepo(db),
		availability.NewTenantSettings(cfg.Scheduling, postgres.NewSettingsRepo(db)),
		availability.WithDisplacement(resolver),
		availability.WithMetrics(metrics.NewAvailabilityMetrics(reg)),
		availability.WithLogger(log),
	)
	booker := booking.NewService(appointmentRepo, engine,
		booking.WithDisplacement(resolver),
		booking.WithMetrics(metrics.NewBookingMetrics(reg)),
		booking.WithLogger(log),
	)

	ready := func(ctx context.Context) error { return postgres.Ping(ctx, db) }

	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpTransport.NewRouter(httpTransport.RouterConfig{
			Availability:   engine,
			Booking:        booker,
			Ready:          ready,
			Gatherer:       reg,
			Logger:         log,
			RequestTimeout: cfg.HTTPRequestTimeout,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer, healthServer := grpcTransport.NewServer(grpcTransport.ServerConfig{
		RequestTimeout: cfg.GRPCRequestTimeout,
		Logger:         log,
	})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr))
		os.Exit(1)
	}

	var wg sync.WaitGroup
	healthCtx, stopHealth := context.WithCancel(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		grpcTransport.WatchReadiness(healthCtx, healthServer, ready, cfg.HealthInterval, log)
	}()

	errCh := make(chan error, 2)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("servers started", slog.String("http_addr", cfg.HTTPAddr), slog.String("grpc_addr", cfg.GRPCAddr))

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("server stopped with error", slog.Any("err", err))
			exitCode = 1
		}
	}

	stopHealth()
	wg.Wait()
	shutdown(log, httpServer, grpcServer, cfg.ShutdownTimeout)
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// newDisplacementResolver resolves zones from postgres, behind a Redis cache
// when one is configured.
func newDisplacementResolver(cfg config.Config, db *bun.DB, log *slog.Logger) (displacement.Resolver, func()) {
	zones := displacement.NewZoneResolver(postgres.NewZoneRepo(db))
	if cfg.RedisAddr == "" {
		log.Info("displacement cache disabled")
		return zones, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	log.Info("displacement cache enabled", slog.String("redis_addr", cfg.RedisAddr), slog.Duration("ttl", cfg.DisplacementTTL))
	return displacement.NewCachedResolver(zones, client, cfg.DisplacementTTL, log), func() {
		if err := client.Close(); err != nil {
			log.Warn("redis close failed", slog.Any("err", err))
		}
	}
}

func shutdown(log *slog.Logger, h *http.Server, s *grpc.Server, timeout time.Duration) {
	log.Info("shutting down servers", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := h.Shutdown(ctx); err != nil {
		log.Warn("http graceful shutdown failed", slog.Any("err", err))
	}

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-ctx.Done():
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
