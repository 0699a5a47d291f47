package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"affiliate-tracking/internal/cache"
	"affiliate-tracking/internal/config"
	"affiliate-tracking/internal/database"
	"affiliate-tracking/internal/events"
	"affiliate-tracking/internal/features"
	"affiliate-tracking/internal/handler"
	"affiliate-tracking/internal/logging"
	"affiliate-tracking/internal/metrics"
	"affiliate-tracking/internal/middleware"
	"affiliate-tracking/internal/service"
	"affiliate-tracking/internal/token"
	"affiliate-tracking/internal/tracing"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Server.Environment,
		ServiceName: cfg.Tracing.ServiceName,
	})

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx := logger.WithContext(context.Background())

	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Server.Environment,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	db, err := database.NewDB(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	codec, err := token.NewCodec(cfg.Attribution.TokenSecret, cfg.Attribution.TokenIssuer)
	if err != nil {
		return err
	}

	flags := features.Defaults(cfg.Features.CacheEnabled, cfg.Features.EventHooksEnabled)
	m := metrics.New()

	// Shutdown drains queued events, then closes the Kafka writer.
	eventManager := events.NewManager(flags.IsEnabled(features.FeatureEventHooksEnabled))
	defer eventManager.Shutdown()

	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 {
		writer := events.NewKafkaWriter(brokers, cfg.Kafka.Topic)
		eventManager.CloseOnShutdown(writer)
		eventManager.Subscribe(events.NewKafkaSink(writer).Handle,
			events.EventClickRecorded,
			events.EventConversionCreated,
			events.EventConversionApproved,
			events.EventConversionReversed,
			events.EventSelfPurchaseBlocked,
		)
		logger.Info().Strs("brokers", brokers).Str("topic", cfg.Kafka.Topic).Msg("Forwarding events to Kafka")
	}

	opts := []service.Option{
		service.WithEvents(eventManager),
		service.WithMetrics(m),
	}
	if flags.IsEnabled(features.FeatureCacheEnabled) {
		var store cache.Cache
		if cfg.Cache.RedisAddr != "" {
			rc, err := cache.NewRedisCache(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.KeyPrefix)
			if err != nil {
				return fmt.Errorf("init redis cache: %w", err)
			}
			defer rc.Close()
			store = rc
			logger.Info().Str("addr", cfg.Cache.RedisAddr).Msg("Tenant cache backed by Redis")
		} else {
			store = cache.NewInMemoryCache()
			logger.Info().Msg("Tenant cache in memory")
		}
		opts = append(opts, service.WithTenantSource(cache.NewTenantCache(db, store, cfg.TenantTTL())))
	}

	svc := service.NewService(db, codec, cfg.Attribution.IPHashSalt, opts...)
	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
		Features:    flags,
		Health:      db,
	})

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.TracingMiddleware(cfg.Tracing.ServiceName))
	r.Use(logging.Middleware(logger))
	r.Use(chimw.Recoverer)
	r.Use(m.Middleware)

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer rateLimiter.Stop()
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.Security.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h.Routes(r)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", addr).
			Str("database", cfg.Database.Path).
			Bool("tls", cfg.Server.EnableTLS).
			Int("rate_limit", cfg.RateLimit.Rate).
			Msg("Starting server")

		var err error
		if cfg.Server.EnableTLS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sig:
	}

	logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down server")
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down tracer")
	}
	return nil
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
