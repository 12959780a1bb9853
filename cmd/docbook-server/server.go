package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/docbook/docbook/internal/config"
	"github.com/docbook/docbook/internal/domain/patient"
	"github.com/docbook/docbook/internal/domain/scheduling"
	"github.com/docbook/docbook/internal/platform/auth"
	"github.com/docbook/docbook/internal/platform/db"
	"github.com/docbook/docbook/internal/platform/idempotency"
	"github.com/docbook/docbook/internal/platform/metrics"
	"github.com/docbook/docbook/internal/platform/middleware"
	"github.com/docbook/docbook/internal/platform/notification"
	"github.com/docbook/docbook/internal/platform/outbox"
)

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	m := metrics.New(prometheus.DefaultRegisterer)
	checks := []db.Check{}

	// Idempotent booking replay is optional; without Redis the header is ignored.
	var idemStore *idempotency.Store
	if cfg.RedisURL != "" {
		client, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		idemStore = idempotency.NewStore(client)
		checks = append(checks, db.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
	}

	sender, closeSender, err := buildSender(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSender()

	events := outbox.NewStore(pool)
	dispatcher := outbox.NewDispatcher(events, notification.NewNotifier(sender, nil, logger), logger).
		WithBatchSize(int32(cfg.OutboxBatchSize)).
		WithMaxAttempts(cfg.OutboxMaxAttempts).
		WithInterval(cfg.OutboxPollInterval).
		WithMetrics(m)
	go dispatcher.Start(ctx)

	svc := newSchedulingService(cfg, pool, events, m, logger)

	e := newEcho(cfg, logger, m)
	api := e.Group("/api/v1",
		db.TenantMiddleware(pool, cfg.DefaultTenant),
		middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		}),
	)
	scheduling.NewHandler(svc).RegisterRoutes(api, idempotency.Middleware(idemStore, cfg.IdempotencyTTL, logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, checks...))
	e.GET("/metrics", metrics.Handler(prometheus.DefaultGatherer))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting docbook server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func newEcho(cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: []string{
			echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization,
			"X-Tenant-ID", "X-Doctor-ID", idempotency.HeaderKey,
		},
	}))
	e.Use(m.Middleware())

	if cfg.IsDev() {
		logger.Warn().Msg("running with development auth; X-Doctor-ID is trusted")
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}
	return e
}

func newSchedulingService(cfg *config.Config, pool *pgxpool.Pool, events scheduling.EventSink,
	m *metrics.Metrics, logger zerolog.Logger) *scheduling.Service {
	patients := patient.NewService(patient.NewRepoPG(pool), logger)
	return scheduling.NewService(
		scheduling.NewSlotRepoPG(pool),
		scheduling.NewBookingRepoPG(pool),
		scheduling.NewRescheduleRepoPG(pool),
		scheduling.NewAppointmentRepoPG(pool),
		patients.Directory(),
		events,
		db.NewTxRunner(pool),
		scheduling.WithLocation(cfg.Location()),
		scheduling.WithMaxDays(cfg.AvailabilityMaxDays),
		scheduling.WithLogger(logger),
		scheduling.WithMetrics(m),
	)
}

func newRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// buildSender fans notifications out to every configured channel and falls
// back to logging when none is set. The returned func closes open brokers.
func buildSender(cfg *config.Config, logger zerolog.Logger) (notification.Sender, func(), error) {
	var (
		senders notification.MultiSender
		closers []func() error
	)

	if cfg.AMQPURL != "" {
		s, err := notification.DialAMQP(cfg.AMQPURL, cfg.NotifyExchange)
		if err != nil {
			return nil, nil, err
		}
		senders = append(senders, s)
		closers = append(closers, s.Close)
		logger.Info().Str("exchange", cfg.NotifyExchange).Msg("publishing notifications to AMQP")
	}
	if cfg.NotifyWebhookURL != "" {
		s, err := notification.NewWebhookSender(cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return nil, nil, err
		}
		senders = append(senders, s)
		logger.Info().Msg("delivering notifications to webhook")
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn().Err(err).Msg("notification sender close failed")
			}
		}
	}

	switch len(senders) {
	case 0:
		return notification.LogSender{Logger: logger}, closeAll, nil
	case 1:
		return senders[0], closeAll, nil
	default:
		return senders, closeAll, nil
	}
}
