package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/freelance-notify/libs/auth"
	"github.com/md-rashed-zaman/freelance-notify/libs/breaker"
	"github.com/md-rashed-zaman/freelance-notify/libs/changes"
	"github.com/md-rashed-zaman/freelance-notify/libs/config"
	"github.com/md-rashed-zaman/freelance-notify/libs/db"
	"github.com/md-rashed-zaman/freelance-notify/libs/httpx"
	"github.com/md-rashed-zaman/freelance-notify/libs/kafkax"
	otelx "github.com/md-rashed-zaman/freelance-notify/libs/otel"
	"github.com/md-rashed-zaman/freelance-notify/libs/redisx"
	"github.com/md-rashed-zaman/freelance-notify/libs/runtime"
	"github.com/md-rashed-zaman/freelance-notify/services/notification-service/internal/consumer"
	"github.com/md-rashed-zaman/freelance-notify/services/notification-service/internal/email"
	"github.com/md-rashed-zaman/freelance-notify/services/notification-service/internal/notify"
	"github.com/md-rashed-zaman/freelance-notify/services/notification-service/internal/storage"
	"github.com/md-rashed-zaman/freelance-notify/services/notification-service/internal/users"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	brokers := config.String("KAFKA_BROKERS", "")
	topics, err := parseTopics(config.List("KAFKA_TOPICS"))
	if err != nil {
		panic(err)
	}

	breakerFailures, err := config.Int("BREAKER_FAILURES", 5)
	if err != nil {
		panic(err)
	}
	breakerOpenFor, err := config.Duration("BREAKER_OPEN_FOR", 30*time.Second)
	if err != nil {
		panic(err)
	}

	sender, err := newSender(logger)
	if err != nil {
		panic(err)
	}
	sender = email.WithBreaker(sender, breaker.New(logger, breaker.Config{
		Name:     "email",
		Failures: breakerFailures,
		OpenFor:  breakerOpenFor,
		Ignore:   email.IsRecipientRejected,
	}))

	var rdb *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb, err = redisx.Open(ctx, addr)
		if err != nil {
			logger.Warn("redis unavailable, user cache disabled", "err", err)
			rdb = nil
		} else {
			defer func() { _ = rdb.Close() }()
		}
	}

	var lookup users.Lookup
	var userCache notify.UserCache
	cache, err := newLookup(logger, rdb)
	if err != nil {
		panic(err)
	}
	if cache != nil {
		userCache = cache
		lookup = users.WithBreaker(cache, breaker.New(logger, breaker.Config{
			Name:     "user-lookup",
			Failures: breakerFailures,
			OpenFor:  breakerOpenFor,
			Ignore:   users.IsNotFound,
		}))
	}

	var pool *db.Pool
	var recorder notify.Recorder
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err = db.Open(ctx, dbURL, db.Options{})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()
		recorder = storage.NewRepository(pool)
	} else {
		logger.Info("notification audit log disabled (DATABASE_URL not set)")
	}

	processor := notify.NewProcessor(logger, notify.NewDispatcher(lookup, sender), recorder, userCache)
	eventConsumer := consumer.New(logger, consumer.Config{
		Brokers: brokers,
		GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
		Topics:  topics,
	}, func(ctx context.Context, msg kafka.Message) {
		meta := kafkax.ExtractEventMeta(msg)
		processor.Process(ctx, notify.Record{
			Topic:     msg.Topic,
			Key:       msg.Key,
			Value:     msg.Value,
			EventID:   meta.EventID,
			Partition: msg.Partition,
			Offset:    msg.Offset,
		})
	})
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		eventConsumer.Run(ctx)
	}()
	logger.Info("change consumer started", "topics", len(topics), "brokers", brokers)

	checks := []runtime.ReadyCheck{
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	}
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)})
	}
	if pool != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")

	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		logger.Warn("change consumer did not drain before shutdown deadline")
	}
}

// parseTopics validates an optional subset; empty means every topic.
func parseTopics(names []string) ([]changes.Topic, error) {
	if len(names) == 0 {
		return changes.Topics(), nil
	}
	topics := make([]changes.Topic, 0, len(names))
	for _, name := range names {
		t, err := changes.ParseTopic(name)
		if err != nil {
			return nil, fmt.Errorf("KAFKA_TOPICS: %w", err)
		}
		topics = append(topics, t)
	}
	return topics, nil
}

func newSender(logger *slog.Logger) (email.Sender, error) {
	provider := strings.ToLower(config.String("EMAIL_PROVIDER", "smtp"))
	switch provider {
	case "smtp":
		timeout, err := config.Duration("SMTP_TIMEOUT", 10*time.Second)
		if err != nil {
			return nil, err
		}
		return email.NewSMTPSender(
			config.String("SMTP_HOST", "mailpit"),
			config.String("SMTP_PORT", "1025"),
			config.String("SMTP_FROM", "no-reply@freelance.local"),
			timeout,
		), nil
	case "webhook":
		url, err := config.RequiredString("EMAIL_WEBHOOK_URL")
		if err != nil {
			return nil, err
		}
		return email.NewWebhookSender(url, config.String("EMAIL_WEBHOOK_TOKEN", ""), 5*time.Second), nil
	case "log":
		return email.NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("EMAIL_PROVIDER must be smtp, webhook or log (got %q)", provider)
	}
}

// newLookup returns nil when no platform URL is configured; recipients then have to carry an email.
// The cache passes through when rdb is nil.
func newLookup(logger *slog.Logger, rdb *redis.Client) (*users.Cache, error) {
	baseURL := config.String("USER_LOOKUP_URL", "")
	if baseURL == "" {
		logger.Info("user lookup disabled (USER_LOOKUP_URL not set)")
		return nil, nil
	}
	secret, err := config.RequiredString("SERVICE_TOKEN_SECRET")
	if err != nil {
		return nil, err
	}
	timeout, err := config.Duration("USER_LOOKUP_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	ttl, err := config.Duration("USER_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	tokens := auth.NewServiceTokenSource(secret, "notification-service", "freelance-platform", 5*time.Minute)
	return users.NewCache(users.NewHTTPClient(baseURL, tokens, timeout), rdb, ttl, logger), nil
}
