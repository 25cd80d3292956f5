package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/timeguard/pkg/archive"
	"github.com/platinummonkey/timeguard/pkg/audit"
	"github.com/platinummonkey/timeguard/pkg/config"
	"github.com/platinummonkey/timeguard/pkg/observability"
)

// newPublisher builds the post-commit audit publisher. The Redis client is
// returned as well so the readiness check can ping it; it is nil otherwise.
func newPublisher(ctx context.Context, cfg *config.Config, logger *observability.Logger) (audit.Publisher, *redis.Client, error) {
	switch cfg.Audit.Publisher {
	case "redis":
		client, err := audit.NewRedisClient(ctx, audit.RedisOptions{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("stream", cfg.Audit.Stream).Info("Publishing audit entries to redis")
		return audit.NewRedisPublisher(client, cfg.Audit.Stream, cfg.Audit.StreamMaxLen), client, nil

	case "kafka":
		pub, err := audit.NewKafkaPublisher(audit.KafkaOptions{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: cfg.Kafka.ClientID,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("topic", cfg.Kafka.Topic).Info("Publishing audit entries to kafka")
		return pub, nil, nil

	case "", "none":
		return audit.NopPublisher{}, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown audit publisher %q", cfg.Audit.Publisher)
	}
}

func newArchiver(ctx context.Context, cfg *config.Config, source audit.Searcher, logger *observability.Logger, metrics *observability.Metrics) (*archive.Archiver, error) {
	putter, err := archive.NewS3Putter(ctx, archive.S3Config{
		Bucket:       cfg.Archive.Bucket,
		Region:       cfg.Archive.Region,
		Endpoint:     cfg.Archive.Endpoint,
		AccessKey:    cfg.Archive.AccessKey,
		SecretKey:    cfg.Archive.SecretKey,
		UsePathStyle: cfg.Archive.UsePathStyle,
	})
	if err != nil {
		return nil, err
	}
	return archive.New(source, putter,
		archive.WithPrefix(cfg.Archive.Prefix),
		archive.WithWindow(cfg.Archive.Window),
		archive.WithLag(cfg.Database.TxTimeout),
		archive.WithLogger(logger.WithField("component", "archive")),
		archive.WithMetrics(metrics),
	), nil
}

// newOpsRouter serves health checks and, when enabled, Prometheus metrics
func newOpsRouter(db *sql.DB, redisClient *redis.Client, gatherer prometheus.Gatherer, metrics *observability.Metrics, metricsEnabled bool) *mux.Router {
	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(db, redisClient, version))
	if metricsEnabled {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
		observability.RegisterMetricsEndpoint(router, gatherer)
	}
	return router
}
