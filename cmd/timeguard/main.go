package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/timeguard/pkg/config"
	"github.com/platinummonkey/timeguard/pkg/engine"
	"github.com/platinummonkey/timeguard/pkg/identity"
	"github.com/platinummonkey/timeguard/pkg/observability"
	"github.com/platinummonkey/timeguard/pkg/store/sqlstore"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const dbStatsInterval = 15 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("TIMEGUARD_CONFIG"), "Path to YAML config file")
	issueFor := flag.String("issue-token", "", "Print a bearer token for the given user id and exit")
	flag.Parse()

	if err := run(*configPath, *issueFor); err != nil {
		fmt.Fprintf(os.Stderr, "timeguard: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, issueFor string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLoggerWithFormat(cfg.Observability.Level(), cfg.Observability.LogFormat, os.Stdout).
		WithField("service", "timeguard").
		WithField("version", version)

	otelCfg := observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Observability.OTelInsecure,
	}
	if cfg.Observability.OTelServiceVersion != "" {
		otelCfg.ServiceVersion = cfg.Observability.OTelServiceVersion
	}
	providers, err := observability.InitOTel(ctx, otelCfg, logger)
	if err != nil {
		return err
	}

	st, err := sqlstore.Open(sqlstore.Config{
		Driver:          cfg.Database.Driver,
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
		TxTimeout:       cfg.Database.TxTimeout,
	})
	if err != nil {
		return err
	}
	defer st.Close()
	logger.WithField("driver", cfg.Database.Driver).Info("Database connected")

	if cfg.Database.AutoMigrate {
		if err := st.Migrate(ctx, logger.Entry()); err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	pub, redisClient, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}

	svc := engine.New(st,
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
		engine.WithPublisher(pub),
	)
	resolver := identity.NewResolver(identityConfig(cfg), st, svc.Scope())

	if issueFor != "" {
		defer pub.Close()
		return issueToken(ctx, cfg, resolver, issueFor)
	}

	router := newOpsRouter(st.DB(), redisClient, registry, metrics, cfg.Observability.MetricsEnabled)
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(context.Context) error { return pub.Close() })
	if providers != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", cfg.Server.Addr).Info("Starting ops server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		defer observability.RecoverPanic(logger, "db stats")
		ticker := time.NewTicker(dbStatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				metrics.RecordDBStats(st.DB().Stats())
			}
		}
	})

	if cfg.Archive.Enabled {
		archiver, err := newArchiver(gctx, cfg, st, logger, metrics)
		if err != nil {
			return err
		}
		c := cron.New()
		if _, err := c.AddFunc(cfg.Archive.Schedule, archiver.Job(gctx)); err != nil {
			return fmt.Errorf("invalid archive schedule: %w", err)
		}
		c.Start()
		logger.WithField("schedule", cfg.Archive.Schedule).Info("Audit archive scheduled")
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			select {
			case <-c.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})

	return g.Wait()
}

func identityConfig(cfg *config.Config) identity.Config {
	return identity.Config{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		TokenTTL: cfg.Auth.TokenTTL,
	}
}

// issueToken signs a token for an existing active user
func issueToken(ctx context.Context, cfg *config.Config, resolver *identity.Resolver, rawID string) error {
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	if _, err := resolver.ActorFor(ctx, userID); err != nil {
		return err
	}
	token, err := identity.NewIssuer(identityConfig(cfg)).Sign(userID)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
