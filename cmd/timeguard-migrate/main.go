package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/timeguard/pkg/config"
	"github.com/platinummonkey/timeguard/pkg/store/sqlstore"
)

func main() {
	configPath := flag.String("config", os.Getenv("TIMEGUARD_CONFIG"), "Path to YAML config file")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	st, err := sqlstore.Open(sqlstore.Config{
		Driver:         cfg.Database.Driver,
		URL:            cfg.Database.URL,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx, log.WithField("driver", cfg.Database.Driver)); err != nil {
		log.Errorf("Migration failed: %v", err)
		st.Close()
		os.Exit(1)
	}
	log.Info("Migrations complete")
}
