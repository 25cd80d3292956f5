package main

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/timeguard/pkg/audit"
	"github.com/platinummonkey/timeguard/pkg/config"
	"github.com/platinummonkey/timeguard/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestOpsRouter(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	get := func(h http.Handler, path string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	t.Run("metrics enabled", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		router := newOpsRouter(db, nil, registry, observability.NewMetrics(registry), true)

		assert.Equal(t, http.StatusOK, get(router, "/health/live"))
		assert.Equal(t, http.StatusOK, get(router, "/health/ready"))
		assert.Equal(t, http.StatusOK, get(router, "/metrics"))
	})

	t.Run("metrics disabled", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		router := newOpsRouter(db, nil, registry, observability.NewMetrics(registry), false)

		assert.Equal(t, http.StatusOK, get(router, "/health"))
		assert.Equal(t, http.StatusNotFound, get(router, "/metrics"))
	})
}

func TestNewPublisher(t *testing.T) {
	ctx := context.Background()

	t.Run("none", func(t *testing.T) {
		cfg := config.DefaultConfig()
		pub, client, err := newPublisher(ctx, cfg, testLogger())
		require.NoError(t, err)
		assert.IsType(t, audit.NopPublisher{}, pub)
		assert.Nil(t, client)
	})

	t.Run("redis", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		t.Cleanup(mr.Close)

		cfg := config.DefaultConfig()
		cfg.Audit.Publisher = "redis"
		cfg.Redis.URL = "redis://" + mr.Addr()

		pub, client, err := newPublisher(ctx, cfg, testLogger())
		require.NoError(t, err)
		defer pub.Close()
		assert.IsType(t, &audit.RedisPublisher{}, pub)
		assert.NotNil(t, client)
	})

	t.Run("kafka without brokers", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Audit.Publisher = "kafka"
		_, _, err := newPublisher(ctx, cfg, testLogger())
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Audit.Publisher = "carrier-pigeon"
		_, _, err := newPublisher(ctx, cfg, testLogger())
		assert.Error(t, err)
	})
}
