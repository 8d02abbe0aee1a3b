package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-wiki-engine/internal/acl"
	"go-wiki-engine/internal/config"
	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/service"
)

func testConfig() *config.Config {
	return &config.Config{
		DB:    config.DBConfig{Driver: "sqlite", DSN: "file::memory:"},
		Cache: config.CacheConfig{Driver: "memory"},
		Engine: config.EngineConfig{
			MaxWalkDistance:      5,
			RecommendIterations:  2,
			RecommendConcurrency: 2,
			ReconcileBatch:       10,
			ReconcileInterval:    10 * time.Millisecond,
			RecommendInterval:    10 * time.Millisecond,
			DefaultRead:          []string{acl.All},
			DefaultWrite:         []string{acl.Login},
		},
	}
}

func TestOpenAndMigrate(t *testing.T) {
	a, err := Open(testConfig(), logger.Nop())
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Migrate())
	// Migrating twice is a no-op.
	require.NoError(t, a.Migrate())

	ctx := context.Background()
	user := &acl.User{Email: "alice@example.com"}
	_, err = a.Pages.Propose(ctx, service.ProposeRequest{Title: "Home", Body: "Welcome to [[About]]", User: user})
	require.NoError(t, err)

	titles, err := a.Pages.Titles(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []string{"Home"}, titles)
}

func TestOpen_UnknownCacheDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Driver = "redis"
	_, err := Open(cfg, logger.Nop())
	assert.Error(t, err)
}

func TestRunMaintenance_StopsWithContext(t *testing.T) {
	a, err := Open(testConfig(), logger.Nop())
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Migrate())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		a.RunMaintenance(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("maintenance loops did not stop")
	}
}
