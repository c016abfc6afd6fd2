package config_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-pusher-service/pusherservice/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	baseConfig := func() *config.Config {
		return &config.Config{
			ListenAddr: ":8080",
			APIKey:     "base-key",
			Database:   config.DatabaseConfig{Driver: "sqlite", Path: "base.db"},
			Vapid: config.VapidConfig{
				PublicKey:  "base-pub",
				PrivateKey: "base-priv",
			},
		}
	}

	t.Run("Success - All overrides applied", func(t *testing.T) {
		cfg := baseConfig()

		t.Setenv("PORT", "9090")
		t.Setenv("PUSHER_API_KEY", "env-key")
		t.Setenv("DATABASE_PATH", "/var/lib/pusher/env.db")
		t.Setenv("VAPID_PUBLIC_KEY", "env-pub")
		t.Setenv("VAPID_PRIVATE_KEY", "env-priv")
		t.Setenv("VAPID_SUB_EMAIL", "env@test.com")
		t.Setenv("EXPIRY_SWEEP_INTERVAL", "15m")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, ":9090", finalCfg.ListenAddr)
		assert.Equal(t, "env-key", finalCfg.APIKey)
		assert.Equal(t, "/var/lib/pusher/env.db", finalCfg.Database.Path)
		assert.Equal(t, "env-pub", finalCfg.Vapid.PublicKey)
		assert.Equal(t, "env-priv", finalCfg.Vapid.PrivateKey)
		assert.Equal(t, "env@test.com", finalCfg.Vapid.SubscriberEmail)
		assert.Equal(t, 15*time.Minute, finalCfg.ExpirySweepInterval)
	})

	t.Run("Success - Defaults applied", func(t *testing.T) {
		finalCfg, err := config.UpdateConfigWithEnvOverrides(&config.Config{}, logger)
		require.NoError(t, err)

		assert.Equal(t, ":8080", finalCfg.ListenAddr)
		assert.Equal(t, "sqlite", finalCfg.Database.Driver)
		assert.Equal(t, "data/pusher.db", finalCfg.Database.Path)
		assert.Equal(t, 1, finalCfg.NumPipelineWorkers)
		assert.Equal(t, time.Hour, finalCfg.ExpirySweepInterval)
		assert.Nil(t, finalCfg.PubsubConsumerConfig)
	})

	t.Run("Pubsub consumer config derived from subscription", func(t *testing.T) {
		cfg := baseConfig()
		cfg.ProjectID = "test-project"
		t.Setenv("SUBSCRIPTION_ID", "env-sub")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)
		assert.Equal(t, "env-sub", finalCfg.SubscriptionID)
		assert.NotNil(t, finalCfg.PubsubConsumerConfig)
	})

	t.Run("Validation Failure - Unknown database driver", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Database.Driver = "mongodb"
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Firestore without project", func(t *testing.T) {
		_, err := config.UpdateConfigWithEnvOverrides(&config.Config{
			Database: config.DatabaseConfig{Driver: "firestore"},
		}, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Subscription without project", func(t *testing.T) {
		_, err := config.UpdateConfigWithEnvOverrides(&config.Config{
			SubscriptionID: "sub",
			Database:       config.DatabaseConfig{Driver: "sqlite", Path: "x.db"},
		}, logger)
		assert.Error(t, err)
	})
}
