package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TEAMHUB_JWT_SECRET", "secret")
	t.Setenv("TEAMHUB_DATABASE_URL", "sqlite://file::memory:")
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, 64, cfg.ChatSendBuffer)
	require.Equal(t, 10*time.Second, cfg.ChatMentionTimeout)
	require.Equal(t, time.Minute, cfg.UnreadCacheTTL)
	require.Equal(t, []string{"task.events", "project.events", "team.events"}, cfg.Bridge.Topics)
	require.False(t, cfg.Bridge.Enabled)
	require.Zero(t, cfg.ChatRetention)
}

func TestLoadEnablesBridgeOnlyWithDriverAndURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TEAMHUB_BRIDGE_DRIVER", "NATS")

	cfg, err := Load()
	require.NoError(t, err)
	require.False(t, cfg.Bridge.Enabled)

	t.Setenv("TEAMHUB_BRIDGE_URL", "nats://localhost:4222")
	t.Setenv("TEAMHUB_BRIDGE_TOPICS", "task.events, team.events ,")

	cfg, err = Load()
	require.NoError(t, err)
	require.True(t, cfg.Bridge.Enabled)
	require.Equal(t, BridgeDriverNATS, cfg.Bridge.Driver)
	require.Equal(t, []string{"task.events", "team.events"}, cfg.Bridge.Topics)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("TEAMHUB_JWT_SECRET", "")
		t.Setenv("TEAMHUB_DATABASE_URL", "sqlite://file::memory:")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("TEAMHUB_BRIDGE_DRIVER", "kafka")
		_, err := Load()
		require.ErrorContains(t, err, "unsupported bridge driver")
	})

	t.Run("bad duration", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("TEAMHUB_CHAT_RETENTION", "forever")
		_, err := Load()
		require.ErrorContains(t, err, "chat.retention")
	})
}
