package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("SEED_ADMIN_PASSWORD", "")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.SeedAdminPass)
	assert.Equal(t, ":8080", cfg.Address())
}

func TestLoadAppliesClientDefaults(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://api.example.com/api/v1/")
	t.Setenv("STORAGE_DRIVER", " Redis ")
	t.Setenv("STREAM_MAX_ATTEMPTS", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/api/v1", cfg.APIBaseURL)
	assert.Equal(t, "https://api.example.com/api/v1/sales/events", cfg.StreamURL())
	assert.Equal(t, "redis", cfg.StorageDriver)
	assert.Equal(t, 5, cfg.StreamMaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.StreamBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.UnreadPollInterval)
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("UNREAD_POLL_INTERVAL", "soon")

	_, err := Load()
	require.Error(t, err)
}
