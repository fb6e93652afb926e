package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gestures-server/internal/watchdog"
)

func TestLoadDefaults(t *testing.T) {
	assert := assert.New(t)

	cfg, err := Load()
	assert.NoError(err)
	assert.Equal(DefaultPort, cfg.Port)
	assert.Empty(cfg.SessionID)
	assert.Empty(cfg.AppID)
	assert.Equal(watchdog.DefaultTimeout, cfg.InactivityTimeout)
	assert.Equal(watchdog.DefaultCheckInterval, cfg.InactivityCheckInterval)
}

func TestLoadFromEnvironment(t *testing.T) {
	assert := assert.New(t)

	t.Setenv("PORT", "8080")
	t.Setenv("SESSION_ID", "sess-42")
	t.Setenv("APP_ID", "blockduel")
	t.Setenv("LOBBY_URL", "https://lobby.example")
	t.Setenv("INACTIVITY_TIMEOUT_MS", "5000")
	t.Setenv("INACTIVITY_CHECK_INTERVAL_MS", "1000")

	cfg, err := Load()
	assert.NoError(err)
	assert.Equal(8080, cfg.Port)
	assert.Equal("sess-42", cfg.SessionID)
	assert.Equal("blockduel", cfg.AppID)
	assert.Equal("https://lobby.example", cfg.LobbyURL)
	assert.Equal(5*time.Second, cfg.InactivityTimeout)
	assert.Equal(time.Second, cfg.InactivityCheckInterval)
}

// Timeout overrides must be positive integers or they are ignored.
func TestLoadRejectsBadTimeoutOverrides(t *testing.T) {
	assert := assert.New(t)

	t.Setenv("INACTIVITY_TIMEOUT_MS", "not-a-number")
	t.Setenv("INACTIVITY_CHECK_INTERVAL_MS", "-5")

	cfg, err := Load()
	assert.NoError(err)
	assert.Equal(watchdog.DefaultTimeout, cfg.InactivityTimeout)
	assert.Equal(watchdog.DefaultCheckInterval, cfg.InactivityCheckInterval)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	t.Setenv("PORT", "-1")

	_, err := Load()
	assert.Error(t, err)
}
