// Package config reads the process environment the lobby provisions for a
// session server. Values come from real environment variables, with a
// .env file loaded first in local development.
package config

import (
	"fmt"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/viper"

	"gestures-server/internal/watchdog"
)

const DefaultPort = 3001

// Config holds everything a session process needs from its environment.
type Config struct {
	// Port is the listen port for the websocket and static surface.
	Port int

	// SessionID is the lobby-allocated identifier. The server never
	// interprets it; it is surfaced in logs and the bootstrap document.
	SessionID string

	// AppID names the hosted application and picks the client bundle.
	AppID string

	// LobbyURL populates the return-to-lobby link in the bootstrap
	// document.
	LobbyURL string

	// StaticDir, when set, is served at the HTTP root for the client
	// bundle.
	StaticDir string

	// InactivityTimeout and InactivityCheckInterval override the watchdog
	// defaults.
	InactivityTimeout       time.Duration
	InactivityCheckInterval time.Duration
}

// Load reads the environment. Missing values fall back to defaults;
// timeout overrides must be positive integers (milliseconds) or they are
// ignored.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", DefaultPort)
	v.SetDefault("SESSION_ID", "")
	v.SetDefault("APP_ID", "")
	v.SetDefault("LOBBY_URL", "")
	v.SetDefault("STATIC_DIR", "")

	cfg := &Config{
		Port:                    v.GetInt("PORT"),
		SessionID:               v.GetString("SESSION_ID"),
		AppID:                   v.GetString("APP_ID"),
		LobbyURL:                v.GetString("LOBBY_URL"),
		StaticDir:               v.GetString("STATIC_DIR"),
		InactivityTimeout:       watchdog.DefaultTimeout,
		InactivityCheckInterval: watchdog.DefaultCheckInterval,
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid PORT %d", cfg.Port)
	}

	if ms := v.GetInt("INACTIVITY_TIMEOUT_MS"); ms > 0 {
		cfg.InactivityTimeout = time.Duration(ms) * time.Millisecond
	}
	if ms := v.GetInt("INACTIVITY_CHECK_INTERVAL_MS"); ms > 0 {
		cfg.InactivityCheckInterval = time.Duration(ms) * time.Millisecond
	}

	return cfg, nil
}
