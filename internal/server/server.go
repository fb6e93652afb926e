// Package server binds the websocket transport to the session runtime and
// the inactivity watchdog, serves the client bootstrap surface, and owns
// process-level graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"gestures-server/internal/config"
	"gestures-server/internal/session"
	"gestures-server/internal/watchdog"
)

type Server struct {
	cfg     *config.Config
	runtime *session.Runtime
	monitor *watchdog.Monitor
	log     *slog.Logger

	inactive     chan string
	shutdownOnce sync.Once
}

// New wires a runtime around the app's hooks, starts the watchdog, and
// returns both the custom Server (for shutdown logic) and the http.Server
// that carries the listener.
func New(cfg *config.Config, app session.App) (*Server, *http.Server) {
	logger := slog.With("sessionId", cfg.SessionID, "appId", cfg.AppID)

	s := &Server{
		cfg:      cfg,
		runtime:  session.NewRuntime(app, session.WithLogger(logger)),
		log:      logger,
		inactive: make(chan string, 1),
	}

	monitorOpts := []watchdog.Option{
		watchdog.WithTimeout(cfg.InactivityTimeout),
		watchdog.WithCheckInterval(cfg.InactivityCheckInterval),
		watchdog.WithLogger(logger),
	}
	if filter, ok := app.(session.ActivityFilter); ok {
		monitorOpts = append(monitorOpts, watchdog.WithIgnoredTypes(filter.IgnoredActivityTypes()...))
	}
	s.monitor = watchdog.New(s.onInactivity, monitorOpts...)
	s.monitor.Start()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s, httpServer
}

// Inactive yields the watchdog's reason string when the idle timeout
// fires. The channel delivers at most one value.
func (s *Server) Inactive() <-chan string {
	return s.inactive
}

func (s *Server) onInactivity(reason string) {
	select {
	case s.inactive <- reason:
	default:
	}
}

// Shutdown performs the graceful sequence: stop the watchdog, stop the
// runtime. Repeated shutdown requests collapse to one; closing the
// listener is the caller's job, as with the http.Server it was handed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.log.Info("beginning graceful shutdown")
		s.monitor.Stop()
		s.runtime.Stop()
		s.log.Info("graceful shutdown complete")
	})
	return nil
}
