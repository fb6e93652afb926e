package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gestures-server/internal/apps/blockduel"
	"gestures-server/internal/config"
	"gestures-server/internal/server"
	"gestures-server/internal/session"
)

// apps maps APP_ID values to hook bundles. The lobby picks which app a
// session process hosts through the environment.
var apps = map[string]func() session.App{
	blockduel.AppID: func() session.App { return blockduel.New() },
}

func gracefulShutdown(customServer *server.Server, httpServer *http.Server, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Either an operator signal or the inactivity watchdog ends the
	// process; both collapse into the same sequence.
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case reason := <-customServer.Inactive():
		slog.Info("inactivity shutdown", "reason", reason)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := customServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during shutdown", "error", err)
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server forced to shutdown", "error", err)
	}

	done <- true
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	appID := cfg.AppID
	if appID == "" {
		appID = blockduel.AppID
	}
	newApp, ok := apps[appID]
	if !ok {
		slog.Error("unknown APP_ID", "appId", appID)
		os.Exit(1)
	}

	slog.Info("starting session server",
		"sessionId", cfg.SessionID, "appId", appID, "port", cfg.Port)

	customServer, httpServer := server.New(cfg, newApp())

	done := make(chan bool, 1)
	go gracefulShutdown(customServer, httpServer, done)

	err = httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	<-done
	slog.Info("session server exited")
}
