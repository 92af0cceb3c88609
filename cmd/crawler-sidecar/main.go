// Command crawler-sidecar runs the browser crawl engine behind a local
// control server. It takes no arguments: it binds an ephemeral port on the
// configured host, announces it on stdout as SIDECAR_PORT:<port> and logs
// everything else to stderr.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/shopcrawl/api"
	"github.com/use-agent/shopcrawl/browser"
	"github.com/use-agent/shopcrawl/config"
	"github.com/use-agent/shopcrawl/engine"
	"github.com/use-agent/shopcrawl/proxy"
	"github.com/use-agent/shopcrawl/sidecar"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging (stderr only) ──────────────
	initLogger(cfg.Log)
	gin.DefaultWriter = os.Stderr
	gin.DefaultErrorWriter = os.Stderr
	slog.Info("crawler sidecar starting",
		"host", cfg.Server.Host,
		"mode", cfg.Server.Mode,
		"maxTasks", cfg.Engine.MaxConcurrentTasks,
		"proxies", len(cfg.Proxy.Proxies),
	)

	// ── 3. Initialise engine (browsers launch lazily) ───────────────
	eng := engine.New(cfg.Engine, browser.NewLauncher(cfg.Browser), proxy.NewManager())
	eng.Initialize(proxy.ParseEntries(cfg.Proxy.Proxies))

	// ── 4. Bind an ephemeral port ───────────────────────────────────
	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Server.Host, "0"))
	if err != nil {
		slog.Error("failed to bind control server", "error", err)
		os.Exit(1)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	// ── 5. Setup router ─────────────────────────────────────────────
	router := api.NewRouter(eng, cfg, port, time.Now())
	srv := &http.Server{Handler: router}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	// ── 6. Announce the port to the supervisor ──────────────────────
	fmt.Fprintln(os.Stdout, sidecar.FormatPortLine(port))
	slog.Info("control server listening", "addr", ln.Addr().String())

	// ── 7. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("control server error", "error", err)
			exitCode = 1
		}
	}

	// Give in-flight crawls 5 seconds to return.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("control server forced shutdown", "error", err)
	} else {
		slog.Info("control server drained gracefully")
	}

	if err := eng.Cleanup(); err != nil {
		slog.Error("engine cleanup incomplete", "error", err)
	}
	slog.Info("crawler sidecar stopped")
	os.Exit(exitCode)
}

// initLogger configures slog based on the LogConfig. Records go to stderr.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
