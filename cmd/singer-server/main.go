// Command singer-server is the main entry point for the singing-voice
// synthesis orchestrator's HTTP Edge.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/singer-orchestrator/internal/app"
	"github.com/MrWong99/singer-orchestrator/internal/config"
	"github.com/MrWong99/singer-orchestrator/internal/edge"
	"github.com/MrWong99/singer-orchestrator/internal/health"
	"github.com/MrWong99/singer-orchestrator/internal/observe"
)

// Exit codes per spec.md §6.
const (
	exitOK            = 0
	exitInvalidConfig = 64
	exitWorkerFailure = 70
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "singer-server: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "singer-server: %v\n", err)
		}
		return exitInvalidConfig
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	logger.Info("singer-server starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr(),
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise application", "err", err)
		return exitWorkerFailure
	}

	e := edge.New(edge.Dependencies{
		Orchestrator: application.Orchestrator(),
		Sessions:     application.Sessions(),
		Jobs:         application.Jobs(),
		Ledger:       application.Ledger(),
		Router:       application.Router(),
		Objects:      application.Objects(),
		Identity:     application.Identity(),
		Voicebanks:   application.Voicebanks(),
		Log:          logger,
		Metrics:      application.Metrics(),
	})

	mux := http.NewServeMux()
	e.Register(mux)
	health.New(
		health.Checker{Name: "tool_router", Check: func(context.Context) error {
			if len(application.Router().Catalog()) == 0 {
				return fmt.Errorf("no tools registered")
			}
			return nil
		}},
	).Register(mux)
	handler := observe.Middleware(application.Metrics())(mux)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server ready", "addr", srv.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping…")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen error", "err", err)
			_ = application.Shutdown(context.Background())
			return exitWorkerFailure
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("app shutdown error", "err", err)
		return exitWorkerFailure
	}
	logger.Info("goodbye")
	return exitOK
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
