// identd is the backend daemon: it loads configuration, wires up the
// Kerberos and directory providers behind a shared offline tracker, and
// runs the single-threaded scheduler loop until terminated.
//
// Usage:
//
//	identd -config /etc/identd/identd.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/smnsjas/go-identd/internal/backend"
	"github.com/smnsjas/go-identd/internal/cache"
	"github.com/smnsjas/go-identd/internal/config"
	"github.com/smnsjas/go-identd/internal/dirproto"
	"github.com/smnsjas/go-identd/internal/obslog"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "/etc/identd/identd.yaml", "path to the backend config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "identd: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "identd: %v\n", err)
		return 1
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "identd: %v\n", err)
		return 1
	}
	defer closeLog()

	dialer := dirproto.NewFakeDialer(nil)
	logger.Warn("using the in-memory directory dialer; wire a real dirproto.Dialer implementation for production use")

	store := cache.NewMemStore()
	logger.Warn("using the in-memory cache store; wire a persistent cache.Store implementation for production use")

	b := backend.New(cfg, dialer, store, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("identd starting", slog.String("realm", cfg.Kerberos.Realm), slog.Bool("enumerate", cfg.Directory.EnumerateEnabled))
	if err := b.Run(ctx); err != nil {
		logger.Error("identd exiting", slog.String("error", err.Error()))
		return 1
	}
	logger.Info("identd stopped")
	return 0
}

func newLogger(cfg config.Config) (*slog.Logger, func(), error) {
	level := parseLevel(cfg.LogLevel)

	var handler slog.Handler
	closeFn := func() {}

	if cfg.LogPath != "" {
		rf, err := obslog.NewRotatingFile(cfg.LogPath, int64(cfg.LogMaxSizeMB)*1024*1024, cfg.LogBackups)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		handler = slog.NewJSONHandler(rf, &slog.HandlerOptions{Level: level})
		closeFn = func() { _ = rf.Close() }
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return slog.New(obslog.NewRedactingHandler(handler)), closeFn, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
