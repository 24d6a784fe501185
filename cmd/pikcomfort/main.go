package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alryaz/hass-pik-comfort/pkg/hass"
	"github.com/alryaz/hass-pik-comfort/pkg/log"
	"github.com/alryaz/hass-pik-comfort/pkg/pik"
	"github.com/alryaz/hass-pik-comfort/pkg/refresh"
	"github.com/alryaz/hass-pik-comfort/pkg/server"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	registry := pik.Configured()
	bridge := hass.Configured()

	coordinator := refresh.Configured(func(ctx context.Context) error {
		phone := registry.DefaultPhone()
		if phone == "" {
			return fmt.Errorf("no pik-phone configured")
		}
		return registry.Session(phone).Update(ctx)
	})

	// init server
	srv := server.Configured(registry, coordinator)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// re-render HA entities after every successful refresh
	if bridge.Enabled() {
		coordinator.AddListener(func() {
			phone := registry.DefaultPhone()
			if phone == "" {
				return
			}
			if err := bridge.Publish(ctx, registry.Session(phone)); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "publishing to home assistant failed", "error", err)
			}
		})
	}

	// scheduled refreshes run alongside the server; they only do useful work
	// once a session holds a token (restored via flag or set up over the API)
	go func() {
		if err := coordinator.Run(ctx); err != nil && ctx.Err() == nil {
			log.Ctx(ctx).ErrorContext(ctx, "refresh loop failed", "error", err)
		}
	}()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
