// Command pixelserver runs the collaborative pixel canvas server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/madkind/pixelboard/internal/config"
	"github.com/madkind/pixelboard/internal/lifecycle"
	"github.com/madkind/pixelboard/internal/logging"
)

func main() {
	bootstrapLog := logging.New(logging.Config{Level: "info", Format: "json"})

	cfg, err := config.Load(&bootstrapLog)
	if err != nil {
		bootstrapLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogFields(log)

	srv, err := lifecycle.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server exited unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	log.Info().Msg("pixelboard server stopped")
}
