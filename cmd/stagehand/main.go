package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/stagehand/stagehand/cmd/stagehand/commands"
	"github.com/stagehand/stagehand/pkg/telemetry"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	// Interrupt cancels the context; in-flight host flows finish their
	// current task and stop, and partial results are still reported.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Received interrupt signal, shutting down...")
		cancel()
	}()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		log.Error().Err(err).Msg("Command execution failed")
		// Failed tasks exit 2 so scripts can tell them apart from usage
		// and load errors.
		if errors.Is(err, commands.ErrTasksFailed) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// setupLogging configures the global logger from the default telemetry
// config, honoring LOG_LEVEL and LOG_FORMAT overrides.
func setupLogging() {
	cfg := telemetry.DefaultConfig().Logging
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = format
	}

	logger, err := telemetry.NewLogger(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Falling back to default logger")
		return
	}
	log.Logger = logger.Zerolog()
}
