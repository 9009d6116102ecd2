// MzansiGig - escrow settlement engine for the gig marketplace
package main

import (
	"context"
	"os"

	"github.com/mtho-ngoza/mzansigig-sub002/internal/config"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/logging"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting mzansigig",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"payment_provider", cfg.PaymentProvider,
		"auto_release_days", cfg.AutoReleaseDays,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
