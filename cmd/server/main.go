// AltFlex - Exploit risk detection and forensic audit engine
package main

import (
	"context"
	"os"

	"github.com/flexycode/altflex/internal/config"
	"github.com/flexycode/altflex/internal/logging"
	"github.com/flexycode/altflex/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Create logger
	logger := logging.New("info", "text")

	logger.Info("starting altflex",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"eth_price_usd", cfg.EthPriceUSD,
		"critical_threshold", cfg.CriticalThreshold,
		"suspicious_threshold", cfg.SuspiciousThreshold,
	)

	// Create and run server
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
