// One-shot tool: fetch the current ISS position and write it to the
// positions partition for its UTC date. Meant to run once a minute from a
// scheduler.
//
// Usage:
//
//	go run cmd/iss-sample/main.go
package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"isspipe/internal/config"
	"isspipe/internal/pipeline"
	"isspipe/internal/util"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := pipeline.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}

	res, runErr := app.Sampler().Run(ctx)

	if err := app.PushMetrics(context.Background(), "iss-sample"); err != nil {
		slog.Warn("metrics push failed", "error", err)
	}
	if err := app.Close(context.Background()); err != nil {
		slog.Warn("shutdown error", "error", err)
	}

	if runErr != nil {
		log.Fatalf("sample failed: %v", runErr)
	}
	slog.Info("sample written", "key", res.Key)
}
