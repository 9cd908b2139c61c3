// One-shot tool: run the daily aggregation and then the warehouse load for
// one UTC day, sharing a single set of backends.
//
// Usage:
//
//	go run cmd/iss-pipeline/main.go [-date 2024-06-17]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"isspipe/internal/config"
	"isspipe/internal/pipeline"
	"isspipe/internal/util"
)

func main() {
	dateFlag := flag.String("date", "", "UTC date to process, YYYY-MM-DD (default yesterday)")
	flag.Parse()

	date, err := util.ResolveDate(*dateFlag, time.Now())
	if err != nil {
		log.Fatalf("invalid -date: %v", err)
	}

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

	slog.Info("starting daily run", "date", util.DateStamp(date), "backend", cfg.Backend)
	res, runErr := app.RunDaily(ctx, date)

	if err := app.PushMetrics(context.Background(), "iss-pipeline"); err != nil {
		slog.Warn("metrics push failed", "error", err)
	}
	if err := app.Close(context.Background()); err != nil {
		slog.Warn("shutdown error", "error", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Fatalf("encoding result: %v", err)
	}

	if runErr != nil {
		log.Fatalf("daily run failed: %v", runErr)
	}
}
