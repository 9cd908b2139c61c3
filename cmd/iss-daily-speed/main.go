// One-shot tool: compute the average distance between consecutive ISS
// samples for one UTC day and overwrite that day's aggregate object.
//
// Usage:
//
//	go run cmd/iss-daily-speed/main.go [-date 2024-06-17]
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"isspipe/internal/config"
	"isspipe/internal/pipeline"
	"isspipe/internal/util"
)

func main() {
	dateFlag := flag.String("date", "", "UTC date to aggregate, YYYY-MM-DD (default yesterday)")
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

	agg, err := app.Aggregator()
	if err != nil {
		log.Fatalf("failed to build aggregator: %v", err)
	}
	rec, runErr := agg.Run(ctx, date)

	if err := app.PushMetrics(context.Background(), "iss-daily-speed"); err != nil {
		slog.Warn("metrics push failed", "error", err)
	}
	if err := app.Close(context.Background()); err != nil {
		slog.Warn("shutdown error", "error", err)
	}

	if runErr != nil {
		log.Fatalf("aggregation failed: %v", runErr)
	}
	if rec.AvgSpeedKm == nil {
		slog.Info("aggregation complete with null average", "date", util.DateStamp(date), "samples", rec.Samples)
	} else {
		slog.Info("aggregation complete", "date", util.DateStamp(date), "avgKm", *rec.AvgSpeedKm, "samples", rec.Samples)
	}
}
