// One-shot tool: bulk-load one day's last position and average speed into
// the warehouse. Prints the outcomes as JSON and exits non-zero when any load
// did not succeed.
//
// Usage:
//
//	go run cmd/iss-load/main.go [-date 2024-06-17]
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
	"isspipe/internal/loader"
	"isspipe/internal/pipeline"
	"isspipe/internal/util"
)

func main() {
	dateFlag := flag.String("date", "", "UTC date to load, YYYY-MM-DD (default yesterday)")
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

	l, err := app.Loader(ctx)
	if err != nil {
		app.Close(context.Background())
		log.Fatalf("failed to build loader: %v", err)
	}
	outcomes := l.Run(ctx, date)

	if err := app.PushMetrics(context.Background(), "iss-load"); err != nil {
		slog.Warn("metrics push failed", "error", err)
	}
	if err := app.Close(context.Background()); err != nil {
		slog.Warn("shutdown error", "error", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcomes); err != nil {
		log.Fatalf("encoding outcomes: %v", err)
	}

	if err := loader.Summary(outcomes); err != nil {
		log.Fatalf("load incomplete: %v", err)
	}
}
