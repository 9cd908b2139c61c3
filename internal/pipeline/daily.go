package pipeline

import (
	"context"
	"fmt"
	"time"

	"isspipe/internal/domain"
	"isspipe/internal/loader"
	"isspipe/internal/util"
)

// DailyResult is the outcome of one daily run.
type DailyResult struct {
	Date     string                   `json:"date"`
	Average  domain.DailyAverageSpeed `json:"aggregate"`
	Outcomes []domain.LoadOutcome     `json:"loads,omitempty"`
}

// RunDaily aggregates date and then loads it into the warehouse. An
// aggregation failure stops the run before anything is submitted. The
// returned error joins every load that did not succeed.
func (a *App) RunDaily(ctx context.Context, date time.Time) (DailyResult, error) {
	res := DailyResult{Date: util.DateStamp(date)}

	agg, err := a.Aggregator()
	if err != nil {
		return res, err
	}
	res.Average, err = agg.Run(ctx, date)
	if err != nil {
		return res, fmt.Errorf("aggregate %s: %w", res.Date, err)
	}

	l, err := a.Loader(ctx)
	if err != nil {
		return res, err
	}
	res.Outcomes = l.Run(ctx, date)
	return res, loader.Summary(res.Outcomes)
}
