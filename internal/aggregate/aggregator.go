package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"isspipe/internal/domain"
	"isspipe/internal/objstore"
	"isspipe/internal/observability"
	"isspipe/internal/store"
	"isspipe/internal/util"
)

// Aggregator computes and stores the daily average-speed record.
type Aggregator struct {
	positions store.PositionStore
	speeds    store.SpeedStore
	order     Order
	metrics   *observability.PipelineCollector
	log       *slog.Logger
	now       func() time.Time
}

// NewAggregator creates an Aggregator reading positions and writing
// aggregates with the given sample order. metrics may be nil.
func NewAggregator(positions store.PositionStore, speeds store.SpeedStore, order Order, metrics *observability.PipelineCollector, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{
		positions: positions,
		speeds:    speeds,
		order:     order,
		metrics:   metrics,
		log:       log.With("component", "aggregate"),
		now:       time.Now,
	}
}

// Run aggregates the positions stored under date and overwrites the day's
// aggregate object. The partition is listed once; objects modified after the
// run started are left for the next run. Fewer than two usable samples is
// not an error: a null average is written.
func (a *Aggregator) Run(ctx context.Context, date time.Time) (domain.DailyAverageSpeed, error) {
	day := util.TruncateDay(date)
	ds := util.DateStamp(day)

	ctx, span := observability.Tracer().Start(ctx, "aggregate.Run")
	span.SetAttributes(attribute.String("datestamp", ds))
	defer span.End()

	started := a.now()
	objects, err := a.positions.ListPositionObjects(ctx, day)
	if err != nil {
		err = fmt.Errorf("%w: listing positions for %s: %w", domain.ErrSourceUnavailable, ds, err)
		span.SetStatus(codes.Error, err.Error())
		return domain.DailyAverageSpeed{}, err
	}
	snapshot := objstore.ModifiedBy(objects, started)
	if late := len(objects) - len(snapshot); late > 0 {
		a.log.Info("ignoring objects written after run start", "date", ds, "objects", late)
	}

	var (
		samples []Sample
		skipped int
	)
	for _, o := range snapshot {
		rows, err := a.positions.ReadPositionObject(ctx, o.Key)
		if err != nil {
			if errors.Is(err, store.ErrCorruptObject) {
				a.log.Warn("skipping unreadable position object", "key", o.Key, "err", err)
				skipped++
				continue
			}
			err = fmt.Errorf("%w: reading %s: %w", domain.ErrSourceUnavailable, o.Key, err)
			span.SetStatus(codes.Error, err.Error())
			return domain.DailyAverageSpeed{}, err
		}
		s, n := SamplesFromRows(rows)
		samples = append(samples, s...)
		skipped += n
	}

	sum := AverageDistance(samples, a.order)
	rec := domain.DailyAverageSpeed{
		Datestamp:  day,
		AvgSpeedKm: sum.Average,
		Samples:    sum.Samples,
		Pairs:      sum.Pairs,
		Skipped:    skipped,
	}

	if sum.Samples < 2 {
		a.log.Warn("writing null average", "date", ds, "samples", sum.Samples, "reason", domain.ErrEmptyPartition)
	}

	key, err := a.speeds.WriteAvgSpeed(ctx, rec)
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
		span.SetStatus(codes.Error, err.Error())
		return domain.DailyAverageSpeed{}, err
	}

	a.metrics.ObserveAggregate(rec)
	span.SetAttributes(
		attribute.Int("samples", rec.Samples),
		attribute.Int("pairs", rec.Pairs),
	)

	attrs := []any{"date", ds, "key", key, "objects", len(snapshot), "samples", rec.Samples, "pairs", rec.Pairs, "skipped", rec.Skipped}
	if rec.AvgSpeedKm != nil {
		attrs = append(attrs, "avgKm", *rec.AvgSpeedKm)
	}
	a.log.Info("daily average written", attrs...)

	return rec, nil
}
