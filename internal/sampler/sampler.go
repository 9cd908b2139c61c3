// Package sampler takes one ISS position reading and persists it to the
// position partition of its UTC date.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"isspipe/internal/domain"
	"isspipe/internal/observability"
	"isspipe/internal/store"
)

// Source returns the current ISS position.
type Source interface {
	Fetch(ctx context.Context) (domain.PositionRecord, error)
}

// Result describes a persisted sample.
type Result struct {
	Key    string
	Record domain.PositionRecord
}

// Sampler fetches and stores one position per Run.
type Sampler struct {
	source    Source
	positions store.PositionStore
	metrics   *observability.PipelineCollector
	log       *slog.Logger
}

// New creates a Sampler. metrics may be nil.
func New(source Source, positions store.PositionStore, metrics *observability.PipelineCollector, log *slog.Logger) *Sampler {
	if log == nil {
		log = slog.Default()
	}
	return &Sampler{
		source:    source,
		positions: positions,
		metrics:   metrics,
		log:       log.With("component", "sampler"),
	}
}

// Run takes one sample. On any failure nothing is written and the error wraps
// domain.ErrSourceUnavailable or domain.ErrMalformedResponse.
func (s *Sampler) Run(ctx context.Context) (Result, error) {
	ctx, span := observability.Tracer().Start(ctx, "sampler.Run")
	defer span.End()

	rec, err := s.source.Fetch(ctx)
	if err != nil {
		s.failed(span, err)
		return Result{}, err
	}
	span.SetAttributes(
		attribute.Float64("latitude", rec.Latitude),
		attribute.Float64("longitude", rec.Longitude),
	)

	key, err := s.positions.WritePosition(ctx, rec)
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
		s.failed(span, err)
		return Result{}, err
	}

	s.metrics.SampleWritten()
	s.log.Info("position sampled",
		"key", key,
		"lat", rec.Latitude,
		"lon", rec.Longitude,
		"timestamp", rec.Timestamp,
	)
	return Result{Key: key, Record: rec}, nil
}

func (s *Sampler) failed(span trace.Span, err error) {
	cause := "unavailable"
	if errors.Is(err, domain.ErrMalformedResponse) {
		cause = "malformed"
	}
	s.metrics.SampleFailed(cause)
	span.SetStatus(codes.Error, err.Error())
	s.log.Error("sample failed", "cause", cause, "err", err)
}
