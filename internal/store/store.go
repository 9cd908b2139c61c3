// Package store defines the partitioned Parquet datasets the pipeline reads
// and writes: raw ISS positions and the daily average-speed aggregate.
package store

import (
	"context"
	"time"

	"isspipe/internal/domain"
	"isspipe/internal/objstore"
)

// PositionStore persists and retrieves sampled positions partitioned by UTC
// calendar date.
type PositionStore interface {
	// WritePosition stores one record as its own object and returns its key.
	WritePosition(ctx context.Context, rec domain.PositionRecord) (string, error)

	// ListPositionObjects returns every position object under the date.
	ListPositionObjects(ctx context.Context, date time.Time) ([]objstore.ObjectInfo, error)

	// ReadPositionObject decodes the rows of one position object. Rows are
	// returned as stored, including null coordinates.
	ReadPositionObject(ctx context.Context, key string) ([]PositionRow, error)
}

// SpeedStore persists and retrieves the daily aggregate.
type SpeedStore interface {
	// WriteAvgSpeed overwrites the aggregate object for the record's date.
	WriteAvgSpeed(ctx context.Context, rec domain.DailyAverageSpeed) (string, error)

	// ReadAvgSpeed returns the aggregate rows stored for the date.
	ReadAvgSpeed(ctx context.Context, date time.Time) ([]AvgSpeedRow, error)
}
