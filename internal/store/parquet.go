package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/parquet-go/parquet-go"

	"isspipe/internal/domain"
	"isspipe/internal/objstore"
	"isspipe/internal/util"
)

// ErrCorruptObject is returned when a stored object is not a readable
// Parquet file of the expected schema.
var ErrCorruptObject = errors.New("corrupt parquet object")

// Compile-time interface checks.
var _ PositionStore = (*ParquetStore)(nil)
var _ SpeedStore = (*ParquetStore)(nil)

// ParquetStore implements PositionStore and SpeedStore as gzip-compressed
// Parquet objects in an object store.
type ParquetStore struct {
	objects objstore.Store
	layout  Layout
}

// NewParquetStore creates a ParquetStore writing to objects with the given
// key layout.
func NewParquetStore(objects objstore.Store, layout Layout) *ParquetStore {
	return &ParquetStore{objects: objects, layout: layout}
}

// Layout returns the key layout in use.
func (s *ParquetStore) Layout() Layout { return s.layout }

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// PositionRow is the Parquet schema for a sampled position. Coordinates are
// nullable so files written by other producers, which mark every column
// optional, decode without loss. A zero timestamp is stored as null.
type PositionRow struct {
	Longitude    *float64 `parquet:"longitude,gzip"`
	Latitude     *float64 `parquet:"latitude,gzip"`
	TimestampUTC int64    `parquet:"timestamp_utc,optional,timestamp(millisecond),gzip"` // Unix ms
}

// AvgSpeedRow is the Parquet schema for the daily aggregate.
type AvgSpeedRow struct {
	AvgSpeed  *float64 `parquet:"avg_speed,gzip"`
	Datestamp int32    `parquet:"datestamp,date,gzip"` // days since epoch
}

// NewPositionRow converts a domain record to its on-disk row.
func NewPositionRow(rec domain.PositionRecord) PositionRow {
	lon, lat := rec.Longitude, rec.Latitude
	return PositionRow{
		Longitude:    &lon,
		Latitude:     &lat,
		TimestampUTC: rec.Timestamp.UnixMilli(),
	}
}

// Time returns the row timestamp in UTC, or the zero time when null.
func (r PositionRow) Time() time.Time {
	if r.TimestampUTC == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.TimestampUTC).UTC()
}

// NewAvgSpeedRow converts a daily aggregate to its on-disk row.
func NewAvgSpeedRow(rec domain.DailyAverageSpeed) AvgSpeedRow {
	row := AvgSpeedRow{Datestamp: DaysSinceEpoch(rec.Datestamp)}
	if rec.AvgSpeedKm != nil {
		v := *rec.AvgSpeedKm
		row.AvgSpeed = &v
	}
	return row
}

// Date returns the row's datestamp as UTC midnight.
func (r AvgSpeedRow) Date() time.Time {
	return time.Unix(0, 0).UTC().AddDate(0, 0, int(r.Datestamp))
}

// DaysSinceEpoch converts a date to the Parquet DATE representation.
func DaysSinceEpoch(t time.Time) int32 {
	return int32(util.TruncateDay(t).Unix() / 86400)
}

// ---------------------------------------------------------------------------
// PositionStore implementation
// ---------------------------------------------------------------------------

// WritePosition writes a single-row object at the record's partition key.
func (s *ParquetStore) WritePosition(ctx context.Context, rec domain.PositionRecord) (string, error) {
	data, err := EncodePositions([]PositionRow{NewPositionRow(rec)})
	if err != nil {
		return "", err
	}
	key := s.layout.PositionKey(rec.Timestamp)
	if err := s.objects.Put(ctx, s.layout.PositionsBucket, key, data); err != nil {
		return "", fmt.Errorf("writing position %s: %w", key, err)
	}
	return key, nil
}

// ListPositionObjects lists the position partition for the date.
func (s *ParquetStore) ListPositionObjects(ctx context.Context, date time.Time) ([]objstore.ObjectInfo, error) {
	return s.objects.List(ctx, s.layout.PositionsBucket, s.layout.PositionPartition(date))
}

// ReadPositionObject reads and decodes one position object.
func (s *ParquetStore) ReadPositionObject(ctx context.Context, key string) ([]PositionRow, error) {
	data, err := s.objects.Get(ctx, s.layout.PositionsBucket, key)
	if err != nil {
		return nil, err
	}
	rows, err := DecodePositions(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w: %v", key, ErrCorruptObject, err)
	}
	return rows, nil
}

// ---------------------------------------------------------------------------
// SpeedStore implementation
// ---------------------------------------------------------------------------

// WriteAvgSpeed writes the aggregate to a fixed key per date, so a rerun
// replaces the previous object instead of adding a second one.
func (s *ParquetStore) WriteAvgSpeed(ctx context.Context, rec domain.DailyAverageSpeed) (string, error) {
	data, err := EncodeAvgSpeed([]AvgSpeedRow{NewAvgSpeedRow(rec)})
	if err != nil {
		return "", err
	}
	key := s.layout.SpeedKey(rec.Datestamp)
	if err := s.objects.Put(ctx, s.layout.SpeedBucket, key, data); err != nil {
		return "", fmt.Errorf("writing avg speed %s: %w", key, err)
	}
	return key, nil
}

// ReadAvgSpeed reads every aggregate object under the date's partition.
func (s *ParquetStore) ReadAvgSpeed(ctx context.Context, date time.Time) ([]AvgSpeedRow, error) {
	objects, err := s.objects.List(ctx, s.layout.SpeedBucket, s.layout.SpeedPartition(date))
	if err != nil {
		return nil, err
	}
	var rows []AvgSpeedRow
	for _, o := range objects {
		data, err := s.objects.Get(ctx, s.layout.SpeedBucket, o.Key)
		if err != nil {
			return nil, err
		}
		r, err := DecodeAvgSpeed(data)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w: %v", o.Key, ErrCorruptObject, err)
		}
		rows = append(rows, r...)
	}
	return rows, nil
}

// ---------------------------------------------------------------------------
// Key layout
// ---------------------------------------------------------------------------

// Layout maps dates to buckets and keys.
//
//	<PositionsBucket>/<PositionsPrefix>/<YYYY-MM-DD>/iss_location_<YYYY-MM-DD>_<HH:MM>.gz.parquet
//	<SpeedBucket>/<SpeedPrefix>/<YYYY-MM-DD>/part-00000.gz.parquet
type Layout struct {
	PositionsBucket string
	PositionsPrefix string
	SpeedBucket     string
	SpeedPrefix     string
}

// PositionPartition returns the key prefix for a date's positions.
func (l Layout) PositionPartition(date time.Time) string {
	return util.PartitionPrefix(l.PositionsPrefix, date)
}

// PositionKey returns the object key for a sample taken at t.
func (l Layout) PositionKey(t time.Time) string {
	u := t.UTC()
	name := "iss_location_" + u.Format("2006-01-02_15:04") + ".gz.parquet"
	return l.PositionPartition(u) + name
}

// SpeedPartition returns the key prefix for a date's aggregate.
func (l Layout) SpeedPartition(date time.Time) string {
	return util.PartitionPrefix(l.SpeedPrefix, date)
}

// SpeedKey returns the fixed object key for a date's aggregate.
func (l Layout) SpeedKey(date time.Time) string {
	return l.SpeedPartition(date) + "part-00000.gz.parquet"
}

// SpeedPath returns the bulk-load location covering a date's aggregate.
func (l Layout) SpeedPath(date time.Time) string {
	return objstore.URI(l.SpeedBucket, path.Join(l.SpeedPrefix, util.DateStamp(date)))
}

// PositionURI returns the bulk-load location of one position object.
func (l Layout) PositionURI(key string) string {
	return objstore.URI(l.PositionsBucket, key)
}

// ---------------------------------------------------------------------------
// Parquet codec helpers
// ---------------------------------------------------------------------------

// EncodePositions serialises position rows to a Parquet file image.
func EncodePositions(rows []PositionRow) ([]byte, error) {
	return encodeParquet(rows)
}

// DecodePositions parses a Parquet file image into position rows.
func DecodePositions(data []byte) ([]PositionRow, error) {
	return decodeParquet[PositionRow](data)
}

// EncodeAvgSpeed serialises aggregate rows to a Parquet file image.
func EncodeAvgSpeed(rows []AvgSpeedRow) ([]byte, error) {
	return encodeParquet(rows)
}

// DecodeAvgSpeed parses a Parquet file image into aggregate rows.
func DecodeAvgSpeed(data []byte) ([]AvgSpeedRow, error) {
	return decodeParquet[AvgSpeedRow](data)
}

func encodeParquet[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	if err := parquet.Write(&buf, rows); err != nil {
		return nil, fmt.Errorf("encoding parquet: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeParquet[T any](data []byte) ([]T, error) {
	rows, err := parquet.Read[T](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	return rows, nil
}
