package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"isspipe/internal/domain"
	"isspipe/internal/objstore"
	"isspipe/internal/store"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Executor = (*SQLiteExecutor)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS iss_last_position (
	longitude     REAL,
	latitude      REAL,
	timestamp_utc TEXT
);
CREATE TABLE IF NOT EXISTS iss_avg_speed (
	avg_speed REAL,
	datestamp TEXT
);
CREATE INDEX IF NOT EXISTS iss_avg_speed_datestamp ON iss_avg_speed (datestamp);
`

// sqliteTimestamp is the text form of TIMESTAMP columns.
const sqliteTimestamp = "2006-01-02 15:04:05.000"

// SQLiteExecutor is a local warehouse. It accepts the same COPY statements as
// the production warehouse, resolving s3:// paths against an object store,
// and runs each load in its own goroutine.
type SQLiteExecutor struct {
	db      *sql.DB
	objects objstore.Store
	log     *slog.Logger

	mu         sync.Mutex
	statements map[string]*Statement
	wg         sync.WaitGroup
}

// NewSQLiteExecutor opens (or creates) the SQLite database at dbPath and
// creates the warehouse tables.
func NewSQLiteExecutor(dbPath string, objects objstore.Store, log *slog.Logger) (*SQLiteExecutor, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbPath, err)
	}
	// Loads write concurrently; a single connection serialises them.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating warehouse tables: %w", err)
	}
	return &SQLiteExecutor{
		db:         db,
		objects:    objects,
		log:        log.With("component", "warehouse", "backend", "sqlite"),
		statements: make(map[string]*Statement),
	}, nil
}

// Close waits for running loads and closes the database.
func (e *SQLiteExecutor) Close() error {
	e.wg.Wait()
	return e.db.Close()
}

// Submit validates sql and starts the load. Malformed statements and unknown
// tables are rejected here and never receive an id.
func (e *SQLiteExecutor) Submit(_ context.Context, sqlText string) (string, error) {
	c, err := ParseCopy(sqlText)
	if err != nil {
		return "", err
	}
	switch c.Table {
	case domain.TargetLastPosition.Table(), domain.TargetAvgSpeed.Table():
	default:
		return "", fmt.Errorf("%w: unknown table %s", ErrUnsupportedStatement, c.Table)
	}
	if c.Role == "" {
		return "", fmt.Errorf("%w: missing IAM_ROLE", ErrUnsupportedStatement)
	}

	id := uuid.NewString()
	e.mu.Lock()
	e.statements[id] = &Statement{ID: id, Status: domain.JobSubmitted}
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(id, c)
	}()

	return id, nil
}

// Describe returns a snapshot of the statement's status.
func (e *SQLiteExecutor) Describe(_ context.Context, id string) (Statement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.statements[id]
	if !ok {
		return Statement{}, fmt.Errorf("%w: %s", ErrUnknownStatement, id)
	}
	return *st, nil
}

func (e *SQLiteExecutor) setStatus(id string, status domain.JobStatus, detail string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.statements[id]; ok {
		st.Status = status
		st.Detail = detail
	}
}

// run executes a load detached from the submitter's context.
func (e *SQLiteExecutor) run(id string, c Copy) {
	e.setStatus(id, domain.JobPicked, "")
	ctx := context.Background()

	e.setStatus(id, domain.JobStarted, "")
	start := time.Now()
	n, err := e.load(ctx, c)
	if err != nil {
		e.log.Warn("load failed", "id", id, "table", c.Table, "path", c.Path, "err", err)
		e.setStatus(id, domain.JobFailed, err.Error())
		return
	}
	e.log.Info("load finished", "id", id, "table", c.Table, "path", c.Path, "rows", n, "elapsed", time.Since(start))
	e.setStatus(id, domain.JobFinished, "")
}

// load reads every Parquet object under the COPY path into the table inside
// one transaction.
func (e *SQLiteExecutor) load(ctx context.Context, c Copy) (int, error) {
	bucket, key, err := objstore.ParseURI(c.Path)
	if err != nil {
		return 0, err
	}
	objects, err := e.objects.List(ctx, bucket, key)
	if err != nil {
		return 0, fmt.Errorf("listing %s: %w", c.Path, err)
	}
	if len(objects) == 0 {
		return 0, fmt.Errorf("no objects found at %s", c.Path)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck

	var n int
	for _, o := range objects {
		data, err := e.objects.Get(ctx, bucket, o.Key)
		if err != nil {
			return 0, fmt.Errorf("reading %s: %w", o.Key, err)
		}
		var m int
		switch c.Table {
		case domain.TargetLastPosition.Table():
			m, err = insertPositions(ctx, tx, data)
		case domain.TargetAvgSpeed.Table():
			m, err = replaceAvgSpeed(ctx, tx, data)
		}
		if err != nil {
			return 0, fmt.Errorf("loading %s: %w", objstore.URI(bucket, o.Key), err)
		}
		n += m
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func insertPositions(ctx context.Context, tx *sql.Tx, data []byte) (int, error) {
	rows, err := store.DecodePositions(data)
	if err != nil {
		return 0, err
	}
	for _, r := range rows {
		var ts any
		if t := r.Time(); !t.IsZero() {
			ts = t.Format(sqliteTimestamp)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO iss_last_position (longitude, latitude, timestamp_utc) VALUES (?, ?, ?)`,
			nullable(r.Longitude), nullable(r.Latitude), ts,
		); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// replaceAvgSpeed deletes existing rows for each incoming datestamp before
// inserting, so reloading a day leaves one row.
func replaceAvgSpeed(ctx context.Context, tx *sql.Tx, data []byte) (int, error) {
	rows, err := store.DecodeAvgSpeed(data)
	if err != nil {
		return 0, err
	}
	for _, r := range rows {
		ds := r.Date().Format(time.DateOnly)
		if _, err := tx.ExecContext(ctx, `DELETE FROM iss_avg_speed WHERE datestamp = ?`, ds); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO iss_avg_speed (avg_speed, datestamp) VALUES (?, ?)`,
			nullable(r.AvgSpeed), ds,
		); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// LastPosition is a row of iss_last_position.
type LastPosition struct {
	Longitude *float64
	Latitude  *float64
	Timestamp time.Time
}

// LastPositions returns every loaded last-position row, oldest first.
func (e *SQLiteExecutor) LastPositions(ctx context.Context) ([]LastPosition, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT longitude, latitude, timestamp_utc FROM iss_last_position ORDER BY timestamp_utc, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LastPosition
	for rows.Next() {
		var (
			lon, lat sql.NullFloat64
			ts       sql.NullString
		)
		if err := rows.Scan(&lon, &lat, &ts); err != nil {
			return nil, err
		}
		p := LastPosition{Longitude: floatPtr(lon), Latitude: floatPtr(lat)}
		if ts.Valid {
			t, err := time.Parse(sqliteTimestamp, ts.String)
			if err != nil {
				return nil, fmt.Errorf("parsing timestamp_utc %q: %w", ts.String, err)
			}
			p.Timestamp = t.UTC()
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AvgSpeed returns the loaded average for a date. ok is false when the date
// has no row; avg is nil when the row holds a null average.
func (e *SQLiteExecutor) AvgSpeed(ctx context.Context, date time.Time) (avg *float64, ok bool, err error) {
	var v sql.NullFloat64
	err = e.db.QueryRowContext(ctx,
		`SELECT avg_speed FROM iss_avg_speed WHERE datestamp = ?`, date.UTC().Format(time.DateOnly),
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return floatPtr(v), true, nil
}

// CountRows returns the number of rows in a warehouse table.
func (e *SQLiteExecutor) CountRows(ctx context.Context, table string) (int, error) {
	switch table {
	case domain.TargetLastPosition.Table(), domain.TargetAvgSpeed.Table():
	default:
		return 0, fmt.Errorf("unknown table %s", table)
	}
	var n int
	err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+strings.ToLower(table)).Scan(&n)
	return n, err
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
