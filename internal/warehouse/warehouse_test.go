package warehouse

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata/types"
	"github.com/google/uuid"

	"isspipe/internal/domain"
	"isspipe/internal/objstore"
	"isspipe/internal/store"
)

const role = "arn:aws:iam::123456789012:role/RedshiftNamespaceRole"

func TestCopyStatement(t *testing.T) {
	got := CopyStatement("iss_avg_speed", "s3://iss-daily-avg-speed/data/2024-06-17", role)
	want := "COPY iss_avg_speed FROM 's3://iss-daily-avg-speed/data/2024-06-17' IAM_ROLE '" + role + "' FORMAT AS PARQUET;"
	if got != want {
		t.Errorf("CopyStatement =\n%s\nwant\n%s", got, want)
	}

	c, err := ParseCopy(got)
	if err != nil {
		t.Fatalf("ParseCopy: %v", err)
	}
	if c.Table != "iss_avg_speed" || c.Path != "s3://iss-daily-avg-speed/data/2024-06-17" || c.Role != role {
		t.Errorf("ParseCopy = %+v", c)
	}
	if c.String() != got {
		t.Errorf("String() = %s", c.String())
	}
}

func TestParseCopyQuotes(t *testing.T) {
	sql := CopyStatement("t", "s3://b/it's", role)
	c, err := ParseCopy(sql)
	if err != nil {
		t.Fatal(err)
	}
	if c.Path != "s3://b/it's" {
		t.Errorf("Path = %q", c.Path)
	}
}

func TestParseCopyRejects(t *testing.T) {
	for _, sql := range []string{
		"",
		"SELECT 1;",
		"COPY iss_avg_speed FROM 's3://b/k' FORMAT AS PARQUET;",
		"COPY iss_avg_speed FROM '' IAM_ROLE 'r' FORMAT AS PARQUET;",
		"COPY iss_avg_speed FROM 's3://b/k' IAM_ROLE 'r' FORMAT AS CSV;",
		"COPY iss_avg_speed FROM 's3://b/k' IAM_ROLE 'r' FORMAT AS PARQUET; DROP TABLE x;",
	} {
		if _, err := ParseCopy(sql); !errors.Is(err, ErrUnsupportedStatement) {
			t.Errorf("ParseCopy(%q) error = %v, want ErrUnsupportedStatement", sql, err)
		}
	}
}

// ---------------------------------------------------------------------------
// SQLiteExecutor
// ---------------------------------------------------------------------------

func newSQLite(t *testing.T) (*SQLiteExecutor, *store.ParquetStore) {
	t.Helper()
	dir := t.TempDir()
	objects := objstore.NewFSStore(filepath.Join(dir, "objects"))
	ps := store.NewParquetStore(objects, store.Layout{
		PositionsBucket: "iss-location",
		PositionsPrefix: "iss_location",
		SpeedBucket:     "iss-daily-avg-speed",
		SpeedPrefix:     "data",
	})
	e, err := NewSQLiteExecutor(filepath.Join(dir, "warehouse.db"), objects, nil)
	if err != nil {
		t.Fatalf("NewSQLiteExecutor: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, ps
}

func waitTerminal(t *testing.T, e Executor, id string) Statement {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := e.Describe(context.Background(), id)
		if err != nil {
			t.Fatalf("Describe: %v", err)
		}
		if st.Status.Terminal() {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("statement %s did not finish", id)
	return Statement{}
}

func TestSQLiteLoadLastPosition(t *testing.T) {
	e, ps := newSQLite(t)
	ctx := context.Background()

	ts := time.Date(2024, 6, 17, 23, 59, 0, 0, time.UTC)
	key, err := ps.WritePosition(ctx, domain.PositionRecord{Longitude: -73.5, Latitude: 40.25, Timestamp: ts})
	if err != nil {
		t.Fatal(err)
	}

	id, err := e.Submit(ctx, CopyStatement("iss_last_position", ps.Layout().PositionURI(key), role))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("statement id %q is not a uuid", id)
	}

	st := waitTerminal(t, e, id)
	if st.Status != domain.JobFinished {
		t.Fatalf("status = %s (%s), want FINISHED", st.Status, st.Detail)
	}

	rows, err := e.LastPositions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	r := rows[0]
	if *r.Longitude != -73.5 || *r.Latitude != 40.25 || !r.Timestamp.Equal(ts) {
		t.Errorf("row = %+v", r)
	}
}

func TestSQLiteLoadAvgSpeedReplaces(t *testing.T) {
	e, ps := newSQLite(t)
	ctx := context.Background()
	day := time.Date(2024, 6, 17, 0, 0, 0, 0, time.UTC)
	path := ps.Layout().SpeedPath(day)

	for _, v := range []float64{500, 512.5} {
		avg := v
		if _, err := ps.WriteAvgSpeed(ctx, domain.DailyAverageSpeed{Datestamp: day, AvgSpeedKm: &avg}); err != nil {
			t.Fatal(err)
		}
		id, err := e.Submit(ctx, CopyStatement("iss_avg_speed", path, role))
		if err != nil {
			t.Fatal(err)
		}
		if st := waitTerminal(t, e, id); st.Status != domain.JobFinished {
			t.Fatalf("status = %s (%s)", st.Status, st.Detail)
		}
	}

	n, err := e.CountRows(ctx, "iss_avg_speed")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("iss_avg_speed has %d rows after reload, want 1", n)
	}
	avg, ok, err := e.AvgSpeed(ctx, day)
	if err != nil || !ok || avg == nil || *avg != 512.5 {
		t.Errorf("AvgSpeed = %v, %v, %v; want 512.5", avg, ok, err)
	}
}

func TestSQLiteLoadNullAverage(t *testing.T) {
	e, ps := newSQLite(t)
	ctx := context.Background()
	day := time.Date(2024, 6, 17, 0, 0, 0, 0, time.UTC)

	if _, err := ps.WriteAvgSpeed(ctx, domain.DailyAverageSpeed{Datestamp: day}); err != nil {
		t.Fatal(err)
	}
	id, err := e.Submit(ctx, CopyStatement("iss_avg_speed", ps.Layout().SpeedPath(day), role))
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, e, id)

	avg, ok, err := e.AvgSpeed(ctx, day)
	if err != nil || !ok {
		t.Fatalf("AvgSpeed ok=%v err=%v", ok, err)
	}
	if avg != nil {
		t.Errorf("avg = %v, want null", *avg)
	}
}

func TestSQLiteMissingPathFails(t *testing.T) {
	e, _ := newSQLite(t)
	id, err := e.Submit(context.Background(), CopyStatement("iss_avg_speed", "s3://iss-daily-avg-speed/data/1999-01-01", role))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	st := waitTerminal(t, e, id)
	if st.Status != domain.JobFailed {
		t.Fatalf("status = %s, want FAILED", st.Status)
	}
	if !strings.Contains(st.Detail, "no objects") {
		t.Errorf("Detail = %q", st.Detail)
	}
}

func TestSQLiteRejectsAtSubmit(t *testing.T) {
	e, _ := newSQLite(t)
	ctx := context.Background()
	for _, sql := range []string{
		"DROP TABLE iss_avg_speed;",
		CopyStatement("orders", "s3://b/k", role),
		CopyStatement("iss_avg_speed", "s3://b/k", ""),
	} {
		if _, err := e.Submit(ctx, sql); !errors.Is(err, ErrUnsupportedStatement) {
			t.Errorf("Submit(%q) error = %v, want ErrUnsupportedStatement", sql, err)
		}
	}

	if _, err := e.Describe(ctx, "no-such-id"); !errors.Is(err, ErrUnknownStatement) {
		t.Errorf("Describe unknown id error = %v", err)
	}
}

// ---------------------------------------------------------------------------
// RedshiftExecutor
// ---------------------------------------------------------------------------

type fakeRedshift struct {
	exec     *redshiftdata.ExecuteStatementInput
	execErr  error
	statuses map[string]*redshiftdata.DescribeStatementOutput
}

func (f *fakeRedshift) ExecuteStatement(_ context.Context, in *redshiftdata.ExecuteStatementInput, _ ...func(*redshiftdata.Options)) (*redshiftdata.ExecuteStatementOutput, error) {
	f.exec = in
	if f.execErr != nil {
		return nil, f.execErr
	}
	return &redshiftdata.ExecuteStatementOutput{Id: aws.String("stmt-1")}, nil
}

func (f *fakeRedshift) DescribeStatement(_ context.Context, in *redshiftdata.DescribeStatementInput, _ ...func(*redshiftdata.Options)) (*redshiftdata.DescribeStatementOutput, error) {
	out, ok := f.statuses[aws.ToString(in.Id)]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return out, nil
}

func TestRedshiftSubmit(t *testing.T) {
	f := &fakeRedshift{}
	e := NewRedshiftExecutor(f, "dev", "default-workgroup")

	id, err := e.Submit(context.Background(), "COPY x FROM 's3://b/k' IAM_ROLE 'r' FORMAT AS PARQUET;")
	if err != nil {
		t.Fatal(err)
	}
	if id != "stmt-1" {
		t.Errorf("id = %q", id)
	}
	if aws.ToString(f.exec.Database) != "dev" || aws.ToString(f.exec.WorkgroupName) != "default-workgroup" {
		t.Errorf("input = %+v", f.exec)
	}
	if !aws.ToBool(f.exec.WithEvent) {
		t.Error("WithEvent should be set")
	}

	f.execErr = errors.New("ValidationException")
	if _, err := e.Submit(context.Background(), "COPY"); err == nil {
		t.Error("Submit should surface ExecuteStatement errors")
	}
}

func TestRedshiftDescribe(t *testing.T) {
	f := &fakeRedshift{statuses: map[string]*redshiftdata.DescribeStatementOutput{
		"ok":   {Status: types.StatusStringFinished},
		"bad":  {Status: types.StatusStringFailed, Error: aws.String("S3ServiceException: Access Denied")},
		"odd":  {Status: types.StatusString("WEIRD")},
		"busy": {Status: types.StatusStringStarted},
	}}
	e := NewRedshiftExecutor(f, "dev", "wg")
	ctx := context.Background()

	if st, err := e.Describe(ctx, "ok"); err != nil || st.Status != domain.JobFinished {
		t.Errorf("ok = %+v, %v", st, err)
	}
	if st, err := e.Describe(ctx, "busy"); err != nil || st.Status != domain.JobStarted {
		t.Errorf("busy = %+v, %v", st, err)
	}
	st, err := e.Describe(ctx, "bad")
	if err != nil || st.Status != domain.JobFailed || !strings.Contains(st.Detail, "Access Denied") {
		t.Errorf("bad = %+v, %v", st, err)
	}
	if _, err := e.Describe(ctx, "odd"); err == nil {
		t.Error("unknown status should be an error")
	}
	if _, err := e.Describe(ctx, "missing"); err == nil {
		t.Error("describe error should surface")
	}
}
