package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"isspipe/internal/domain"
	"isspipe/internal/objstore"
	"isspipe/internal/store"
	"isspipe/internal/warehouse"
)

const testRole = "arn:aws:iam::123456789012:role/RedshiftNamespaceRole"

var (
	testDay    = time.Date(2024, 6, 17, 0, 0, 0, 0, time.UTC)
	testLayout = store.Layout{
		PositionsBucket: "iss-location",
		PositionsPrefix: "iss_location",
		SpeedBucket:     "iss-daily-avg-speed",
		SpeedPrefix:     "data",
	}
	fastPoll = Options{PollInterval: time.Millisecond, MaxPollAttempts: 50}
)

// step is one scripted Describe response.
type step struct {
	status domain.JobStatus
	detail string
	err    error
}

// fakeExec replays a script of Describe responses per table. The last step
// repeats once the script is exhausted.
type fakeExec struct {
	mu        sync.Mutex
	scripts   map[string][]step
	submitErr map[string]error
	submitted []string
	tables    map[string]string
	calls     map[string]int
}

func newFakeExec(scripts map[string][]step) *fakeExec {
	return &fakeExec{
		scripts:   scripts,
		submitErr: map[string]error{},
		tables:    map[string]string{},
		calls:     map[string]int{},
	}
}

func (f *fakeExec) Submit(_ context.Context, sql string) (string, error) {
	c, err := warehouse.ParseCopy(sql)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, sql)
	if err := f.submitErr[c.Table]; err != nil {
		return "", err
	}
	id := fmt.Sprintf("stmt-%d", len(f.submitted))
	f.tables[id] = c.Table
	return id, nil
}

func (f *fakeExec) Describe(_ context.Context, id string) (warehouse.Statement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := f.tables[id]
	script := f.scripts[table]
	n := f.calls[id]
	f.calls[id]++
	if n >= len(script) {
		n = len(script) - 1
	}
	s := script[n]
	if s.err != nil {
		return warehouse.Statement{}, s.err
	}
	return warehouse.Statement{ID: id, Status: s.status, Detail: s.detail}, nil
}

// fakePositions serves a fixed listing for the position partition.
type fakePositions struct {
	objects []objstore.ObjectInfo
	err     error
}

func (f fakePositions) WritePosition(context.Context, domain.PositionRecord) (string, error) {
	return "", errors.New("read only")
}

func (f fakePositions) ListPositionObjects(context.Context, time.Time) ([]objstore.ObjectInfo, error) {
	return f.objects, f.err
}

func (f fakePositions) ReadPositionObject(context.Context, string) ([]store.PositionRow, error) {
	return nil, errors.New("not used")
}

func onePosition() fakePositions {
	return fakePositions{objects: []objstore.ObjectInfo{{
		Key:          "iss_location/2024-06-17/iss_location_2024-06-17_23:59.gz.parquet",
		LastModified: testDay.Add(24 * time.Hour),
	}}}
}

func TestRunOrderedOutcomes(t *testing.T) {
	// avg_speed fails on its first poll while last_position needs three;
	// outcomes still come back in submission order.
	exec := newFakeExec(map[string][]step{
		"iss_last_position": {{status: domain.JobSubmitted}, {status: domain.JobStarted}, {status: domain.JobFinished}},
		"iss_avg_speed":     {{status: domain.JobFailed, detail: "Spectrum Scan Error"}},
	})
	l := New(exec, onePosition(), testLayout, testRole, fastPoll, nil, nil)

	out := l.Run(context.Background(), testDay)
	if len(out) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(out))
	}

	if out[0].Target != domain.TargetLastPosition || out[0].Status != domain.OutcomeSuccess || out[0].Polls != 3 {
		t.Errorf("outcome[0] = %+v, want last_position SUCCESS after 3 polls", out[0])
	}
	if out[1].Target != domain.TargetAvgSpeed || out[1].Status != domain.OutcomeFailed || out[1].Polls != 1 {
		t.Errorf("outcome[1] = %+v, want avg_speed FAILED after 1 poll", out[1])
	}
	if !strings.Contains(out[1].Detail, "Spectrum Scan Error") {
		t.Errorf("failure detail = %q", out[1].Detail)
	}
	if !errors.Is(out[1].Err, domain.ErrLoadFailed) {
		t.Errorf("failure err = %v", out[1].Err)
	}

	// Submission order and statement text.
	if len(exec.submitted) != 2 {
		t.Fatalf("submitted %d statements", len(exec.submitted))
	}
	wantFirst := "COPY iss_last_position FROM 's3://iss-location/iss_location/2024-06-17/iss_location_2024-06-17_23:59.gz.parquet' IAM_ROLE '" + testRole + "' FORMAT AS PARQUET;"
	if exec.submitted[0] != wantFirst {
		t.Errorf("first statement =\n%s\nwant\n%s", exec.submitted[0], wantFirst)
	}
	wantSecond := "COPY iss_avg_speed FROM 's3://iss-daily-avg-speed/data/2024-06-17' IAM_ROLE '" + testRole + "' FORMAT AS PARQUET;"
	if exec.submitted[1] != wantSecond {
		t.Errorf("second statement =\n%s\nwant\n%s", exec.submitted[1], wantSecond)
	}
}

func TestRunLatestPositionObject(t *testing.T) {
	base := testDay.Add(24 * time.Hour)
	positions := fakePositions{objects: []objstore.ObjectInfo{
		{Key: "iss_location/2024-06-17/iss_location_2024-06-17_23:58.gz.parquet", LastModified: base.Add(2 * time.Minute)},
		// Written late by a retried invocation: newest modification wins even
		// though its key sorts first.
		{Key: "iss_location/2024-06-17/iss_location_2024-06-17_00:00.gz.parquet", LastModified: base.Add(5 * time.Minute)},
		{Key: "iss_location/2024-06-17/iss_location_2024-06-17_23:59.gz.parquet", LastModified: base.Add(3 * time.Minute)},
	}}
	exec := newFakeExec(map[string][]step{
		"iss_last_position": {{status: domain.JobFinished}},
		"iss_avg_speed":     {{status: domain.JobFinished}},
	})
	out := New(exec, positions, testLayout, testRole, fastPoll, nil, nil).Run(context.Background(), testDay)

	want := "s3://iss-location/iss_location/2024-06-17/iss_location_2024-06-17_00:00.gz.parquet"
	if out[0].SourcePath != want {
		t.Errorf("last_position source = %s, want %s", out[0].SourcePath, want)
	}
	if !strings.Contains(exec.submitted[0], want) {
		t.Errorf("statement does not reference latest object: %s", exec.submitted[0])
	}
}

func TestRunTimedOut(t *testing.T) {
	exec := newFakeExec(map[string][]step{
		"iss_last_position": {{status: domain.JobFinished}},
		"iss_avg_speed":     {{status: domain.JobStarted}},
	})
	opts := Options{PollInterval: time.Millisecond, MaxPollAttempts: 4}
	out := New(exec, onePosition(), testLayout, testRole, opts, nil, nil).Run(context.Background(), testDay)

	if out[0].Status != domain.OutcomeSuccess {
		t.Errorf("last_position = %s, want SUCCESS", out[0].Status)
	}
	if out[1].Status != domain.OutcomeTimedOut {
		t.Fatalf("avg_speed = %s, want TIMED_OUT", out[1].Status)
	}
	if out[1].Polls != 4 {
		t.Errorf("polls = %d, want 4", out[1].Polls)
	}
	if !errors.Is(out[1].Err, domain.ErrLoadTimedOut) {
		t.Errorf("err = %v, want ErrLoadTimedOut", out[1].Err)
	}
	if out[1].StatementID == "" {
		t.Error("timed out outcome should keep its statement id")
	}
}

func TestRunDescribeErrorsCountAsAttempts(t *testing.T) {
	throttled := errors.New("ThrottlingException")
	exec := newFakeExec(map[string][]step{
		"iss_last_position": {{err: throttled}, {err: throttled}, {status: domain.JobFinished}},
		"iss_avg_speed":     {{err: throttled}},
	})
	opts := Options{PollInterval: time.Millisecond, MaxPollAttempts: 3}
	out := New(exec, onePosition(), testLayout, testRole, opts, nil, nil).Run(context.Background(), testDay)

	if out[0].Status != domain.OutcomeSuccess || out[0].Polls != 3 {
		t.Errorf("last_position = %+v, want SUCCESS after 3 polls", out[0])
	}
	if out[1].Status != domain.OutcomeTimedOut {
		t.Errorf("avg_speed = %s, want TIMED_OUT", out[1].Status)
	}
	if !errors.Is(out[1].Err, throttled) {
		t.Errorf("timed out err should carry the last describe error: %v", out[1].Err)
	}
}

func TestRunCancelled(t *testing.T) {
	exec := newFakeExec(map[string][]step{
		"iss_last_position": {{status: domain.JobFinished}},
		"iss_avg_speed":     {{status: domain.JobStarted}},
	})
	opts := Options{PollInterval: 5 * time.Millisecond, MaxPollAttempts: 10000}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	out := New(exec, onePosition(), testLayout, testRole, opts, nil, nil).Run(ctx, testDay)

	if out[0].Status != domain.OutcomeSuccess {
		t.Errorf("last_position = %s, want SUCCESS", out[0].Status)
	}
	if out[1].Status != domain.OutcomeCancelled {
		t.Errorf("avg_speed = %s, want CANCELLED", out[1].Status)
	}
}

func TestRunCancelledBeforeSubmit(t *testing.T) {
	exec := newFakeExec(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := New(exec, onePosition(), testLayout, testRole, fastPoll, nil, nil).Run(ctx, testDay)
	for _, o := range out {
		if o.Status != domain.OutcomeCancelled {
			t.Errorf("%s = %s, want CANCELLED", o.Target, o.Status)
		}
	}
	if len(exec.submitted) != 0 {
		t.Errorf("submitted %d statements after cancellation", len(exec.submitted))
	}
}

func TestRunSubmissionError(t *testing.T) {
	exec := newFakeExec(map[string][]step{
		"iss_last_position": {{status: domain.JobFinished}},
	})
	exec.submitErr["iss_avg_speed"] = errors.New("ValidationException: workgroup not found")

	out := New(exec, onePosition(), testLayout, testRole, fastPoll, nil, nil).Run(context.Background(), testDay)
	if out[0].Status != domain.OutcomeSuccess {
		t.Errorf("last_position = %s, want SUCCESS", out[0].Status)
	}
	if out[1].Status != domain.OutcomeFailed || out[1].Polls != 0 {
		t.Errorf("avg_speed = %+v, want FAILED without polling", out[1])
	}
	if !errors.Is(out[1].Err, domain.ErrLoadSubmission) {
		t.Errorf("err = %v, want ErrLoadSubmission", out[1].Err)
	}
}

func TestRunNoPositions(t *testing.T) {
	exec := newFakeExec(map[string][]step{
		"iss_avg_speed": {{status: domain.JobFinished}},
	})
	out := New(exec, fakePositions{}, testLayout, testRole, fastPoll, nil, nil).Run(context.Background(), testDay)

	if out[0].Status != domain.OutcomeFailed || out[0].StatementID != "" {
		t.Errorf("last_position = %+v, want FAILED without submission", out[0])
	}
	if !strings.Contains(out[0].Detail, "no position objects") {
		t.Errorf("detail = %q", out[0].Detail)
	}
	if out[1].Status != domain.OutcomeSuccess {
		t.Errorf("avg_speed = %s, want SUCCESS", out[1].Status)
	}
	if len(exec.submitted) != 1 {
		t.Errorf("submitted %d statements, want 1", len(exec.submitted))
	}
}

func TestRunListingError(t *testing.T) {
	exec := newFakeExec(map[string][]step{
		"iss_avg_speed": {{status: domain.JobFinished}},
	})
	positions := fakePositions{err: errors.New("AccessDenied")}
	out := New(exec, positions, testLayout, testRole, fastPoll, nil, nil).Run(context.Background(), testDay)

	if !errors.Is(out[0].Err, domain.ErrSourceUnavailable) {
		t.Errorf("last_position err = %v, want ErrSourceUnavailable", out[0].Err)
	}
}

func TestSummary(t *testing.T) {
	if err := Summary([]domain.LoadOutcome{
		{Target: domain.TargetLastPosition, Status: domain.OutcomeSuccess},
		{Target: domain.TargetAvgSpeed, Status: domain.OutcomeSuccess},
	}); err != nil {
		t.Errorf("Summary of successes = %v", err)
	}

	err := Summary([]domain.LoadOutcome{
		{Target: domain.TargetLastPosition, Status: domain.OutcomeTimedOut},
		{Target: domain.TargetAvgSpeed, Status: domain.OutcomeFailed, Err: fmt.Errorf("%w: boom", domain.ErrLoadSubmission)},
	})
	if !errors.Is(err, domain.ErrLoadTimedOut) || !errors.Is(err, domain.ErrLoadSubmission) {
		t.Errorf("Summary = %v", err)
	}
	if !strings.Contains(err.Error(), "avg_speed FAILED") {
		t.Errorf("Summary text = %q", err.Error())
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.PollInterval != DefaultPollInterval || o.MaxPollAttempts != DefaultMaxPollAttempts {
		t.Errorf("defaults = %+v", o)
	}
}
