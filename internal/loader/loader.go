// Package loader bulk-loads a day's position and aggregate objects into the
// warehouse and reports one outcome per target.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"isspipe/internal/domain"
	"isspipe/internal/objstore"
	"isspipe/internal/observability"
	"isspipe/internal/store"
	"isspipe/internal/util"
	"isspipe/internal/warehouse"
)

const (
	DefaultPollInterval    = 2 * time.Second
	DefaultMaxPollAttempts = 150
)

// Options bounds the polling of submitted loads.
type Options struct {
	PollInterval    time.Duration
	MaxPollAttempts int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxPollAttempts <= 0 {
		o.MaxPollAttempts = DefaultMaxPollAttempts
	}
	return o
}

// Loader submits the COPY jobs for a date and waits for them.
type Loader struct {
	exec      warehouse.Executor
	positions store.PositionStore
	layout    store.Layout
	roleARN   string
	opts      Options
	metrics   *observability.PipelineCollector
	log       *slog.Logger
}

// New creates a Loader. roleARN authorises the warehouse to read the
// sources; it is resolved once at startup. metrics may be nil.
func New(exec warehouse.Executor, positions store.PositionStore, layout store.Layout, roleARN string, opts Options, metrics *observability.PipelineCollector, log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{
		exec:      exec,
		positions: positions,
		layout:    layout,
		roleARN:   roleARN,
		opts:      opts.withDefaults(),
		metrics:   metrics,
		log:       log.With("component", "loader"),
	}
}

// job tracks one target through resolution, submission and polling. A job
// whose outcome is set before polling is already resolved.
type job struct {
	domain.LoadJob
	outcome *domain.LoadOutcome
}

// Run loads last_position and avg_speed for date. Every job is submitted
// before any is polled; outcomes are returned in submission order whatever
// order the jobs finish in.
func (l *Loader) Run(ctx context.Context, date time.Time) []domain.LoadOutcome {
	day := util.TruncateDay(date)
	ds := util.DateStamp(day)

	ctx, span := observability.Tracer().Start(ctx, "loader.Run")
	span.SetAttributes(attribute.String("datestamp", ds))
	defer span.End()

	jobs := make([]*job, 0, len(domain.LoadTargets))
	for _, target := range domain.LoadTargets {
		jobs = append(jobs, l.resolve(ctx, target, day))
	}

	for _, j := range jobs {
		if j.outcome == nil {
			l.submit(ctx, j)
		}
	}

	// Jobs poll independently; one job ending never cancels another.
	var g errgroup.Group
	for _, j := range jobs {
		if j.outcome != nil {
			continue
		}
		g.Go(func() error {
			l.poll(ctx, j)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	outcomes := make([]domain.LoadOutcome, len(jobs))
	failed := 0
	for i, j := range jobs {
		outcomes[i] = *j.outcome
		l.metrics.ObserveOutcome(outcomes[i])
		if outcomes[i].Status != domain.OutcomeSuccess {
			failed++
		}
		l.log.Info("load outcome",
			"date", ds,
			"target", outcomes[i].Target,
			"status", outcomes[i].Status,
			"polls", outcomes[i].Polls,
			"detail", outcomes[i].Detail,
		)
	}
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d load(s) did not succeed", failed))
	}
	return outcomes
}

// resolve picks the source path for a target and builds its statement.
func (l *Loader) resolve(ctx context.Context, target domain.LoadTarget, day time.Time) *job {
	j := &job{LoadJob: domain.LoadJob{Target: target}}

	switch target {
	case domain.TargetLastPosition:
		objects, err := l.positions.ListPositionObjects(ctx, day)
		if err != nil {
			l.fail(j, domain.OutcomeFailed, fmt.Errorf("%w: listing positions: %w", domain.ErrSourceUnavailable, err))
			return j
		}
		latest, ok := objstore.Latest(objects)
		if !ok {
			l.fail(j, domain.OutcomeFailed, fmt.Errorf("%w: no position objects for %s", domain.ErrLoadFailed, util.DateStamp(day)))
			return j
		}
		j.SourcePath = l.layout.PositionURI(latest.Key)
	case domain.TargetAvgSpeed:
		j.SourcePath = l.layout.SpeedPath(day)
	default:
		l.fail(j, domain.OutcomeFailed, fmt.Errorf("unknown load target %q", target))
		return j
	}

	j.QueryText = warehouse.CopyStatement(target.Table(), j.SourcePath, l.roleARN)
	return j
}

func (l *Loader) submit(ctx context.Context, j *job) {
	if err := ctx.Err(); err != nil {
		l.fail(j, domain.OutcomeCancelled, err)
		return
	}
	id, err := l.exec.Submit(ctx, j.QueryText)
	if err != nil {
		if ctx.Err() != nil {
			l.fail(j, domain.OutcomeCancelled, ctx.Err())
			return
		}
		l.fail(j, domain.OutcomeFailed, fmt.Errorf("%w: %w", domain.ErrLoadSubmission, err))
		return
	}
	j.ID = id
	j.Status = domain.JobSubmitted
	l.log.Info("load submitted", "target", j.Target, "id", id, "source", j.SourcePath)
}

// poll waits for a submitted job to reach a terminal status. Describe errors
// are logged and count against the attempt budget.
func (l *Loader) poll(ctx context.Context, j *job) {
	ctx, span := observability.Tracer().Start(ctx, "loader.poll")
	span.SetAttributes(
		attribute.String("target", string(j.Target)),
		attribute.String("statement_id", j.ID),
	)
	defer span.End()

	var (
		st      warehouse.Statement
		lastErr error
	)
	polls, err := util.Poll(ctx, l.opts.PollInterval, l.opts.MaxPollAttempts, func(attempt int) (bool, error) {
		s, err := l.exec.Describe(ctx, j.ID)
		if err != nil {
			lastErr = err
			l.log.Warn("describe failed", "target", j.Target, "id", j.ID, "attempt", attempt, "err", err)
			return false, nil
		}
		st = s
		j.Status = s.Status
		return s.Status.Terminal(), nil
	})

	out := l.outcomeFor(j, polls)
	switch {
	case errors.Is(err, util.ErrPollExhausted):
		cause := fmt.Errorf("%w: no terminal status after %d polls (last status %s)", domain.ErrLoadTimedOut, polls, j.Status)
		if lastErr != nil {
			cause = fmt.Errorf("%w: %w", cause, lastErr)
		}
		out.Status = domain.OutcomeTimedOut
		out.Err = cause
	case err != nil:
		out.Status = domain.OutcomeCancelled
		out.Err = err
	case st.Status == domain.JobFinished:
		out.Status = domain.OutcomeSuccess
	default:
		out.Status = domain.OutcomeFailed
		out.Err = fmt.Errorf("%w: statement %s %s: %s", domain.ErrLoadFailed, j.ID, st.Status, st.Detail)
	}
	if out.Err != nil {
		out.Detail = out.Err.Error()
		span.SetStatus(codes.Error, out.Detail)
	}
	span.SetAttributes(attribute.String("outcome", string(out.Status)), attribute.Int("polls", polls))
	j.outcome = &out
}

func (l *Loader) outcomeFor(j *job, polls int) domain.LoadOutcome {
	return domain.LoadOutcome{
		Target:      j.Target,
		SourcePath:  j.SourcePath,
		StatementID: j.ID,
		Polls:       polls,
	}
}

func (l *Loader) fail(j *job, status domain.OutcomeStatus, err error) {
	out := l.outcomeFor(j, 0)
	out.Status = status
	out.Err = err
	out.Detail = err.Error()
	j.outcome = &out
	l.log.Warn("load not submitted", "target", j.Target, "status", status, "err", err)
}

// Summary returns an error joining the cause of every outcome that did not
// succeed, or nil when all succeeded.
func Summary(outcomes []domain.LoadOutcome) error {
	var errs []error
	for _, o := range outcomes {
		if o.Status == domain.OutcomeSuccess {
			continue
		}
		cause := o.Err
		if cause == nil {
			cause = statusErr(o.Status)
		}
		errs = append(errs, fmt.Errorf("%s %s: %w", o.Target, o.Status, cause))
	}
	return errors.Join(errs...)
}

func statusErr(s domain.OutcomeStatus) error {
	switch s {
	case domain.OutcomeTimedOut:
		return domain.ErrLoadTimedOut
	case domain.OutcomeCancelled:
		return context.Canceled
	default:
		return domain.ErrLoadFailed
	}
}
