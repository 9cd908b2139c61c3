// Package pipeline bootstraps the pipeline backends from configuration and
// runs the daily aggregate-then-load sequence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/prometheus/client_golang/prometheus"

	"isspipe/internal/aggregate"
	"isspipe/internal/config"
	"isspipe/internal/identity"
	"isspipe/internal/loader"
	"isspipe/internal/objstore"
	"isspipe/internal/observability"
	"isspipe/internal/sampler"
	"isspipe/internal/store"
	"isspipe/internal/telemetry"
	"isspipe/internal/warehouse"
)

// localAccount is the placeholder account used to build a role ARN for the
// local warehouse, which never checks it.
const localAccount = "000000000000"

// App holds the backends shared by every pipeline stage.
type App struct {
	cfg     config.Runtime
	log     *slog.Logger
	metrics *observability.PipelineCollector

	objects  objstore.Store
	parquet  *store.ParquetStore
	exec     warehouse.Executor
	resolver identity.Resolver

	roleOnce sync.Once
	roleErr  error

	closers []func() error
	tracing func(context.Context) error
}

// New builds the backends selected by cfg.Backend. The caller must Close
// the App.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: config.Runtime{Config: *cfg}, log: log}

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.tracing = shutdown

	a.metrics, err = observability.NewPipelineCollector(prometheus.NewRegistry())
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	switch cfg.Backend {
	case "local":
		err = a.initLocal()
	case "aws":
		err = a.initAWS(ctx)
	default:
		err = fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.parquet = store.NewParquetStore(a.objects, a.layout())
	log.Info("pipeline backends ready", "backend", cfg.Backend)
	return a, nil
}

func (a *App) initLocal() error {
	st := a.cfg.Storage
	a.objects = objstore.NewFSStore(st.DataDir)

	if dir := filepath.Dir(st.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating warehouse dir: %w", err)
		}
	}
	exec, err := warehouse.NewSQLiteExecutor(st.SQLitePath, a.objects, a.log)
	if err != nil {
		return err
	}
	a.exec = exec
	a.closers = append(a.closers, exec.Close)

	wh := a.cfg.Warehouse
	a.resolver = identity.Chain{
		identity.Static{ARN: wh.RoleARN, AccountID: wh.AccountID, RoleName: wh.RoleName},
		identity.Static{AccountID: localAccount, RoleName: wh.RoleName},
	}
	return nil
}

func (a *App) initAWS(ctx context.Context) error {
	var opts []func(*awsconfig.LoadOptions) error
	if r := a.cfg.Storage.Region; r != "" {
		opts = append(opts, awsconfig.WithRegion(r))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("loading aws config: %w", err)
	}
	a.initAWSClients(awsCfg)
	return nil
}

func (a *App) initAWSClients(awsCfg aws.Config) {
	wh := a.cfg.Warehouse
	a.objects = objstore.NewS3Store(s3.NewFromConfig(awsCfg))
	a.exec = warehouse.NewRedshiftExecutor(redshiftdata.NewFromConfig(awsCfg), wh.Database, wh.Workgroup)
	a.resolver = identity.Chain{
		identity.Static{ARN: wh.RoleARN, AccountID: wh.AccountID, RoleName: wh.RoleName},
		identity.STSResolver{Client: sts.NewFromConfig(awsCfg), RoleName: wh.RoleName},
	}
}

func (a *App) layout() store.Layout {
	st := a.cfg.Storage
	return store.Layout{
		PositionsBucket: st.PositionsBucket,
		PositionsPrefix: st.PositionsPrefix,
		SpeedBucket:     st.SpeedBucket,
		SpeedPrefix:     st.SpeedPrefix,
	}
}

// Runtime returns the configuration with any identifiers resolved so far.
func (a *App) Runtime() config.Runtime { return a.cfg }

// Metrics returns the process collector.
func (a *App) Metrics() *observability.PipelineCollector { return a.metrics }

// Store returns the Parquet position and aggregate store.
func (a *App) Store() *store.ParquetStore { return a.parquet }

// Warehouse returns the warehouse executor.
func (a *App) Warehouse() warehouse.Executor { return a.exec }

// Sampler builds the position sampler.
func (a *App) Sampler() *sampler.Sampler {
	t := a.cfg.Telemetry
	return sampler.New(telemetry.NewClient(t.URL, t.Timeout), a.parquet, a.metrics, a.log)
}

// Aggregator builds the daily aggregator.
func (a *App) Aggregator() (*aggregate.Aggregator, error) {
	order, err := aggregate.ParseOrder(a.cfg.Aggregate.Order)
	if err != nil {
		return nil, err
	}
	return aggregate.NewAggregator(a.parquet, a.parquet, order, a.metrics, a.log), nil
}

// ResolveRole resolves the warehouse role ARN on first call and caches it
// in the runtime configuration.
func (a *App) ResolveRole(ctx context.Context) (string, error) {
	a.roleOnce.Do(func() {
		arn, err := a.resolver.RoleARN(ctx)
		if err != nil {
			a.roleErr = fmt.Errorf("resolving warehouse role: %w", err)
			return
		}
		a.cfg.RoleARN = arn
		a.log.Info("warehouse role resolved", "role", arn)
	})
	return a.cfg.RoleARN, a.roleErr
}

// Loader builds the warehouse loader, resolving the role ARN if needed.
func (a *App) Loader(ctx context.Context) (*loader.Loader, error) {
	role, err := a.ResolveRole(ctx)
	if err != nil {
		return nil, err
	}
	wh := a.cfg.Warehouse
	opts := loader.Options{PollInterval: wh.PollInterval, MaxPollAttempts: wh.MaxPollAttempts}
	return loader.New(a.exec, a.parquet, a.layout(), role, opts, a.metrics, a.log), nil
}

// PushMetrics pushes the collector to the configured Pushgateway under job.
// It is a no-op without a Pushgateway.
func (a *App) PushMetrics(ctx context.Context, job string) error {
	m := a.cfg.Metrics
	if m.Pushgateway == "" {
		return nil
	}
	if job == "" {
		job = m.Job
	}
	return a.metrics.Push(ctx, m.Pushgateway, job)
}

// Close flushes spans and releases backends.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.tracing != nil {
		observability.ShutdownWithTimeout(ctx, a.tracing, a.log)
		a.tracing = nil
	}
	return errors.Join(errs...)
}
