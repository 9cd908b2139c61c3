// Package observability wires Prometheus metrics and OpenTelemetry tracing
// for the pipeline binaries.
package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"isspipe/internal/domain"
)

// PipelineCollector bundles the Prometheus metrics recorded by the sampler,
// aggregator and loader. A nil *PipelineCollector records nothing.
type PipelineCollector struct {
	gatherer prometheus.Gatherer

	SamplesWritten    prometheus.Counter
	SampleFailures    *prometheus.CounterVec
	AggregateSamples  prometheus.Gauge
	AggregateSkipped  prometheus.Gauge
	AggregateDistance prometheus.Gauge
	LoadOutcomes      *prometheus.CounterVec
	LoadPolls         *prometheus.HistogramVec
}

// NewPipelineCollector registers pipeline metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewPipelineCollector(reg prometheus.Registerer) (*PipelineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	written, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iss_samples_written_total",
		Help: "Position samples persisted to object storage.",
	}), "iss_samples_written_total")
	if err != nil {
		return nil, err
	}

	failures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "iss_sample_failures_total",
		Help: "Sampler invocations that aborted, labeled by cause.",
	}, []string{"cause"}), "iss_sample_failures_total")
	if err != nil {
		return nil, err
	}

	samples, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "iss_aggregate_samples",
		Help: "Usable samples read by the last aggregation run.",
	}), "iss_aggregate_samples")
	if err != nil {
		return nil, err
	}

	skipped, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "iss_aggregate_skipped_records",
		Help: "Records skipped as malformed by the last aggregation run.",
	}), "iss_aggregate_skipped_records")
	if err != nil {
		return nil, err
	}

	distance, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "iss_aggregate_avg_distance_km",
		Help: "Mean great-circle distance between consecutive samples from the last aggregation run.",
	}), "iss_aggregate_avg_distance_km")
	if err != nil {
		return nil, err
	}

	outcomes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "iss_load_outcomes_total",
		Help: "Warehouse load outcomes, labeled by target and status.",
	}, []string{"target", "status"}), "iss_load_outcomes_total")
	if err != nil {
		return nil, err
	}

	polls, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "iss_load_poll_attempts",
		Help:    "Status polls needed before a load resolved.",
		Buckets: []float64{1, 2, 3, 5, 10, 20, 50, 100, 200},
	}, []string{"target"}), "iss_load_poll_attempts")
	if err != nil {
		return nil, err
	}

	return &PipelineCollector{
		gatherer:          gatherer,
		SamplesWritten:    written,
		SampleFailures:    failures,
		AggregateSamples:  samples,
		AggregateSkipped:  skipped,
		AggregateDistance: distance,
		LoadOutcomes:      outcomes,
		LoadPolls:         polls,
	}, nil
}

// SampleWritten counts a persisted sample.
func (c *PipelineCollector) SampleWritten() {
	if c == nil {
		return
	}
	c.SamplesWritten.Inc()
}

// SampleFailed counts an aborted sampler run.
func (c *PipelineCollector) SampleFailed(cause string) {
	if c == nil {
		return
	}
	c.SampleFailures.WithLabelValues(cause).Inc()
}

// ObserveAggregate records the result of an aggregation run. A nil average
// leaves the distance gauge untouched.
func (c *PipelineCollector) ObserveAggregate(rec domain.DailyAverageSpeed) {
	if c == nil {
		return
	}
	c.AggregateSamples.Set(float64(rec.Samples))
	c.AggregateSkipped.Set(float64(rec.Skipped))
	if rec.AvgSpeedKm != nil {
		c.AggregateDistance.Set(*rec.AvgSpeedKm)
	}
}

// ObserveOutcome records one load outcome.
func (c *PipelineCollector) ObserveOutcome(out domain.LoadOutcome) {
	if c == nil {
		return
	}
	c.LoadOutcomes.WithLabelValues(string(out.Target), string(out.Status)).Inc()
	if out.Polls > 0 {
		c.LoadPolls.WithLabelValues(string(out.Target)).Observe(float64(out.Polls))
	}
}

// Push sends the collected metrics to a Pushgateway under job. It is a no-op
// when url is empty.
func (c *PipelineCollector) Push(ctx context.Context, url, job string) error {
	if c == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(c.gatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}
	return nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
