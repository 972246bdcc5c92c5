package metrics

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the pipeline's OpenTelemetry instruments.
type Registry struct {
	meter metric.Meter

	// Monitoring cycle metrics
	CycleDuration      metric.Float64Histogram
	SourceFetchLatency metric.Float64Histogram
	SourceCounter      metric.Int64Counter
	ChangeCounter      metric.Int64Counter

	// Drift metrics
	DriftAssessmentDuration metric.Float64Histogram
	ComplianceScoreGauge    metric.Float64ObservableGauge
	DriftCounter            metric.Int64Counter

	// Notification metrics
	NotificationCounter metric.Int64Counter
	DigestFlushCounter  metric.Int64Counter

	// Job metrics
	JobRetryCounter     metric.Int64Counter
	JobExhaustedCounter metric.Int64Counter
	RunningJobsGauge    metric.Int64ObservableGauge

	// API metrics
	APIRequestDuration metric.Float64Histogram
	APIRequestCounter  metric.Int64Counter

	// State for observable metrics
	mu             sync.RWMutex
	scoresBySystem map[string]float64
	runningJobs    atomic.Int64
}

// NewRegistry creates the registry and registers every instrument on the
// named meter.
func NewRegistry(meterName string) (*Registry, error) {
	r := &Registry{
		meter:          otel.Meter(meterName),
		scoresBySystem: make(map[string]float64),
	}

	if err := r.initCycleMetrics(); err != nil {
		return nil, err
	}
	if err := r.initDriftMetrics(); err != nil {
		return nil, err
	}
	if err := r.initNotificationMetrics(); err != nil {
		return nil, err
	}
	if err := r.initJobMetrics(); err != nil {
		return nil, err
	}
	if err := r.initAPIMetrics(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Registry) initCycleMetrics() error {
	var err error

	r.CycleDuration, err = r.meter.Float64Histogram(
		"regmon.cycle.duration",
		metric.WithDescription("Duration of a full monitoring cycle in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 15, 30, 60, 120, 300),
	)
	if err != nil {
		return err
	}

	r.SourceFetchLatency, err = r.meter.Float64Histogram(
		"regmon.source.fetch_latency",
		metric.WithDescription("Latency of fetching one regulatory source in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.5, 1, 5, 10, 30),
	)
	if err != nil {
		return err
	}

	r.SourceCounter, err = r.meter.Int64Counter(
		"regmon.source.processed_total",
		metric.WithDescription("Sources processed, labeled by outcome"),
	)
	if err != nil {
		return err
	}

	r.ChangeCounter, err = r.meter.Int64Counter(
		"regmon.change.detected_total",
		metric.WithDescription("Requirement changes detected, labeled by type and severity"),
	)
	return err
}

func (r *Registry) initDriftMetrics() error {
	var err error

	r.DriftAssessmentDuration, err = r.meter.Float64Histogram(
		"regmon.drift.assessment_duration",
		metric.WithDescription("Duration of a compliance drift assessment in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000),
	)
	if err != nil {
		return err
	}

	r.ComplianceScoreGauge, err = r.meter.Float64ObservableGauge(
		"regmon.drift.compliance_score",
		metric.WithDescription("Latest overall compliance score per system"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			for systemID, score := range r.scoresBySystem {
				o.Observe(score, metric.WithAttributes(attribute.String("system_id", systemID)))
			}
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.DriftCounter, err = r.meter.Int64Counter(
		"regmon.drift.classified_total",
		metric.WithDescription("Drift classifications, labeled by drift type"),
	)
	return err
}

func (r *Registry) initNotificationMetrics() error {
	var err error

	r.NotificationCounter, err = r.meter.Int64Counter(
		"regmon.notification.total",
		metric.WithDescription("Notification outcomes, labeled by channel and status"),
	)
	if err != nil {
		return err
	}

	r.DigestFlushCounter, err = r.meter.Int64Counter(
		"regmon.notification.digest_flush_total",
		metric.WithDescription("Digest flushes, labeled by channel"),
	)
	return err
}

func (r *Registry) initJobMetrics() error {
	var err error

	r.JobRetryCounter, err = r.meter.Int64Counter(
		"regmon.job.retry_total",
		metric.WithDescription("Job retry attempts, labeled by job name"),
	)
	if err != nil {
		return err
	}

	r.JobExhaustedCounter, err = r.meter.Int64Counter(
		"regmon.job.exhausted_total",
		metric.WithDescription("Jobs that exhausted their retry budget"),
	)
	if err != nil {
		return err
	}

	r.RunningJobsGauge, err = r.meter.Int64ObservableGauge(
		"regmon.job.running",
		metric.WithDescription("Jobs currently executing a cycle"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(r.runningJobs.Load())
			return nil
		}),
	)
	return err
}

func (r *Registry) initAPIMetrics() error {
	var err error

	r.APIRequestDuration, err = r.meter.Float64Histogram(
		"regmon.api.request_duration",
		metric.WithDescription("API request duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.APIRequestCounter, err = r.meter.Int64Counter(
		"regmon.api.request_total",
		metric.WithDescription("API requests, labeled by method, path, and status"),
	)
	return err
}

// RecordCycle records a completed monitoring cycle.
func (r *Registry) RecordCycle(ctx context.Context, durationSeconds float64, status string) {
	r.CycleDuration.Record(ctx, durationSeconds,
		metric.WithAttributes(attribute.String("status", status)))
}

// RecordSource records one source's processing outcome within a cycle.
func (r *Registry) RecordSource(ctx context.Context, fetchSeconds float64, outcome string) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	r.SourceFetchLatency.Record(ctx, fetchSeconds, attrs)
	r.SourceCounter.Add(ctx, 1, attrs)
}

// RecordChange records one detected requirement change.
func (r *Registry) RecordChange(ctx context.Context, changeType, severity string) {
	r.ChangeCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("change_type", changeType),
		attribute.String("severity", severity),
	))
}

// RecordAssessment records one system's drift assessment duration.
func (r *Registry) RecordAssessment(ctx context.Context, durationMS float64, systemID string) {
	r.DriftAssessmentDuration.Record(ctx, durationMS,
		metric.WithAttributes(attribute.String("system_id", systemID)))
}

// RecordDrift records one classified drift.
func (r *Registry) RecordDrift(ctx context.Context, driftType string) {
	r.DriftCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("drift_type", driftType),
	))
}

// SetComplianceScore updates the score observed by the per-system gauge.
func (r *Registry) SetComplianceScore(systemID string, score float64) {
	r.mu.Lock()
	r.scoresBySystem[systemID] = score
	r.mu.Unlock()
}

// RecordNotification records one notification delivery outcome.
func (r *Registry) RecordNotification(ctx context.Context, channel, status string) {
	r.NotificationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("status", status),
	))
}

// RecordDigestFlush records a flushed digest and how many entries it carried.
func (r *Registry) RecordDigestFlush(ctx context.Context, channel string, entries int64) {
	r.DigestFlushCounter.Add(ctx, entries, metric.WithAttributes(
		attribute.String("channel", channel),
	))
}

// RecordJobRetry records one retry attempt for the named job.
func (r *Registry) RecordJobRetry(ctx context.Context, jobName string) {
	r.JobRetryCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("job", jobName)))
}

// RecordJobExhausted records a job that ran out of retries.
func (r *Registry) RecordJobExhausted(ctx context.Context, jobName string) {
	r.JobExhaustedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("job", jobName)))
}

// JobStarted and JobFinished bracket a running cycle for the gauge.
func (r *Registry) JobStarted()  { r.runningJobs.Add(1) }
func (r *Registry) JobFinished() { r.runningJobs.Add(-1) }

// RecordAPIRequest records one HTTP request.
func (r *Registry) RecordAPIRequest(ctx context.Context, durationMS float64, method, path string, statusCode int) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status_code", statusCode),
	)
	r.APIRequestDuration.Record(ctx, durationMS, attrs)
	r.APIRequestCounter.Add(ctx, 1, attrs)
}
