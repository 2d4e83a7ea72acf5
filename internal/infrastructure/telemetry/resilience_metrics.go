package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/crosslist/backend/internal/domain/integration"
)

// ResilienceMetrics records outbound call, job, sync and ingest counters.
// It satisfies the resilience caller's Observer and the job scheduler's JobObserver.
type ResilienceMetrics struct {
	calls        *Counter
	callDuration *Histogram
	retries      *Counter
	rejections   *Counter
	jobs         *Counter
	jobDuration  *Histogram
	syncJobs     *Counter
	inbound      *Counter
	deadLetters  *Counter
	dedup        *Counter
}

// NewResilienceMetrics registers the instruments on meter
func NewResilienceMetrics(meter metric.Meter) (*ResilienceMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	m := &ResilienceMetrics{}
	var err error

	if m.calls, err = NewCounter(meter, "crosslist_marketplace_calls_total",
		"Outbound marketplace HTTP exchanges by outcome", "{calls}"); err != nil {
		return nil, err
	}
	if m.callDuration, err = NewHistogram(meter, "crosslist_marketplace_call_duration_seconds",
		"Outbound marketplace call latency", "s", CallDurationBuckets); err != nil {
		return nil, err
	}
	if m.retries, err = NewCounter(meter, "crosslist_retries_total",
		"Retries scheduled by the retrying caller", "{retries}"); err != nil {
		return nil, err
	}
	if m.rejections, err = NewCounter(meter, "crosslist_call_rejections_total",
		"Calls refused by the rate limiter or circuit breaker", "{calls}"); err != nil {
		return nil, err
	}
	if m.jobs, err = NewCounter(meter, "crosslist_jobs_total",
		"Background job executions by outcome", "{jobs}"); err != nil {
		return nil, err
	}
	if m.jobDuration, err = NewHistogram(meter, "crosslist_job_duration_seconds",
		"Background job execution time", "s", JobDurationBuckets); err != nil {
		return nil, err
	}
	if m.syncJobs, err = NewCounter(meter, "crosslist_sync_jobs_total",
		"Sale sync jobs by final status", "{jobs}"); err != nil {
		return nil, err
	}
	if m.inbound, err = NewCounter(meter, "crosslist_inbound_events_total",
		"Inbound marketplace notifications by source and outcome", "{events}"); err != nil {
		return nil, err
	}
	if m.deadLetters, err = NewCounter(meter, "crosslist_dead_letters_total",
		"Jobs admitted to the dead-letter queue", "{entries}"); err != nil {
		return nil, err
	}
	if m.dedup, err = NewCounter(meter, "crosslist_dedup_lookups_total",
		"Delivery dedup claims by store backend and outcome", "{lookups}"); err != nil {
		return nil, err
	}
	return m, nil
}

// ObserveAttempt records one outbound exchange
func (m *ResilienceMetrics) ObserveAttempt(mp integration.MarketplaceID, action integration.CallAction, outcome string, latency time.Duration) {
	ctx := context.Background()
	m.calls.Inc(ctx, AttrMarketplace.String(string(mp)), AttrAction.String(string(action)), AttrOutcome.String(outcome))
	m.callDuration.RecordDuration(ctx, latency, AttrMarketplace.String(string(mp)), AttrAction.String(string(action)))
}

// ObserveRetry records a scheduled retry
func (m *ResilienceMetrics) ObserveRetry(mp integration.MarketplaceID, category integration.FailureCategory, _ time.Duration) {
	m.retries.Inc(context.Background(), AttrMarketplace.String(string(mp)), AttrCategory.String(string(category)))
}

// ObserveRejection records a call refused before reaching the marketplace
func (m *ResilienceMetrics) ObserveRejection(mp integration.MarketplaceID, category integration.FailureCategory) {
	m.rejections.Inc(context.Background(), AttrMarketplace.String(string(mp)), AttrCategory.String(string(category)))
}

// ObserveJob records a job execution outcome
func (m *ResilienceMetrics) ObserveJob(job *integration.Job, outcome string, d time.Duration) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		AttrJobType.String(string(job.Type)),
		AttrMarketplace.String(string(job.Marketplace)),
	}
	m.jobs.Inc(ctx, append(attrs, AttrOutcome.String(outcome))...)
	m.jobDuration.RecordDuration(ctx, d, attrs...)
}

// ObserveSyncJob records the status a sale sync job finished with
func (m *ResilienceMetrics) ObserveSyncJob(sold integration.MarketplaceID, status integration.SyncStatus) {
	m.syncJobs.Inc(context.Background(), AttrMarketplace.String(string(sold)), AttrStatus.String(string(status)))
}

// ObserveInbound records an inbound notification
func (m *ResilienceMetrics) ObserveInbound(mp integration.MarketplaceID, source integration.EventSource, outcome string) {
	m.inbound.Inc(context.Background(),
		AttrMarketplace.String(string(mp)),
		AttrSource.String(string(source)),
		AttrOutcome.String(outcome),
	)
}

// ObserveDeadLetter records an admitted entry
func (m *ResilienceMetrics) ObserveDeadLetter(mp integration.MarketplaceID, category integration.FailureCategory) {
	m.deadLetters.Inc(context.Background(), AttrMarketplace.String(string(mp)), AttrCategory.String(string(category)))
}

// ObserveDedup records a dedup claim; outcome is new, duplicate or error
func (m *ResilienceMetrics) ObserveDedup(backend, outcome string) {
	m.dedup.Inc(context.Background(), AttrBackend.String(backend), AttrOutcome.String(outcome))
}
