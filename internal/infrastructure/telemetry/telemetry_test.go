package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/crosslist/backend/internal/domain/integration"
)

type fakeStatusSource struct {
	statuses []integration.MarketplaceStatus
	pending  int64
	err      error
}

func (f *fakeStatusSource) Statuses(ctx context.Context) ([]integration.MarketplaceStatus, error) {
	return f.statuses, f.err
}

func (f *fakeStatusSource) PendingDeadLetters(ctx context.Context) (int64, error) {
	return f.pending, f.err
}

func gatherGauge(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) (float64, bool) {
	t.Helper()
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetGauge().GetValue(), true
		}
	}
	return 0, false
}

func TestStatusCollector_Collect(t *testing.T) {
	source := &fakeStatusSource{
		statuses: []integration.MarketplaceStatus{
			{
				Marketplace:  "ebay",
				BreakerState: integration.BreakerOpen,
				Windows: []integration.WindowUsage{
					{Kind: integration.WindowMinute, Count: 45, Limit: 50, Utilization: 0.9},
				},
				HealthScore: 0.75,
			},
		},
		pending: 7,
	}
	reg := NewRegistry(NewStatusCollector(source, zap.NewNop()))

	families, err := reg.Gather()
	require.NoError(t, err)

	v, ok := gatherGauge(t, families, "crosslist_circuit_breaker_state", map[string]string{"marketplace": "ebay", "state": "open"})
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
	v, _ = gatherGauge(t, families, "crosslist_circuit_breaker_state", map[string]string{"marketplace": "ebay", "state": "closed"})
	assert.Equal(t, 0.0, v)

	v, ok = gatherGauge(t, families, "crosslist_rate_limit_utilization", map[string]string{"window": "minute"})
	require.True(t, ok)
	assert.InDelta(t, 0.9, v, 1e-9)

	v, ok = gatherGauge(t, families, "crosslist_marketplace_health_score", map[string]string{"marketplace": "ebay"})
	require.True(t, ok)
	assert.InDelta(t, 0.75, v, 1e-9)

	v, ok = gatherGauge(t, families, "crosslist_dead_letter_pending", nil)
	require.True(t, ok)
	assert.Equal(t, 7.0, v)
}

func TestStatusCollector_SourceFailure(t *testing.T) {
	source := &fakeStatusSource{err: errors.New("redis down")}
	reg := NewRegistry(NewStatusCollector(source, nil))

	families, err := reg.Gather()
	require.NoError(t, err)

	v, ok := gatherGauge(t, families, "crosslist_status_scrape_success", map[string]string{"part": "marketplaces"})
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
	_, ok = gatherGauge(t, families, "crosslist_dead_letter_pending", nil)
	assert.False(t, ok)
}

func TestMetricsHandler(t *testing.T) {
	reg := NewRegistry(NewStatusCollector(&fakeStatusSource{pending: 2}, nil))
	rec := httptest.NewRecorder()
	MetricsHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "crosslist_dead_letter_pending 2"))
}

func TestResilienceMetrics_Records(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewResilienceMetrics(provider.Meter("test"))
	require.NoError(t, err)

	m.ObserveAttempt("ebay", integration.ActionDeleteListing, "success", 120*time.Millisecond)
	m.ObserveAttempt("ebay", integration.ActionDeleteListing, "server_error", 80*time.Millisecond)
	m.ObserveRetry("ebay", integration.CategoryServer, time.Second)
	m.ObserveRejection("etsy", integration.CategoryCircuitOpen)
	m.ObserveJob(&integration.Job{ID: uuid.New(), Type: integration.JobTypeDelist, Marketplace: "ebay"}, "succeeded", time.Second)
	m.ObserveSyncJob("depop", integration.SyncStatusPartial)
	m.ObserveInbound("ebay", integration.SourceWebhook, "processed")
	m.ObserveDeadLetter("ebay", integration.CategoryAuth)
	m.ObserveDedup("memory", "new")
	m.ObserveDedup("memory", "duplicate")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if data, ok := metric.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range data.DataPoints {
					sums[metric.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), sums["crosslist_marketplace_calls_total"])
	assert.Equal(t, int64(1), sums["crosslist_retries_total"])
	assert.Equal(t, int64(1), sums["crosslist_call_rejections_total"])
	assert.Equal(t, int64(1), sums["crosslist_jobs_total"])
	assert.Equal(t, int64(1), sums["crosslist_sync_jobs_total"])
	assert.Equal(t, int64(1), sums["crosslist_inbound_events_total"])
	assert.Equal(t, int64(1), sums["crosslist_dead_letters_total"])
	assert.Equal(t, int64(2), sums["crosslist_dedup_lookups_total"])
}

func TestNewResilienceMetrics_NilMeter(t *testing.T) {
	_, err := NewResilienceMetrics(nil)
	assert.ErrorIs(t, err, ErrMeterNil)
}

func TestSetup_Disabled(t *testing.T) {
	p, err := Setup(context.Background(), Config{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Meter("test"))

	base := zap.NewNop()
	assert.Same(t, base, p.BridgeLogger(base, zapcore.InfoLevel))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

func TestStartServiceSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := tp.Tracer("test")

	ctx, parent := tracer.Start(context.Background(), "parent")
	assert.NotEmpty(t, TraceID(ctx))
	assert.NotEmpty(t, SpanID(ctx))

	SetAttributes(parent, SpanAttrMarketplace, integration.MarketplaceID("ebay"), "attempt", 2)
	RecordError(parent, errors.New("boom"))
	parent.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "Error", spans[0].Status().Code.String())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "ebay", attrs["marketplace"])
	assert.Equal(t, "2", attrs["attempt"])

	assert.Empty(t, TraceID(context.Background()))
}

type tracedRow struct {
	ID   uint
	Name string
}

func TestInstrumentDB_SQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, InstrumentDB(db, DBTracingConfig{Enabled: false}, nil))
	require.NoError(t, InstrumentDB(db, DBTracingConfig{Enabled: true, DBSystem: "sqlite"}, zap.NewNop()))

	require.NoError(t, db.AutoMigrate(&tracedRow{}))
	require.NoError(t, db.Create(&tracedRow{Name: "a"}).Error)

	var rows []tracedRow
	require.NoError(t, db.Find(&rows).Error)
	assert.Len(t, rows, 1)
}
