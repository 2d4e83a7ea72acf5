package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/domain/integration"
)

// StatusSource supplies the point-in-time state scraped by the collector
type StatusSource interface {
	Statuses(ctx context.Context) ([]integration.MarketplaceStatus, error)
	PendingDeadLetters(ctx context.Context) (int64, error)
}

const scrapeTimeout = 5 * time.Second

// breakerStates lists every state so each marketplace exports one series per state
var breakerStates = []integration.BreakerState{
	integration.BreakerClosed,
	integration.BreakerOpen,
	integration.BreakerHalfOpen,
}

// StatusCollector is a prometheus.Collector that reads breaker state, limiter
// utilization, ingest health and the dead-letter backlog on every scrape.
type StatusCollector struct {
	source StatusSource
	logger *zap.Logger

	breakerState  *prometheus.Desc
	limiterUsage  *prometheus.Desc
	limiterCount  *prometheus.Desc
	healthScore   *prometheus.Desc
	deadLetters   *prometheus.Desc
	scrapeSuccess *prometheus.Desc
}

// NewStatusCollector creates a collector over source
func NewStatusCollector(source StatusSource, logger *zap.Logger) *StatusCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusCollector{
		source: source,
		logger: logger,
		breakerState: prometheus.NewDesc("crosslist_circuit_breaker_state",
			"1 for the breaker's current state, 0 otherwise", []string{"marketplace", "state"}, nil),
		limiterUsage: prometheus.NewDesc("crosslist_rate_limit_utilization",
			"Fraction of the window limit consumed", []string{"marketplace", "window"}, nil),
		limiterCount: prometheus.NewDesc("crosslist_rate_limit_requests",
			"Requests counted in the current window", []string{"marketplace", "window"}, nil),
		healthScore: prometheus.NewDesc("crosslist_marketplace_health_score",
			"Decaying ingest success rate in [0,1]", []string{"marketplace"}, nil),
		deadLetters: prometheus.NewDesc("crosslist_dead_letter_pending",
			"Dead-letter entries awaiting an operator", nil, nil),
		scrapeSuccess: prometheus.NewDesc("crosslist_status_scrape_success",
			"1 if the last status scrape succeeded", []string{"part"}, nil),
	}
}

// Describe implements prometheus.Collector
func (c *StatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.breakerState
	ch <- c.limiterUsage
	ch <- c.limiterCount
	ch <- c.healthScore
	ch <- c.deadLetters
	ch <- c.scrapeSuccess
}

// Collect implements prometheus.Collector
func (c *StatusCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	statuses, err := c.source.Statuses(ctx)
	ch <- prometheus.MustNewConstMetric(c.scrapeSuccess, prometheus.GaugeValue, successValue(err), "marketplaces")
	if err != nil {
		c.logger.Warn("status scrape failed", zap.Error(err))
	}
	for _, s := range statuses {
		m := string(s.Marketplace)
		for _, state := range breakerStates {
			v := 0.0
			if s.BreakerState == state {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.breakerState, prometheus.GaugeValue, v, m, string(state))
		}
		for _, w := range s.Windows {
			ch <- prometheus.MustNewConstMetric(c.limiterUsage, prometheus.GaugeValue, w.Utilization, m, string(w.Kind))
			ch <- prometheus.MustNewConstMetric(c.limiterCount, prometheus.GaugeValue, float64(w.Count), m, string(w.Kind))
		}
		ch <- prometheus.MustNewConstMetric(c.healthScore, prometheus.GaugeValue, s.HealthScore, m)
	}

	pending, err := c.source.PendingDeadLetters(ctx)
	ch <- prometheus.MustNewConstMetric(c.scrapeSuccess, prometheus.GaugeValue, successValue(err), "dead_letters")
	if err != nil {
		c.logger.Warn("dead letter count scrape failed", zap.Error(err))
		return
	}
	ch <- prometheus.MustNewConstMetric(c.deadLetters, prometheus.GaugeValue, float64(pending))
}

func successValue(err error) float64 {
	if err != nil {
		return 0
	}
	return 1
}

// NewRegistry returns a registry with the Go runtime, process and status collectors
func NewRegistry(status *StatusCollector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if status != nil {
		reg.MustRegister(status)
	}
	return reg
}

// MetricsHandler serves reg in the Prometheus exposition format
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

var _ prometheus.Collector = (*StatusCollector)(nil)
