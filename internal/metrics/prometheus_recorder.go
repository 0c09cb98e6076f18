package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once         sync.Once
	registry     *prom.Registry
	runOutcomes  *prom.CounterVec
	runDuration  prom.Histogram
	harvests     *prom.CounterVec
	syncDuration *prom.HistogramVec
	artifacts    prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{registry: reg}
	pr.once.Do(func() {
		pr.runOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "portalsync",
			Name:      "runs_total",
			Help:      "Pipeline runs by final state",
		}, []string{"state"})
		pr.runDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "portalsync",
			Name:      "run_duration_seconds",
			Help:      "Total pipeline run duration",
			Buckets:   prom.DefBuckets,
		})
		pr.harvests = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "portalsync",
			Name:      "harvests_total",
			Help:      "Harvest attempts by target and outcome",
		}, []string{"target", "outcome"})
		pr.syncDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "portalsync",
			Name:      "sync_duration_seconds",
			Help:      "Duration of repository synchronization per mirror",
			Buckets:   prom.DefBuckets,
		}, []string{"repository"})
		pr.artifacts = prom.NewGauge(prom.GaugeOpts{
			Namespace: "portalsync",
			Name:      "artifacts_last_run",
			Help:      "Normalized artifacts produced by the most recent run",
		})
		reg.MustRegister(pr.runOutcomes, pr.runDuration, pr.harvests, pr.syncDuration, pr.artifacts)
	})
	return pr
}

func (p *PrometheusRecorder) RunOutcome(state string) {
	if p == nil || p.runOutcomes == nil {
		return
	}
	p.runOutcomes.WithLabelValues(state).Inc()
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) HarvestOutcome(target, outcome string) {
	if p == nil || p.harvests == nil {
		return
	}
	p.harvests.WithLabelValues(target, outcome).Inc()
}

func (p *PrometheusRecorder) ObserveSyncDuration(repo string, d time.Duration) {
	if p == nil || p.syncDuration == nil {
		return
	}
	p.syncDuration.WithLabelValues(repo).Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetArtifactsLastRun(n int) {
	if p == nil || p.artifacts == nil {
		return
	}
	p.artifacts.Set(float64(n))
}

// Handler returns the scrape endpoint for the recorder's registry.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
