// Package metrics holds the Prometheus instrumentation for the analysis
// pipeline and its surfaces: load outcomes, step durations, classification
// counts, cache effectiveness, HTTP traffic.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Registry holds all Prometheus metrics for sitewatch.
type Registry struct {
	// Fact table loads by result class (ok, schema_error, value_error,
	// integrity_error, io_error).
	LoadsTotal *prometheus.CounterVec
	RowsLoaded prometheus.Counter

	// Pipeline step timings.
	StepDuration *prometheus.HistogramVec
	RunsTotal    prometheus.Counter

	// Classification outcome of the most recent run.
	SitesByStatus *prometheus.GaugeVec

	// Results cache performance.
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	CacheHitRatio prometheus.Gauge

	// HTTP surface traffic.
	HTTPRequests *prometheus.CounterVec
}

// NewRegistry creates the sitewatch metrics and registers them with reg.
// Passing a fresh prometheus.NewRegistry keeps tests isolated from the
// process-default registry.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		LoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_loads_total",
				Help: "Total fact table loads by result class",
			},
			[]string{"result"},
		),

		RowsLoaded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sitewatch_rows_loaded_total",
				Help: "Total fact rows accepted across all loads",
			},
		),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitewatch_step_duration_seconds",
				Help:    "Duration of each pipeline step in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"step", "result"},
		),

		RunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sitewatch_runs_total",
				Help: "Total full pipeline runs",
			},
		),

		SitesByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sitewatch_sites_by_status",
				Help: "Sites per classification status in the latest run",
			},
			[]string{"status"},
		),

		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sitewatch_cache_hits_total",
				Help: "Total results cache hits",
			},
		),

		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sitewatch_cache_misses_total",
				Help: "Total results cache misses",
			},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitewatch_cache_hit_ratio",
				Help: "Current results cache hit ratio (0.0 to 1.0)",
			},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_http_requests_total",
				Help: "Total HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}

	reg.MustRegister(
		r.LoadsTotal,
		r.RowsLoaded,
		r.StepDuration,
		r.RunsTotal,
		r.SitesByStatus,
		r.CacheHits,
		r.CacheMisses,
		r.CacheHitRatio,
		r.HTTPRequests,
	)

	return r
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide registry, registered with the Prometheus
// default registerer so promhttp exposes it without extra wiring.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = NewRegistry(prometheus.DefaultRegisterer)
	})
	return defaultReg
}

// StepTimer tracks execution time for one pipeline step.
type StepTimer struct {
	registry *Registry
	step     string
	start    time.Time
}

// StartStepTimer begins timing a pipeline step.
func (r *Registry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{registry: r, step: step, start: time.Now()}
}

// Stop completes the timing and records it under the given result label.
func (t *StepTimer) Stop(result string) {
	duration := time.Since(t.start)
	t.registry.StepDuration.WithLabelValues(t.step, result).Observe(duration.Seconds())

	log.Debug().
		Str("step", t.step).
		Str("result", result).
		Dur("duration", duration).
		Msg("Pipeline step completed")
}

// RecordLoad records one load attempt. rows is ignored unless result is "ok".
func (r *Registry) RecordLoad(result string, rows int) {
	r.LoadsTotal.WithLabelValues(result).Inc()
	if result == "ok" {
		r.RowsLoaded.Add(float64(rows))
	}
}

// RecordRun records a completed pipeline run and the per-status site counts.
// Every known status is set each run so stale gauge values cannot linger.
func (r *Registry) RecordRun(statusCounts map[string]int) {
	r.RunsTotal.Inc()
	for status, n := range statusCounts {
		r.SitesByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// RecordCacheHit records a results cache hit.
func (r *Registry) RecordCacheHit() {
	r.CacheHits.Inc()
	r.updateCacheHitRatio()
}

// RecordCacheMiss records a results cache miss.
func (r *Registry) RecordCacheMiss() {
	r.CacheMisses.Inc()
	r.updateCacheHitRatio()
}

// RecordHTTPRequest records one handled request.
func (r *Registry) RecordHTTPRequest(route, code string) {
	r.HTTPRequests.WithLabelValues(route, code).Inc()
}

// updateCacheHitRatio recomputes the hit ratio gauge from the counter
// snapshots.
func (r *Registry) updateCacheHitRatio() {
	r.CacheHitRatio.Set(r.cacheHitRatio())
}

func (r *Registry) cacheHitRatio() float64 {
	var snapshot io_prometheus_client.Metric

	hits := 0.0
	if err := r.CacheHits.Write(&snapshot); err == nil {
		hits = snapshot.GetCounter().GetValue()
	}

	snapshot.Reset()
	misses := 0.0
	if err := r.CacheMisses.Write(&snapshot); err == nil {
		misses = snapshot.GetCounter().GetValue()
	}

	total := hits + misses
	if total == 0 {
		return 0
	}
	return hits / total
}
