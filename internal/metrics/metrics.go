package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ragebaiter"

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Metrics groups every collector the pipeline reports to. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Outcomes       *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions *prometheus.CounterVec
	Attempts       *prometheus.CounterVec
	Retries        prometheus.Counter
	RateLimitWait  prometheus.Histogram
	RateWindow     prometheus.Gauge
	InFlight       prometheus.Gauge
	Interventions  *prometheus.CounterVec
	DispatchErrors prometheus.Counter
	ConfigReloads  *prometheus.CounterVec
	BreakerState   prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "outcomes_total",
			Help:      "Processed posts by terminal stage and whether an error was reported.",
		}, []string{"stage", "error"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "process_duration_seconds",
			Help:      "Wall time of one Process call, by terminal stage.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "result_cache",
			Name:      "hits_total",
			Help:      "Analysis cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "result_cache",
			Name:      "misses_total",
			Help:      "Analysis cache misses, including expired entries.",
		}),
		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "result_cache",
			Name:      "evictions_total",
			Help:      "Analysis cache evictions by reason.",
		}, []string{"reason"}),
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "attempts_total",
			Help:      "Upstream analysis attempts by result.",
		}, []string{"result"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "retries_total",
			Help:      "Upstream analysis retries scheduled.",
		}),
		RateLimitWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for the request-rate window.",
			Buckets:   []float64{0, .01, .05, .1, .25, .5, 1, 2},
		}),
		RateWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "rate_window_requests",
			Help:      "Requests admitted within the current one-second rate window.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "in_flight",
			Help:      "Analysis requests currently holding a concurrency permit.",
		}),
		Interventions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "verdicts_total",
			Help:      "Decision verdicts by final level and whether cooldown suppressed them.",
		}, []string{"level", "suppressed"}),
		DispatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "errors_total",
			Help:      "Intervention deliveries that failed.",
		}),
		ConfigReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "reloads_total",
			Help:      "Config file reloads by result.",
		}, []string{"result"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "circuit_breaker_state",
			Help:      "Webhook circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
	}

	reg.MustRegister(
		m.Outcomes, m.StageDuration,
		m.CacheHits, m.CacheMisses, m.CacheEvictions,
		m.Attempts, m.Retries, m.RateLimitWait, m.RateWindow, m.InFlight,
		m.Interventions, m.DispatchErrors, m.ConfigReloads, m.BreakerState,
	)
	return m
}

func (m *Metrics) ObserveOutcome(stage string, failed bool, d time.Duration) {
	if m == nil {
		return
	}
	errLabel := "false"
	if failed {
		errLabel = "true"
	}
	m.Outcomes.WithLabelValues(stage, errLabel).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) CacheEvicted(reason string) {
	if m != nil {
		m.CacheEvictions.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Attempt(result string) {
	if m != nil {
		m.Attempts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Retry() {
	if m != nil {
		m.Retries.Inc()
	}
}

func (m *Metrics) RateLimited(d time.Duration) {
	if m != nil {
		m.RateLimitWait.Observe(d.Seconds())
	}
}

func (m *Metrics) SetRateWindow(n int) {
	if m != nil {
		m.RateWindow.Set(float64(n))
	}
}

func (m *Metrics) SetInFlight(n int) {
	if m != nil {
		m.InFlight.Set(float64(n))
	}
}

func (m *Metrics) Verdict(level string, suppressed bool) {
	if m == nil {
		return
	}
	s := "false"
	if suppressed {
		s = "true"
	}
	m.Interventions.WithLabelValues(level, s).Inc()
}

func (m *Metrics) DispatchFailed() {
	if m != nil {
		m.DispatchErrors.Inc()
	}
}

func (m *Metrics) ConfigReloaded(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	m.ConfigReloads.WithLabelValues(result).Inc()
}

func (m *Metrics) SetBreakerState(v float64) {
	if m != nil {
		m.BreakerState.Set(v)
	}
}
