// Package metrics exposes Prometheus instruments for backend traffic.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for backend calls.
const (
	OutcomeOK       = "ok"
	OutcomeQuota    = "quota"
	OutcomeAuth     = "unauthenticated"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
)

type Recorder struct {
	backendCalls  *prometheus.CounterVec
	gateWait      *prometheus.HistogramVec
	quotaRetries  *prometheus.CounterVec
	cacheRequests *prometheus.CounterVec
	reconnects    prometheus.Counter
}

// New registers the instruments on reg. It panics on duplicate registration,
// like prometheus.MustRegister.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollbook_backend_calls_total",
			Help: "Backend calls by request class, operation and outcome.",
		}, []string{"class", "op", "outcome"}),
		gateWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rollbook_gate_wait_seconds",
			Help:    "Time spent waiting for the request gate before a backend call.",
			Buckets: []float64{0, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"class"}),
		quotaRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollbook_quota_retries_total",
			Help: "Calls retried after a quota cooldown.",
		}, []string{"class"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollbook_cache_requests_total",
			Help: "Read cache lookups by table and result.",
		}, []string{"table", "result"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rollbook_reconnects_total",
			Help: "Full re-authentications against the backend.",
		}),
	}
	reg.MustRegister(r.backendCalls, r.gateWait, r.quotaRetries, r.cacheRequests, r.reconnects)
	return r
}

func (r *Recorder) BackendCall(class, op, outcome string) {
	if r == nil {
		return
	}
	r.backendCalls.WithLabelValues(class, op, outcome).Inc()
}

func (r *Recorder) GateWait(class string, d time.Duration) {
	if r == nil {
		return
	}
	r.gateWait.WithLabelValues(class).Observe(d.Seconds())
}

func (r *Recorder) QuotaRetry(class string) {
	if r == nil {
		return
	}
	r.quotaRetries.WithLabelValues(class).Inc()
}

// CacheRequest counts a lookup; result is "hit" or "miss".
func (r *Recorder) CacheRequest(table string, hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheRequests.WithLabelValues(table, result).Inc()
}

func (r *Recorder) Reconnect() {
	if r == nil {
		return
	}
	r.reconnects.Inc()
}
