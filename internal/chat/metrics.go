package chat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Turn modes used as metric labels.
const (
	modeBuffered = "buffered"
	modeStream   = "stream"
)

// Metrics holds the orchestrator's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	turns       *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	retrieval   prometheus.Counter
	compactions *prometheus.CounterVec
	estimate    prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. sessions,
// when non-nil, backs the active sessions gauge.
func NewMetrics(reg prometheus.Registerer, sessions func() float64) *Metrics {
	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ragchat_turns_total",
			Help: "Conversation turns by mode and outcome.",
		}, []string{"mode", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ragchat_turn_duration_seconds",
			Help:    "Wall time of a turn from submission to commit.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"mode"}),
		retrieval: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ragchat_retrieval_failures_total",
			Help: "Retrievals that degraded to no passages.",
		}),
		compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ragchat_compactions_total",
			Help: "Compaction attempts by outcome.",
		}, []string{"outcome"}),
		estimate: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragchat_context_estimate",
			Help:    "Estimated size of assembled prompts in budget units.",
			Buckets: prometheus.ExponentialBuckets(64, 2, 10),
		}),
	}
	reg.MustRegister(m.turns, m.duration, m.retrieval, m.compactions, m.estimate)
	if sessions != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ragchat_active_sessions",
			Help: "Sessions currently held in the store.",
		}, sessions))
	}
	return m
}

func (m *Metrics) turn(mode string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	m.turns.WithLabelValues(mode, outcome).Inc()
	if err == nil {
		m.duration.WithLabelValues(mode).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) retrievalFailed() {
	if m == nil {
		return
	}
	m.retrieval.Inc()
}

func (m *Metrics) compaction(outcome string) {
	if m == nil {
		return
	}
	m.compactions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) assembled(estimate int) {
	if m == nil {
		return
	}
	m.estimate.Observe(float64(estimate))
}
