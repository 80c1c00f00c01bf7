package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the diagnosis pipeline collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ProviderAttempts *prometheus.CounterVec
	PipelineResults  *prometheus.CounterVec
	ParseStrategy    *prometheus.CounterVec
	Mentions         *prometheus.CounterVec
	PipelineLatency  prometheus.Histogram
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ProviderAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pharmacy",
			Subsystem: "diagnosis",
			Name:      "provider_attempts_total",
			Help:      "LLM completion attempts, one per credential tried",
		}, []string{"outcome"}),
		PipelineResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pharmacy",
			Subsystem: "diagnosis",
			Name:      "pipeline_results_total",
			Help:      "Diagnosis submissions by terminal state",
		}, []string{"result"}),
		ParseStrategy: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pharmacy",
			Subsystem: "diagnosis",
			Name:      "parse_strategy_total",
			Help:      "Which parsing strategy produced the diagnosis",
		}, []string{"strategy"}),
		Mentions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pharmacy",
			Subsystem: "diagnosis",
			Name:      "mentions_total",
			Help:      "Drug mentions seen, split by catalog resolution",
		}, []string{"resolved"}),
		PipelineLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pharmacy",
			Subsystem: "diagnosis",
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end diagnosis submission latency",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
	}
}

func (m *Metrics) ProviderAttempt(outcome string) {
	if m == nil {
		return
	}
	m.ProviderAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PipelineResult(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.PipelineResults.WithLabelValues(result).Inc()
	m.PipelineLatency.Observe(took.Seconds())
}

func (m *Metrics) Parsed(strategy string) {
	if m == nil {
		return
	}
	m.ParseStrategy.WithLabelValues(strategy).Inc()
}

func (m *Metrics) MentionsSeen(resolved, unresolved int) {
	if m == nil {
		return
	}
	m.Mentions.WithLabelValues("true").Add(float64(resolved))
	m.Mentions.WithLabelValues("false").Add(float64(unresolved))
}
