package statusmanager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opinionlab/hierreport/pkg/domain"
)

// Metrics are the Status Manager's observability hooks: the
// control-plane HTTP surface itself is out of scope (spec §1), but the
// counters it would mount a /metrics endpoint on are tracked here so a
// caller that does add that endpoint has something to serve. Grounded
// on the teacher's internal/observability/metrics.go promauto.NewXVec
// style, trimmed to the handful of series this pipeline's job
// lifecycle actually produces.
type Metrics struct {
	jobsStarted  prometheus.Counter
	jobsFinished *prometheus.CounterVec
	activeJobs   prometheus.Gauge
	tokensUsed   *prometheus.CounterVec
}

// NewMetrics registers this package's series on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		jobsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hierreport",
			Name:      "jobs_started_total",
			Help:      "Jobs handed to the Launcher.",
		}),
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hierreport",
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal state, by final state.",
		}, []string{"state"}),
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hierreport",
			Name:      "jobs_active",
			Help:      "Jobs currently in the processing state.",
		}),
		tokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hierreport",
			Name:      "tokens_used_total",
			Help:      "LLM tokens consumed, by provider and direction.",
		}, []string{"provider", "direction"}),
	}
}

func (m *Metrics) observeNew() {
	if m == nil {
		return
	}
	m.jobsStarted.Inc()
	m.activeJobs.Inc()
}

func (m *Metrics) observeTerminal(state domain.State) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(string(state)).Inc()
	m.activeJobs.Dec()
}

func (m *Metrics) observeTokens(provider domain.Provider, input, output int64) {
	if m == nil {
		return
	}
	m.tokensUsed.WithLabelValues(string(provider), "input").Add(float64(input))
	m.tokensUsed.WithLabelValues(string(provider), "output").Add(float64(output))
}
