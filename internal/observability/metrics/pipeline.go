package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
)

// PipelineMetrics implements ports.PipelineObserver. StateChanged matches
// resilience.StateObserver so breaker transitions land on the same registry.
type PipelineMetrics struct {
	service string

	intentsTotal     *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	fanoutTasks      *prometheus.CounterVec
	rerankFallbacks  *prometheus.CounterVec
	validationsTotal *prometheus.CounterVec
	validationTries  *prometheus.HistogramVec
	refusalsTotal    *prometheus.CounterVec
	breakerChanges   *prometheus.CounterVec
}

func NewPipelineMetrics(service string, registerer prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		service: service,
		intentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "intents_total",
			Help:      "Classified queries by intent.",
		}, []string{"service", "intent"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Query cache lookups by result.",
		}, []string{"service", "result"}),
		fanoutTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "fanout_tasks_total",
			Help:      "Per-book search tasks by status.",
		}, []string{"service", "status"}),
		rerankFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "rerank_fallback_total",
			Help:      "Retrievals that kept similarity scores because reranking failed.",
		}, []string{"service"}),
		validationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "results_total",
			Help:      "Final validation verdicts.",
		}, []string{"service", "valid"}),
		validationTries: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "attempts",
			Help:      "Generation attempts per answer.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}, []string{"service"}),
		refusalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "refusals_total",
			Help:      "Refused answers by reason.",
		}, []string{"service", "reason"}),
		breakerChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions by operation.",
		}, []string{"service", "operation", "from", "to"}),
	}

	registerer.MustRegister(
		m.intentsTotal,
		m.cacheLookups,
		m.fanoutTasks,
		m.rerankFallbacks,
		m.validationsTotal,
		m.validationTries,
		m.refusalsTotal,
		m.breakerChanges,
	)
	return m
}

func (m *PipelineMetrics) IntentClassified(intent domain.Intent) {
	m.intentsTotal.WithLabelValues(m.service, string(intent)).Inc()
}

func (m *PipelineMetrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(m.service, result).Inc()
}

func (m *PipelineMetrics) FanoutTask(status string) {
	m.fanoutTasks.WithLabelValues(m.service, status).Inc()
}

func (m *PipelineMetrics) RerankFallback() {
	m.rerankFallbacks.WithLabelValues(m.service).Inc()
}

func (m *PipelineMetrics) Validation(valid bool, attempts int) {
	m.validationsTotal.WithLabelValues(m.service, strconv.FormatBool(valid)).Inc()
	if attempts > 0 {
		m.validationTries.WithLabelValues(m.service).Observe(float64(attempts))
	}
}

func (m *PipelineMetrics) Refusal(reason string) {
	m.refusalsTotal.WithLabelValues(m.service, reason).Inc()
}

func (m *PipelineMetrics) StateChanged(operation, from, to string) {
	m.breakerChanges.WithLabelValues(m.service, operation, from, to).Inc()
}
