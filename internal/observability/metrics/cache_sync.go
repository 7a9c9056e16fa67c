package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CacheSyncMetrics tracks cache clear events received from other replicas.
type CacheSyncMetrics struct {
	service     string
	eventsTotal *prometheus.CounterVec
	eventLag    *prometheus.HistogramVec
}

func NewCacheSyncMetrics(service string, registerer prometheus.Registerer) *CacheSyncMetrics {
	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "clear_events_total",
			Help:      "Cache clear events from peers by status.",
		},
		[]string{"service", "status"},
	)
	eventLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "clear_event_lag_seconds",
			Help:      "Delay between a peer clearing its cache and this replica applying it.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"service"},
	)

	registerer.MustRegister(eventsTotal, eventLag)

	return &CacheSyncMetrics{
		service:     service,
		eventsTotal: eventsTotal,
		eventLag:    eventLag,
	}
}

// ObserveEvent matches the nats adapter's event hook.
func (m *CacheSyncMetrics) ObserveEvent(lag time.Duration, err error) {
	status := "applied"
	if err != nil {
		status = "error"
	}
	m.eventsTotal.WithLabelValues(m.service, status).Inc()
	if lag >= 0 {
		m.eventLag.WithLabelValues(m.service).Observe(lag.Seconds())
	}
}
