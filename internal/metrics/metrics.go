package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline holds the collectors for the sale ingestion pipeline
type Pipeline struct {
	registry *prometheus.Registry

	salesSubmitted       prometheus.Counter
	salesRejected        *prometheus.CounterVec
	salesDeleted         prometheus.Counter
	achievementsUnlocked prometheus.Counter
	retries              prometheus.Counter
	duration             prometheus.Histogram
}

// New registers the pipeline collectors on registry
func New(registry *prometheus.Registry) *Pipeline {
	m := &Pipeline{
		registry: registry,
		salesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "salesarena",
			Name:      "sales_submitted_total",
			Help:      "Sales committed by the ingestion pipeline.",
		}),
		salesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salesarena",
			Name:      "sales_rejected_total",
			Help:      "Sale submissions that did not commit, by reason.",
		}, []string{"reason"}),
		salesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "salesarena",
			Name:      "sales_deleted_total",
			Help:      "Sales removed with compensating recomputation.",
		}),
		achievementsUnlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "salesarena",
			Name:      "achievements_unlocked_total",
			Help:      "Achievements minted from goal completions.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "salesarena",
			Name:      "pipeline_retries_total",
			Help:      "Pipeline transactions retried after a serialization conflict.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "salesarena",
			Name:      "pipeline_duration_seconds",
			Help:      "Wall time of one sale pipeline including retries.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		m.salesSubmitted,
		m.salesRejected,
		m.salesDeleted,
		m.achievementsUnlocked,
		m.retries,
		m.duration,
	)
	return m
}

// NewNop returns collectors registered on a private registry
func NewNop() *Pipeline {
	return New(prometheus.NewRegistry())
}

func (m *Pipeline) SaleCommitted(achievements int, took time.Duration) {
	m.salesSubmitted.Inc()
	m.achievementsUnlocked.Add(float64(achievements))
	m.duration.Observe(took.Seconds())
}

func (m *Pipeline) SaleRejected(reason string) {
	m.salesRejected.WithLabelValues(reason).Inc()
}

func (m *Pipeline) SaleDeleted() {
	m.salesDeleted.Inc()
}

func (m *Pipeline) Retried() {
	m.retries.Inc()
}

// Handler exposes the registry in the Prometheus text format
func (m *Pipeline) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
