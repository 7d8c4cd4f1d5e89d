package verification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for verification.
type Metrics struct {
	Verifications      *prometheus.CounterVec
	BatchVerifications prometheus.Counter
	BatchItems         prometheus.Histogram
}

// NewMetrics registers and returns verification collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certifychain_verifications_total",
			Help: "Total number of logged verifications by result",
		}, []string{"result"}),
		BatchVerifications: factory.NewCounter(prometheus.CounterOpts{
			Name: "certifychain_batch_verifications_total",
			Help: "Total number of batch verification requests",
		}),
		BatchItems: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "certifychain_batch_verification_items",
			Help:    "Number of identifiers per batch verification request",
			Buckets: []float64{1, 5, 10, 25, 50},
		}),
	}
}
