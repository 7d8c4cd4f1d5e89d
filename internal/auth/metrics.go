package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for auth operations.
type Metrics struct {
	Logins         *prometheus.CounterVec
	AuthFailures   *prometheus.CounterVec
	SessionsIssued prometheus.Counter
	Challenges     prometheus.Counter
}

// NewMetrics registers and returns auth metrics collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certifychain_logins_total",
			Help: "Total number of successful logins by method",
		}, []string{"method"}),
		AuthFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certifychain_auth_failures_total",
			Help: "Total number of rejected authentication attempts by method",
		}, []string{"method"}),
		SessionsIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "certifychain_sessions_issued_total",
			Help: "Total number of session tokens issued",
		}),
		Challenges: factory.NewCounter(prometheus.CounterOpts{
			Name: "certifychain_wallet_challenges_total",
			Help: "Total number of wallet challenges issued",
		}),
	}
}
