package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RateLimitBlockTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trafficpulse",
			Name:      "ratelimit_block_total",
			Help:      "Total number of http requests rejected by the rate limiter.",
		},
		[]string{"route"},
	)

	CBRejectTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trafficpulse",
			Name:      "circuitbreaker_reject_total",
			Help:      "Total number of calls rejected by an open circuit breaker.",
		},
		[]string{"name"},
	)

	CBState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "trafficpulse",
			Name:      "circuitbreaker_state",
			Help:      "Circuit breaker state (0/1).",
		},
		[]string{"name", "state"}, // state: closed/open/half-open
	)
)
