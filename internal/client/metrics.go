package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helix_forward_breaker_state",
		Help: "State of the Longbow forwarding circuit breaker (0 closed, 1 open, 2 half-open)",
	})

	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helix_forward_breaker_transitions_total",
		Help: "Circuit breaker state transitions by target state",
	}, []string{"state"})
)
