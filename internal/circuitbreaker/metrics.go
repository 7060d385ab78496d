package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jimini_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"target"},
	)

	breakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jimini_circuit_breaker_state_changes_total",
			Help: "Total number of state changes in circuit breaker",
		},
		[]string{"target", "from_state", "to_state"},
	)
)

func recordState(target string, state State) {
	breakerState.WithLabelValues(target).Set(float64(state))
}

func recordStateChange(target string, from, to State) {
	breakerStateChanges.WithLabelValues(target, from.String(), to.String()).Inc()
	recordState(target, to)
}
