package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors are labelled by breaker target, "konnect" in this service.
var (
	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "provider_circuit_state",
		Help: "Provider circuit state (0 closed, 1 open, 2 half open).",
	}, []string{"target"})

	CircuitTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_circuit_transitions_total",
		Help: "Provider circuit state changes.",
	}, []string{"target", "from", "to"})

	CircuitRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_circuit_rejected_total",
		Help: "Provider calls refused without reaching the network.",
	}, []string{"target"})
)
