package invite

import "github.com/prometheus/client_golang/prometheus"

var (
	issuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "portal",
		Subsystem: "invitations",
		Name:      "issued_total",
		Help:      "Invitations issued.",
	})
	acceptanceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Subsystem: "invitations",
		Name:      "acceptance_total",
		Help:      "Acceptance outcomes by final state.",
	}, []string{"state"})
)

// Collectors returns the package metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{issuedTotal, acceptanceTotal}
}
