package negotiator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var prometheusNegotiationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "negotiation_total",
	Help: "Total number of published offers and answers",
}, []string{"role"})

var prometheusReconnectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reconnect_total",
	Help: "Total number of scheduled reconnect attempts",
}, []string{"role"})

var prometheusCandidateQueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "candidate_queued_total",
	Help: "Total number of remote candidates queued before the remote description",
})

var prometheusCandidateAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "candidate_applied_total",
	Help: "Total number of remote candidates applied to a peer connection",
})
