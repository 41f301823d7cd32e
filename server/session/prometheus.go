package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var prometheusSessionStartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "session_start_total",
	Help: "Total number of started sessions",
}, []string{"role"})

var prometheusSessionActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "session_active",
	Help: "Number of currently active sessions",
})

var prometheusChatMessageTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chat_message_total",
	Help: "Total number of sent chat messages",
})
