package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// nolint:gochecknoglobals
var (
	prometheusRoomCreateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "room_create_total",
		Help: "Total number of rooms created",
	})

	prometheusGatewayConnTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_conn_total",
		Help: "Total number of accepted gateway websocket connections",
	})

	prometheusGatewayConnActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_conn_active",
		Help: "Number of active gateway websocket connections",
	})

	prometheusGatewayConnErrTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_conn_err_total",
		Help: "Total number of gateway websocket connection errors",
	})

	prometheusGatewayRequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_request_total",
		Help: "Total number of gateway requests by type",
	}, []string{"type"})
)
