package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiz_rooms_created_total",
		Help: "Rooms created since process start.",
	})

	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quiz_rooms_active",
		Help: "Rooms currently live.",
	})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quiz_connections_active",
		Help: "Websocket connections currently open.",
	})

	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiz_events_received_total",
		Help: "Inbound client events by name.",
	}, []string{"event"})
)
