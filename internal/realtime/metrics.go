package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zenlist_realtime_connections",
		Help: "Open WebSocket connections",
	})

	PublishedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zenlist_realtime_published_total",
		Help: "Frames published to user rooms",
	}, []string{"event", "result"})
)
