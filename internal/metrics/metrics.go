// Package metrics holds the server's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duoeng_requests_total",
		Help: "Total HTTP requests.",
	}, []string{"method", "path", "status"})

	ScoringCallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duoeng_scoring_calls_total",
		Help: "Total remote scoring oracle calls.",
	})

	ScoringTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duoeng_scoring_timeouts_total",
		Help: "Remote scoring calls that timed out or failed.",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duoeng_active_rooms",
		Help: "Rooms with at least one live websocket connection.",
	})
)
