// Package metrics provides Prometheus instrumentation for the video chat
// server. It exposes gauges for connection, lobby, and room counts, and
// counters for match, message, and signaling throughput.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "videovhat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// AvailableUsers tracks the current number of users waiting in the lobby.
	AvailableUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "videovhat_available_users",
		Help: "Current number of users available for matching",
	})

	// ActiveRooms tracks the current number of active call rooms.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "videovhat_active_rooms",
		Help: "Current number of active two-party rooms",
	})

	// MatchesTotal counts match attempts, labeled by outcome: "found" or
	// "none".
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "videovhat_matches_total",
		Help: "Total number of match attempts by outcome",
	}, []string{"outcome"}) // outcome = "found", "none"

	// MessagesTotal counts chat messages processed, labeled by result:
	// "relayed", "blocked", or "violation".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "videovhat_messages_total",
		Help: "Total number of chat messages processed by result",
	}, []string{"result"}) // result = "relayed", "blocked", "violation"

	// SignalsTotal counts relayed signaling frames, labeled by kind: "offer",
	// "answer", or "ice".
	SignalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "videovhat_signals_total",
		Help: "Total number of signaling frames relayed by kind",
	}, []string{"kind"})

	// ViolationBansTotal counts moderation bans issued.
	ViolationBansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "videovhat_violation_bans_total",
		Help: "Total number of moderation bans issued",
	})

	// MatchDuration records the time spent inside a single match attempt.
	MatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "videovhat_match_duration_seconds",
		Help:    "Time spent selecting and claiming a match",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		AvailableUsers,
		ActiveRooms,
		MatchesTotal,
		MessagesTotal,
		SignalsTotal,
		ViolationBansTotal,
		MatchDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
