package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsOpen tracks the number of live document sessions.
	SessionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftpad_sessions_open",
			Help: "Number of document sessions currently held in memory",
		},
	)

	// PeersConnected tracks the number of attached connections.
	PeersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftpad_peers_connected",
			Help: "Number of WebSocket peers currently attached",
		},
	)

	// FragmentsApplied counts update fragments merged into sessions.
	FragmentsApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftpad_fragments_applied_total",
			Help: "Total update fragments merged into document state",
		},
	)

	// FragmentsRejected counts fragments that failed to merge.
	FragmentsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftpad_fragments_rejected_total",
			Help: "Total update fragments rejected as malformed",
		},
	)

	// Flushes counts durable snapshot writes by trigger reason.
	Flushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftpad_flushes_total",
			Help: "Total durable snapshot writes by reason",
		},
		[]string{"reason"},
	)

	// FlushErrors counts failed durable snapshot writes.
	FlushErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftpad_flush_errors_total",
			Help: "Total failed durable snapshot writes",
		},
	)

	// Hydrations counts one-time durable loads into fresh sessions.
	Hydrations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftpad_hydrations_total",
			Help: "Total durable loads into fresh document sessions",
		},
	)
)

// Register registers all metrics with the default registry.
func Register() {
	prometheus.MustRegister(
		SessionsOpen,
		PeersConnected,
		FragmentsApplied,
		FragmentsRejected,
		Flushes,
		FlushErrors,
		Hydrations,
	)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
