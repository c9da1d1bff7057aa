package esptls

//
// Metrics definitions
//

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsSummaryObjectives returns the summary objectives for promauto.NewSummaryVec.
func metricsSummaryObjectives() map[float64]float64 {
	return map[float64]float64{
		0.25: 0.010,
		0.5:  0.010,
		0.75: 0.010,
		0.9:  0.010,
		0.99: 0.001,
	}
}

var (
	// metricConnectionsCount counts the connections reaching a terminal state.
	metricConnectionsCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esptls_connections_count",
		Help: "Total number of connections that succeeded or failed",
	}, []string{"role", "result"})

	// metricFailuresCount counts the failures by status.
	metricFailuresCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esptls_failures_count",
		Help: "Total number of failed connections by failure status",
	}, []string{"status"})

	// metricConnectionsInflight gauges the number of connections not closed yet.
	metricConnectionsInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "esptls_connections_inflight_gauge",
		Help: "The number of connections that have not been closed yet",
	})

	// metricHandshakeDurationSeconds summarizes the duration of successful handshakes.
	metricHandshakeDurationSeconds = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name:       "esptls_handshake_duration_seconds",
		Help:       "Summarizes the time to complete the TLS handshake (in seconds)",
		Objectives: metricsSummaryObjectives(),
	}, []string{"role"})
)
