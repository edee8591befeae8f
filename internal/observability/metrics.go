package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	SessionEvents  *prometheus.CounterVec
	WSMessages     *prometheus.CounterVec
	TurnOutcomes   *prometheus.CounterVec
	StageErrors    *prometheus.CounterVec
	TurnLatency    prometheus.Histogram

	stageWindow *perfWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active voice chat sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		TurnOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_outcomes_total",
			Help:      "Conversation turns by outcome.",
		}, []string{"outcome"}),
		StageErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Turn pipeline failures by stage.",
		}, []string{"stage"}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "End-to-end turn latency in milliseconds.",
			Buckets:   []float64{500, 1000, 2000, 3000, 5000, 8000, 12000, 20000},
		}),
		stageWindow: newPerfWindow(256),
	}
}

// ObserveTurnStage records one pipeline stage duration into the rolling
// latency window.
func (m *Metrics) ObserveTurnStage(stage string, d time.Duration) {
	m.stageWindow.Observe(stage, float64(d.Microseconds())/1000.0)
}

// ObserveTurnLatency records the full turn duration.
func (m *Metrics) ObserveTurnLatency(d time.Duration) {
	m.TurnLatency.Observe(float64(d.Milliseconds()))
	m.stageWindow.Observe("turn_total", float64(d.Microseconds())/1000.0)
}

// ObserveIndicator bumps a named perf indicator in the rolling window.
func (m *Metrics) ObserveIndicator(name string) {
	m.stageWindow.ObserveIndicator(name)
}

// PerfSnapshot summarizes the rolling per-stage latency window.
func (m *Metrics) PerfSnapshot() PerfReport {
	return m.stageWindow.Snapshot()
}

// ResetPerfWindow clears the rolling latency window.
func (m *Metrics) ResetPerfWindow() {
	m.stageWindow.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
