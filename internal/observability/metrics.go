package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for runs. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// RunsStarted counts runs that passed validation and were created.
	RunsStarted prometheus.Counter

	// RunsFinished counts finished runs. Labels: status
	RunsFinished *prometheus.CounterVec

	// MessagesEmitted counts streamed events carrying a message.
	// Labels: message_type, should_send
	MessagesEmitted *prometheus.CounterVec

	// ModelCallDuration measures model latency in seconds. Labels: provider, model, status
	ModelCallDuration *prometheus.HistogramVec

	// ToolCalls counts tool invocations. Labels: tool, outcome
	ToolCalls *prometheus.CounterVec

	// InFlightRequests tracks requests currently being served.
	InFlightRequests prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// Pass nil to get unregistered collectors, which is what tests do.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "threadrun_runs_started_total",
			Help: "Runs created.",
		}),
		RunsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "threadrun_runs_finished_total",
			Help: "Runs finished by final status.",
		}, []string{"status"}),
		MessagesEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "threadrun_messages_emitted_total",
			Help: "Messages streamed to callers.",
		}, []string{"message_type", "should_send"}),
		ModelCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "threadrun_model_call_duration_seconds",
			Help:    "Duration of model calls in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model", "status"}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "threadrun_tool_calls_total",
			Help: "Tool invocations by outcome.",
		}, []string{"tool", "outcome"}),
		InFlightRequests: f.NewGauge(prometheus.GaugeOpts{
			Name: "threadrun_in_flight_requests",
			Help: "HTTP requests currently being served.",
		}),
	}
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsStarted.Inc()
}

func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.RunsFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) MessageEmitted(messageType string, shouldSend bool) {
	if m == nil {
		return
	}
	m.MessagesEmitted.WithLabelValues(messageType, strconv.FormatBool(shouldSend)).Inc()
}

func (m *Metrics) ObserveModelCall(provider, model string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ModelCallDuration.WithLabelValues(provider, model, status).Observe(d.Seconds())
}

func (m *Metrics) ToolCalled(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) RequestStarted() {
	if m == nil {
		return
	}
	m.InFlightRequests.Inc()
}

func (m *Metrics) RequestFinished() {
	if m == nil {
		return
	}
	m.InFlightRequests.Dec()
}
