// Package metrics defines the Prometheus instruments for predictions and form sessions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prediction outcomes used as the "outcome" label.
const (
	OutcomeSuccess        = "success"
	OutcomeValidation     = "validation_error"
	OutcomeSchemaMismatch = "schema_mismatch"
	OutcomeInference      = "inference_error"
)

// EventUnknown labels form events whose kind is not recognised, keeping the
// "event" label bounded.
const EventUnknown = "unknown"

// Metrics provides observability for predictions and form sessions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Prediction attempts by outcome
	Predictions *prometheus.CounterVec

	// Time spent inside the predictor
	InferenceLatency prometheus.Histogram

	// Sessions currently held in memory
	ActiveSessions prometheus.Gauge

	// Form events applied, by event kind
	FormEvents *prometheus.CounterVec
}

// New creates a Metrics instance registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carprice_predictions_total",
			Help: "Total prediction attempts by outcome",
		}, []string{"outcome"}),

		InferenceLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "carprice_inference_duration_seconds",
			Help:    "Duration of predictor inference calls",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "carprice_active_sessions",
			Help: "Number of form sessions currently held in memory",
		}),

		FormEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carprice_form_events_total",
			Help: "Form events applied, by event kind",
		}, []string{"event"}),
	}
}

// IncrementPrediction records a prediction attempt outcome.
func (m *Metrics) IncrementPrediction(outcome string) {
	if m != nil {
		m.Predictions.WithLabelValues(outcome).Inc()
	}
}

// ObserveInference records the duration of a single predictor call.
func (m *Metrics) ObserveInference(d time.Duration) {
	if m != nil {
		m.InferenceLatency.Observe(d.Seconds())
	}
}

// SetActiveSessions records the current session count.
func (m *Metrics) SetActiveSessions(n int) {
	if m != nil {
		m.ActiveSessions.Set(float64(n))
	}
}

// IncrementFormEvent records an applied form event.
func (m *Metrics) IncrementFormEvent(kind string) {
	if m != nil {
		m.FormEvents.WithLabelValues(kind).Inc()
	}
}
