package roof

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the pipeline's Prometheus collectors. A nil *Metrics is a
// no-op so components can record unconditionally.
type Metrics struct {
	gatherer prometheus.Gatherer

	StageDurations  *prometheus.HistogramVec
	Measurements    *prometheus.CounterVec
	ProviderResults *prometheus.CounterVec
	QAScores        prometheus.Histogram
}

// NewMetrics registers the collectors against reg, defaulting to the global
// Prometheus registry when nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	stages, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roofmesh_stage_duration_seconds",
		Help:    "Wall-clock time per pipeline stage, labeled by stage and outcome.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"stage", "outcome"}), "roofmesh_stage_duration_seconds")
	if err != nil {
		return nil, err
	}

	measurements, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roofmesh_measurements_total",
		Help: "Completed measurements, labeled by outcome (passed, review, failed, no_footprint).",
	}, []string{"outcome"}), "roofmesh_measurements_total")
	if err != nil {
		return nil, err
	}

	providers, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roofmesh_provider_results_total",
		Help: "Footprint provider attempts, labeled by source and fallback reason (ok on success).",
	}, []string{"source", "reason"}), "roofmesh_provider_results_total")
	if err != nil {
		return nil, err
	}

	scores, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "roofmesh_qa_score",
		Help:    "Distribution of QA gate overall scores.",
		Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
	}), "roofmesh_qa_score")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		gatherer:        gatherer,
		StageDurations:  stages,
		Measurements:    measurements,
		ProviderResults: providers,
		QAScores:        scores,
	}, nil
}

// ObserveStage records one stage's duration.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.StageDurations.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

// ObserveProvider counts one footprint provider attempt.
func (m *Metrics) ObserveProvider(source, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "ok"
	}
	m.ProviderResults.WithLabelValues(source, reason).Inc()
}

// ObserveMeasurement counts a finished measurement and its QA score.
func (m *Metrics) ObserveMeasurement(result *MeasurementResult) {
	if m == nil || result == nil {
		return
	}
	m.Measurements.WithLabelValues(MeasurementOutcome(result)).Inc()
	if result.QA != nil {
		m.QAScores.Observe(result.QA.OverallScore)
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Measurement outcomes used as the measurements_total label.
const (
	OutcomePassed      = "passed"
	OutcomeReview      = "review"
	OutcomeFailed      = "failed"
	OutcomeNoFootprint = "no_footprint"
)

// MeasurementOutcome classifies a result as passed, review, failed or
// no_footprint.
func MeasurementOutcome(r *MeasurementResult) string {
	switch {
	case r == nil || r.Footprint == nil:
		return OutcomeNoFootprint
	case !r.Success || r.QA == nil:
		return OutcomeFailed
	case r.QA.RequiresManualReview:
		return OutcomeReview
	}
	return OutcomePassed
}

// register adds c to reg, reusing an existing collector of the same type.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return c, nil
}
