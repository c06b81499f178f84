package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"webapp-anomaly-monitor/pkg/anomaly"
	"webapp-anomaly-monitor/pkg/models"
)

// Evaluation results used as the "result" label
const (
	ResultNormal           = "normal"
	ResultAnomalous        = "anomalous"
	ResultInsufficientData = "insufficient_data"
)

// PrometheusExporter exposes detector metrics to Prometheus
type PrometheusExporter struct {
	// Ingestion metrics
	SamplesIngested *prometheus.CounterVec
	IngestErrors    *prometheus.CounterVec
	BehaviorEvents  *prometheus.CounterVec

	// Evaluation metrics
	Evaluations        *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec
	DimensionScore     *prometheus.GaugeVec
	CombinedScore      *prometheus.GaugeVec
	Anomalous          *prometheus.GaugeVec

	// Lifecycle metrics
	DetectorReady  *prometheus.GaugeVec
	BaselineResets *prometheus.CounterVec

	// Alerting metrics
	AlertsFired      *prometheus.CounterVec
	AlertsSuppressed *prometheus.CounterVec
}

// NewPrometheusExporter creates an exporter registered with the default registry
func NewPrometheusExporter(namespace string) *PrometheusExporter {
	return NewPrometheusExporterWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewPrometheusExporterWithRegistry creates an exporter registered with reg
func NewPrometheusExporterWithRegistry(namespace string, reg prometheus.Registerer) *PrometheusExporter {
	factory := promauto.With(reg)

	return &PrometheusExporter{
		SamplesIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "samples_ingested_total",
				Help:      "Total number of metric samples ingested per application",
			},
			[]string{"app"},
		),
		IngestErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_errors_total",
				Help:      "Total number of rejected samples by dimension",
			},
			[]string{"app", "dimension"},
		),
		BehaviorEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "user_behavior_events_total",
				Help:      "Total number of user behavior events tracked",
			},
			[]string{"app"},
		),

		Evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total number of evaluations by result (normal/anomalous/insufficient_data)",
			},
			[]string{"app", "result"},
		),
		EvaluationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of an evaluation in seconds",
				Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
			},
			[]string{"app"},
		),
		DimensionScore: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dimension_score",
				Help:      "Latest normalized deviation score per dimension",
			},
			[]string{"app", "dimension"},
		),
		CombinedScore: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "combined_score",
				Help:      "Latest combined anomaly score (worst dimension)",
			},
			[]string{"app"},
		),
		Anomalous: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "anomalous",
				Help:      "Whether the latest verdict is anomalous (1) or not (0)",
			},
			[]string{"app"},
		),

		DetectorReady: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "detector_ready",
				Help:      "Whether the detector has enough samples to score (1) or is warming (0)",
			},
			[]string{"app"},
		),
		BaselineResets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "baseline_resets_total",
				Help:      "Total number of baseline resets by trigger",
			},
			[]string{"app", "trigger"},
		),

		AlertsFired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_fired_total",
				Help:      "Total number of alerts fired by rule and severity",
			},
			[]string{"app", "rule", "severity"},
		),
		AlertsSuppressed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_suppressed_total",
				Help:      "Total number of alerts suppressed by maintenance windows",
			},
			[]string{"app", "rule"},
		),
	}
}

// RecordIngest records an accepted sample
func (e *PrometheusExporter) RecordIngest(app string) {
	e.SamplesIngested.WithLabelValues(app).Inc()
}

// RecordIngestError records a rejected sample
func (e *PrometheusExporter) RecordIngestError(app string, dimension models.Dimension) {
	e.IngestErrors.WithLabelValues(app, string(dimension)).Inc()
}

// RecordBehaviorEvent records a tracked user behavior event
func (e *PrometheusExporter) RecordBehaviorEvent(app string) {
	e.BehaviorEvents.WithLabelValues(app).Inc()
}

// RecordVerdict records the scores of a completed evaluation
func (e *PrometheusExporter) RecordVerdict(app string, verdict anomaly.AnomalyVerdict, seconds float64) {
	result := ResultNormal
	anomalous := 0.0
	if verdict.IsAnomalous {
		result = ResultAnomalous
		anomalous = 1
	}

	e.Evaluations.WithLabelValues(app, result).Inc()
	e.EvaluationDuration.WithLabelValues(app).Observe(seconds)
	e.CombinedScore.WithLabelValues(app).Set(verdict.CombinedScore)
	e.Anomalous.WithLabelValues(app).Set(anomalous)

	for d, score := range verdict.PerDimensionScore {
		e.DimensionScore.WithLabelValues(app, string(d)).Set(score)
	}
}

// RecordInsufficientData records an evaluation attempted while warming
func (e *PrometheusExporter) RecordInsufficientData(app string) {
	e.Evaluations.WithLabelValues(app, ResultInsufficientData).Inc()
}

// RecordDetectorReady records the detector lifecycle state
func (e *PrometheusExporter) RecordDetectorReady(app string, ready bool) {
	value := 0.0
	if ready {
		value = 1
	}
	e.DetectorReady.WithLabelValues(app).Set(value)
}

// RecordBaselineReset records a baseline reset
func (e *PrometheusExporter) RecordBaselineReset(app, trigger string) {
	e.BaselineResets.WithLabelValues(app, trigger).Inc()
	e.DetectorReady.WithLabelValues(app).Set(0)
}

// RecordAlert records a fired alert
func (e *PrometheusExporter) RecordAlert(app, rule, severity string) {
	e.AlertsFired.WithLabelValues(app, rule, severity).Inc()
}

// RecordSuppressedAlert records an alert silenced by a maintenance window
func (e *PrometheusExporter) RecordSuppressedAlert(app, rule string) {
	e.AlertsSuppressed.WithLabelValues(app, rule).Inc()
}
