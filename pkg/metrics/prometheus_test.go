package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"webapp-anomaly-monitor/pkg/anomaly"
	"webapp-anomaly-monitor/pkg/models"
)

func newTestExporter(t *testing.T) (*PrometheusExporter, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	return NewPrometheusExporterWithRegistry("test", registry), registry
}

func TestPrometheusExporter_RecordIngest(t *testing.T) {
	exporter, _ := newTestExporter(t)

	exporter.RecordIngest("checkout")
	exporter.RecordIngest("checkout")
	exporter.RecordIngest("search")

	if count := testutil.ToFloat64(exporter.SamplesIngested.WithLabelValues("checkout")); count != 2.0 {
		t.Errorf("Expected checkout count 2.0, got %f", count)
	}
	if count := testutil.ToFloat64(exporter.SamplesIngested.WithLabelValues("search")); count != 1.0 {
		t.Errorf("Expected search count 1.0, got %f", count)
	}
}

func TestPrometheusExporter_RecordIngestError(t *testing.T) {
	exporter, _ := newTestExporter(t)

	exporter.RecordIngestError("checkout", models.DimensionErrorRate)

	count := testutil.ToFloat64(exporter.IngestErrors.WithLabelValues("checkout", "errorRate"))
	if count != 1.0 {
		t.Errorf("Expected 1 ingest error, got %f", count)
	}
}

func TestPrometheusExporter_RecordVerdict(t *testing.T) {
	exporter, _ := newTestExporter(t)

	verdict := anomaly.AnomalyVerdict{
		IsAnomalous: true,
		PerDimensionScore: map[models.Dimension]float64{
			models.DimensionResponseTime:   12.5,
			models.DimensionErrorRate:      0.4,
			models.DimensionUserEngagement: 0,
		},
		CombinedScore: 12.5,
	}
	exporter.RecordVerdict("checkout", verdict, 0.0001)

	if v := testutil.ToFloat64(exporter.Evaluations.WithLabelValues("checkout", ResultAnomalous)); v != 1.0 {
		t.Errorf("Expected 1 anomalous evaluation, got %f", v)
	}
	if v := testutil.ToFloat64(exporter.CombinedScore.WithLabelValues("checkout")); v != 12.5 {
		t.Errorf("Expected combined score 12.5, got %f", v)
	}
	if v := testutil.ToFloat64(exporter.Anomalous.WithLabelValues("checkout")); v != 1.0 {
		t.Errorf("Expected anomalous gauge 1, got %f", v)
	}
	if v := testutil.ToFloat64(exporter.DimensionScore.WithLabelValues("checkout", "errorRate")); v != 0.4 {
		t.Errorf("Expected errorRate score 0.4, got %f", v)
	}

	// a normal verdict flips the gauge back
	verdict.IsAnomalous = false
	verdict.CombinedScore = 0.3
	exporter.RecordVerdict("checkout", verdict, 0.0001)

	if v := testutil.ToFloat64(exporter.Anomalous.WithLabelValues("checkout")); v != 0 {
		t.Errorf("Expected anomalous gauge 0, got %f", v)
	}
	if v := testutil.ToFloat64(exporter.Evaluations.WithLabelValues("checkout", ResultNormal)); v != 1.0 {
		t.Errorf("Expected 1 normal evaluation, got %f", v)
	}
}

func TestPrometheusExporter_Lifecycle(t *testing.T) {
	exporter, _ := newTestExporter(t)

	exporter.RecordInsufficientData("checkout")
	exporter.RecordDetectorReady("checkout", true)

	if v := testutil.ToFloat64(exporter.DetectorReady.WithLabelValues("checkout")); v != 1.0 {
		t.Errorf("Expected ready gauge 1, got %f", v)
	}

	exporter.RecordBaselineReset("checkout", "scheduled")

	if v := testutil.ToFloat64(exporter.DetectorReady.WithLabelValues("checkout")); v != 0 {
		t.Errorf("Expected ready gauge 0 after reset, got %f", v)
	}
	if v := testutil.ToFloat64(exporter.BaselineResets.WithLabelValues("checkout", "scheduled")); v != 1.0 {
		t.Errorf("Expected 1 scheduled reset, got %f", v)
	}
	if v := testutil.ToFloat64(exporter.Evaluations.WithLabelValues("checkout", ResultInsufficientData)); v != 1.0 {
		t.Errorf("Expected 1 insufficient data evaluation, got %f", v)
	}
}

func TestPrometheusExporter_Alerts(t *testing.T) {
	exporter, registry := newTestExporter(t)

	exporter.RecordAlert("checkout", "error-rate-spike", "critical")
	exporter.RecordSuppressedAlert("checkout", "error-rate-spike")

	expected := `
# HELP test_alerts_fired_total Total number of alerts fired by rule and severity
# TYPE test_alerts_fired_total counter
test_alerts_fired_total{app="checkout",rule="error-rate-spike",severity="critical"} 1
`
	if err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "test_alerts_fired_total"); err != nil {
		t.Errorf("Unexpected alerts metric: %v", err)
	}

	if v := testutil.ToFloat64(exporter.AlertsSuppressed.WithLabelValues("checkout", "error-rate-spike")); v != 1.0 {
		t.Errorf("Expected 1 suppressed alert, got %f", v)
	}
}

func TestNewPrometheusExporterWithRegistry_Isolated(t *testing.T) {
	// separate registries must not collide on metric names
	first, _ := newTestExporter(t)
	second, _ := newTestExporter(t)

	first.RecordIngest("a")
	if v := testutil.ToFloat64(second.SamplesIngested.WithLabelValues("a")); v != 0 {
		t.Errorf("Expected isolated exporters, got %f", v)
	}
}
