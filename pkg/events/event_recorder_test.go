package events

import (
	"strings"
	"testing"

	"webapp-anomaly-monitor/pkg/anomaly"
	"webapp-anomaly-monitor/pkg/models"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/tools/record"
)

func testRef() *corev1.ObjectReference {
	return &corev1.ObjectReference{
		Kind:       "Deployment",
		APIVersion: "apps/v1",
		Namespace:  "shop",
		Name:       "checkout",
	}
}

func anomalousVerdict() anomaly.AnomalyVerdict {
	return anomaly.AnomalyVerdict{
		IsAnomalous: true,
		PerDimensionScore: map[models.Dimension]float64{
			models.DimensionResponseTime:   3500,
			models.DimensionErrorRate:      0,
			models.DimensionUserEngagement: 0,
		},
		CombinedScore:  3500,
		WorstDimension: models.DimensionResponseTime,
		Severity:       anomaly.SeverityCritical,
		Threshold:      3,
	}
}

func TestAnomalyEventRecorder_Events(t *testing.T) {
	tests := []struct {
		name       string
		record     func(e *AnomalyEventRecorder)
		wantType   string
		wantReason string
	}{
		{
			name: "anomaly detected",
			record: func(e *AnomalyEventRecorder) {
				e.RecordAnomalyDetected(testRef(), "checkout", anomalousVerdict())
			},
			wantType:   corev1.EventTypeWarning,
			wantReason: ReasonAnomalyDetected,
		},
		{
			name: "anomaly cleared",
			record: func(e *AnomalyEventRecorder) {
				e.RecordAnomalyCleared(testRef(), "checkout", anomaly.AnomalyVerdict{Threshold: 3})
			},
			wantType:   corev1.EventTypeNormal,
			wantReason: ReasonAnomalyCleared,
		},
		{
			name: "baseline reset",
			record: func(e *AnomalyEventRecorder) {
				e.RecordBaselineReset(testRef(), "checkout", "scheduled")
			},
			wantType:   corev1.EventTypeNormal,
			wantReason: ReasonBaselineReset,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fakeRecorder := record.NewFakeRecorder(10)
			tt.record(NewAnomalyEventRecorder(fakeRecorder))

			select {
			case event := <-fakeRecorder.Events:
				if !strings.HasPrefix(event, tt.wantType+" "+tt.wantReason+" ") {
					t.Errorf("Expected %s %s event, got %q", tt.wantType, tt.wantReason, event)
				}
				if !strings.Contains(event, "checkout") {
					t.Errorf("Expected event to name the app, got %q", event)
				}
			default:
				t.Fatal("Expected an event to be recorded")
			}
		})
	}
}

func TestAnomalyEventRecorder_NoOp(t *testing.T) {
	fakeRecorder := record.NewFakeRecorder(10)
	recorder := NewAnomalyEventRecorder(fakeRecorder)

	recorder.RecordAnomalyDetected(nil, "checkout", anomalousVerdict())
	if len(fakeRecorder.Events) != 0 {
		t.Errorf("Expected no event without a workload reference, got %d", len(fakeRecorder.Events))
	}

	var nilRecorder *AnomalyEventRecorder
	nilRecorder.RecordBaselineReset(testRef(), "checkout", "manual")
	NewAnomalyEventRecorder(nil).RecordAnomalyCleared(testRef(), "checkout", anomaly.AnomalyVerdict{})
}

func TestNewBroadcastRecorder(t *testing.T) {
	recorder, shutdown := NewBroadcastRecorder(fake.NewSimpleClientset(), "anomaly-monitor")
	defer shutdown()

	if recorder == nil || recorder.recorder == nil {
		t.Fatal("Expected a recorder backed by the broadcaster")
	}
	recorder.RecordBaselineReset(testRef(), "checkout", "manual")
}
