package events

import (
	"fmt"

	"webapp-anomaly-monitor/pkg/anomaly"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	typedcorev1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/tools/record"
	"k8s.io/klog/v2"
)

const (
	ReasonAnomalyDetected = "AnomalyDetected"
	ReasonAnomalyCleared  = "AnomalyCleared"
	ReasonBaselineReset   = "BaselineReset"
)

// AnomalyEventRecorder publishes verdict transitions as Kubernetes events on
// the workload serving the monitored application
type AnomalyEventRecorder struct {
	recorder record.EventRecorder
}

func NewAnomalyEventRecorder(recorder record.EventRecorder) *AnomalyEventRecorder {
	return &AnomalyEventRecorder{recorder: recorder}
}

// NewBroadcastRecorder builds a recorder that writes events through kubeClient.
// The returned shutdown func stops the broadcaster.
func NewBroadcastRecorder(kubeClient kubernetes.Interface, component string) (*AnomalyEventRecorder, func()) {
	broadcaster := record.NewBroadcaster()
	broadcaster.StartStructuredLogging(4)
	broadcaster.StartRecordingToSink(&typedcorev1.EventSinkImpl{
		Interface: kubeClient.CoreV1().Events(""),
	})

	recorder := broadcaster.NewRecorder(scheme.Scheme, corev1.EventSource{Component: component})
	klog.V(2).Infof("Event broadcaster started for component %s", component)

	return NewAnomalyEventRecorder(recorder), broadcaster.Shutdown
}

// RecordAnomalyDetected emits a warning when an application turns anomalous
func (e *AnomalyEventRecorder) RecordAnomalyDetected(ref *corev1.ObjectReference, app string, verdict anomaly.AnomalyVerdict) {
	if e == nil || e.recorder == nil || ref == nil {
		return
	}
	e.recorder.Event(ref, corev1.EventTypeWarning, ReasonAnomalyDetected,
		fmt.Sprintf("%s: %s", app, verdict.Summary()))
}

// RecordAnomalyCleared emits a normal event when an application recovers
func (e *AnomalyEventRecorder) RecordAnomalyCleared(ref *corev1.ObjectReference, app string, verdict anomaly.AnomalyVerdict) {
	if e == nil || e.recorder == nil || ref == nil {
		return
	}
	e.recorder.Eventf(ref, corev1.EventTypeNormal, ReasonAnomalyCleared,
		"%s back to normal (combined score %.2f, threshold %.2f)", app, verdict.CombinedScore, verdict.Threshold)
}

func (e *AnomalyEventRecorder) RecordBaselineReset(ref *corev1.ObjectReference, app, trigger string) {
	if e == nil || e.recorder == nil || ref == nil {
		return
	}
	e.recorder.Eventf(ref, corev1.EventTypeNormal, ReasonBaselineReset,
		"Baseline of %s reset (%s), detector warming up", app, trigger)
}
