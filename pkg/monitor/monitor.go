package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"webapp-anomaly-monitor/pkg/alert"
	"webapp-anomaly-monitor/pkg/anomaly"
	"webapp-anomaly-monitor/pkg/detector"
	"webapp-anomaly-monitor/pkg/events"
	"webapp-anomaly-monitor/pkg/metrics"
	"webapp-anomaly-monitor/pkg/models"
	"webapp-anomaly-monitor/pkg/scheduler"
	"webapp-anomaly-monitor/pkg/storage"

	"github.com/prometheus/client_golang/prometheus"
	corev1 "k8s.io/api/core/v1"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

// TriggerManual labels resets requested by an operator
const TriggerManual = "manual"

var (
	ErrUnknownApp   = errors.New("unknown app")
	ErrDuplicateApp = errors.New("app already registered")
)

// AppSpec describes an application to monitor
type AppSpec struct {
	Name     string
	Detector detector.Config

	// Workload receives Kubernetes events, none are emitted when nil
	Workload *corev1.ObjectReference

	// MaintenanceWindows suppress alerts while active
	MaintenanceWindows []scheduler.MaintenanceWindow
}

// App is a registered application with its own detector session
type App struct {
	Name string

	session  *detector.Session
	workload *corev1.ObjectReference
	windows  []scheduler.MaintenanceWindow

	mu        sync.Mutex
	behavior  *models.UserBehavior
	anomalous bool

	// evaluatedSeq is the session sequence number of the last scored sample
	evaluatedSeq uint64
}

// State returns the detector state of the app
func (a *App) State() detector.State {
	return a.session.State()
}

// Session returns the detector session of the app
func (a *App) Session() *detector.Session {
	return a.session
}

// Evaluation is the outcome of evaluating one application
type Evaluation struct {
	App     string
	Verdict anomaly.AnomalyVerdict

	// Alerts fired by the rule engine
	Alerts []alert.Alert

	// Suppressed holds alerts silenced by an active maintenance window
	Suppressed []alert.Alert

	// Changed is true when the verdict flipped between normal and anomalous
	Changed bool

	// Repeated is true when the latest sample had already been evaluated.
	// The verdict is returned again without metrics, history, alerts or events.
	Repeated bool
}

// Option configures a Monitor
type Option func(*Monitor)

func WithExporter(exporter *metrics.PrometheusExporter) Option {
	return func(m *Monitor) { m.exporter = exporter }
}

func WithAlertEngine(engine *alert.Engine) Option {
	return func(m *Monitor) { m.alerts = engine }
}

func WithHistory(history *storage.InMemoryStorage) Option {
	return func(m *Monitor) { m.history = history }
}

func WithEventRecorder(recorder *events.AnomalyEventRecorder) Option {
	return func(m *Monitor) { m.events = recorder }
}

// WithClock sets the time source for verdicts and maintenance windows
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// Monitor runs one detector session per registered application and feeds
// every verdict to metrics, history, alert rules and Kubernetes events
type Monitor struct {
	mu   sync.RWMutex
	apps map[string]*App

	exporter *metrics.PrometheusExporter
	alerts   *alert.Engine
	history  *storage.InMemoryStorage
	events   *events.AnomalyEventRecorder
	windows  *scheduler.MaintenanceWindowChecker
	now      func() time.Time
}

// New creates a monitor. Without options it exports to a private registry,
// uses the default alert rules and emits no events.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		apps:    make(map[string]*App),
		windows: scheduler.NewMaintenanceWindowChecker(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.exporter == nil {
		m.exporter = metrics.NewPrometheusExporterWithRegistry("webapp_anomaly", prometheus.NewRegistry())
	}
	if m.alerts == nil {
		m.alerts = alert.NewEngine()
	}
	if m.history == nil {
		m.history = storage.NewStorage(storage.DefaultMaxPerApp)
	}
	return m
}

// Register adds an application with a fresh, warming detector session
func (m *Monitor) Register(spec AppSpec) (*App, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("app name is required")
	}

	for i, window := range spec.MaintenanceWindows {
		if err := m.windows.Validate(window); err != nil {
			return nil, fmt.Errorf("app %s: maintenance window %d: %w", spec.Name, i, err)
		}
	}

	session, err := detector.NewSession(spec.Detector, detector.WithClock(m.now))
	if err != nil {
		return nil, fmt.Errorf("app %s: %w", spec.Name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.apps[spec.Name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateApp, spec.Name)
	}

	app := &App{
		Name:     spec.Name,
		session:  session,
		workload: spec.Workload,
		windows:  append([]scheduler.MaintenanceWindow(nil), spec.MaintenanceWindows...),
	}
	m.apps[spec.Name] = app
	m.exporter.RecordDetectorReady(spec.Name, false)

	klog.Infof("Registered app %s (window=%d, threshold=%.2f, minSamples=%d)",
		spec.Name, spec.Detector.WindowSize, spec.Detector.Threshold, spec.Detector.MinSamplesBeforeScoring)
	return app, nil
}

// App returns a registered application
func (m *Monitor) App(name string) (*App, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	app, ok := m.apps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, name)
	}
	return app, nil
}

// Apps lists the registered application names, sorted
func (m *Monitor) Apps() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.apps))
	for name := range m.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// History returns the verdict history
func (m *Monitor) History() *storage.InMemoryStorage {
	return m.history
}

// Ingest feeds a sample to the detector of app
func (m *Monitor) Ingest(name string, sample models.MetricSample) error {
	app, err := m.App(name)
	if err != nil {
		return err
	}

	if err := app.session.Ingest(sample); err != nil {
		dimension := models.Dimension("unknown")
		var invalid *models.InvalidValueError
		if errors.As(err, &invalid) {
			dimension = invalid.Dimension
		}
		m.exporter.RecordIngestError(name, dimension)
		return fmt.Errorf("failed to ingest sample for %s: %w", name, err)
	}

	m.exporter.RecordIngest(name)
	m.exporter.RecordDetectorReady(name, app.session.State() == detector.StateReady)
	return nil
}

// Evaluate scores the latest sample of app. While the detector is warming
// it returns the *detector.InsufficientDataError unwrapped. A sample is
// recorded and alerted on once; evaluating it again yields a Repeated result.
func (m *Monitor) Evaluate(name string) (Evaluation, error) {
	app, err := m.App(name)
	if err != nil {
		return Evaluation{App: name}, err
	}

	start := time.Now()
	verdict, seq, err := app.session.EvaluateLatest()
	if err != nil {
		if errors.Is(err, detector.ErrInsufficientData) {
			m.exporter.RecordInsufficientData(name)
		}
		return Evaluation{App: name}, err
	}

	evaluation := Evaluation{App: name, Verdict: verdict}

	app.mu.Lock()
	if seq == app.evaluatedSeq {
		app.mu.Unlock()
		evaluation.Repeated = true
		return evaluation, nil
	}
	app.evaluatedSeq = seq
	evaluation.Changed = app.anomalous != verdict.IsAnomalous
	app.anomalous = verdict.IsAnomalous
	app.mu.Unlock()

	m.exporter.RecordVerdict(name, verdict, time.Since(start).Seconds())
	m.history.Add(name, verdict)

	if evaluation.Changed {
		if verdict.IsAnomalous {
			klog.Warningf("Anomaly detected for %s: %s", name, verdict.Summary())
			m.events.RecordAnomalyDetected(app.workload, name, verdict)
		} else {
			klog.Infof("Anomaly cleared for %s (combined=%.2f)", name, verdict.CombinedScore)
			m.events.RecordAnomalyCleared(app.workload, name, verdict)
		}
	}

	alerts, err := m.alerts.Evaluate(alert.EvaluationContext{App: name, Verdict: verdict, Time: verdict.EvaluatedAt})
	if err != nil {
		return evaluation, fmt.Errorf("failed to evaluate alert rules for %s: %w", name, err)
	}

	if len(alerts) > 0 && m.windows.IsInMaintenanceWindow(app.windows, verdict.EvaluatedAt) {
		for _, a := range alerts {
			m.exporter.RecordSuppressedAlert(name, a.Rule)
		}
		klog.V(2).Infof("Suppressed %d alerts for %s during maintenance window", len(alerts), name)
		evaluation.Suppressed = alerts
		return evaluation, nil
	}

	for _, a := range alerts {
		m.exporter.RecordAlert(name, a.Rule, a.Severity)
	}
	evaluation.Alerts = alerts
	return evaluation, nil
}

// EvaluateAll evaluates every application with a new sample. Warming
// applications and already evaluated samples are skipped.
func (m *Monitor) EvaluateAll() ([]Evaluation, error) {
	var (
		evaluations []Evaluation
		errs        []error
	)

	for _, name := range m.Apps() {
		evaluation, err := m.Evaluate(name)
		if errors.Is(err, detector.ErrInsufficientData) {
			klog.V(4).Infof("Skipping %s: %v", name, err)
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if evaluation.Repeated {
			klog.V(4).Infof("Skipping %s: no new sample since last evaluation", name)
			continue
		}
		evaluations = append(evaluations, evaluation)
	}

	return evaluations, errors.Join(errs...)
}

// ResetBaseline discards everything app has learned and returns it to warming
func (m *Monitor) ResetBaseline(name, trigger string) error {
	app, err := m.App(name)
	if err != nil {
		return err
	}

	app.session.Reset()

	app.mu.Lock()
	app.anomalous = false
	app.mu.Unlock()

	m.exporter.RecordBaselineReset(name, trigger)
	m.events.RecordBaselineReset(app.workload, name, trigger)
	klog.Infof("Baseline reset for %s (%s)", name, trigger)
	return nil
}

// TrackUserBehavior stores the latest behavior event of app. Behavior is
// kept alongside the metrics but not scored.
func (m *Monitor) TrackUserBehavior(name string, behavior models.UserBehavior) error {
	app, err := m.App(name)
	if err != nil {
		return err
	}
	if err := behavior.Validate(); err != nil {
		return fmt.Errorf("failed to track behavior for %s: %w", name, err)
	}

	app.mu.Lock()
	app.behavior = &behavior
	app.mu.Unlock()

	m.exporter.RecordBehaviorEvent(name)
	return nil
}

// LatestBehavior returns the most recent behavior event of app
func (m *Monitor) LatestBehavior(name string) (models.UserBehavior, bool) {
	app, err := m.App(name)
	if err != nil {
		return models.UserBehavior{}, false
	}

	app.mu.Lock()
	defer app.mu.Unlock()
	if app.behavior == nil {
		return models.UserBehavior{}, false
	}
	return *app.behavior, true
}

// Run evaluates every application each interval until ctx is done
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	defer utilruntime.HandleCrash()

	klog.Infof("Starting evaluation loop every %v", interval)
	wait.UntilWithContext(ctx, func(ctx context.Context) {
		if _, err := m.EvaluateAll(); err != nil {
			klog.Errorf("Evaluation failed: %v", err)
		}
	}, interval)
	klog.Info("Evaluation loop stopped")
}
