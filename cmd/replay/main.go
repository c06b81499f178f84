package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"webapp-anomaly-monitor/pkg/alert"
	"webapp-anomaly-monitor/pkg/config"
	"webapp-anomaly-monitor/pkg/detector"
	"webapp-anomaly-monitor/pkg/events"
	"webapp-anomaly-monitor/pkg/logger"
	"webapp-anomaly-monitor/pkg/metrics"
	"webapp-anomaly-monitor/pkg/models"
	"webapp-anomaly-monitor/pkg/monitor"
	"webapp-anomaly-monitor/pkg/scheduler"
	"webapp-anomaly-monitor/pkg/storage"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"
)

const (
	kindMetrics  = "metrics"
	kindBehavior = "behavior"
)

// inputLine is one JSON record of the replayed stream
type inputLine struct {
	Kind string `json:"kind"`
	App  string `json:"app"`

	ResponseTimeMs float64 `json:"responseTimeMs"`
	ErrorRate      float64 `json:"errorRate"`
	UserEngagement float64 `json:"userEngagement"`

	UserID            int     `json:"userId"`
	PageViews         int     `json:"pageViews"`
	Clicks            int     `json:"clicks"`
	TimeOnSiteSeconds float64 `json:"timeOnSiteSeconds"`

	ObservedAt time.Time `json:"observedAt"`
}

// streamClock reports the observation time of the latest replayed sample,
// so verdicts, maintenance windows and alert rules follow the recorded stream
type streamClock struct {
	mu     sync.Mutex
	latest time.Time
}

func (c *streamClock) Observe(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest = t
}

// Now falls back to the wall clock until a sample was observed
func (c *streamClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest.IsZero() {
		return time.Now()
	}
	return c.latest
}

type replayer struct {
	mon        *monitor.Monitor
	clock      *streamClock
	defaultApp string
	summaries  map[string]*appSummary
}

func newReplayer(mon *monitor.Monitor, clock *streamClock, defaultApp string) *replayer {
	return &replayer{
		mon:        mon,
		clock:      clock,
		defaultApp: defaultApp,
		summaries:  make(map[string]*appSummary),
	}
}

type appSummary struct {
	ingested  int
	rejected  int
	evaluated int
	behavior  int
}

func main() {
	klog.InitFlags(nil)
	configPath := flag.String("config", "", "Path to the monitor configuration file")
	inputPath := flag.String("input", "", "JSON lines to replay (default stdin)")
	defaultApp := flag.String("app", "default", "App for lines that do not name one")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	development := flag.Bool("dev", false, "Human-readable console logging")
	kubeconfig := flag.String("kubeconfig", "", "Path to kubeconfig; enables Kubernetes events")
	linger := flag.Bool("linger", false, "Keep evaluating every evaluation interval after input ends")
	flag.Parse()

	// 1. Configuration: file, then environment, then flags
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			klog.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		klog.Fatalf("Invalid environment: %v", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *development {
		cfg.Development = true
	}
	if *kubeconfig != "" {
		cfg.Kubeconfig = *kubeconfig
	}
	if err := cfg.Validate(); err != nil {
		klog.Fatalf("Invalid configuration: %v", err)
	}

	if err := logger.Init(cfg.LogLevel, cfg.Development); err != nil {
		klog.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Collaborators
	alerts := alert.NewEngine()
	if cfg.AlertRulesFile != "" {
		if err := alerts.LoadRules(cfg.AlertRulesFile); err != nil {
			logger.Fatalf("Failed to load alert rules: %v", err)
		}
	}

	history := storage.NewStorage(cfg.HistorySize)
	history.StartGarbageCollector(ctx, cfg.HistoryRetention, time.Minute)

	clock := &streamClock{}
	opts := []monitor.Option{
		monitor.WithClock(clock.Now),
		monitor.WithExporter(metrics.NewPrometheusExporter(cfg.MetricsNamespace)),
		monitor.WithAlertEngine(alerts),
		monitor.WithHistory(history),
	}

	if cfg.Kubeconfig != "" {
		restConfig, err := clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
		if err != nil {
			logger.Fatalf("Failed to build kubeconfig: %v", err)
		}
		kubeClient, err := kubernetes.NewForConfig(restConfig)
		if err != nil {
			logger.Fatalf("Failed to create kubernetes client: %v", err)
		}
		recorder, shutdown := events.NewBroadcastRecorder(kubeClient, cfg.EventComponent)
		defer shutdown()
		opts = append(opts, monitor.WithEventRecorder(recorder))
	}

	mon := monitor.New(opts...)
	resets := scheduler.NewBaselineResetScheduler(mon)

	for _, app := range cfg.Apps {
		if _, err := mon.Register(monitor.AppSpec{
			Name:               app.Name,
			Detector:           app.DetectorConfig(),
			Workload:           app.Workload.ObjectReference(),
			MaintenanceWindows: app.MaintenanceWindows,
		}); err != nil {
			logger.Fatalf("Failed to register app: %v", err)
		}
		if app.ResetSchedule != "" {
			if err := resets.Add(app.Name, app.ResetSchedule); err != nil {
				logger.Fatalf("Failed to schedule baseline reset: %v", err)
			}
		}
	}
	resets.Start()
	defer resets.Stop()

	// 3. Replay
	input := io.Reader(os.Stdin)
	if *inputPath != "" {
		f, err := os.Open(*inputPath)
		if err != nil {
			logger.Fatalf("Failed to open input: %v", err)
		}
		defer f.Close()
		input = f
	}

	r := newReplayer(mon, clock, *defaultApp)
	r.run(ctx, input)

	if *linger && ctx.Err() == nil {
		logger.Infof("Input finished, evaluating every %v until interrupted", cfg.EvaluationInterval)
		mon.Run(ctx, cfg.EvaluationInterval)
	}

	printSummary(mon, r.summaries)
}

func (r *replayer) run(ctx context.Context, input io.Reader) {
	lines := make(chan []byte)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(input)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.WithError(err).Error("Failed to read input")
		}
	}()

	lineNo := 0
	for {
		select {
		case <-ctx.Done():
			logger.Warnf("Interrupted after %d lines", lineNo)
			return
		case raw, ok := <-lines:
			if !ok {
				return
			}
			lineNo++
			if len(raw) == 0 {
				continue
			}
			if err := r.handleLine(raw); err != nil {
				logger.WithError(err).Warnw("Skipping line", "line", lineNo)
			}
		}
	}
}

func (r *replayer) handleLine(raw []byte) error {
	var in inputLine
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if in.App == "" {
		in.App = r.defaultApp
	}
	if in.ObservedAt.IsZero() {
		in.ObservedAt = time.Now()
	}
	if err := ensureRegistered(r.mon, in.App); err != nil {
		return err
	}

	summary, ok := r.summaries[in.App]
	if !ok {
		summary = &appSummary{}
		r.summaries[in.App] = summary
	}
	log := logger.ForApp(in.App)

	switch in.Kind {
	case kindBehavior:
		behavior := models.UserBehavior{
			UserID:     in.UserID,
			PageViews:  in.PageViews,
			Clicks:     in.Clicks,
			TimeOnSite: time.Duration(in.TimeOnSiteSeconds * float64(time.Second)),
			ObservedAt: in.ObservedAt,
		}
		if err := r.mon.TrackUserBehavior(in.App, behavior); err != nil {
			return err
		}
		summary.behavior++
		log.Debugw("Tracked user behavior", "userId", in.UserID, "pageViews", in.PageViews, "clicks", in.Clicks)
		return nil

	case kindMetrics, "":
		sample := models.NewMetricSample(in.ResponseTimeMs, in.ErrorRate, in.UserEngagement, in.ObservedAt)
		r.clock.Observe(in.ObservedAt)
		if err := r.mon.Ingest(in.App, sample); err != nil {
			summary.rejected++
			return err
		}
		summary.ingested++

		evaluation, err := r.mon.Evaluate(in.App)
		var insufficient *detector.InsufficientDataError
		if errors.As(err, &insufficient) {
			log.Debugw("Detector warming", "dimension", insufficient.Dimension, "have", insufficient.Have, "need", insufficient.Need)
			return nil
		}
		if err != nil {
			return err
		}
		summary.evaluated++
		logEvaluation(log, evaluation)
		return nil

	default:
		return fmt.Errorf("unknown kind %q", in.Kind)
	}
}

func ensureRegistered(mon *monitor.Monitor, app string) error {
	if _, err := mon.App(app); err == nil {
		return nil
	}

	_, err := mon.Register(monitor.AppSpec{Name: app, Detector: detector.DefaultConfig()})
	if err != nil && !errors.Is(err, monitor.ErrDuplicateApp) {
		return err
	}
	return nil
}

func logEvaluation(log *logger.Logger, evaluation monitor.Evaluation) {
	verdictLog := log.WithVerdict(evaluation.Verdict)

	switch {
	case evaluation.Verdict.IsAnomalous:
		verdictLog.Warn("Anomaly detected")
	case evaluation.Changed:
		verdictLog.Info("Back to normal")
	default:
		verdictLog.Debug("Normal")
	}

	for _, a := range evaluation.Alerts {
		log.Warnw("Alert fired", "rule", a.Rule, "severity", a.Severity, "message", a.Message)
	}
	for _, a := range evaluation.Suppressed {
		log.Infow("Alert suppressed by maintenance window", "rule", a.Rule)
	}
}

func printSummary(mon *monitor.Monitor, summaries map[string]*appSummary) {
	for _, name := range mon.Apps() {
		summary, ok := summaries[name]
		if !ok {
			summary = &appSummary{}
		}
		app, err := mon.App(name)
		if err != nil {
			continue
		}

		logger.ForApp(name).Infow("Replay summary",
			"state", app.State().String(),
			"ingested", summary.ingested,
			"rejected", summary.rejected,
			"evaluated", summary.evaluated,
			"behaviorEvents", summary.behavior,
			"anomalies", mon.History().AnomalyCount(name, time.Time{}),
		)
	}
}
