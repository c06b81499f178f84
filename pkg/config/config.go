package config

import (
	"fmt"
	"os"
	"time"

	"webapp-anomaly-monitor/pkg/detector"
	"webapp-anomaly-monitor/pkg/scheduler"

	"gopkg.in/yaml.v2"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/klog/v2"
)

// Environment variables consulted when set
const (
	EnvLogLevel           = "MONITOR_LOG_LEVEL"
	EnvEvaluationInterval = "MONITOR_EVALUATION_INTERVAL"
	EnvKubeconfig         = "MONITOR_KUBECONFIG"
)

// Config is the monitor configuration file
type Config struct {
	LogLevel    string `yaml:"logLevel"`
	Development bool   `yaml:"development"`

	// MetricsNamespace prefixes every exported Prometheus metric
	MetricsNamespace string `yaml:"metricsNamespace"`

	// EvaluationInterval is the period of the background evaluation loop
	EvaluationInterval time.Duration `yaml:"evaluationInterval"`

	// HistorySize bounds the verdicts kept per application
	HistorySize int `yaml:"historySize"`

	// HistoryRetention drops verdicts older than this
	HistoryRetention time.Duration `yaml:"historyRetention"`

	// AlertRulesFile is a YAML rule set; the default rule set is used when empty
	AlertRulesFile string `yaml:"alertRulesFile,omitempty"`

	// Kubeconfig enables Kubernetes events when set
	Kubeconfig     string `yaml:"kubeconfig,omitempty"`
	EventComponent string `yaml:"eventComponent"`

	Apps []AppConfig `yaml:"apps"`
}

// AppConfig describes one monitored application
type AppConfig struct {
	Name string `yaml:"name"`

	// Detector defaults to detector.DefaultConfig() when omitted
	Detector *detector.Config `yaml:"detector,omitempty"`

	// ResetSchedule is a cron expression for periodic baseline resets
	ResetSchedule string `yaml:"resetSchedule,omitempty"`

	// MaintenanceWindows suppress alerts while active
	MaintenanceWindows []scheduler.MaintenanceWindow `yaml:"maintenanceWindows,omitempty"`

	// Workload receives Kubernetes events for this application
	Workload *WorkloadRef `yaml:"workload,omitempty"`
}

// WorkloadRef identifies the Kubernetes object serving an application
type WorkloadRef struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
	Namespace  string `yaml:"namespace"`
	Name       string `yaml:"name"`
}

// ObjectReference converts the reference for the event recorder, nil when unset
func (w *WorkloadRef) ObjectReference() *corev1.ObjectReference {
	if w == nil {
		return nil
	}
	return &corev1.ObjectReference{
		APIVersion: w.APIVersion,
		Kind:       w.Kind,
		Namespace:  w.Namespace,
		Name:       w.Name,
	}
}

// DetectorConfig returns the detector settings of the app
func (a AppConfig) DetectorConfig() detector.Config {
	if a.Detector == nil {
		return detector.DefaultConfig()
	}
	return *a.Detector
}

// Default returns the configuration used without a config file
func Default() *Config {
	return &Config{
		LogLevel:           "info",
		MetricsNamespace:   "webapp_anomaly",
		EvaluationInterval: 30 * time.Second,
		HistorySize:        1000,
		HistoryRetention:   24 * time.Hour,
		EventComponent:     "webapp-anomaly-monitor",
	}
}

// Load reads a YAML configuration file on top of the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	klog.Infof("Loaded configuration for %d apps from %s", len(cfg.Apps), path)
	return cfg, nil
}

// Parse decodes YAML configuration on top of the defaults
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings with the environment variables that are set
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if level := getenv(EnvLogLevel); level != "" {
		c.LogLevel = level
	}

	if interval := getenv(EnvEvaluationInterval); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", EnvEvaluationInterval, interval, err)
		}
		c.EvaluationInterval = d
	}

	if kubeconfig := getenv(EnvKubeconfig); kubeconfig != "" {
		c.Kubeconfig = kubeconfig
	}

	return nil
}

// Validate checks global settings and every application entry
func (c *Config) Validate() error {
	if c.EvaluationInterval <= 0 {
		return fmt.Errorf("evaluationInterval must be positive, got %v", c.EvaluationInterval)
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("historySize must be >= 1, got %d", c.HistorySize)
	}
	if c.HistoryRetention <= 0 {
		return fmt.Errorf("historyRetention must be positive, got %v", c.HistoryRetention)
	}

	checker := scheduler.NewMaintenanceWindowChecker()
	seen := make(map[string]bool, len(c.Apps))

	for i, app := range c.Apps {
		if app.Name == "" {
			return fmt.Errorf("app %d: name is required", i)
		}
		if seen[app.Name] {
			return fmt.Errorf("duplicate app name: %s", app.Name)
		}
		seen[app.Name] = true

		if err := app.DetectorConfig().Validate(); err != nil {
			return fmt.Errorf("app %s: %w", app.Name, err)
		}

		if app.ResetSchedule != "" {
			if err := checker.Validate(scheduler.MaintenanceWindow{Schedule: app.ResetSchedule, Duration: "1m"}); err != nil {
				return fmt.Errorf("app %s: resetSchedule: %w", app.Name, err)
			}
		}

		for j, window := range app.MaintenanceWindows {
			if err := checker.Validate(window); err != nil {
				return fmt.Errorf("app %s: maintenance window %d: %w", app.Name, j, err)
			}
		}

		if app.Workload != nil && (app.Workload.Kind == "" || app.Workload.Name == "") {
			return fmt.Errorf("app %s: workload requires kind and name", app.Name)
		}
	}

	return nil
}
