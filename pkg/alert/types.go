package alert

import (
	"time"

	"webapp-anomaly-monitor/pkg/anomaly"
)

// Rule is a single alerting rule evaluated against every verdict
type Rule struct {
	// Name is the unique identifier for this rule
	Name string `json:"name" yaml:"name"`

	// Description explains what this rule watches for
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Condition is an expression that must evaluate to true for the rule to fire
	// Example: "anomalous && scores.errorRate > 4"
	Condition string `json:"condition" yaml:"condition"`

	// Severity of alerts raised by this rule; empty uses the verdict severity
	Severity string `json:"severity,omitempty" yaml:"severity,omitempty"`

	// Priority determines evaluation order (higher priority = evaluated first)
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`

	// Enabled allows temporarily disabling a rule without removing it
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// RuleSet is a collection of rules
type RuleSet struct {
	Rules []Rule `json:"rules" yaml:"rules"`
}

// DefaultRuleSet fires one alert for every anomalous verdict
func DefaultRuleSet() RuleSet {
	return RuleSet{
		Rules: []Rule{
			{
				Name:        "anomaly-detected",
				Description: "Combined score exceeded the detector threshold",
				Condition:   "anomalous",
				Enabled:     true,
			},
		},
	}
}

// EvaluationContext contains the data available to rule conditions
type EvaluationContext struct {
	App     string
	Verdict anomaly.AnomalyVerdict
	Time    time.Time
}

// toExprEnv converts the context to a map for expr evaluation with lowercase keys
func (c EvaluationContext) toExprEnv() map[string]interface{} {
	scores := make(map[string]float64, len(c.Verdict.PerDimensionScore))
	for d, s := range c.Verdict.PerDimensionScore {
		scores[string(d)] = s
	}

	return map[string]interface{}{
		"app":            c.App,
		"anomalous":      c.Verdict.IsAnomalous,
		"combinedScore":  c.Verdict.CombinedScore,
		"threshold":      c.Verdict.Threshold,
		"severity":       string(c.Verdict.Severity),
		"worstDimension": string(c.Verdict.WorstDimension),
		"scores":         scores,
		"hour":           c.Time.Hour(),
		"weekday":        c.Time.Weekday().String(),
	}
}

// Alert is raised when a rule matches a verdict
type Alert struct {
	Rule     string
	App      string
	Severity string
	Message  string
	FiredAt  time.Time
	Verdict  anomaly.AnomalyVerdict
}
