package anomaly

import (
	"fmt"
	"sort"
	"time"

	"webapp-anomaly-monitor/pkg/models"
)

// Severity represents how far outside the normal band a verdict lies
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns a numeric rank for severity comparison
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// AnomalyVerdict is the outcome of one evaluation. It is replaced wholesale
// on every evaluation and never mutated after construction.
type AnomalyVerdict struct {
	// IsAnomalous is true when CombinedScore exceeds Threshold
	IsAnomalous bool

	// PerDimensionScore holds the normalized deviation of each dimension
	PerDimensionScore map[models.Dimension]float64

	// CombinedScore is the worst per-dimension score
	CombinedScore float64

	// WorstDimension is the dimension that produced CombinedScore
	WorstDimension models.Dimension

	Severity  Severity
	Threshold float64

	EvaluatedAt time.Time
}

// Clone returns a deep copy so callers can never alias the cached verdict
func (v AnomalyVerdict) Clone() AnomalyVerdict {
	scores := make(map[models.Dimension]float64, len(v.PerDimensionScore))
	for d, s := range v.PerDimensionScore {
		scores[d] = s
	}
	v.PerDimensionScore = scores
	return v
}

// Score returns the score of a single dimension
func (v AnomalyVerdict) Score(d models.Dimension) float64 {
	return v.PerDimensionScore[d]
}

// Summary returns a human-readable summary of the verdict
func (v AnomalyVerdict) Summary() string {
	if !v.IsAnomalous {
		return fmt.Sprintf("Normal (combined=%.2f, threshold=%.2f)", v.CombinedScore, v.Threshold)
	}

	dims := make([]string, 0, len(v.PerDimensionScore))
	for d := range v.PerDimensionScore {
		dims = append(dims, string(d))
	}
	sort.Strings(dims)

	parts := ""
	for _, d := range dims {
		if parts != "" {
			parts += ", "
		}
		parts += fmt.Sprintf("%s=%.2f", d, v.PerDimensionScore[models.Dimension(d)])
	}

	return fmt.Sprintf("Anomalous %s severity: %s scored %.2f over threshold %.2f (%s)",
		v.Severity, v.WorstDimension, v.CombinedScore, v.Threshold, parts)
}

// determineSeverity maps a combined score onto the severity ladder, measured
// in standard deviations relative to the threshold
func determineSeverity(score, threshold float64) Severity {
	switch {
	case score >= threshold+2:
		return SeverityCritical
	case score >= threshold+1:
		return SeverityHigh
	case score > threshold:
		return SeverityMedium
	case score >= threshold/2:
		return SeverityLow
	default:
		return SeverityNone
	}
}
