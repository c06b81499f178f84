package anomaly

import (
	"math"
	"time"

	"webapp-anomaly-monitor/pkg/models"
	"webapp-anomaly-monitor/pkg/stats"
)

const (
	// DefaultEpsilon floors the standard deviation of a dimension without variation
	DefaultEpsilon = 1e-9

	// DefaultMaxScore caps the score of a deviation from a constant baseline
	DefaultMaxScore = 1e6
)

// Scorer turns a value and the tracked statistics of its dimension into a
// non-negative deviation score. Implementations must be pure.
type Scorer interface {
	Score(d models.Dimension, value float64, s stats.DimensionStats) float64
}

// ZScoreScorer scores values by their absolute standard score.
//
// The Z-Score is calculated as: Z = |x - μ| / σ
// where σ is floored at Epsilon. A dimension that never varied therefore
// treats any deviation as maximally anomalous, capped at MaxScore.
type ZScoreScorer struct {
	Epsilon  float64
	MaxScore float64
}

// NewZScoreScorer creates a Z-Score scorer with default settings
func NewZScoreScorer() *ZScoreScorer {
	return &ZScoreScorer{
		Epsilon:  DefaultEpsilon,
		MaxScore: DefaultMaxScore,
	}
}

// Score returns |value - mean| / max(stddev, epsilon), capped at MaxScore
func (z *ZScoreScorer) Score(_ models.Dimension, value float64, s stats.DimensionStats) float64 {
	stdDev := s.StdDev()
	if stdDev < z.Epsilon {
		stdDev = z.Epsilon
	}

	score := math.Abs(value-s.Mean) / stdDev
	if math.IsNaN(score) || score > z.MaxScore {
		return z.MaxScore
	}
	return score
}

// Evaluator combines per-dimension scores into a verdict using the
// worst-dimension-wins policy
type Evaluator struct {
	Scorer    Scorer
	Threshold float64
}

// NewEvaluator creates an evaluator. A nil scorer selects the Z-Score scorer.
func NewEvaluator(scorer Scorer, threshold float64) *Evaluator {
	if scorer == nil {
		scorer = NewZScoreScorer()
	}
	return &Evaluator{
		Scorer:    scorer,
		Threshold: threshold,
	}
}

// Evaluate scores every dimension of the sample against its snapshot.
// It has no side effects: the same inputs always produce the same verdict.
func (e *Evaluator) Evaluate(sample models.MetricSample, snapshots map[models.Dimension]stats.DimensionStats, evaluatedAt time.Time) AnomalyVerdict {
	verdict := AnomalyVerdict{
		PerDimensionScore: make(map[models.Dimension]float64, len(snapshots)),
		Threshold:         e.Threshold,
		EvaluatedAt:       evaluatedAt,
	}

	for _, d := range models.AllDimensions() {
		snap, ok := snapshots[d]
		if !ok {
			continue
		}
		value, _ := sample.Value(d)

		score := e.Scorer.Score(d, value, snap)
		if score < 0 || math.IsNaN(score) {
			score = 0
		}
		verdict.PerDimensionScore[d] = score

		if verdict.WorstDimension == "" || score > verdict.CombinedScore {
			verdict.CombinedScore = score
			verdict.WorstDimension = d
		}
	}

	verdict.IsAnomalous = verdict.CombinedScore > e.Threshold
	verdict.Severity = determineSeverity(verdict.CombinedScore, e.Threshold)
	return verdict
}
