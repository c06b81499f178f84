package detector

import (
	"sync"
	"time"

	"webapp-anomaly-monitor/pkg/anomaly"
	"webapp-anomaly-monitor/pkg/models"
	"webapp-anomaly-monitor/pkg/stats"
)

// State is the lifecycle state of a session
type State int

const (
	// StateWarming means at least one dimension has too few samples to score
	StateWarming State = iota
	// StateReady means evaluation is permitted
	StateReady
)

func (s State) String() string {
	switch s {
	case StateWarming:
		return "Warming"
	case StateReady:
		return "Ready"
	default:
		return "Unknown"
	}
}

// Option customizes a session at construction
type Option func(*Session)

// WithScorer replaces the Z-Score scorer
func WithScorer(scorer anomaly.Scorer) Option {
	return func(s *Session) {
		if scorer != nil {
			s.evaluator.Scorer = scorer
		}
	}
}

// WithClock sets the time source used to stamp verdicts
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// Session owns the mutable detector state of one monitored application.
// Ingest, Evaluate and Reset are mutually exclusive; separate sessions share nothing.
type Session struct {
	mu sync.Mutex

	config    Config
	tracker   *stats.Tracker
	evaluator *anomaly.Evaluator
	now       func() time.Time

	state State

	// latest is the most recently ingested sample and baseline holds each
	// dimension's statistics as they were just before latest was folded in
	latest   *models.MetricSample
	baseline map[models.Dimension]stats.DimensionStats

	verdict *anomaly.AnomalyVerdict

	// seq numbers accepted samples, starting at 1; it survives Reset
	seq uint64
}

// NewSession validates the configuration and creates a warming session
func NewSession(config Config, opts ...Option) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		config:    config,
		tracker:   stats.NewTracker(config.WindowSize),
		evaluator: anomaly.NewEvaluator(nil, config.Threshold),
		now:       time.Now,
		state:     StateWarming,
		baseline:  make(map[models.Dimension]stats.DimensionStats),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the session configuration
func (s *Session) Config() Config {
	return s.config
}

// Ingest folds a sample into the tracked statistics of every dimension.
// An invalid sample is rejected as a whole and leaves the session unchanged.
// Ingest never computes a verdict.
func (s *Session) Ingest(sample models.MetricSample) error {
	if err := sample.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	baseline := make(map[models.Dimension]stats.DimensionStats, len(models.AllDimensions()))
	for _, d := range models.AllDimensions() {
		baseline[d] = s.tracker.Snapshot(d)
	}

	for _, d := range models.AllDimensions() {
		value, _ := sample.Value(d)
		// Validate rejected non-finite values, so no dimension fails part-way
		if err := s.tracker.Update(d, value); err != nil {
			return err
		}
	}

	s.baseline = baseline
	s.latest = &sample
	s.seq++

	if s.state == StateWarming && s.warmingDimension() == "" {
		s.state = StateReady
	}
	return nil
}

// Evaluate scores the latest sample against the statistics observed before it.
// While warming it returns an *InsufficientDataError and no verdict.
func (s *Session) Evaluate() (anomaly.AnomalyVerdict, error) {
	verdict, _, err := s.EvaluateLatest()
	return verdict, err
}

// EvaluateLatest is Evaluate that also returns the sequence number of the
// scored sample, letting callers detect a sample that was already evaluated
func (s *Session) EvaluateLatest() (anomaly.AnomalyVerdict, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateWarming {
		d := s.warmingDimension()
		return anomaly.AnomalyVerdict{}, 0, &InsufficientDataError{
			Dimension: d,
			Have:      s.tracker.Snapshot(d).Count,
			Need:      s.config.MinSamplesBeforeScoring,
		}
	}

	snapshots := make(map[models.Dimension]stats.DimensionStats, len(s.baseline))
	for _, d := range models.AllDimensions() {
		snap := s.baseline[d]
		if snap.Count == 0 {
			// the latest sample is the only one seen
			snap = s.tracker.Snapshot(d)
		}
		snapshots[d] = snap
	}

	verdict := s.evaluator.Evaluate(*s.latest, snapshots, s.now())
	s.verdict = &verdict
	return verdict.Clone(), s.seq, nil
}

// Sequence returns the sequence number of the latest accepted sample, 0 before any
func (s *Session) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Reset clears all statistics and the cached verdict and returns the session
// to the warming state
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tracker.ResetAll()
	s.baseline = make(map[models.Dimension]stats.DimensionStats)
	s.latest = nil
	s.verdict = nil
	s.state = StateWarming
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LatestVerdict returns the most recent verdict, if any
func (s *Session) LatestVerdict() (anomaly.AnomalyVerdict, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.verdict == nil {
		return anomaly.AnomalyVerdict{}, false
	}
	return s.verdict.Clone(), true
}

// Snapshot returns the current statistics of one dimension
func (s *Session) Snapshot(d models.Dimension) stats.DimensionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Snapshot(d)
}

// SampleCount returns the smallest sample count across dimensions
func (s *Session) SampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	lowest := -1
	for _, d := range models.AllDimensions() {
		if c := s.tracker.Snapshot(d).Count; lowest < 0 || c < lowest {
			lowest = c
		}
	}
	return lowest
}

// warmingDimension returns the first dimension below the scoring minimum,
// or "" when every dimension has enough samples
func (s *Session) warmingDimension() models.Dimension {
	for _, d := range models.AllDimensions() {
		if s.tracker.Snapshot(d).Count < s.config.MinSamplesBeforeScoring {
			return d
		}
	}
	return ""
}
