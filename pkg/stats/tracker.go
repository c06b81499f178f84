package stats

import (
	"math"

	"webapp-anomaly-monitor/pkg/models"
)

// DimensionStats holds the running statistics of one dimension.
// M2 is the sum of squared differences from the mean (Welford's accumulator).
type DimensionStats struct {
	Count int
	Mean  float64
	M2    float64
}

// Variance returns the population variance, 0 when no samples were seen
func (s DimensionStats) Variance() float64 {
	if s.Count == 0 || s.M2 <= 0 {
		return 0
	}
	return s.M2 / float64(s.Count)
}

// StdDev returns the population standard deviation
func (s DimensionStats) StdDev() float64 {
	return math.Sqrt(s.Variance())
}

// Tracker maintains rolling mean and variance per dimension using Welford's
// online algorithm. With a bounded window only the most recent WindowSize
// values contribute; older values are evicted and their contribution removed.
//
// Tracker is not safe for concurrent use. The owning detector session
// serializes access.
type Tracker struct {
	windowSize int
	dims       map[models.Dimension]*dimensionState
}

type dimensionState struct {
	stats DimensionStats

	// ring buffer of raw values, only allocated for bounded windows
	window    []float64
	head      int // index of the oldest value
	evictions int
}

// NewTracker creates a tracker. windowSize 0 keeps unbounded statistics.
func NewTracker(windowSize int) *Tracker {
	if windowSize < 0 {
		windowSize = 0
	}
	return &Tracker{
		windowSize: windowSize,
		dims:       make(map[models.Dimension]*dimensionState),
	}
}

// WindowSize returns the configured window, 0 meaning unbounded
func (t *Tracker) WindowSize() int {
	return t.windowSize
}

// Update folds a new value into the dimension's statistics.
// Non-finite values are rejected and leave the tracker untouched.
func (t *Tracker) Update(d models.Dimension, value float64) error {
	if err := models.CheckFinite(d, value); err != nil {
		return err
	}

	state := t.state(d)
	if t.windowSize == 0 {
		state.stats = add(state.stats, value)
		return nil
	}

	if state.stats.Count < t.windowSize {
		state.window[(state.head+state.stats.Count)%t.windowSize] = value
		state.stats = add(state.stats, value)
		return nil
	}

	// window full: the slot of the oldest value receives the new one
	oldest := state.window[state.head]
	state.window[state.head] = value
	state.head = (state.head + 1) % t.windowSize
	state.evictions++

	if state.evictions >= t.windowSize || dominates(state.stats, oldest) {
		state.stats = recompute(state.window)
		state.evictions = 0
		return nil
	}

	state.stats = add(remove(state.stats, oldest), value)
	return nil
}

// Snapshot returns a copy of the dimension's statistics
func (t *Tracker) Snapshot(d models.Dimension) DimensionStats {
	if state, ok := t.dims[d]; ok {
		return state.stats
	}
	return DimensionStats{}
}

// Values returns the values currently retained in the window, oldest first.
// It returns nil for unbounded trackers.
func (t *Tracker) Values(d models.Dimension) []float64 {
	state, ok := t.dims[d]
	if !ok || t.windowSize == 0 {
		return nil
	}

	values := make([]float64, state.stats.Count)
	for i := range values {
		values[i] = state.window[(state.head+i)%t.windowSize]
	}
	return values
}

// Reset clears one dimension
func (t *Tracker) Reset(d models.Dimension) {
	delete(t.dims, d)
}

// ResetAll clears every dimension
func (t *Tracker) ResetAll() {
	t.dims = make(map[models.Dimension]*dimensionState)
}

func (t *Tracker) state(d models.Dimension) *dimensionState {
	state, ok := t.dims[d]
	if !ok {
		state = &dimensionState{}
		if t.windowSize > 0 {
			state.window = make([]float64, t.windowSize)
		}
		t.dims[d] = state
	}
	return state
}

// add applies one step of Welford's update
func add(s DimensionStats, x float64) DimensionStats {
	s.Count++
	delta := x - s.Mean
	s.Mean += delta / float64(s.Count)
	s.M2 += delta * (x - s.Mean)
	return s
}

// remove reverses add for a value that is part of s
func remove(s DimensionStats, x float64) DimensionStats {
	if s.Count <= 1 {
		return DimensionStats{}
	}

	n := float64(s.Count)
	mean := (n*s.Mean - x) / (n - 1)
	s.M2 -= (x - s.Mean) * (x - mean)
	if s.M2 < 0 {
		s.M2 = 0
	}
	s.Mean = mean
	s.Count--
	return s
}

// dominates reports whether removing x would cancel most of the accumulated
// variance, where subtraction loses precision.
func dominates(s DimensionStats, x float64) bool {
	if s.Count <= 1 || s.M2 == 0 {
		return false
	}
	n := float64(s.Count)
	contribution := (x - s.Mean) * (x - s.Mean) * n / (n - 1)
	return contribution > s.M2/2
}

func recompute(values []float64) DimensionStats {
	var s DimensionStats
	for _, v := range values {
		s = add(s, v)
	}
	return s
}
