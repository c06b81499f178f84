package models

import (
	"fmt"
	"math"
	"time"
)

// Dimension identifies one tracked scalar metric
type Dimension string

const (
	DimensionResponseTime   Dimension = "responseTimeMs"
	DimensionErrorRate      Dimension = "errorRate"
	DimensionUserEngagement Dimension = "userEngagement"
)

// AllDimensions returns the tracked dimensions in their fixed evaluation order
func AllDimensions() []Dimension {
	return []Dimension{
		DimensionResponseTime,
		DimensionErrorRate,
		DimensionUserEngagement,
	}
}

// MetricSample is a single observation of an application's health signals
type MetricSample struct {
	ResponseTimeMs float64   `json:"responseTimeMs"`
	ErrorRate      float64   `json:"errorRate"`      // fraction of failed requests, 0..1
	UserEngagement float64   `json:"userEngagement"` // non-negative engagement index
	ObservedAt     time.Time `json:"observedAt"`
}

// NewMetricSample creates a sample observed at the given time
func NewMetricSample(responseTimeMs, errorRate, userEngagement float64, observedAt time.Time) MetricSample {
	return MetricSample{
		ResponseTimeMs: responseTimeMs,
		ErrorRate:      errorRate,
		UserEngagement: userEngagement,
		ObservedAt:     observedAt,
	}
}

// Value returns the sample's value for a dimension
func (s MetricSample) Value(d Dimension) (float64, bool) {
	switch d {
	case DimensionResponseTime:
		return s.ResponseTimeMs, true
	case DimensionErrorRate:
		return s.ErrorRate, true
	case DimensionUserEngagement:
		return s.UserEngagement, true
	default:
		return 0, false
	}
}

// Validate checks that every value is finite and inside its declared range
func (s MetricSample) Validate() error {
	for _, d := range AllDimensions() {
		v, _ := s.Value(d)
		if err := CheckFinite(d, v); err != nil {
			return err
		}
	}

	if s.ResponseTimeMs < 0 {
		return &InvalidValueError{Dimension: DimensionResponseTime, Value: s.ResponseTimeMs, Reason: "must be >= 0"}
	}
	if s.ErrorRate < 0 || s.ErrorRate > 1 {
		return &InvalidValueError{Dimension: DimensionErrorRate, Value: s.ErrorRate, Reason: "must be within [0, 1]"}
	}
	if s.UserEngagement < 0 {
		return &InvalidValueError{Dimension: DimensionUserEngagement, Value: s.UserEngagement, Reason: "must be >= 0"}
	}
	return nil
}

// String returns a compact representation of the sample
func (s MetricSample) String() string {
	return fmt.Sprintf("responseTimeMs=%.2f errorRate=%.4f userEngagement=%.3f at=%s",
		s.ResponseTimeMs, s.ErrorRate, s.UserEngagement, s.ObservedAt.Format(time.RFC3339))
}

// CheckFinite returns an InvalidValueError when v is NaN or infinite
func CheckFinite(d Dimension, v float64) error {
	if math.IsNaN(v) {
		return &InvalidValueError{Dimension: d, Value: v, Reason: "value is NaN"}
	}
	if math.IsInf(v, 0) {
		return &InvalidValueError{Dimension: d, Value: v, Reason: "value is infinite"}
	}
	return nil
}

// UserBehavior is the latest activity reported for a single user.
// It is tracked alongside metric samples but never scored.
type UserBehavior struct {
	UserID     int           `json:"userId"`
	PageViews  int           `json:"pageViews"`
	Clicks     int           `json:"clicks"`
	TimeOnSite time.Duration `json:"timeOnSite"`
	ObservedAt time.Time     `json:"observedAt"`
}

// Validate rejects negative counters
func (b UserBehavior) Validate() error {
	switch {
	case b.PageViews < 0:
		return fmt.Errorf("page views must be >= 0, got %d", b.PageViews)
	case b.Clicks < 0:
		return fmt.Errorf("clicks must be >= 0, got %d", b.Clicks)
	case b.TimeOnSite < 0:
		return fmt.Errorf("time on site must be >= 0, got %s", b.TimeOnSite)
	}
	return nil
}
