package models

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestMetricSample_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		sample    MetricSample
		wantErr   bool
		dimension Dimension
	}{
		{
			name:    "valid sample",
			sample:  NewMetricSample(120, 0.02, 0.7, now),
			wantErr: false,
		},
		{
			name:    "zero values are valid",
			sample:  NewMetricSample(0, 0, 0, now),
			wantErr: false,
		},
		{
			name:      "NaN response time",
			sample:    NewMetricSample(math.NaN(), 0.02, 0.7, now),
			wantErr:   true,
			dimension: DimensionResponseTime,
		},
		{
			name:      "infinite engagement",
			sample:    NewMetricSample(120, 0.02, math.Inf(1), now),
			wantErr:   true,
			dimension: DimensionUserEngagement,
		},
		{
			name:      "negative response time",
			sample:    NewMetricSample(-1, 0.02, 0.7, now),
			wantErr:   true,
			dimension: DimensionResponseTime,
		},
		{
			name:      "error rate above one",
			sample:    NewMetricSample(120, 1.5, 0.7, now),
			wantErr:   true,
			dimension: DimensionErrorRate,
		},
		{
			name:      "negative engagement",
			sample:    NewMetricSample(120, 0.02, -0.1, now),
			wantErr:   true,
			dimension: DimensionUserEngagement,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sample.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}

			if !errors.Is(err, ErrInvalidValue) {
				t.Errorf("Expected error to match ErrInvalidValue, got %v", err)
			}

			var invalid *InvalidValueError
			if !errors.As(err, &invalid) {
				t.Fatalf("Expected *InvalidValueError, got %T", err)
			}
			if invalid.Dimension != tt.dimension {
				t.Errorf("Expected dimension %s, got %s", tt.dimension, invalid.Dimension)
			}
		})
	}
}

func TestMetricSample_Value(t *testing.T) {
	sample := NewMetricSample(250, 0.05, 1.25, time.Now())

	expected := map[Dimension]float64{
		DimensionResponseTime:   250,
		DimensionErrorRate:      0.05,
		DimensionUserEngagement: 1.25,
	}

	for _, d := range AllDimensions() {
		v, ok := sample.Value(d)
		if !ok {
			t.Errorf("Expected dimension %s to be known", d)
		}
		if v != expected[d] {
			t.Errorf("Dimension %s: expected %v, got %v", d, expected[d], v)
		}
	}

	if _, ok := sample.Value(Dimension("cpu")); ok {
		t.Error("Expected unknown dimension to report ok=false")
	}
}

func TestUserBehavior_Validate(t *testing.T) {
	valid := UserBehavior{UserID: 7, PageViews: 3, Clicks: 5, TimeOnSite: 90 * time.Second}
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid behavior, got %v", err)
	}

	invalid := UserBehavior{UserID: 7, PageViews: -1}
	if err := invalid.Validate(); err == nil {
		t.Error("Expected error for negative page views")
	}
}
