package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"webapp-anomaly-monitor/pkg/anomaly"
	"webapp-anomaly-monitor/pkg/models"
)

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func verdictAt(offset time.Duration, anomalous bool) anomaly.AnomalyVerdict {
	score := 0.5
	if anomalous {
		score = 7
	}
	return anomaly.AnomalyVerdict{
		IsAnomalous:       anomalous,
		PerDimensionScore: map[models.Dimension]float64{models.DimensionResponseTime: score},
		CombinedScore:     score,
		WorstDimension:    models.DimensionResponseTime,
		Threshold:         3,
		EvaluatedAt:       baseTime.Add(offset),
	}
}

func TestInMemoryStorage_AddAndRecent(t *testing.T) {
	s := NewStorage(3)
	for i := 0; i < 5; i++ {
		s.Add("checkout", verdictAt(time.Duration(i)*time.Minute, false))
	}

	recent := s.Recent("checkout", 0)
	if len(recent) != 3 {
		t.Fatalf("Expected history bounded to 3, got %d", len(recent))
	}
	if !recent[0].EvaluatedAt.Equal(baseTime.Add(2 * time.Minute)) {
		t.Errorf("Expected oldest kept verdict at +2m, got %v", recent[0].EvaluatedAt)
	}

	last := s.Recent("checkout", 1)
	if len(last) != 1 || !last[0].EvaluatedAt.Equal(baseTime.Add(4*time.Minute)) {
		t.Errorf("Expected newest verdict at +4m, got %v", last)
	}

	if got := s.Recent("search", 5); len(got) != 0 {
		t.Errorf("Expected empty history for unknown app, got %d", len(got))
	}
}

func TestInMemoryStorage_ReturnsCopies(t *testing.T) {
	s := NewStorage(10)
	s.Add("checkout", verdictAt(0, true))

	got := s.Recent("checkout", 1)
	got[0].PerDimensionScore[models.DimensionResponseTime] = -1

	again, _ := s.LastAnomaly("checkout")
	if again.Score(models.DimensionResponseTime) != 7 {
		t.Errorf("Expected stored verdict untouched, got %v", again.Score(models.DimensionResponseTime))
	}
}

func TestInMemoryStorage_Anomalies(t *testing.T) {
	s := NewStorage(10)
	s.Add("checkout", verdictAt(0, true))
	s.Add("checkout", verdictAt(time.Minute, false))
	s.Add("checkout", verdictAt(2*time.Minute, true))
	s.Add("checkout", verdictAt(3*time.Minute, false))

	last, ok := s.LastAnomaly("checkout")
	if !ok {
		t.Fatal("Expected an anomalous verdict")
	}
	if !last.EvaluatedAt.Equal(baseTime.Add(2 * time.Minute)) {
		t.Errorf("Expected last anomaly at +2m, got %v", last.EvaluatedAt)
	}

	if n := s.AnomalyCount("checkout", baseTime); n != 2 {
		t.Errorf("Expected 2 anomalies, got %d", n)
	}
	if n := s.AnomalyCount("checkout", baseTime.Add(90*time.Second)); n != 1 {
		t.Errorf("Expected 1 anomaly since +90s, got %d", n)
	}

	if _, ok := s.LastAnomaly("search"); ok {
		t.Error("Expected no anomaly for unknown app")
	}
}

func TestInMemoryStorage_Prune(t *testing.T) {
	s := NewStorage(10)
	s.Add("checkout", verdictAt(0, false))
	s.Add("checkout", verdictAt(10*time.Minute, false))
	s.Add("checkout", verdictAt(20*time.Minute, true))
	s.Add("search", verdictAt(0, false))

	now := baseTime.Add(25 * time.Minute)
	if removed := s.Prune(15*time.Minute, now); removed != 2 {
		t.Errorf("Expected 2 verdicts pruned, got %d", removed)
	}

	if got := s.Recent("checkout", 0); len(got) != 2 {
		t.Errorf("Expected 2 verdicts left for checkout, got %d", len(got))
	}

	apps := s.Apps()
	if len(apps) != 1 || apps[0] != "checkout" {
		t.Errorf("Expected only checkout left, got %v", apps)
	}
}

func TestInMemoryStorage_PruneCutoff(t *testing.T) {
	tests := []struct {
		name     string
		offset   time.Duration
		wantKept bool
	}{
		{name: "older than max age", offset: -time.Second, wantKept: false},
		{name: "exactly at cutoff", offset: 0, wantKept: true},
		{name: "newer than cutoff", offset: time.Second, wantKept: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStorage(10)
			s.Add("checkout", verdictAt(tt.offset, false))

			s.Prune(time.Hour, baseTime.Add(time.Hour))

			kept := len(s.Recent("checkout", 0)) == 1
			if kept != tt.wantKept {
				t.Errorf("Expected kept=%v at cutoff offset %v, got %v", tt.wantKept, tt.offset, kept)
			}
		})
	}
}

func TestInMemoryStorage_Remove(t *testing.T) {
	s := NewStorage(10)
	s.Add("checkout", verdictAt(0, true))
	s.Remove("checkout")

	if len(s.Apps()) != 0 {
		t.Errorf("Expected no apps after Remove, got %v", s.Apps())
	}
}

func TestInMemoryStorage_GarbageCollector(t *testing.T) {
	s := NewStorage(10)
	s.Add("checkout", verdictAt(-time.Hour, false))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartGarbageCollector(ctx, time.Minute, 10*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for len(s.Apps()) != 0 {
		select {
		case <-deadline:
			t.Fatal("Expected garbage collector to prune stale verdicts")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestInMemoryStorage_ConcurrentAccess(t *testing.T) {
	s := NewStorage(50)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Add("checkout", verdictAt(time.Duration(j)*time.Second, j%7 == 0))
				_ = s.Recent("checkout", 5)
				_ = s.AnomalyCount("checkout", baseTime)
			}
		}(i)
	}
	wg.Wait()

	if got := len(s.Recent("checkout", 0)); got != 50 {
		t.Errorf("Expected history capped at 50, got %d", got)
	}
}
