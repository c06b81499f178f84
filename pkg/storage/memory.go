package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"webapp-anomaly-monitor/pkg/anomaly"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

// DefaultMaxPerApp bounds the history kept for each application
const DefaultMaxPerApp = 1000

// InMemoryStorage keeps the most recent verdicts of every application
type InMemoryStorage struct {
	mu        sync.RWMutex                        // Protects the map from concurrent writes
	history   map[string][]anomaly.AnomalyVerdict // Key: app name, oldest first
	maxPerApp int
}

// NewStorage creates a store holding up to maxPerApp verdicts per application
func NewStorage(maxPerApp int) *InMemoryStorage {
	if maxPerApp <= 0 {
		maxPerApp = DefaultMaxPerApp
	}
	return &InMemoryStorage{
		history:   make(map[string][]anomaly.AnomalyVerdict),
		maxPerApp: maxPerApp,
	}
}

// Add appends a verdict, dropping the oldest one once the app is at capacity
func (s *InMemoryStorage) Add(app string, verdict anomaly.AnomalyVerdict) {
	s.mu.Lock()
	defer s.mu.Unlock()

	verdicts := append(s.history[app], verdict.Clone())
	if overflow := len(verdicts) - s.maxPerApp; overflow > 0 {
		verdicts = append(verdicts[:0:0], verdicts[overflow:]...)
	}
	s.history[app] = verdicts
}

// Recent returns up to n of the newest verdicts of app, oldest first
func (s *InMemoryStorage) Recent(app string, n int) []anomaly.AnomalyVerdict {
	s.mu.RLock()
	defer s.mu.RUnlock()

	verdicts := s.history[app]
	if n <= 0 || n > len(verdicts) {
		n = len(verdicts)
	}

	result := make([]anomaly.AnomalyVerdict, 0, n)
	for _, v := range verdicts[len(verdicts)-n:] {
		result = append(result, v.Clone())
	}
	return result
}

// LastAnomaly returns the newest anomalous verdict of app
func (s *InMemoryStorage) LastAnomaly(app string) (anomaly.AnomalyVerdict, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	verdicts := s.history[app]
	for i := len(verdicts) - 1; i >= 0; i-- {
		if verdicts[i].IsAnomalous {
			return verdicts[i].Clone(), true
		}
	}
	return anomaly.AnomalyVerdict{}, false
}

// AnomalyCount counts anomalous verdicts of app evaluated at or after since
func (s *InMemoryStorage) AnomalyCount(app string, since time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, v := range s.history[app] {
		if v.IsAnomalous && !v.EvaluatedAt.Before(since) {
			count++
		}
	}
	return count
}

// Apps lists applications with stored verdicts, sorted by name
func (s *InMemoryStorage) Apps() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	apps := make([]string, 0, len(s.history))
	for app := range s.history {
		apps = append(apps, app)
	}
	sort.Strings(apps)
	return apps
}

// Remove forgets the history of app
func (s *InMemoryStorage) Remove(app string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, app)
}

// Prune drops verdicts older than maxAge and returns how many were removed.
// A verdict exactly maxAge old is kept.
func (s *InMemoryStorage) Prune(maxAge time.Duration, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-maxAge)
	removed := 0

	for app, verdicts := range s.history {
		// verdicts are appended in evaluation order
		i := sort.Search(len(verdicts), func(i int) bool {
			return !verdicts[i].EvaluatedAt.Before(cutoff)
		})
		removed += i

		if i == len(verdicts) {
			delete(s.history, app)
			continue
		}
		if i > 0 {
			s.history[app] = append(verdicts[:0:0], verdicts[i:]...)
		}
	}

	return removed
}

// StartGarbageCollector prunes verdicts older than maxAge every interval until ctx is done
func (s *InMemoryStorage) StartGarbageCollector(ctx context.Context, maxAge, interval time.Duration) {
	go wait.UntilWithContext(ctx, func(ctx context.Context) {
		if removed := s.Prune(maxAge, time.Now()); removed > 0 {
			klog.V(2).Infof("Pruned %d verdicts older than %v", removed, maxAge)
		}
	}, interval)
}
