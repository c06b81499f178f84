package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"k8s.io/klog/v2"
)

// TriggerScheduled labels resets started by the scheduler
const TriggerScheduled = "scheduled"

// BaselineResetter discards the learned baseline of an application
type BaselineResetter interface {
	ResetBaseline(app, trigger string) error
}

// BaselineResetScheduler resets application baselines on cron schedules,
// e.g. right after a recurring deployment changes what "normal" looks like
type BaselineResetScheduler struct {
	cron     *cron.Cron
	parser   cron.Parser
	resetter BaselineResetter

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewBaselineResetScheduler creates a stopped scheduler
func NewBaselineResetScheduler(resetter BaselineResetter) *BaselineResetScheduler {
	parser := newParser()
	return &BaselineResetScheduler{
		cron:     cron.New(cron.WithParser(parser)),
		parser:   parser,
		resetter: resetter,
		entries:  make(map[string]cron.EntryID),
	}
}

// Add schedules baseline resets for app, replacing any previous schedule
func (s *BaselineResetScheduler) Add(app, spec string) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid reset schedule %s for %s: %w", spec, app, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[app]; ok {
		s.cron.Remove(id)
	}

	id, err := s.cron.AddFunc(spec, func() { s.reset(app) })
	if err != nil {
		return fmt.Errorf("failed to schedule reset for %s: %w", app, err)
	}
	s.entries[app] = id

	klog.Infof("Scheduled baseline resets for %s: %s", app, spec)
	return nil
}

// Remove cancels the schedule of app
func (s *BaselineResetScheduler) Remove(app string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[app]; ok {
		s.cron.Remove(id)
		delete(s.entries, app)
	}
}

// Run triggers the reset of app immediately, as if its schedule had fired
func (s *BaselineResetScheduler) Run(app string) bool {
	s.mu.Lock()
	var job cron.Job
	if id, ok := s.entries[app]; ok {
		job = s.cron.Entry(id).Job
	}
	s.mu.Unlock()

	if job == nil {
		return false
	}
	job.Run()
	return true
}

// Start runs the scheduler in its own goroutine
func (s *BaselineResetScheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler; the returned context is done once running jobs complete
func (s *BaselineResetScheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *BaselineResetScheduler) reset(app string) {
	if err := s.resetter.ResetBaseline(app, TriggerScheduled); err != nil {
		klog.Warningf("Scheduled baseline reset failed for %s: %v", app, err)
		return
	}
	klog.Infof("Baseline reset for %s (scheduled)", app)
}
