package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"k8s.io/klog/v2"
)

// MaintenanceWindow is a recurring period, such as a deployment slot, during
// which anomalies are expected and alerts are suppressed
type MaintenanceWindow struct {
	// Schedule is a cron expression for when the window starts
	Schedule string `json:"schedule" yaml:"schedule"`

	// Duration is how long the window lasts (e.g., "2h", "30m")
	Duration string `json:"duration" yaml:"duration"`

	// Timezone for the schedule, UTC when empty
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

type MaintenanceWindowChecker struct {
	parser cron.Parser
}

func NewMaintenanceWindowChecker() *MaintenanceWindowChecker {
	return &MaintenanceWindowChecker{
		parser: newParser(),
	}
}

// newParser accepts standard five-field cron expressions and descriptors like @daily
func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// IsInMaintenanceWindow reports whether now falls inside any of the windows
func (m *MaintenanceWindowChecker) IsInMaintenanceWindow(windows []MaintenanceWindow, now time.Time) bool {
	for _, window := range windows {
		if m.isInWindow(window, now) {
			return true
		}
	}
	return false
}

// NextWindowStart returns the earliest upcoming window start, nil without windows
func (m *MaintenanceWindowChecker) NextWindowStart(windows []MaintenanceWindow, now time.Time) *time.Time {
	var nextWindow *time.Time
	for _, window := range windows {
		next := m.getNextWindowStart(window, now)
		if next != nil && (nextWindow == nil || next.Before(*nextWindow)) {
			nextWindow = next
		}
	}
	return nextWindow
}

// compiled is a window ready for time checks
type compiled struct {
	schedule cron.Schedule
	duration time.Duration
	location *time.Location
}

// compile parses a window; an unknown timezone falls back to UTC
func (m *MaintenanceWindowChecker) compile(window MaintenanceWindow) (compiled, error) {
	schedule, err := m.parser.Parse(window.Schedule)
	if err != nil {
		return compiled{}, fmt.Errorf("invalid cron schedule %s: %w", window.Schedule, err)
	}

	duration, err := time.ParseDuration(window.Duration)
	if err != nil {
		return compiled{}, fmt.Errorf("invalid duration %s: %w", window.Duration, err)
	}

	location := time.UTC
	if window.Timezone != "" {
		if location, err = time.LoadLocation(window.Timezone); err != nil {
			klog.Warningf("Unknown timezone %s for window %s, using UTC", window.Timezone, window.Schedule)
			location = time.UTC
		}
	}

	return compiled{schedule: schedule, duration: duration, location: location}, nil
}

func (m *MaintenanceWindowChecker) isInWindow(window MaintenanceWindow, now time.Time) bool {
	c, err := m.compile(window)
	if err != nil {
		klog.Warningf("Ignoring maintenance window: %v", err)
		return false
	}

	local := now.In(c.location)
	// every start that could still cover now lies after local-duration
	for start := c.schedule.Next(local.Add(-c.duration - time.Minute)); !start.After(local); start = c.schedule.Next(start) {
		if local.Before(start.Add(c.duration)) {
			klog.V(4).Infof("Inside maintenance window %s started at %s", window.Schedule, start.Format(time.RFC3339))
			return true
		}
	}
	return false
}

func (m *MaintenanceWindowChecker) getNextWindowStart(window MaintenanceWindow, now time.Time) *time.Time {
	c, err := m.compile(window)
	if err != nil {
		klog.Warningf("Ignoring maintenance window: %v", err)
		return nil
	}

	next := c.schedule.Next(now.In(c.location))
	return &next
}

// Validate checks the schedule, duration and timezone of a window
func (m *MaintenanceWindowChecker) Validate(window MaintenanceWindow) error {
	if window.Timezone != "" {
		if _, err := time.LoadLocation(window.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %s: %w", window.Timezone, err)
		}
	}

	c, err := m.compile(window)
	if err != nil {
		return err
	}
	if c.duration <= 0 {
		return fmt.Errorf("invalid duration %s: must be positive", window.Duration)
	}
	return nil
}
