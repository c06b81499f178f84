package detector

import (
	"errors"
	"fmt"

	"webapp-anomaly-monitor/pkg/models"
)

var (
	// ErrInsufficientData matches every InsufficientDataError via errors.Is
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidConfig matches every ConfigurationError via errors.Is
	ErrInvalidConfig = errors.New("invalid detector configuration")
)

// InsufficientDataError is returned by Evaluate while the session is warming.
// It is expected: callers should retry after more samples were ingested.
type InsufficientDataError struct {
	Dimension models.Dimension
	Have      int
	Need      int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %s has %d of %d samples required before scoring", e.Dimension, e.Have, e.Need)
}

// Is reports whether target is ErrInsufficientData
func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// ConfigurationError reports an invalid Config at construction time
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid detector config: %s %s", e.Field, e.Reason)
}

// Is reports whether target is ErrInvalidConfig
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfig
}
