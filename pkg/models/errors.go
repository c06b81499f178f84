package models

import (
	"errors"
	"fmt"
)

// ErrInvalidValue matches every InvalidValueError via errors.Is
var ErrInvalidValue = errors.New("invalid metric value")

// InvalidValueError reports a non-finite or out-of-range value.
// It indicates upstream corruption and is never recovered from inside the detector.
type InvalidValueError struct {
	Dimension Dimension
	Value     float64
	Reason    string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid %s value %v: %s", e.Dimension, e.Value, e.Reason)
}

// Is reports whether target is ErrInvalidValue
func (e *InvalidValueError) Is(target error) bool {
	return target == ErrInvalidValue
}
