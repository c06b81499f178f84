package detector

import (
	"fmt"
	"math"
)

// Config contains the detector settings. It is fixed for the lifetime of a session.
type Config struct {
	// WindowSize bounds the number of recent samples per dimension (0 = unbounded)
	WindowSize int `json:"windowSize" yaml:"windowSize"`

	// Threshold is the combined score above which a verdict is anomalous
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// MinSamplesBeforeScoring is the number of samples every dimension needs
	// before the session leaves the warming state
	MinSamplesBeforeScoring int `json:"minSamplesBeforeScoring" yaml:"minSamplesBeforeScoring"`
}

// DefaultConfig returns the default detector configuration
func DefaultConfig() Config {
	return Config{
		WindowSize:              0,
		Threshold:               3.0,
		MinSamplesBeforeScoring: 10,
	}
}

// Validate checks the configuration and returns a *ConfigurationError
func (c Config) Validate() error {
	if c.WindowSize < 0 {
		return &ConfigurationError{Field: "windowSize", Reason: fmt.Sprintf("must be >= 0, got %d", c.WindowSize)}
	}
	if math.IsNaN(c.Threshold) || math.IsInf(c.Threshold, 0) || c.Threshold <= 0 {
		return &ConfigurationError{Field: "threshold", Reason: fmt.Sprintf("must be a positive finite number, got %v", c.Threshold)}
	}
	if c.MinSamplesBeforeScoring < 1 {
		return &ConfigurationError{Field: "minSamplesBeforeScoring", Reason: fmt.Sprintf("must be >= 1, got %d", c.MinSamplesBeforeScoring)}
	}
	if c.WindowSize > 0 && c.WindowSize < c.MinSamplesBeforeScoring {
		return &ConfigurationError{
			Field:  "windowSize",
			Reason: fmt.Sprintf("window of %d can never hold %d samples", c.WindowSize, c.MinSamplesBeforeScoring),
		}
	}
	return nil
}
