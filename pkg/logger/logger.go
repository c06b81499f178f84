package logger

import (
	"os"
	"sync"

	"webapp-anomaly-monitor/pkg/anomaly"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger of the replay binary
type Logger struct {
	*zap.SugaredLogger
	level zap.AtomicLevel
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// NewLogger builds a JSON logger, or a colored console logger in development.
// Unknown levels fall back to info.
func NewLogger(level string, development bool) (*Logger, error) {
	var config zap.Config

	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.Encoding = "json"
		config.EncoderConfig.TimeKey = "ts"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	atomicLevel := zap.NewAtomicLevelAt(parseLevel(level))
	config.Level = atomicLevel

	base, err := config.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, err
	}

	return &Logger{SugaredLogger: base.Sugar(), level: atomicLevel}, nil
}

// NewFromCore wraps an existing core, e.g. an observer in tests
func NewFromCore(core zapcore.Core) *Logger {
	return &Logger{
		SugaredLogger: zap.New(core).Sugar(),
		level:         zap.NewAtomicLevelAt(zapcore.DebugLevel),
	}
}

func parseLevel(level string) zapcore.Level {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel
	}
	return zapLevel
}

// SetLevel changes the level of the logger and every logger derived from it
func (l *Logger) SetLevel(level string) {
	l.level.SetLevel(parseLevel(level))
}

// Level returns the current level
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

func (l *Logger) with(fields ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(fields...), level: l.level}
}

// WithFields returns a logger with additional key-value pairs
func (l *Logger) WithFields(fields ...interface{}) *Logger {
	return l.with(fields...)
}

// ForApp scopes a logger to one monitored application
func (l *Logger) ForApp(app string) *Logger {
	return l.with("app", app)
}

// WithVerdict adds the scores of a verdict
func (l *Logger) WithVerdict(v anomaly.AnomalyVerdict) *Logger {
	fields := []interface{}{
		"anomalous", v.IsAnomalous,
		"combinedScore", v.CombinedScore,
		"threshold", v.Threshold,
		"severity", string(v.Severity),
	}
	if v.WorstDimension != "" {
		fields = append(fields, "worstDimension", string(v.WorstDimension))
	}
	for d, score := range v.PerDimensionScore {
		fields = append(fields, "score."+string(d), score)
	}
	return l.with(fields...)
}

// WithError adds an error field
func (l *Logger) WithError(err error) *Logger {
	return l.with(zap.Error(err))
}

// Init replaces the global logger
func Init(level string, development bool) error {
	logger, err := NewLogger(level, development)
	if err != nil {
		return err
	}
	SetGlobal(logger)
	return nil
}

// SetGlobal installs logger as the global logger
func SetGlobal(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// L returns the global logger, a production logger until Init is called
func L() *Logger {
	globalMu.RLock()
	logger := globalLogger
	globalMu.RUnlock()
	if logger != nil {
		return logger
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		if logger, err := NewLogger("info", false); err == nil {
			globalLogger = logger
		} else {
			globalLogger = NewFromCore(zapcore.NewNopCore())
		}
	}
	return globalLogger
}

func Infof(template string, args ...interface{}) {
	L().Infof(template, args...)
}

func Warnf(template string, args ...interface{}) {
	L().Warnf(template, args...)
}

func Errorf(template string, args ...interface{}) {
	L().Errorf(template, args...)
}

func Fatalf(template string, args ...interface{}) {
	L().Fatalf(template, args...)
	os.Exit(1)
}

// ForApp scopes the global logger to one application
func ForApp(app string) *Logger {
	return L().ForApp(app)
}

// WithError returns the global logger with an error field
func WithError(err error) *Logger {
	return L().WithError(err)
}

// Sync flushes the global logger
func Sync() error {
	return L().Sync()
}
