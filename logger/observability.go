package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// ObservabilityLogger provides structured JSON logging using logrus.
// Every entry carries a component, a category and, when known, a run ID.
type ObservabilityLogger struct {
	logger *logrus.Logger
	file   *os.File
}

// Component constants for consistent labeling
const (
	ComponentPipeline       = "pipeline"
	ComponentFormatter      = "formatter"
	ComponentBackend        = "backend"
	ComponentChecker        = "checker"
	ComponentCircuitBreaker = "circuit_breaker"
	ComponentConfig         = "configuration"
	ComponentServer         = "server"
	ComponentReport         = "report"
)

// Category constants for log classification
const (
	CategoryRequest    = "request"
	CategoryTransition = "transition"
	CategoryGate       = "gate"
	CategoryValidation = "validation"
	CategoryFailover   = "failover"
	CategoryHealth     = "health"
	CategorySuccess    = "success"
	CategoryWarning    = "warning"
	CategoryError      = "error"
)

// New creates a logger writing JSON lines to w at the given level
// ("debug", "info", "warn", "error"; empty means info).
func New(w io.Writer, level string) (*ObservabilityLogger, error) {
	lvl := logrus.InfoLevel
	if level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetLevel(lvl)

	return &ObservabilityLogger{logger: logger}, nil
}

// NewFileLogger appends JSON lines to <logDir>/rin.jsonl
func NewFileLogger(logDir, level string) (*ObservabilityLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}

	logPath := filepath.Join(logDir, "rin.jsonl")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	obs, err := New(file, level)
	if err != nil {
		file.Close()
		return nil, err
	}
	obs.file = file
	return obs, nil
}

// Discard returns a logger that drops everything
func Discard() *ObservabilityLogger {
	obs, _ := New(io.Discard, "")
	return obs
}

// Close closes the log file, if any
func (o *ObservabilityLogger) Close() error {
	if o.file != nil {
		return o.file.Close()
	}
	return nil
}

// createEntry creates a logrus entry with standard fields
func (o *ObservabilityLogger) createEntry(component, category, runID string, fields map[string]interface{}) *logrus.Entry {
	entry := o.logger.WithFields(logrus.Fields{
		"service":   "rin",
		"component": component,
		"category":  category,
	})

	if runID != "" {
		entry = entry.WithField("run_id", runID)
	}

	if fields != nil {
		entry = entry.WithFields(fields)
	}

	return entry
}

// Debug logs a debug message
func (o *ObservabilityLogger) Debug(component, category, runID, message string, fields map[string]interface{}) {
	o.createEntry(component, category, runID, fields).Debug(message)
}

// Info logs an info message
func (o *ObservabilityLogger) Info(component, category, runID, message string, fields map[string]interface{}) {
	o.createEntry(component, category, runID, fields).Info(message)
}

// Warn logs a warning message
func (o *ObservabilityLogger) Warn(component, category, runID, message string, fields map[string]interface{}) {
	o.createEntry(component, category, runID, fields).Warn(message)
}

// Error logs an error message
func (o *ObservabilityLogger) Error(component, category, runID, message string, fields map[string]interface{}) {
	o.createEntry(component, category, runID, fields).Error(message)
}

// Transition logs a pipeline state change
func (o *ObservabilityLogger) Transition(runID, from, to string) {
	o.Debug(ComponentPipeline, CategoryTransition, runID, "State transition", map[string]interface{}{
		"from": from,
		"to":   to,
	})
}

// GateResult logs the outcome of a validation gate
func (o *ObservabilityLogger) GateResult(runID, gate, checkpoint string, passed bool, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["gate"] = gate
	fields["checkpoint"] = checkpoint
	fields["passed"] = passed
	if passed {
		o.Info(ComponentPipeline, CategoryGate, runID, "Gate passed", fields)
		return
	}
	o.Warn(ComponentPipeline, CategoryGate, runID, "Gate failed", fields)
}

// BackendRequest logs one backend round trip
func (o *ObservabilityLogger) BackendRequest(runID, mode, model string, accepted, rejected int, err error) {
	fields := map[string]interface{}{
		"mode":     mode,
		"model":    model,
		"accepted": accepted,
		"rejected": rejected,
	}
	if err != nil {
		fields["error"] = err.Error()
		o.Warn(ComponentBackend, CategoryFailover, runID, "Backend request failed, treating as zero commands", fields)
		return
	}
	o.Info(ComponentBackend, CategoryRequest, runID, "Backend commands received", fields)
}

// CircuitBreakerEvent logs circuit breaker state changes
func (o *ObservabilityLogger) CircuitBreakerEvent(endpoint, message string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["endpoint"] = endpoint
	o.Info(ComponentCircuitBreaker, CategoryHealth, "", message, fields)
}
