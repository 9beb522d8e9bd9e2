// Package logging provides structured logging for the inference kernel,
// built around logrus with execution-scoped context fields.
package logging

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// ctxKey is the type for context keys private to this package.
type ctxKey string

const (
	executionIDKey ctxKey = "execution_id"
	requestIDKey   ctxKey = "request_id"
	tenantIDKey    ctxKey = "tenant_id"
)

// Logger wraps logrus.Logger with a component name.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a Logger for the given component. level is parsed with
// logrus.ParseLevel and defaults to Info on error. format selects
// "json" or text (default).
func New(component, level, format string) *Logger {
	l := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l, component: component}
}

// NewDefault creates a Logger with info level and text format.
func NewDefault(component string) *Logger {
	return New(component, "info", "text")
}

// WithExecution returns a context carrying the execution/request/tenant
// identifiers so that FromContext can recover a pre-populated entry.
func WithExecution(ctx context.Context, executionID, requestID, tenantID string) context.Context {
	ctx = context.WithValue(ctx, executionIDKey, executionID)
	ctx = context.WithValue(ctx, requestIDKey, requestID)
	ctx = context.WithValue(ctx, tenantIDKey, tenantID)
	return ctx
}

// FromContext returns a logrus.Entry populated with any execution-scoped
// fields found on ctx. Missing fields are simply omitted.
func (l *Logger) FromContext(ctx context.Context) *logrus.Entry {
	fields := logrus.Fields{"component": l.component}
	if v, ok := ctx.Value(executionIDKey).(string); ok && v != "" {
		fields["execution_id"] = v
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		fields["request_id"] = v
	}
	if v, ok := ctx.Value(tenantIDKey).(string); ok && v != "" {
		fields["tenant_id"] = v
	}
	return l.Logger.WithFields(fields)
}

// WithField returns a new log entry with a field.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns a new log entry with multiple fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}
