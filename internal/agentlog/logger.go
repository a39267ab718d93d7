// Package agentlog provides the structured logging contract used across
// the SLA monitoring agent. Components accept a Logger via constructor
// injection rather than reaching for a package-level global, and adopt
// ComponentAwareLogger.WithComponent when they want their log lines tagged
// (e.g. "agent/notifier", "agent/orchestrator") so an operator can filter:
//
//	journalctl -u slamonitor | jq 'select(.component == "agent/notifier")'
package agentlog

import (
	"context"

	"go.uber.org/zap"
)

// Logger is the minimal logging interface every component depends on.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})

	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger extends Logger with a way to scope a child logger to
// a named component without threading a string parameter through every
// call.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

type runIDKey struct{}

// WithRunID returns a context carrying the current tick's run ID so that
// ErrorWithContext/InfoWithContext calls deep in the call stack can log it
// without every function signature growing a runID parameter.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom extracts the run ID stashed by WithRunID, or "" if absent.
func RunIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey{}).(string)
	return v
}

// ZapLogger implements Logger and ComponentAwareLogger on top of a
// *zap.SugaredLogger.
type ZapLogger struct {
	sugar     *zap.SugaredLogger
	component string
}

// NewZapLogger wraps an existing *zap.Logger.
func NewZapLogger(base *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: base.Sugar()}
}

// NewProductionLogger builds a JSON, production-tuned *ZapLogger, or a
// console-encoded development logger when dev is true.
func NewProductionLogger(dev bool) (*ZapLogger, error) {
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(base), nil
}

func (l *ZapLogger) with(fields map[string]interface{}) *zap.SugaredLogger {
	s := l.sugar
	if l.component != "" {
		s = s.With("component", l.component)
	}
	if len(fields) == 0 {
		return s
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return s.With(args...)
}

func (l *ZapLogger) withCtx(ctx context.Context, fields map[string]interface{}) *zap.SugaredLogger {
	s := l.with(fields)
	if runID := RunIDFrom(ctx); runID != "" {
		s = s.With("run_id", runID)
	}
	return s
}

func (l *ZapLogger) Debug(msg string, fields map[string]interface{}) { l.with(fields).Debug(msg) }
func (l *ZapLogger) Info(msg string, fields map[string]interface{})  { l.with(fields).Info(msg) }
func (l *ZapLogger) Warn(msg string, fields map[string]interface{})  { l.with(fields).Warn(msg) }
func (l *ZapLogger) Error(msg string, fields map[string]interface{}) { l.with(fields).Error(msg) }

func (l *ZapLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.withCtx(ctx, fields).Debug(msg)
}
func (l *ZapLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.withCtx(ctx, fields).Info(msg)
}
func (l *ZapLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.withCtx(ctx, fields).Warn(msg)
}
func (l *ZapLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.withCtx(ctx, fields).Error(msg)
}

// WithComponent returns a logger whose log lines carry a "component" field.
func (l *ZapLogger) WithComponent(component string) Logger {
	return &ZapLogger{sugar: l.sugar, component: component}
}

// Sync flushes any buffered log entries; call on shutdown.
func (l *ZapLogger) Sync() error { return l.sugar.Sync() }

// NoOpLogger discards everything. Safe zero-value default for components
// that received no logger.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, map[string]interface{}) {}
func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}

func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}

func (n NoOpLogger) WithComponent(string) Logger { return n }

var (
	_ ComponentAwareLogger = (*ZapLogger)(nil)
	_ ComponentAwareLogger = NoOpLogger{}
)
