// Package logging provides the structured logger backing
// transport.Logger (and the session's own connectivity/dispatch logs),
// wired onto go.uber.org/zap (teranos-QNTX's structured-logging choice)
// rather than the teacher's stdlib-log DefaultLogger: the teacher's
// definition.DefaultLogger interface is kept (transport.Logger has the
// same four-method shape) but its production implementation is a named
// zap.SugaredLogger, so every component's log lines carry a `component`
// field instead of a bare string prefix.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the Debugf/Infof/Warnf/Errorf contract transport.Config and
// session.Options accept. zap.SugaredLogger already implements it
// verbatim, so Adapter is a thin named wrapper rather than a forwarding
// shim.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Adapter wraps a *zap.SugaredLogger so it satisfies Logger (and, by the
// same method set, transport.Logger) without restating its methods.
type Adapter struct {
	*zap.SugaredLogger
}

// New builds a named Adapter at the given level ("debug", "info",
// "warn", or "error"; unrecognized values fall back to "info").
func New(component string, level string) (*Adapter, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Adapter{logger.Sugar().Named(component)}, nil
}

// Development builds a human-readable console Adapter, for local runs
// and tests that want output but not JSON framing.
func Development(component string) (*Adapter, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return &Adapter{logger.Sugar().Named(component)}, nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// Nop returns a Logger that discards everything, for callers that don't
// want to wire a real sink (mirrors transport's own internal nopLogger,
// exported here so session/scheduler callers outside this module's own
// packages can default to it too).
func Nop() Logger { return nopLogger{} }
