// Package klog provides the kernel's structured logger. Every kernel
// component receives a *klog.Logger at construction time rather than
// reaching for a package-level global, so tests can inject a no-op or
// observed logger without polluting other packages.
package klog

import "go.uber.org/zap"

// Logger wraps a zap.SugaredLogger scoped to one kernel component.
type Logger struct {
	s *zap.SugaredLogger
}

// New wraps an existing zap logger, tagging it with component.
func New(base *zap.Logger, component string) *Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return &Logger{s: base.Sugar().Named(component)}
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() *Logger {
	return &Logger{s: zap.NewNop().Sugar()}
}

func (l *Logger) Debugw(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l *Logger) Infow(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l *Logger) Warnw(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l *Logger) Errorw(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
