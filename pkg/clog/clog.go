// Package clog provides the structured logger used across the chain core.
//
// chainstate.Open takes a Logger via constructor injection, mirroring the
// cfg/log/store pattern the massif committer uses; the lower-level
// packages take no logger.
package clog

import (
	"go.uber.org/zap"
)

// Logger is the narrow logging surface the chain core depends on.
type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	With(args ...interface{}) Logger
}

type sugared struct {
	s *zap.SugaredLogger
}

// New wraps a zap.SugaredLogger as a Logger.
func New(s *zap.SugaredLogger) Logger {
	return &sugared{s: s}
}

// NewProduction builds a production zap logger wrapped as a Logger.
func NewProduction() (Logger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return New(z.Sugar()), nil
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() Logger {
	return New(zap.NewNop().Sugar())
}

func (l *sugared) Debugf(template string, args ...interface{}) { l.s.Debugf(template, args...) }
func (l *sugared) Infof(template string, args ...interface{})  { l.s.Infof(template, args...) }
func (l *sugared) Warnf(template string, args ...interface{})  { l.s.Warnf(template, args...) }
func (l *sugared) Errorf(template string, args ...interface{}) { l.s.Errorf(template, args...) }

func (l *sugared) With(args ...interface{}) Logger {
	return &sugared{s: l.s.With(args...)}
}
