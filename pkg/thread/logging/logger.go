// Package logging defines the leveled logger every thread-engine
// component depends on, adapted from the teacher's definition.Logger
// shape onto logrus.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the leveled logging interface every engine component takes
// a dependency on. It mirrors the teacher's hand-rolled definition.Logger
// method set, which is itself shaped like logrus.FieldLogger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
}

// logrusLogger adapts *logrus.Entry to Logger.
type logrusLogger struct {
	entry *logrus.Entry
}

// New returns the default logrus-backed Logger, text-formatted to
// stderr, matching the teacher's DefaultLogger destination.
func New() Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// NewWith wraps an existing *logrus.Logger, for callers that already run
// one elsewhere in their process.
func NewWith(l *logrus.Logger) Logger {
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}
