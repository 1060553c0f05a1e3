package logging

import (
	"fmt"
	stdlog "log"
	"os"
)

// fallbackLogger is a dependency-free Logger, kept for callers (mainly
// tests) that want to exercise the engine without pulling in logrus,
// the same role the teacher's definition.DefaultLogger played alongside
// its logrus-shaped interface.
type fallbackLogger struct {
	*stdlog.Logger
	fields string
}

// NewFallback returns the stdlib-only Logger implementation.
func NewFallback() Logger {
	return &fallbackLogger{Logger: stdlog.New(os.Stderr, "thread ", stdlog.LstdFlags)}
}

func (l *fallbackLogger) level(prefix, msg string) string {
	if l.fields != "" {
		return fmt.Sprintf("[%s] %s %s", prefix, l.fields, msg)
	}
	return fmt.Sprintf("[%s] %s", prefix, msg)
}

func (l *fallbackLogger) Debugf(format string, args ...interface{}) {
	l.Output(2, l.level("DEBUG", fmt.Sprintf(format, args...)))
}

func (l *fallbackLogger) Infof(format string, args ...interface{}) {
	l.Output(2, l.level("INFO", fmt.Sprintf(format, args...)))
}

func (l *fallbackLogger) Warnf(format string, args ...interface{}) {
	l.Output(2, l.level("WARN", fmt.Sprintf(format, args...)))
}

func (l *fallbackLogger) Errorf(format string, args ...interface{}) {
	l.Output(2, l.level("ERROR", fmt.Sprintf(format, args...)))
}

func (l *fallbackLogger) WithField(key string, value interface{}) Logger {
	joined := fmt.Sprintf("%s=%v", key, value)
	if l.fields != "" {
		joined = l.fields + " " + joined
	}
	return &fallbackLogger{Logger: l.Logger, fields: joined}
}
