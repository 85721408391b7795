// Package logging wraps logrus behind the teacher-adjacent component-tagged
// API shape (ShaeOJ-GoVault internal/logger/logger.go: Infof(component, fmt,
// args...)), so call sites read the same way the pack's own session/server
// code reads, while actually emitting structured, leveled log entries.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger tags every entry with the listener name and a component label.
type Logger struct {
	entry *logrus.Entry
}

// New builds a Logger for a listener. logPath == "" logs to stderr, matching
// the teacher's fallback when log_path is unset.
func New(listenerName, logPath, level string) (*Logger, error) {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		l.SetOutput(f)
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	return &Logger{entry: l.WithField("listener", listenerName)}, nil
}

func (l *Logger) with(component string) *logrus.Entry {
	return l.entry.WithField("component", component)
}

func (l *Logger) Debugf(component, format string, args ...interface{}) {
	l.with(component).Debugf(format, args...)
}

func (l *Logger) Infof(component, format string, args ...interface{}) {
	l.with(component).Infof(format, args...)
}

func (l *Logger) Warnf(component, format string, args ...interface{}) {
	l.with(component).Warnf(format, args...)
}

func (l *Logger) Errorf(component, format string, args ...interface{}) {
	l.with(component).Errorf(format, args...)
}

func (l *Logger) Info(component, msg string)  { l.with(component).Info(msg) }
func (l *Logger) Warn(component, msg string)  { l.with(component).Warn(msg) }
func (l *Logger) Error(component, msg string) { l.with(component).Error(msg) }
