package common

import (
	"fmt"
	"os"
	"regexp"

	"github.com/sirupsen/logrus"
)

// Logger is a thin category-filtering adapter over logrus: every call
// site tags a category, and a regexp configured at construction time
// decides whether that category's debug-level chatter is worth emitting.
// Info/Warn/Error always go through; Debug is filtered.
type Logger struct {
	entry          *logrus.Entry
	categoryFilter *regexp.Regexp
	reportCaller   bool
}

// NewLogger builds a Logger around the given *logrus.Logger (or a fresh
// logrus.New() logger if nil), filtering Debugf calls to
// categories matching categoryFilter (nil matches nothing).
func NewLogger(base *logrus.Logger, categoryFilter *regexp.Regexp) *Logger {
	if base == nil {
		base = logrus.New()
	}
	l := &Logger{
		entry:          logrus.NewEntry(base),
		categoryFilter: categoryFilter,
	}
	if _, ok := os.LookupEnv("FXDRIVER_LOG_CALLER"); ok {
		l.reportCaller = true
	}
	return l
}

// SetLevel parses and applies a logrus level string ("debug", "info", ...).
func (l *Logger) SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	l.entry.Logger.SetLevel(lvl)
	return nil
}

// ReportCaller enables source-location annotation on subsequent entries.
func (l *Logger) ReportCaller() { l.reportCaller = true }

func (l *Logger) withCategory(category string) *logrus.Entry {
	e := l.entry.WithField("category", category)
	if l.reportCaller {
		e = e.WithField("caller", callerLocation(3))
	}
	return e
}

// Debugf logs at debug level, but only for categories matched by the
// configured category filter. This is how the driver supports
// fine-grained "--debug=Connection:.*" style tracing without a flood of
// unrelated noise.
func (l *Logger) Debugf(category, format string, args ...interface{}) {
	if l.categoryFilter == nil || !l.categoryFilter.MatchString(category) {
		return
	}
	l.withCategory(category).Debugf(format, args...)
}

// Infof logs at info level, unconditionally.
func (l *Logger) Infof(category, format string, args ...interface{}) {
	l.withCategory(category).Infof(format, args...)
}

// Warnf logs at warn level, unconditionally.
func (l *Logger) Warnf(category, format string, args ...interface{}) {
	l.withCategory(category).Warnf(format, args...)
}

// Errorf logs at error level, unconditionally.
func (l *Logger) Errorf(category, format string, args ...interface{}) {
	l.withCategory(category).Errorf(format, args...)
}

// NewNullLogger returns a Logger whose output is discarded, for tests.
func NewNullLogger() *Logger {
	base := logrus.New()
	base.SetOutput(nilWriter{})
	return NewLogger(base, nil)
}

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }
