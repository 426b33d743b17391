// Package logrus adapts a *logrus.Entry to entrycache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/entrycache"
)

var _ entrycache.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

func New(l *logrus.Logger) Logger { return Logger{E: logrus.NewEntry(l)} }

func (l Logger) Debug(msg string, f entrycache.Fields) {
	l.E.WithFields(logrus.Fields(f)).Debug(msg)
}
func (l Logger) Info(msg string, f entrycache.Fields) { l.E.WithFields(logrus.Fields(f)).Info(msg) }
func (l Logger) Warn(msg string, f entrycache.Fields) { l.E.WithFields(logrus.Fields(f)).Warn(msg) }
func (l Logger) Error(msg string, f entrycache.Fields) {
	l.E.WithFields(logrus.Fields(f)).Error(msg)
}

func (l Logger) With(f entrycache.Fields) entrycache.Logger {
	return Logger{E: l.E.WithFields(logrus.Fields(f))}
}
