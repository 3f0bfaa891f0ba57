package notify

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/sirupsen/logrus"
)

// WatermillLogger adapts a logrus logger to watermill.
type WatermillLogger struct {
	entry logrus.FieldLogger
}

var _ watermill.LoggerAdapter = WatermillLogger{}

func NewWatermillLogger(l logrus.FieldLogger) WatermillLogger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return WatermillLogger{entry: l}
}

func (w WatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.entry.WithError(err).WithFields(logrus.Fields(fields)).Error(msg)
}

func (w WatermillLogger) Info(msg string, fields watermill.LogFields) {
	w.entry.WithFields(logrus.Fields(fields)).Info(msg)
}

func (w WatermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.entry.WithFields(logrus.Fields(fields)).Debug(msg)
}

func (w WatermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.entry.WithFields(logrus.Fields(fields)).Trace(msg)
}

func (w WatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return WatermillLogger{entry: w.entry.WithFields(logrus.Fields(fields))}
}
