package monitor

import "github.com/sirupsen/logrus"

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts as warnings.
type LogSink struct {
	Logger logrus.FieldLogger
}

func (s LogSink) Send(message string) error {
	s.Logger.WithField("component", "alert").Warn(message)
	return nil
}
