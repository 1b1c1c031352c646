package client

import (
	"github.com/kaxterzz/job-runner/internal/logger"
)

// Level is the severity of a user notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier shows short user-facing messages, such as toasts or console lines.
type Notifier interface {
	Notify(level Level, title, description string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level Level, title, description string)

// Notify calls f.
func (f NotifierFunc) Notify(level Level, title, description string) {
	f(level, title, description)
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier creates a notifier backed by log; nil uses the default logger.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.GetDefault()
	}
	return &LogNotifier{log: log.WithField(logger.FieldComponent, "notifier")}
}

// Notify logs the message at a level matching its severity.
func (n *LogNotifier) Notify(level Level, title, description string) {
	entry := n.log
	if description != "" {
		entry = entry.WithField("description", description)
	}

	switch level {
	case LevelError:
		entry.Error(title)
	case LevelWarning:
		entry.Warn(title)
	default:
		entry.Info(title)
	}
}
