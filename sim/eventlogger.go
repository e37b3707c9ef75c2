package sim

import (
	"reflect"

	"github.com/sirupsen/logrus"
)

// EventLogger is an hook that prints the event information
type EventLogger struct {
	Logger *logrus.Logger
}

// NewEventLogger returns a new EventLogger which will write in to the logger
func NewEventLogger(logger *logrus.Logger) *EventLogger {
	return &EventLogger{Logger: logger}
}

// Func writes the event information into the logger
func (h *EventLogger) Func(ctx HookCtx) {
	if ctx.Pos != HookPosBeforeEvent {
		return
	}

	evt, ok := ctx.Item.(Event)
	if !ok {
		return
	}

	entry := h.Logger.WithFields(logrus.Fields{
		"tick":  uint64(evt.Time()),
		"event": reflect.TypeOf(evt).String(),
	})

	if comp, ok := evt.Handler().(Named); ok {
		entry = entry.WithField("handler", comp.Name())
	}

	entry.Trace("event")
}
