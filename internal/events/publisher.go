package events

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/interfaces"
)

// NoopPublisher discards events
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, interfaces.Event) error { return nil }

// MultiPublisher delivers each event to every sink. A failing sink does not
// stop delivery to the others.
type MultiPublisher struct {
	sinks  []interfaces.EventPublisher
	logger *logrus.Logger
}

// NewMultiPublisher skips nil sinks
func NewMultiPublisher(logger *logrus.Logger, sinks ...interfaces.EventPublisher) *MultiPublisher {
	kept := make([]interfaces.EventPublisher, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			kept = append(kept, sink)
		}
	}
	return &MultiPublisher{sinks: kept, logger: logger}
}

func (m *MultiPublisher) Publish(ctx context.Context, event interfaces.Event) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			m.logger.WithError(err).WithField("event_type", event.Type).Warn("Event sink failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
