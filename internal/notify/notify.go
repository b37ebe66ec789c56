// Package notify forwards bus events to external observers.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/veranemoloko/download-orchestrator/internal/domain"
	"github.com/veranemoloko/download-orchestrator/internal/events"
)

// Sink delivers one event to an outside transport.
type Sink interface {
	Name() string
	Notify(ctx context.Context, evt domain.Event) error
	Close() error
}

// Envelope is the wire shape of a forwarded event.
type Envelope struct {
	Type       domain.EventType `json:"type"`
	OccurredAt time.Time        `json:"occurred_at"`
	Payload    domain.Event     `json:"payload"`
}

func encode(evt domain.Event) ([]byte, error) {
	data, err := json.Marshal(Envelope{Type: evt.EventType(), OccurredAt: time.Now().UTC(), Payload: evt})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", evt.EventType(), err)
	}
	return data, nil
}

// Forwarder subscribes to the observer-facing events and hands them to every sink.
type Forwarder struct {
	sinks  []Sink
	logger *slog.Logger
}

func NewForwarder(logger *slog.Logger, sinks ...Sink) *Forwarder {
	return &Forwarder{sinks: sinks, logger: logger}
}

// ObservedEvents are the event types pushed to observers.
var ObservedEvents = []domain.EventType{
	domain.EventDownloadTaskUpdated,
	domain.EventDownloadTaskFinished,
	domain.EventFileMergeFinished,
	domain.EventJobStatusUpdate,
	domain.EventServerProbeProgress,
}

// Subscribe registers the forwarder for ObservedEvents.
func (f *Forwarder) Subscribe(bus *events.Bus) {
	for _, t := range ObservedEvents {
		bus.Subscribe(t, f.Handle)
	}
}

// Handle sends evt to every sink. A failing sink does not keep the others from
// receiving the event.
func (f *Forwarder) Handle(ctx context.Context, evt domain.Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Notify(ctx, evt); err != nil {
			f.logger.Warn("failed to forward event", "sink", s.Name(), "event", evt.EventType(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (f *Forwarder) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
