package sinks

import (
	"context"
	"fmt"

	"github.com/siteharvest/harvester/internal/events"
	"github.com/siteharvest/harvester/internal/harvest"
)

// PublisherSink forwards terminal outcomes (SUCCESS, FAIL, SUMMARY) to a
// message topic for downstream consumers. Non-terminal chatter stays off
// the wire.
type PublisherSink struct {
	publisher harvest.Publisher
	topic     string
}

// NewPublisherSink builds the sink; a nil publisher or empty topic makes
// it a no-op.
func NewPublisherSink(publisher harvest.Publisher, topic string) *PublisherSink {
	return &PublisherSink{publisher: publisher, topic: topic}
}

// Consume publishes terminal events as JSON payloads.
func (s *PublisherSink) Consume(ctx context.Context, evt events.Event) error {
	if s.publisher == nil || s.topic == "" {
		return nil
	}
	switch evt.Type {
	case events.TypeSuccess, events.TypeFail, events.TypeSummary:
	default:
		return nil
	}
	payload := make(map[string]any, len(evt.Payload)+2)
	for k, v := range evt.Payload {
		payload[k] = v
	}
	payload["event"] = string(evt.Type)
	payload["ts"] = evt.TS
	if _, err := s.publisher.Publish(ctx, s.topic, payload); err != nil {
		return fmt.Errorf("publish %s event: %w", evt.Type, err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
