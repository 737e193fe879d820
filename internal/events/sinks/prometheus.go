package sinks

import (
	"context"

	"github.com/siteharvest/harvester/internal/events"
	"github.com/siteharvest/harvester/internal/metrics"
)

// PrometheusSink translates lifecycle events into metric updates so a
// scrape endpoint can mirror the stream without a second bookkeeping path.
type PrometheusSink struct{}

// NewPrometheusSink registers the collectors and returns the sink.
func NewPrometheusSink() *PrometheusSink {
	metrics.Init()
	return &PrometheusSink{}
}

// Consume updates counters for the event types that map onto metrics;
// everything else passes through untouched.
func (s *PrometheusSink) Consume(_ context.Context, evt events.Event) error {
	switch evt.Type {
	case events.TypeFoundURL:
		metrics.IncFound()
	case events.TypeSuccess:
		if restored(evt) {
			metrics.IncOutcome("restored")
		} else {
			metrics.IncOutcome("success")
		}
	case events.TypeFail:
		if restored(evt) {
			metrics.IncOutcome("restored")
		} else {
			metrics.IncOutcome("failure")
		}
	case events.TypeProgressUpdate:
		metrics.IncBatch()
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func restored(evt events.Event) bool {
	status, _ := evt.Payload["status"].(string)
	return status == "restored"
}
