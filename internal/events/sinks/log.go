package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/siteharvest/harvester/internal/events"
)

// LogSink mirrors the event stream into structured logs. Useful during
// development or audits where the parent process is absent.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the event with its payload as a structured field.
func (s *LogSink) Consume(_ context.Context, evt events.Event) error {
	s.logger.Info("harvest event",
		zap.String("type", string(evt.Type)),
		zap.Time("ts", evt.TS),
		zap.Any("payload", evt.Payload),
	)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
