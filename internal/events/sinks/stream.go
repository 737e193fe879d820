// Package sinks provides Sink implementations for the event reporter.
package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/siteharvest/harvester/internal/events"
)

// StreamSink writes events as line-oriented "TYPE:{json}" records, the
// transport a parent process parses to drive its progress display. Each
// event becomes exactly one line; JSON string escaping guarantees no
// payload can split a line.
type StreamSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStreamSink wraps the writer, typically os.Stdout.
func NewStreamSink(w io.Writer) *StreamSink {
	return &StreamSink{w: w}
}

// Consume writes one line per event. A payload that fails to serialize is
// replaced by a fallback ERROR line instead of corrupting the stream.
func (s *StreamSink) Consume(_ context.Context, evt events.Event) error {
	data, err := json.Marshal(evt.Payload)
	if err != nil {
		fallback := fmt.Sprintf("%s:%s\n", events.TypeError,
			mustMarshal(map[string]any{"message": "event payload serialization failed: " + err.Error()}))
		return s.write(fallback)
	}
	return s.write(fmt.Sprintf("%s:%s\n", evt.Type, data))
}

// Close implements the Sink interface; the underlying writer is owned by
// the caller.
func (s *StreamSink) Close(context.Context) error {
	return nil
}

func (s *StreamSink) write(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, line); err != nil {
		return fmt.Errorf("write event line: %w", err)
	}
	return nil
}

func mustMarshal(v map[string]any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"message":"event payload serialization failed"}`)
	}
	return data
}
