// Package events defines the typed lifecycle events emitted by the
// harvesting engine and the reporter that serializes them, in arrival
// order, to the consuming parent process.
package events

import (
	"fmt"
	"time"
)

// Type denotes the kind of milestone represented by an Event.
type Type string

// Supported event types. The consumer parses these off a line-oriented
// stream to drive a live progress display.
const (
	TypeStart           Type = "START"
	TypeStatus          Type = "STATUS"
	TypeFoundURL        Type = "FOUND_URL"
	TypeRestoreProgress Type = "RESTORE_PROGRESS"
	TypeSuccess         Type = "SUCCESS"
	TypeFail            Type = "FAIL"
	TypeWarn            Type = "WARN"
	TypeError           Type = "ERROR"
	TypeProgressUpdate  Type = "PROGRESS_UPDATE"
	TypeSummary         Type = "SUMMARY"
	TypeCancelled       Type = "CANCELLED"
	TypeEnd             Type = "END"
)

// Event carries one milestone plus its key/value payload. Payloads are
// plain data; raw errors are flattened to strings before they get here.
type Event struct {
	Type    Type
	TS      time.Time
	Payload map[string]any
}

// Validate performs coarse validation before an event is admitted to the
// stream.
func (e Event) Validate() error {
	switch e.Type {
	case TypeStart, TypeStatus, TypeFoundURL, TypeRestoreProgress,
		TypeSuccess, TypeFail, TypeWarn, TypeError,
		TypeProgressUpdate, TypeSummary, TypeCancelled, TypeEnd:
		return nil
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
}

// New builds an Event with the supplied payload pairs. Odd trailing keys
// are dropped.
func New(t Type, kv ...any) Event {
	payload := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		payload[key] = kv[i+1]
	}
	return Event{Type: t, TS: time.Now().UTC(), Payload: payload}
}

// Status is a shorthand for a STATUS event carrying a message.
func Status(msg string) Event {
	return New(TypeStatus, "message", msg)
}

// Warn is a shorthand for a WARN event carrying a message.
func Warn(msg string) Event {
	return New(TypeWarn, "message", msg)
}
