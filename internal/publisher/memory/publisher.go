// Package memory implements harvest.Publisher against process memory,
// recording terminal harvest outcomes for inspection in tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Outcome is one recorded publish, with the fields the harvester puts on
// the wire lifted out of the payload for direct assertion.
type Outcome struct {
	Topic string
	Event string
	URL   string
	Error string
	Raw   any
}

// Publisher records outcomes instead of sending them anywhere.
type Publisher struct {
	mu       sync.RWMutex
	err      error
	outcomes []Outcome
}

// New returns an empty recording Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every subsequent Publish return err.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the outcome and returns a sequence ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	o := Outcome{Topic: topic, Raw: payload}
	if fields, ok := payload.(map[string]any); ok {
		o.Event, _ = fields["event"].(string)
		o.URL, _ = fields["url"].(string)
		o.Error, _ = fields["error"].(string)
	}
	p.outcomes = append(p.outcomes, o)
	return fmt.Sprintf("outcome-%d", len(p.outcomes)), nil
}

// Outcomes returns a copy of everything recorded so far.
func (p *Publisher) Outcomes() []Outcome {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Outcome, len(p.outcomes))
	copy(out, p.outcomes)
	return out
}
