// Package ledger keeps the durable, idempotent record of per-URL outcomes
// that makes a harvest run resumable.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Outcome is the terminal result recorded for an attempted URL.
type Outcome string

// Recorded outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Entry is one attempted URL's outcome. Once written it is never replaced
// with different content for the same URL.
type Entry struct {
	Outcome Outcome `json:"outcome"`
	Detail  string  `json:"detail,omitempty"`
}

// Stats are the aggregate counters maintained alongside the entries.
type Stats struct {
	Found   int `json:"found_count"`
	Success int `json:"success_count"`
	Failure int `json:"failure_count"`
}

type checkpoint struct {
	Found   int              `json:"found_count"`
	Entries map[string]Entry `json:"entries"`
}

// Ledger tracks attempted URLs and outcome counters under a single lock;
// concurrent workers record outcomes without racing on counters or on the
// checkpoint file.
type Ledger struct {
	mu      sync.Mutex
	path    string
	entries map[string]Entry
	found   int
	success int
	failure int
}

// Load reads the checkpoint at path, or returns an empty ledger when no
// checkpoint exists yet. Counters are recomputed from the entries so a
// hand-edited or truncated counter block cannot drift from the truth.
func Load(path string) (*Ledger, error) {
	l := &Ledger{path: path, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}

	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	if cp.Entries != nil {
		l.entries = cp.Entries
	}
	l.found = cp.Found
	for _, e := range l.entries {
		switch e.Outcome {
		case OutcomeSuccess:
			l.success++
		default:
			l.failure++
		}
	}
	return l, nil
}

// WasProcessed reports whether url already has a recorded outcome.
func (l *Ledger) WasProcessed(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[url]
	return ok
}

// RecordSuccess records a success for url. Duplicate calls for an already
// recorded URL do not double-count or overwrite the stored entry.
func (l *Ledger) RecordSuccess(url, detail string) {
	l.record(url, Entry{Outcome: OutcomeSuccess, Detail: detail})
}

// RecordFailure records a failure for url, idempotently.
func (l *Ledger) RecordFailure(url, detail string) {
	l.record(url, Entry{Outcome: OutcomeFailure, Detail: detail})
}

func (l *Ledger) record(url string, e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.entries[url]; exists {
		return
	}
	l.entries[url] = e
	if e.Outcome == OutcomeSuccess {
		l.success++
	} else {
		l.failure++
	}
}

// SetFound records the size of the resolved frontier.
func (l *Ledger) SetFound(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > l.found {
		l.found = n
	}
}

// Stats returns a snapshot of the aggregate counters.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Found: l.found, Success: l.success, Failure: l.failure}
}

// Outcomes returns a copy of all recorded entries, for checkpoint replay.
func (l *Ledger) Outcomes() map[string]Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Entry, len(l.entries))
	for k, v := range l.entries {
		out[k] = v
	}
	return out
}

// Partition splits a frontier into the already-processed and unprocessed
// subsets, preserving frontier order.
func (l *Ledger) Partition(frontier []string) (processed, unprocessed []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, url := range frontier {
		if _, done := l.entries[url]; done {
			processed = append(processed, url)
		} else {
			unprocessed = append(unprocessed, url)
		}
	}
	return processed, unprocessed
}

// Persist durably flushes the current state. The checkpoint is written to
// a temp file and renamed so a crash mid-write never corrupts the previous
// checkpoint.
func (l *Ledger) Persist() error {
	l.mu.Lock()
	cp := checkpoint{Found: l.found, Entries: make(map[string]Entry, len(l.entries))}
	for k, v := range l.entries {
		cp.Entries[k] = v
	}
	path := l.path
	l.mu.Unlock()

	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open checkpoint temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}
