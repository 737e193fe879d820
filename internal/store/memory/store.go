// Package memory provides an in-memory store for tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/siteharvest/harvester/internal/harvest"
)

// Store keeps URL records in a map guarded by a mutex.
type Store struct {
	mu      sync.Mutex
	records map[string]harvest.URLRecord
}

// New returns an empty store.
func New() *Store {
	return &Store{records: make(map[string]harvest.URLRecord)}
}

func (s *Store) UpsertPending(_ context.Context, url, sitemapURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[url]; ok {
		return nil
	}
	s.records[url] = harvest.URLRecord{
		URL:        url,
		SitemapURL: sitemapURL,
		Status:     harvest.StatusPending,
	}
	return nil
}

func (s *Store) QueryPending(_ context.Context, filter harvest.PendingFilter) ([]harvest.URLRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []harvest.URLRecord
	for _, rec := range s.records {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.SitemapURL != "" && rec.SitemapURL != filter.SitemapURL {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Update(
	_ context.Context,
	url string,
	status harvest.Status,
	record harvest.Record,
	errMsg string,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[url]
	if !ok {
		rec = harvest.URLRecord{URL: url}
	}
	rec.Status = status
	rec.Title = record.Title
	rec.Description = record.Description
	rec.Email = record.Email
	rec.Address = record.Address
	rec.ErrorMessage = errMsg
	ts := at
	rec.ProcessedAt = &ts
	s.records[url] = rec
	return nil
}

// Get returns the record for url along with whether it exists.
func (s *Store) Get(url string) (harvest.URLRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[url]
	return rec, ok
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) Close() {}
