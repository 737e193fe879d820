// Package harvest defines core types shared across subsystems.
package harvest

import (
	"time"
)

// Status represents the lifecycle state of a URL record in the store.
type Status string

// Status values persisted per URL.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Record holds the fields extracted from a fetched page.
type Record struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Email       string `json:"email"`
	Address     string `json:"address"`
}

// URLRecord is the per-URL row persisted in the store, keyed by the
// normalized URL.
type URLRecord struct {
	URL          string     `json:"url"`
	SitemapURL   string     `json:"sitemap_url,omitempty"`
	Status       Status     `json:"status"`
	Title        string     `json:"title,omitempty"`
	Description  string     `json:"description,omitempty"`
	Email        string     `json:"email,omitempty"`
	Address      string     `json:"address,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}

// PendingFilter narrows the rows returned by Store.QueryPending.
type PendingFilter struct {
	Status     Status
	SitemapURL string
	Limit      int
}

// FetchRequest captures everything needed to fetch one URL.
type FetchRequest struct {
	RunID string
	URL   string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Summary is the final accounting for a run, reported even when the run
// was cancelled part way through.
type Summary struct {
	RunID     string        `json:"run_id"`
	Found     int           `json:"total_urls"`
	Succeeded int           `json:"successful"`
	Failed    int           `json:"failed"`
	Cancelled bool          `json:"cancelled"`
	Elapsed   time.Duration `json:"-"`
}
