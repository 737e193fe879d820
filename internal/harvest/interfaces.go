package harvest

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns fetched page content into a business Record.
type Extractor interface {
	Extract(url string, body []byte) (Record, error)
}

// Store persists per-URL status and extracted fields. Implementations may
// be slow; callers keep Store I/O outside throttle-critical sections.
type Store interface {
	UpsertPending(ctx context.Context, url, sitemapURL string) error
	QueryPending(ctx context.Context, filter PendingFilter) ([]URLRecord, error)
	Update(ctx context.Context, url string, status Status, record Record, errMsg string, at time.Time) error
	Close()
}

// Publisher pushes terminal outcomes to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
