package harvest

import (
	"errors"
	"fmt"
)

// FailureKind classifies per-URL failures so the scheduler can decide
// whether a retry is worthwhile.
type FailureKind string

// Failure kinds recorded with ERROR outcomes.
const (
	FailTransientFetch FailureKind = "FETCH_ERROR"
	FailPermanentFetch FailureKind = "FETCH_ERROR_PERMANENT"
	FailExtraction     FailureKind = "EXTRACTION_ERROR"
	FailWrite          FailureKind = "WRITE_ERROR"
	FailBatch          FailureKind = "BATCH_ERROR"
)

// FetchError wraps a fetch failure with its retryability.
type FetchError struct {
	URL        string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying with backoff. Unknown
// error shapes (plain network errors without a FetchError wrapper) are
// treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Transient
	}
	return true
}

// RetryableStatus reports whether an HTTP status should be retried.
// 429 and 5xx are transient; other 4xx are permanent.
func RetryableStatus(code int) bool {
	if code == 429 {
		return true
	}
	return code >= 500 && code < 600
}
