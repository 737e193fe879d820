// Package throttle enforces a minimum inter-request interval per domain.
package throttle

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/siteharvest/harvester/internal/metrics"
)

// Config holds throttle configuration.
//   - DefaultRPS: requests per second for domains with no table entry.
//   - Rates: domain-suffix to requests-per-second overrides; the longest
//     matching suffix wins.
//   - JitterMin/JitterMax: bounds of the uniform jitter added to a
//     throttled wait so workers do not re-synchronize.
type Config struct {
	DefaultRPS float64
	Rates      map[string]float64
	JitterMin  time.Duration
	JitterMax  time.Duration
}

// Throttle tracks per-domain request pacing. Each domain has its own
// limiter and lock; unrelated domains never contend.
type Throttle struct {
	mu      sync.Mutex
	domains map[string]*domainState
	cfg     Config
	sleep   func(ctx context.Context, d time.Duration) error
}

type domainState struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// New creates a Throttle. Non-positive DefaultRPS falls back to 1 rps;
// jitter defaults to the 100–500ms range.
func New(cfg Config) *Throttle {
	if cfg.DefaultRPS <= 0 {
		cfg.DefaultRPS = 1
	}
	if cfg.JitterMin <= 0 {
		cfg.JitterMin = 100 * time.Millisecond
	}
	if cfg.JitterMax <= cfg.JitterMin {
		cfg.JitterMax = cfg.JitterMin + 400*time.Millisecond
	}
	return &Throttle{
		domains: make(map[string]*domainState),
		cfg:     cfg,
		sleep:   sleepCtx,
	}
}

// AwaitTurn blocks until it is safe to issue a request to domain, then
// records the new last-request time. The wait is bounded by one throttle
// interval plus jitter. Other domains proceed unimpeded.
func (t *Throttle) AwaitTurn(ctx context.Context, domain string) error {
	st := t.state(domain)

	st.mu.Lock()
	defer st.mu.Unlock()

	res := st.limiter.Reserve()
	delay := res.Delay()
	if delay <= 0 {
		return nil
	}
	delay += t.jitter()

	start := time.Now()
	if err := t.sleep(ctx, delay); err != nil {
		res.Cancel()
		return fmt.Errorf("throttle wait for %s: %w", domain, err)
	}
	metrics.ObserveThrottleDelay(domain, time.Since(start))
	return nil
}

// RateFor resolves the requests-per-second budget for domain via the
// longest matching suffix in the rate table.
func (t *Throttle) RateFor(domain string) float64 {
	best := ""
	limit := t.cfg.DefaultRPS
	for suffix, rps := range t.cfg.Rates {
		if suffix == "" || len(suffix) < len(best) {
			continue
		}
		if domain == suffix || hasDotSuffix(domain, suffix) {
			best = suffix
			limit = rps
		}
	}
	if limit <= 0 {
		limit = t.cfg.DefaultRPS
	}
	return limit
}

func (t *Throttle) state(domain string) *domainState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.domains[domain]
	if !ok {
		st = &domainState{limiter: rate.NewLimiter(rate.Limit(t.RateFor(domain)), 1)}
		t.domains[domain] = st
	}
	return st
}

func (t *Throttle) jitter() time.Duration {
	span := t.cfg.JitterMax - t.cfg.JitterMin
	if span <= 0 {
		return t.cfg.JitterMin
	}
	return t.cfg.JitterMin + rand.N(span)
}

func hasDotSuffix(domain, suffix string) bool {
	if len(domain) <= len(suffix) {
		return false
	}
	return domain[len(domain)-len(suffix)-1] == '.' && domain[len(domain)-len(suffix):] == suffix
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
