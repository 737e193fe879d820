// Package scheduler drives bounded-concurrency batch execution of the
// fetch, extract and record pipeline over the unprocessed URL frontier.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/siteharvest/harvester/internal/cancel"
	"github.com/siteharvest/harvester/internal/events"
	"github.com/siteharvest/harvester/internal/harvest"
	"github.com/siteharvest/harvester/internal/ledger"
	"github.com/siteharvest/harvester/internal/metrics"
	"github.com/siteharvest/harvester/internal/throttle"
)

// Config controls batching and concurrency.
//   - GlobalConcurrency: worker ceiling for any sub-batch.
//   - BatchSize: URLs per sub-batch; the ledger is persisted and a
//     PROGRESS_UPDATE emitted at each sub-batch boundary.
//   - InterBatchDelay: optional pause between sub-batches.
//   - DomainConcurrency: per-domain-suffix worker overrides.
//   - StrictDomains: domain suffixes hard-capped at one worker regardless
//     of the global setting.
type Config struct {
	GlobalConcurrency int
	BatchSize         int
	InterBatchDelay   time.Duration
	DomainConcurrency map[string]int
	StrictDomains     []string
}

// Scheduler executes the harvest pipeline per URL with retry, throttling
// and checkpointing.
type Scheduler struct {
	fetcher   harvest.Fetcher
	extractor harvest.Extractor
	store     harvest.Store
	ledger    *ledger.Ledger
	throttle  *throttle.Throttle
	emitter   events.Emitter
	policy    *harvest.ExponentialRetryPolicy
	ctrl      *cancel.Controller
	clock     harvest.Clock
	logger    *zap.Logger
	cfg       Config
}

// New constructs a Scheduler. Zero-value config fields fall back to a
// global concurrency of 3 and a batch size of 10.
func New(
	fetcher harvest.Fetcher,
	extractor harvest.Extractor,
	store harvest.Store,
	ldg *ledger.Ledger,
	thr *throttle.Throttle,
	emitter events.Emitter,
	policy *harvest.ExponentialRetryPolicy,
	ctrl *cancel.Controller,
	clock harvest.Clock,
	logger *zap.Logger,
	cfg Config,
) *Scheduler {
	if cfg.GlobalConcurrency <= 0 {
		cfg.GlobalConcurrency = 3
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if emitter == nil {
		emitter = events.Discard{}
	}
	if policy == nil {
		policy = harvest.NewExponentialRetryPolicy(0, 0, 0)
	}
	if clock == nil {
		clock = harvest.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		fetcher:   fetcher,
		extractor: extractor,
		store:     store,
		ledger:    ldg,
		throttle:  thr,
		emitter:   emitter,
		policy:    policy,
		ctrl:      ctrl,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// batch is one sub-batch of same-domain URLs with its worker budget.
type batch struct {
	domain  string
	urls    []string
	workers int
}

// Run processes the unprocessed frontier to completion or cancellation
// and returns the final accounting. Per-URL failures never abort the run.
func (s *Scheduler) Run(ctx context.Context, unprocessed []string) harvest.Summary {
	start := s.clock.Now()
	batches := s.formBatches(unprocessed)
	total := s.ledger.Stats().Found
	if total <= 0 {
		total = len(unprocessed)
	}
	cancelled := false

	for i, b := range batches {
		if s.stopRequested() {
			cancelled = true
			s.checkpoint()
			s.emitter.Emit(events.New(events.TypeCancelled, "message", "crawling stopped by signal"))
			break
		}
		if i > 0 && s.cfg.InterBatchDelay > 0 {
			s.pause(ctx, s.cfg.InterBatchDelay)
		}

		s.emitter.Emit(events.Status(fmt.Sprintf("processing batch %d/%d: %d urls on %s",
			i+1, len(batches), len(b.urls), b.domain)))

		s.runBatch(ctx, b)

		s.checkpoint()
		stats := s.ledger.Stats()
		done := stats.Success + stats.Failure
		s.emitter.Emit(events.New(events.TypeProgressUpdate,
			"processed", done,
			"total", total,
			"success", stats.Success,
			"failed", stats.Failure,
			"percent", percent(done, total),
		))
	}

	stats := s.ledger.Stats()
	return harvest.Summary{
		Found:     stats.Found,
		Succeeded: stats.Success,
		Failed:    stats.Failure,
		Cancelled: cancelled,
		Elapsed:   s.clock.Now().Sub(start),
	}
}

// formBatches groups the frontier by domain, preserving first-appearance
// order, and splits each group into fixed-size sub-batches.
func (s *Scheduler) formBatches(urls []string) []batch {
	var order []string
	groups := make(map[string][]string)
	for _, u := range urls {
		domain := harvest.Domain(u)
		if _, seen := groups[domain]; !seen {
			order = append(order, domain)
		}
		groups[domain] = append(groups[domain], u)
	}

	var batches []batch
	for _, domain := range order {
		workers := s.effectiveConcurrency(domain)
		group := groups[domain]
		for len(group) > 0 {
			n := s.cfg.BatchSize
			if n > len(group) {
				n = len(group)
			}
			batches = append(batches, batch{domain: domain, urls: group[:n], workers: workers})
			group = group[n:]
		}
	}
	return batches
}

// effectiveConcurrency is min(global, domain override); strict domains
// get exactly one worker.
func (s *Scheduler) effectiveConcurrency(domain string) int {
	for _, strict := range s.cfg.StrictDomains {
		if suffixMatch(domain, strict) {
			return 1
		}
	}
	best := ""
	for suffix := range s.cfg.DomainConcurrency {
		if len(suffix) > len(best) && suffixMatch(domain, suffix) {
			best = suffix
		}
	}
	workers := s.cfg.GlobalConcurrency
	if override := s.cfg.DomainConcurrency[best]; override > 0 && override < workers {
		workers = override
	}
	if workers <= 0 {
		workers = 1
	}
	return workers
}

// runBatch dispatches up to b.workers units of work and waits for every
// unit to settle. An infrastructure panic marks the whole sub-batch failed
// and lets the run continue with the next one.
func (s *Scheduler) runBatch(ctx context.Context, b batch) {
	var settled sync.Map
	err := func() (batchErr error) {
		defer func() {
			if r := recover(); r != nil {
				batchErr = fmt.Errorf("batch executor panic: %v", r)
			}
		}()

		sem := make(chan struct{}, b.workers)
		var wg sync.WaitGroup
		for _, url := range b.urls {
			wg.Add(1)
			sem <- struct{}{}
			go func(u string) {
				defer wg.Done()
				defer func() { <-sem }()
				defer s.recoverWorker(u, &settled)
				metrics.WorkerStarted()
				defer metrics.WorkerDone()
				s.processURL(ctx, u)
				settled.Store(u, true)
			}(url)
		}
		wg.Wait()
		return nil
	}()
	if err == nil {
		return
	}

	s.logger.Error("sub-batch failed", zap.String("domain", b.domain), zap.Error(err))
	for _, url := range b.urls {
		if _, ok := settled.Load(url); ok {
			continue
		}
		s.recordFailure(ctx, url, string(harvest.FailBatch), err.Error())
	}
}

// recoverWorker converts a panic inside one unit of work into a recorded
// failure so the sub-batch still settles.
func (s *Scheduler) recoverWorker(url string, settled *sync.Map) {
	r := recover()
	if r == nil {
		return
	}
	s.logger.Error("worker panic", zap.String("url", url), zap.Any("panic", r))
	s.recordFailure(context.Background(), url, string(harvest.FailBatch), fmt.Sprintf("worker panic: %v", r))
	settled.Store(url, true)
}

// processURL runs the full pipeline for one URL: throttle, mark
// processing, fetch with retry, extract, record the outcome.
func (s *Scheduler) processURL(ctx context.Context, url string) {
	domain := harvest.Domain(url)
	if s.throttle != nil {
		if err := s.throttle.AwaitTurn(ctx, domain); err != nil {
			s.recordFailure(ctx, url, string(harvest.FailTransientFetch), err.Error())
			return
		}
	}

	now := s.clock.Now()
	if s.store != nil {
		if err := s.store.Update(ctx, url, harvest.StatusProcessing, harvest.Record{}, "", now); err != nil {
			// Reported only; the attempt proceeds.
			s.logger.Warn("mark processing failed", zap.String("url", url), zap.Error(err))
		}
	}

	resp, err := s.fetchWithRetry(ctx, url, domain)
	if err != nil {
		kind := harvest.FailTransientFetch
		if !harvest.IsTransient(err) {
			kind = harvest.FailPermanentFetch
		}
		s.recordFailure(ctx, url, string(kind), err.Error())
		return
	}

	record, err := s.extractor.Extract(url, resp.Body)
	if err != nil {
		s.recordFailure(ctx, url, string(harvest.FailExtraction), fmt.Sprintf("extraction: %v", err))
		return
	}

	s.recordSuccess(ctx, url, record)
}

// fetchWithRetry attempts the fetch up to the policy budget, sleeping a
// jittered exponential backoff between transient failures.
func (s *Scheduler) fetchWithRetry(ctx context.Context, url, domain string) (harvest.FetchResponse, error) {
	var lastErr error
	for attempt := 0; attempt < s.policy.MaxAttempts(); attempt++ {
		resp, err := s.fetcher.Fetch(ctx, harvest.FetchRequest{URL: url})
		if err == nil {
			metrics.ObserveFetchDuration(domain, resp.Duration)
			return resp, nil
		}
		lastErr = err
		if !s.policy.ShouldRetry(err, attempt) {
			break
		}
		metrics.IncRetry()
		s.logger.Debug("retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		s.pause(ctx, s.policy.Backoff(attempt))
	}
	return harvest.FetchResponse{}, lastErr
}

func (s *Scheduler) recordSuccess(ctx context.Context, url string, record harvest.Record) {
	now := s.clock.Now()
	if s.store != nil {
		if err := s.store.Update(ctx, url, harvest.StatusCompleted, record, "", now); err != nil {
			// The fetch classification stands; the write failure is
			// surfaced on its own.
			s.logger.Error("store write failed", zap.String("url", url), zap.Error(err))
			s.emitter.Emit(events.New(events.TypeError,
				"url", url,
				"message", fmt.Sprintf("%s: %v", harvest.FailWrite, err)))
		}
	}
	s.ledger.RecordSuccess(url, record.Title)
	s.emitter.Emit(events.New(events.TypeSuccess,
		"url", url,
		"title", record.Title,
		"preview", preview(record.Description),
		"email", record.Email,
		"address", record.Address,
		"status", "success",
	))
}

func (s *Scheduler) recordFailure(ctx context.Context, url, kind, detail string) {
	now := s.clock.Now()
	msg := detail
	if kind != "" {
		msg = kind + ": " + detail
	}
	if s.store != nil {
		if err := s.store.Update(ctx, url, harvest.StatusError, harvest.Record{}, msg, now); err != nil {
			s.logger.Error("store write failed", zap.String("url", url), zap.Error(err))
		}
	}
	s.ledger.RecordFailure(url, msg)
	s.emitter.Emit(events.New(events.TypeFail,
		"url", url,
		"error", msg,
		"status", "error",
	))
}

func (s *Scheduler) checkpoint() {
	if err := s.ledger.Persist(); err != nil {
		s.logger.Error("checkpoint persist failed", zap.Error(err))
		s.emitter.Emit(events.New(events.TypeError,
			"message", fmt.Sprintf("failed to persist checkpoint: %v", err)))
	}
}

func (s *Scheduler) stopRequested() bool {
	return s.ctrl != nil && s.ctrl.Signalled()
}

func (s *Scheduler) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func percent(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}

func preview(text string) string {
	const limit = 100
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= limit {
		return trimmed
	}
	return trimmed[:limit] + "..."
}

func suffixMatch(domain, suffix string) bool {
	if suffix == "" {
		return false
	}
	if domain == suffix {
		return true
	}
	return strings.HasSuffix(domain, "."+suffix)
}
