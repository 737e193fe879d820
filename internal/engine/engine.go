// Package engine orchestrates a full harvest run: sitemap resolution,
// checkpoint restore, batch scheduling and final reporting.
package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/siteharvest/harvester/internal/cancel"
	"github.com/siteharvest/harvester/internal/events"
	"github.com/siteharvest/harvester/internal/harvest"
	"github.com/siteharvest/harvester/internal/ledger"
	"github.com/siteharvest/harvester/internal/scheduler"
	"github.com/siteharvest/harvester/internal/sitemap"
)

// Deps bundles the collaborators an Engine needs.
type Deps struct {
	Resolver  *sitemap.Resolver
	Scheduler *scheduler.Scheduler
	Store     harvest.Store
	Ledger    *ledger.Ledger
	Emitter   events.Emitter
	Ctrl      *cancel.Controller
	Clock     harvest.Clock
	IDGen     harvest.IDGenerator
	Logger    *zap.Logger
}

// Engine runs one harvest end to end.
type Engine struct {
	deps Deps
}

// New constructs an Engine; nil optional collaborators get safe defaults.
func New(deps Deps) *Engine {
	if deps.Emitter == nil {
		deps.Emitter = events.Discard{}
	}
	if deps.Clock == nil {
		deps.Clock = harvest.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Engine{deps: deps}
}

// Run harvests the given site. Only empty frontiers and broken
// infrastructure produce an error; per-URL failures are absorbed into the
// summary.
func (e *Engine) Run(ctx context.Context, site string) (harvest.Summary, error) {
	d := e.deps
	start := d.Clock.Now()

	runID := ""
	if d.IDGen != nil {
		id, err := d.IDGen.NewID()
		if err != nil {
			return harvest.Summary{}, fmt.Errorf("generate run id: %w", err)
		}
		runID = id
	}

	sitemapURL, err := harvest.SitemapURL(site)
	if err != nil {
		return harvest.Summary{}, fmt.Errorf("derive sitemap url: %w", err)
	}

	d.Emitter.Emit(events.New(events.TypeStart,
		"run_id", runID,
		"site", site,
		"sitemap_url", sitemapURL,
	))
	d.Logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("sitemap_url", sitemapURL))

	found, err := d.Resolver.Resolve(ctx, sitemapURL)
	if err != nil {
		d.Emitter.Emit(events.New(events.TypeError,
			"message", fmt.Sprintf("sitemap resolution failed: %v", err)))
		e.end(runID)
		return harvest.Summary{RunID: runID}, fmt.Errorf("resolve sitemap: %w", err)
	}
	if len(found) == 0 && !(d.Ctrl != nil && d.Ctrl.Signalled()) {
		d.Emitter.Emit(events.New(events.TypeError,
			"message", "no urls found in sitemap"))
		e.end(runID)
		return harvest.Summary{RunID: runID}, fmt.Errorf("no urls found in %s", sitemapURL)
	}

	frontier := make([]string, 0, len(found))
	for _, f := range found {
		frontier = append(frontier, f.URL)
		if err := d.Store.UpsertPending(ctx, f.URL, f.SitemapURL); err != nil {
			// The ledger, not the store, is the progress authority.
			d.Logger.Warn("store upsert failed", zap.String("url", f.URL), zap.Error(err))
		}
	}

	d.Ledger.SetFound(len(frontier))
	processed, unprocessed := d.Ledger.Partition(frontier)
	if len(processed) > 0 {
		e.restore(processed)
	}

	var summary harvest.Summary
	if len(unprocessed) == 0 {
		stats := d.Ledger.Stats()
		summary = harvest.Summary{
			Found:     stats.Found,
			Succeeded: stats.Success,
			Failed:    stats.Failure,
		}
	} else {
		summary = d.Scheduler.Run(ctx, unprocessed)
	}
	summary.RunID = runID
	summary.Elapsed = d.Clock.Now().Sub(start)

	if err := d.Ledger.Persist(); err != nil {
		d.Logger.Error("final checkpoint persist failed", zap.Error(err))
	}

	d.Emitter.Emit(events.New(events.TypeSummary,
		"run_id", runID,
		"total_urls", summary.Found,
		"successful", summary.Succeeded,
		"failed", summary.Failed,
		"cancelled", summary.Cancelled,
		"elapsed_seconds", summary.Elapsed.Seconds(),
	))
	e.end(runID)

	d.Logger.Info("run finished",
		zap.String("run_id", runID),
		zap.Int("found", summary.Found),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Bool("cancelled", summary.Cancelled))
	return summary, nil
}

// restore replays checkpointed outcomes so the consumer's display starts
// from where the previous run left off.
func (e *Engine) restore(processed []string) {
	d := e.deps
	d.Emitter.Emit(events.New(events.TypeRestoreProgress,
		"restored", len(processed)))

	outcomes := d.Ledger.Outcomes()
	for _, url := range processed {
		entry, ok := outcomes[url]
		if !ok {
			continue
		}
		switch entry.Outcome {
		case ledger.OutcomeSuccess:
			d.Emitter.Emit(events.New(events.TypeSuccess,
				"url", url,
				"status", "restored",
			))
		case ledger.OutcomeFailure:
			d.Emitter.Emit(events.New(events.TypeFail,
				"url", url,
				"message", entry.Detail,
				"status", "restored",
			))
		}
	}
}

func (e *Engine) end(runID string) {
	e.deps.Emitter.Emit(events.New(events.TypeEnd, "run_id", runID))
}

// Stats exposes live ledger counters, for the status API.
func (e *Engine) Stats() ledger.Stats {
	return e.deps.Ledger.Stats()
}
