package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/siteharvest/harvester/internal/cancel"
	"github.com/siteharvest/harvester/internal/events"
	"github.com/siteharvest/harvester/internal/harvest"
	"github.com/siteharvest/harvester/internal/ledger"
	"github.com/siteharvest/harvester/internal/scheduler"
	"github.com/siteharvest/harvester/internal/sitemap"
	"github.com/siteharvest/harvester/internal/store/memory"
	"github.com/siteharvest/harvester/internal/throttle"
)

type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, req harvest.FetchRequest) (harvest.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, req.URL)
	body, ok := f.pages[req.URL]
	if !ok {
		return harvest.FetchResponse{}, &harvest.FetchError{
			URL:        req.URL,
			StatusCode: 404,
			Err:        fmt.Errorf("status 404"),
		}
	}
	return harvest.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

type titleExtractor struct{}

func (titleExtractor) Extract(url string, _ []byte) (harvest.Record, error) {
	return harvest.Record{Title: "page " + url}, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) typed(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, evt := range r.events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

type fixedID struct{}

func (fixedID) NewID() (string, error) { return "run-1", nil }

const testSitemap = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/a</loc></url>
  <url><loc>https://example.com/b</loc></url>
</urlset>`

func newTestEngine(t *testing.T, fetcher *fakeFetcher, emitter *recordingEmitter, checkpointPath string) *Engine {
	t.Helper()

	ldg, err := ledger.Load(checkpointPath)
	require.NoError(t, err)

	ctrl := cancel.New()
	store := memory.New()
	thr := throttle.New(throttle.Config{DefaultRPS: 1000})

	sched := scheduler.New(
		fetcher,
		titleExtractor{},
		store,
		ldg,
		thr,
		emitter,
		harvest.NewExponentialRetryPolicy(1, 0, 0),
		ctrl,
		nil,
		zap.NewNop(),
		scheduler.Config{GlobalConcurrency: 2, BatchSize: 10},
	)
	resolver := sitemap.New(fetcher, emitter, ctrl, zap.NewNop(), sitemap.Config{})

	return New(Deps{
		Resolver:  resolver,
		Scheduler: sched,
		Store:     store,
		Ledger:    ldg,
		Emitter:   emitter,
		Ctrl:      ctrl,
		IDGen:     fixedID{},
		Logger:    zap.NewNop(),
	})
}

func TestRunHarvestsAllPages(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/sitemap.xml": testSitemap,
		"https://example.com/a":           "<html><title>A</title></html>",
		"https://example.com/b":           "<html><title>B</title></html>",
	}}
	emitter := &recordingEmitter{}
	path := filepath.Join(t.TempDir(), "progress.json")

	eng := newTestEngine(t, fetcher, emitter, path)
	summary, err := eng.Run(context.Background(), "example.com")
	require.NoError(t, err)

	require.Equal(t, "run-1", summary.RunID)
	require.Equal(t, 2, summary.Found)
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 0, summary.Failed)
	require.False(t, summary.Cancelled)

	require.Len(t, emitter.typed(events.TypeStart), 1)
	require.Len(t, emitter.typed(events.TypeFoundURL), 2)
	require.Len(t, emitter.typed(events.TypeSuccess), 2)
	require.Len(t, emitter.typed(events.TypeSummary), 1)
	require.Len(t, emitter.typed(events.TypeEnd), 1)
}

func TestRunFailsOnEmptySitemap(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/sitemap.xml": `<?xml version="1.0"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"></urlset>`,
	}}
	emitter := &recordingEmitter{}
	path := filepath.Join(t.TempDir(), "progress.json")

	eng := newTestEngine(t, fetcher, emitter, path)
	_, err := eng.Run(context.Background(), "example.com")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no urls found")
	require.Len(t, emitter.typed(events.TypeError), 1)
	require.Len(t, emitter.typed(events.TypeEnd), 1)
}

func TestRunRestoresCheckpointedOutcomes(t *testing.T) {
	t.Parallel()

	pages := map[string]string{
		"https://example.com/sitemap.xml": testSitemap,
		"https://example.com/a":           "<html></html>",
		"https://example.com/b":           "<html></html>",
	}
	path := filepath.Join(t.TempDir(), "progress.json")

	first := &fakeFetcher{pages: pages}
	eng := newTestEngine(t, first, &recordingEmitter{}, path)
	_, err := eng.Run(context.Background(), "example.com")
	require.NoError(t, err)
	firstFetches := first.count()
	require.Equal(t, 3, firstFetches) // sitemap + two pages

	// A second run over the same checkpoint only fetches the sitemap.
	second := &fakeFetcher{pages: pages}
	emitter := &recordingEmitter{}
	eng2 := newTestEngine(t, second, emitter, path)
	summary, err := eng2.Run(context.Background(), "example.com")
	require.NoError(t, err)

	require.Equal(t, 1, second.count())
	require.Equal(t, 2, summary.Found)
	require.Equal(t, 2, summary.Succeeded)

	restores := emitter.typed(events.TypeRestoreProgress)
	require.Len(t, restores, 1)
	require.EqualValues(t, 2, restores[0].Payload["restored"])

	replayed := emitter.typed(events.TypeSuccess)
	require.Len(t, replayed, 2)
	for _, evt := range replayed {
		require.Equal(t, "restored", evt.Payload["status"])
	}
}

func TestRunAbsorbsPageFailures(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/sitemap.xml": testSitemap,
		"https://example.com/a":           "<html></html>",
		// /b missing: fetch returns a permanent 404
	}}
	emitter := &recordingEmitter{}
	path := filepath.Join(t.TempDir(), "progress.json")

	eng := newTestEngine(t, fetcher, emitter, path)
	summary, err := eng.Run(context.Background(), "example.com")
	require.NoError(t, err)

	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Len(t, emitter.typed(events.TypeFail), 1)
}
