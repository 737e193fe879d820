package sitemap

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/siteharvest/harvester/internal/cancel"
	"github.com/siteharvest/harvester/internal/events"
	"github.com/siteharvest/harvester/internal/harvest"
)

type mapFetcher struct {
	mu      sync.Mutex
	docs    map[string]string
	fetched []string
	// onFetch runs before each fetch, with the URL about to be fetched.
	onFetch func(url string)
}

func (f *mapFetcher) Fetch(_ context.Context, req harvest.FetchRequest) (harvest.FetchResponse, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, req.URL)
	hook := f.onFetch
	f.mu.Unlock()
	if hook != nil {
		hook(req.URL)
	}
	body, ok := f.docs[req.URL]
	if !ok {
		return harvest.FetchResponse{}, fmt.Errorf("fetch %s: status 404", req.URL)
	}
	return harvest.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

type collectEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *collectEmitter) Emit(evt events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *collectEmitter) countType(t events.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, evt := range c.events {
		if evt.Type == t {
			n++
		}
	}
	return n
}

func urlset(locs ...string) string {
	doc := `<?xml version="1.0" encoding="UTF-8"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`
	for _, loc := range locs {
		doc += "<url><loc>" + loc + "</loc></url>"
	}
	return doc + "</urlset>"
}

func sitemapindex(locs ...string) string {
	doc := `<?xml version="1.0" encoding="UTF-8"?><sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`
	for _, loc := range locs {
		doc += "<sitemap><loc>" + loc + "</loc></sitemap>"
	}
	return doc + "</sitemapindex>"
}

func newResolver(fetcher *mapFetcher, emitter *collectEmitter, ctrl *cancel.Controller, cfg Config) *Resolver {
	if emitter == nil {
		emitter = &collectEmitter{}
	}
	return New(fetcher, emitter, ctrl, zap.NewNop(), cfg)
}

func urls(found []Found) []string {
	out := make([]string, 0, len(found))
	for _, f := range found {
		out = append(out, f.URL)
	}
	return out
}

func TestResolveFlatURLSet(t *testing.T) {
	t.Parallel()

	fetcher := &mapFetcher{docs: map[string]string{
		"https://example.com/sitemap.xml": urlset(
			"https://example.com/a",
			"https://example.com/b",
		),
	}}

	found, err := newResolver(fetcher, nil, nil, Config{}).Resolve(context.Background(), "https://example.com/sitemap.xml")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, urls(found))
}

func TestResolveSitemapIndexDeduplicatesAcrossDocuments(t *testing.T) {
	t.Parallel()

	fetcher := &mapFetcher{docs: map[string]string{
		"https://example.com/sitemap.xml": sitemapindex(
			"https://example.com/s1.xml",
			"https://example.com/s2.xml",
		),
		"https://example.com/s1.xml": urlset("https://example.com/u1", "https://example.com/u2"),
		"https://example.com/s2.xml": urlset("https://example.com/u2", "https://example.com/u3"),
	}}
	emitter := &collectEmitter{}

	found, err := newResolver(fetcher, emitter, nil, Config{}).Resolve(context.Background(), "https://example.com/sitemap.xml")
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.com/u1",
		"https://example.com/u2",
		"https://example.com/u3",
	}, urls(found))
	require.Equal(t, 3, emitter.countType(events.TypeFoundURL))
}

func TestResolveFollowsXMLEntriesInsideURLSet(t *testing.T) {
	t.Parallel()

	fetcher := &mapFetcher{docs: map[string]string{
		"https://example.com/sitemap.xml": urlset(
			"https://example.com/page",
			"https://example.com/nested.xml",
		),
		"https://example.com/nested.xml": urlset("https://example.com/deep"),
	}}

	found, err := newResolver(fetcher, nil, nil, Config{}).Resolve(context.Background(), "https://example.com/sitemap.xml")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/page", "https://example.com/deep"}, urls(found))
}

func TestResolveSkipsRevisitedSitemaps(t *testing.T) {
	t.Parallel()

	// s1 and s2 reference each other; the walk must terminate.
	fetcher := &mapFetcher{docs: map[string]string{
		"https://example.com/sitemap.xml": sitemapindex(
			"https://example.com/s1.xml",
		),
		"https://example.com/s1.xml": sitemapindex(
			"https://example.com/sitemap.xml",
			"https://example.com/s2.xml",
		),
		"https://example.com/s2.xml": urlset("https://example.com/u1"),
	}}

	found, err := newResolver(fetcher, nil, nil, Config{}).Resolve(context.Background(), "https://example.com/sitemap.xml")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/u1"}, urls(found))
	require.Len(t, fetcher.fetched, 3)
}

func TestResolveContinuesPastFetchFailures(t *testing.T) {
	t.Parallel()

	fetcher := &mapFetcher{docs: map[string]string{
		"https://example.com/sitemap.xml": sitemapindex(
			"https://example.com/missing.xml",
			"https://example.com/s2.xml",
		),
		"https://example.com/s2.xml": urlset("https://example.com/u1"),
	}}
	emitter := &collectEmitter{}

	found, err := newResolver(fetcher, emitter, nil, Config{}).Resolve(context.Background(), "https://example.com/sitemap.xml")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/u1"}, urls(found))
	require.Equal(t, 1, emitter.countType(events.TypeWarn))
}

func TestResolveReportsMalformedXML(t *testing.T) {
	t.Parallel()

	fetcher := &mapFetcher{docs: map[string]string{
		"https://example.com/sitemap.xml": sitemapindex(
			"https://example.com/broken.xml",
			"https://example.com/good.xml",
		),
		"https://example.com/broken.xml": "<urlset><url><loc>unclosed",
		"https://example.com/good.xml":   urlset("https://example.com/u1"),
	}}
	emitter := &collectEmitter{}

	found, err := newResolver(fetcher, emitter, nil, Config{}).Resolve(context.Background(), "https://example.com/sitemap.xml")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/u1"}, urls(found))
	require.Equal(t, 1, emitter.countType(events.TypeError))
}

func TestResolveWarnsOnUnknownRootTag(t *testing.T) {
	t.Parallel()

	fetcher := &mapFetcher{docs: map[string]string{
		"https://example.com/sitemap.xml": `<?xml version="1.0"?><rss version="2.0"><channel></channel></rss>`,
	}}
	emitter := &collectEmitter{}

	found, err := newResolver(fetcher, emitter, nil, Config{}).Resolve(context.Background(), "https://example.com/sitemap.xml")
	require.NoError(t, err)
	require.Empty(t, found)
	require.Equal(t, 1, emitter.countType(events.TypeWarn))
}

func TestResolveReturnsPartialOnCancellation(t *testing.T) {
	t.Parallel()

	ctrl := cancel.New()
	fetcher := &mapFetcher{docs: map[string]string{
		"https://example.com/sitemap.xml": sitemapindex(
			"https://example.com/s1.xml",
			"https://example.com/s2.xml",
		),
		"https://example.com/s1.xml": urlset("https://example.com/u1"),
		"https://example.com/s2.xml": urlset("https://example.com/u2"),
	}}
	// Stop after the first nested sitemap has been fetched.
	fetcher.onFetch = func(url string) {
		if url == "https://example.com/s1.xml" {
			ctrl.Signal()
		}
	}
	emitter := &collectEmitter{}

	found, err := newResolver(fetcher, emitter, ctrl, Config{}).Resolve(context.Background(), "https://example.com/sitemap.xml")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/u1"}, urls(found))
	require.Equal(t, 1, emitter.countType(events.TypeCancelled))
}

func TestResolveRootOnlyCollapsesToOnePerDomain(t *testing.T) {
	t.Parallel()

	fetcher := &mapFetcher{docs: map[string]string{
		"https://directory.com/sitemap.xml": urlset(
			"https://alpha.com/listing/1",
			"https://alpha.com/listing/2",
			"https://beta.com/about",
		),
	}}

	found, err := newResolver(fetcher, nil, nil, Config{RootOnly: true}).Resolve(context.Background(), "https://directory.com/sitemap.xml")
	require.NoError(t, err)
	require.Equal(t, []string{"https://alpha.com", "https://beta.com"}, urls(found))
}

func TestResolveNormalizesAndDeduplicatesPageURLs(t *testing.T) {
	t.Parallel()

	fetcher := &mapFetcher{docs: map[string]string{
		"https://example.com/sitemap.xml": urlset(
			"https://example.com/about/",
			"https://Example.com/about?ref=sitemap",
		),
	}}

	found, err := newResolver(fetcher, nil, nil, Config{}).Resolve(context.Background(), "https://example.com/sitemap.xml")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/about"}, urls(found))
}
