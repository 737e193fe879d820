// Package sitemap resolves sitemap documents into a deduplicated URL
// frontier.
package sitemap

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/siteharvest/harvester/internal/cancel"
	"github.com/siteharvest/harvester/internal/events"
	"github.com/siteharvest/harvester/internal/harvest"
)

// Found is one frontier entry together with the sitemap document that
// referenced it.
type Found struct {
	URL        string
	SitemapURL string
}

// Config controls resolution behavior.
//   - RootOnly collapses discovered URLs to one scheme://host/ entry per
//     distinct host, for "one record per site" harvests.
type Config struct {
	RootOnly bool
}

// Resolver walks sitemap index and urlset documents iteratively, emitting
// FOUND_URL events as discovery progresses.
type Resolver struct {
	fetcher harvest.Fetcher
	emitter events.Emitter
	ctrl    *cancel.Controller
	logger  *zap.Logger
	cfg     Config
}

// New builds a Resolver. A nil emitter suppresses event output; a nil
// controller disables cancellation.
func New(fetcher harvest.Fetcher, emitter events.Emitter, ctrl *cancel.Controller, logger *zap.Logger, cfg Config) *Resolver {
	if emitter == nil {
		emitter = events.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		fetcher: fetcher,
		emitter: emitter,
		ctrl:    ctrl,
		logger:  logger,
		cfg:     cfg,
	}
}

type locEntry struct {
	Loc string `xml:"loc"`
}

type sitemapDoc struct {
	XMLName  xml.Name
	Sitemaps []locEntry `xml:"sitemap"`
	URLs     []locEntry `xml:"url"`
}

// Resolve fetches the root sitemap and every nested sitemap it references,
// returning the deduplicated page URLs in discovery order. Per-document
// failures are reported as WARN or ERROR events and do not stop the walk;
// cancellation returns the partial result collected so far.
func (r *Resolver) Resolve(ctx context.Context, rootSitemapURL string) ([]Found, error) {
	queue := []string{rootSitemapURL}
	queued := map[string]struct{}{rootSitemapURL: {}}
	processed := make(map[string]struct{})
	seenPages := make(map[string]struct{})
	seenHosts := make(map[string]struct{})
	var found []Found

	r.emitter.Emit(events.Status(fmt.Sprintf("starting sitemap processing: %s", rootSitemapURL)))

	for len(queue) > 0 {
		if r.cancelled() {
			r.emitter.Emit(events.New(events.TypeCancelled, "message", "sitemap processing stopped by signal"))
			return found, nil
		}

		current := queue[0]
		queue = queue[1:]
		if _, done := processed[current]; done {
			continue
		}
		processed[current] = struct{}{}

		r.emitter.Emit(events.Status(fmt.Sprintf("processing sitemap: %s", current)))

		resp, err := r.fetcher.Fetch(ctx, harvest.FetchRequest{URL: current})
		if err != nil {
			r.logger.Warn("sitemap fetch failed", zap.String("sitemap", current), zap.Error(err))
			r.emitter.Emit(events.Warn(fmt.Sprintf("failed to fetch sitemap: %s", current)))
			continue
		}

		var doc sitemapDoc
		if err := xml.Unmarshal(resp.Body, &doc); err != nil {
			r.logger.Warn("sitemap parse failed", zap.String("sitemap", current), zap.Error(err))
			r.emitter.Emit(events.New(events.TypeError,
				"message", fmt.Sprintf("failed to parse XML from %s: %v", current, err)))
			continue
		}

		switch doc.XMLName.Local {
		case "sitemapindex":
			r.emitter.Emit(events.Status(fmt.Sprintf("found %d nested sitemaps in %s", len(doc.Sitemaps), current)))
			for _, entry := range doc.Sitemaps {
				enqueue(&queue, queued, processed, strings.TrimSpace(entry.Loc))
			}
		case "urlset":
			added := 0
			for _, entry := range doc.URLs {
				loc := strings.TrimSpace(entry.Loc)
				if loc == "" {
					continue
				}
				if strings.HasSuffix(strings.ToLower(loc), ".xml") {
					// Nested sitemap hiding inside a urlset.
					enqueue(&queue, queued, processed, loc)
					continue
				}
				if r.addPage(loc, current, seenPages, seenHosts, &found) {
					added++
				}
			}
			if added > 0 {
				r.emitter.Emit(events.Status(fmt.Sprintf("added %d urls from %s, total found: %d", added, current, len(found))))
			}
		default:
			r.emitter.Emit(events.Warn(fmt.Sprintf("unknown root tag %q in %s", doc.XMLName.Local, current)))
		}
	}

	r.emitter.Emit(events.Status(fmt.Sprintf("sitemap processing finished, found %d unique urls", len(found))))
	return found, nil
}

func (r *Resolver) addPage(loc, sitemapURL string, seenPages, seenHosts map[string]struct{}, found *[]Found) bool {
	target := loc
	if r.cfg.RootOnly {
		root, err := harvest.RootURL(loc)
		if err != nil {
			r.logger.Debug("skipping unparseable url", zap.String("url", loc), zap.Error(err))
			return false
		}
		host := harvest.Domain(root)
		if _, dup := seenHosts[host]; dup {
			return false
		}
		seenHosts[host] = struct{}{}
		target = root
	}

	normalized, err := harvest.NormalizeURL(target)
	if err != nil {
		r.logger.Debug("skipping unparseable url", zap.String("url", target), zap.Error(err))
		return false
	}
	if _, dup := seenPages[normalized]; dup {
		return false
	}
	seenPages[normalized] = struct{}{}
	*found = append(*found, Found{URL: normalized, SitemapURL: sitemapURL})
	r.emitter.Emit(events.New(events.TypeFoundURL, "url", normalized))
	return true
}

func (r *Resolver) cancelled() bool {
	return r.ctrl != nil && r.ctrl.Signalled()
}

func enqueue(queue *[]string, queued, processed map[string]struct{}, loc string) {
	if loc == "" {
		return
	}
	if _, done := processed[loc]; done {
		return
	}
	if _, pending := queued[loc]; pending {
		return
	}
	queued[loc] = struct{}{}
	*queue = append(*queue, loc)
}
