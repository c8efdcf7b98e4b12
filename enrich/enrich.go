// Package enrich resolves batches of wishlist URLs to the best metadata
// available right now and queues background refreshes for anything stale.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aluiziolira/go-wishlist-mirror/models"
	"github.com/aluiziolira/go-wishlist-mirror/parser"
	"github.com/aluiziolira/go-wishlist-mirror/staleness"
	"github.com/aluiziolira/go-wishlist-mirror/store"
)

// ErrInvalidURL is returned by Lookup for input that cannot be parsed as a URL.
var ErrInvalidURL = errors.New("enrich: invalid url")

// Scheduler accepts refresh work. Schedule must not block on the work itself.
type Scheduler interface {
	Schedule(tasks []models.RefreshTask)
}

// Orchestrator answers enrichment requests from the metadata store.
type Orchestrator struct {
	store     store.Store
	scheduler Scheduler
	policy    staleness.Policy
	metrics   *Metrics
	now       func() time.Time
}

// New builds an orchestrator. metrics may be nil.
func New(st store.Store, scheduler Scheduler, policy staleness.Policy, metrics *Metrics) *Orchestrator {
	return &Orchestrator{
		store:     st,
		scheduler: scheduler,
		policy:    policy,
		metrics:   metrics,
		now:       time.Now,
	}
}

type pending struct {
	original string
	key      string
	legacy   string
}

// Enrich returns one item per valid input URL, keyed by the URL exactly as
// given. It never fails: unparseable URLs are dropped, store errors degrade
// every entry to a fallback record. Refresh tasks for stale or missing
// entries are handed to the scheduler before returning.
func (o *Orchestrator) Enrich(ctx context.Context, urls []string) map[string]models.EnrichedItem {
	out := make(map[string]models.EnrichedItem, len(urls))
	batch := o.prepare(urls)
	if len(batch) == 0 {
		return out
	}

	hits, legacyHits, err := o.lookup(ctx, batch)
	if err != nil {
		o.metrics.incStoreError()
		slog.Error("metadata store unavailable, serving fallbacks",
			slog.Int("urls", len(batch)),
			slog.Any("error", err),
		)
		hits, legacyHits = nil, nil
	}

	now := o.now()
	var tasks []models.RefreshTask
	for _, p := range batch {
		if _, done := out[p.original]; done {
			continue
		}

		rec, ok := hits[p.key]
		outcome := ""
		if !ok {
			rec, ok = legacyHits[p.legacy]
			outcome = outcomeLegacy
		}

		var item models.EnrichedItem
		if ok {
			item = fromRecord(p.original, p.key, rec)
			item.NeedsUpdate = o.policy.NeedsRefresh(&rec, staleness.Age(&rec, now))
			if outcome == "" {
				outcome = outcomeFresh
				if item.NeedsUpdate {
					outcome = outcomeStale
				}
			}
		} else {
			item = Fallback(p.original)
			outcome = outcomeFallback
		}
		o.metrics.incLookup(outcome)

		if item.NeedsUpdate {
			tasks = append(tasks, models.RefreshTask{Key: p.key, URL: p.original})
		}
		out[p.original] = item
	}

	if len(tasks) > 0 && o.scheduler != nil {
		o.scheduler.Schedule(tasks)
	}
	return out
}

// EnrichEntries enriches upstream wishlist entries and returns them in input
// order. The entry's own name and image take precedence over stored data.
func (o *Orchestrator) EnrichEntries(ctx context.Context, entries []models.WishlistEntry) []models.EnrichedItem {
	urls := make([]string, len(entries))
	for i, e := range entries {
		urls[i] = e.Link
	}
	resolved := o.Enrich(ctx, urls)

	out := make([]models.EnrichedItem, 0, len(entries))
	for _, e := range entries {
		item, ok := resolved[e.Link]
		if !ok {
			continue
		}
		if parser.HasUsableName(e.Name) {
			item.DisplayName = strings.TrimSpace(e.Name)
		}
		item.ImageRef = e.Image
		out = append(out, item)
	}
	return out
}

// Lookup resolves a single URL the same way Enrich does.
func (o *Orchestrator) Lookup(ctx context.Context, rawURL string) (models.EnrichedItem, error) {
	if !parser.ValidURL(rawURL) {
		return models.EnrichedItem{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	item, ok := o.Enrich(ctx, []string{rawURL})[rawURL]
	if !ok {
		return models.EnrichedItem{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return item, nil
}

func (o *Orchestrator) prepare(urls []string) []pending {
	batch := make([]pending, 0, len(urls))
	for _, raw := range urls {
		if !parser.ValidURL(raw) {
			o.metrics.incInvalid()
			slog.Warn("dropping invalid url", slog.String("url", raw))
			continue
		}
		batch = append(batch, pending{
			original: raw,
			key:      parser.NormalizeURL(raw),
			legacy:   strings.TrimSpace(raw),
		})
	}
	return batch
}

// lookup fetches the normalized keys in one bulk call, then the raw input
// strings of the misses as legacy keys in a second one.
func (o *Orchestrator) lookup(ctx context.Context, batch []pending) (map[string]models.Record, map[string]models.Record, error) {
	keys := make([]string, len(batch))
	for i, p := range batch {
		keys[i] = p.key
	}
	hits, err := o.store.GetMany(ctx, keys)
	if err != nil {
		return nil, nil, fmt.Errorf("bulk lookup: %w", err)
	}

	var legacyKeys []string
	for _, p := range batch {
		if _, ok := hits[p.key]; !ok && p.legacy != p.key {
			legacyKeys = append(legacyKeys, p.legacy)
		}
	}
	if len(legacyKeys) == 0 {
		return hits, nil, nil
	}
	legacyHits, err := o.store.GetMany(ctx, legacyKeys)
	if err != nil {
		return nil, nil, fmt.Errorf("legacy lookup: %w", err)
	}
	return hits, legacyHits, nil
}

func fromRecord(link, key string, rec models.Record) models.EnrichedItem {
	name := rec.DisplayName
	if !parser.HasUsableName(name) {
		name = parser.DisplayNameFromURL(link)
	}
	rec.Key = key
	return models.EnrichedItem{
		Link:        link,
		DisplayName: name,
		Record:      rec,
		FromCache:   true,
	}
}

// Fallback synthesizes the placeholder item served when nothing is stored
// for link.
func Fallback(link string) models.EnrichedItem {
	name := parser.DisplayNameFromURL(link)
	return models.EnrichedItem{
		Link:        link,
		DisplayName: name,
		Record: models.Record{
			Key:         parser.NormalizeURL(link),
			Price:       parser.PriceUnavailable,
			Author:      parser.AuthorUnknown,
			DisplayName: name,
		},
		IsFallback:  true,
		NeedsUpdate: true,
	}
}
