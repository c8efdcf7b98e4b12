package enrich

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-wishlist-mirror/models"
	"github.com/aluiziolira/go-wishlist-mirror/parser"
	"github.com/aluiziolira/go-wishlist-mirror/staleness"
	"github.com/aluiziolira/go-wishlist-mirror/store"
)

type recordingScheduler struct {
	mu    sync.Mutex
	calls int
	tasks []models.RefreshTask
}

func (r *recordingScheduler) Schedule(tasks []models.RefreshTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.tasks = append(r.tasks, tasks...)
}

type failingStore struct {
	store.Store
}

func (failingStore) GetMany(context.Context, []string) (map[string]models.Record, error) {
	return nil, errors.New("connection refused")
}

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func stamped(key string, age time.Duration) models.Record {
	ts := testNow.Add(-age)
	return models.Record{
		Key:         key,
		Price:       "9,95 €",
		Author:      "Morris",
		DisplayName: "Lucky Luke",
		LastUpdated: &ts,
	}
}

func newTestOrchestrator(st store.Store) (*Orchestrator, *recordingScheduler) {
	sched := &recordingScheduler{}
	o := New(st, sched, staleness.DefaultPolicy(), NewMetrics(nil))
	o.now = func() time.Time { return testNow }
	return o, sched
}

func TestEnrichFreshStaleAndMissing(t *testing.T) {
	mem := store.NewMemory()
	mem.Seed(stamped("https://shop.test/fresh", time.Hour))
	mem.Seed(stamped("https://shop.test/stale", 30*time.Hour))
	o, sched := newTestOrchestrator(mem)

	urls := []string{"https://shop.test/fresh", "https://shop.test/stale", "https://shop.test/never-seen"}
	got := o.Enrich(context.Background(), urls)

	if len(got) != 3 {
		t.Fatalf("got %d items, want 3", len(got))
	}
	tests := []struct {
		url        string
		fromCache  bool
		isFallback bool
		needs      bool
	}{
		{url: urls[0], fromCache: true, isFallback: false, needs: false},
		{url: urls[1], fromCache: true, isFallback: false, needs: true},
		{url: urls[2], fromCache: false, isFallback: true, needs: true},
	}
	for _, tt := range tests {
		item := got[tt.url]
		if item.FromCache != tt.fromCache || item.IsFallback != tt.isFallback || item.NeedsUpdate != tt.needs {
			t.Fatalf("%s: fromCache=%v isFallback=%v needsUpdate=%v", tt.url, item.FromCache, item.IsFallback, item.NeedsUpdate)
		}
	}

	if len(sched.tasks) != 2 {
		t.Fatalf("scheduled %d tasks, want 2: %+v", len(sched.tasks), sched.tasks)
	}
	if sched.tasks[0].URL != urls[1] || sched.tasks[1].URL != urls[2] {
		t.Fatalf("tasks = %+v", sched.tasks)
	}
	if sched.calls != 1 {
		t.Fatalf("schedule calls = %d, want 1", sched.calls)
	}

	fallback := got[urls[2]]
	if fallback.Price != parser.PriceUnavailable || fallback.Author != parser.AuthorUnknown {
		t.Fatalf("fallback record = %+v", fallback.Record)
	}
	if fallback.DisplayName != "Never Seen" {
		t.Fatalf("fallback name = %q", fallback.DisplayName)
	}
}

func TestEnrichIncompleteRecordNeedsUpdate(t *testing.T) {
	mem := store.NewMemory()
	rec := stamped("https://shop.test/partial", time.Minute)
	rec.Author = parser.AuthorUnknown
	mem.Seed(rec)
	o, sched := newTestOrchestrator(mem)

	item := o.Enrich(context.Background(), []string{"https://shop.test/partial"})["https://shop.test/partial"]
	if !item.FromCache || !item.NeedsUpdate {
		t.Fatalf("item = %+v", item)
	}
	if len(sched.tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(sched.tasks))
	}
}

func TestEnrichEmptyAndInvalidInput(t *testing.T) {
	o, sched := newTestOrchestrator(store.NewMemory())

	for _, input := range [][]string{nil, {}, {"", "   ", "https://bad host/x"}} {
		got := o.Enrich(context.Background(), input)
		if got == nil || len(got) != 0 {
			t.Fatalf("Enrich(%q) = %v, want empty map", input, got)
		}
	}
	if sched.calls != 0 {
		t.Fatalf("schedule calls = %d, want 0", sched.calls)
	}
}

func TestEnrichDropsInvalidKeepsRest(t *testing.T) {
	o, sched := newTestOrchestrator(store.NewMemory())

	got := o.Enrich(context.Background(), []string{"https://bad host/x", "shop.test/comics/spirou"})
	if len(got) != 1 {
		t.Fatalf("got %d items, want 1", len(got))
	}
	item, ok := got["shop.test/comics/spirou"]
	if !ok {
		t.Fatalf("item must be keyed by the original input")
	}
	if item.Key != "https://shop.test/comics/spirou" {
		t.Fatalf("key = %q", item.Key)
	}
	if len(sched.tasks) != 1 || sched.tasks[0].Key != item.Key {
		t.Fatalf("tasks = %+v", sched.tasks)
	}
}

func TestEnrichLegacyKey(t *testing.T) {
	mem := store.NewMemory()
	legacy := stamped("HTTPS://Shop.test/Old-Item", time.Hour)
	mem.Seed(legacy)
	o, sched := newTestOrchestrator(mem)

	raw := "HTTPS://Shop.test/Old-Item"
	item := o.Enrich(context.Background(), []string{raw})[raw]
	if !item.FromCache || item.IsFallback {
		t.Fatalf("legacy hit not used: %+v", item)
	}
	if item.Key != "https://shop.test/old-item" {
		t.Fatalf("key = %q, want normalized key", item.Key)
	}
	if item.Price != legacy.Price {
		t.Fatalf("price = %q", item.Price)
	}
	if len(sched.tasks) != 0 {
		t.Fatalf("fresh legacy hit should not be queued: %+v", sched.tasks)
	}
}

func TestEnrichStoreOutage(t *testing.T) {
	o, sched := newTestOrchestrator(failingStore{})

	urls := []string{"https://shop.test/a", "https://shop.test/b"}
	got := o.Enrich(context.Background(), urls)
	if len(got) != 2 {
		t.Fatalf("got %d items, want 2", len(got))
	}
	for _, u := range urls {
		if !got[u].IsFallback || got[u].FromCache {
			t.Fatalf("%s: expected fallback, got %+v", u, got[u])
		}
	}
	if len(sched.tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(sched.tasks))
	}
}

func TestEnrichEntriesKeepsOrderAndUpstreamName(t *testing.T) {
	mem := store.NewMemory()
	mem.Seed(stamped("https://shop.test/b", time.Hour))
	o, _ := newTestOrchestrator(mem)

	entries := []models.WishlistEntry{
		{Link: "https://shop.test/b", Name: "Lucky Luke Gesamtausgabe", Image: "b.jpg"},
		{Link: "not a url at all/ with spaces", Name: "broken"},
		{Link: "https://shop.test/a", Name: "", Image: "a.jpg"},
	}
	items := o.EnrichEntries(context.Background(), entries)
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Link != "https://shop.test/b" || items[1].Link != "https://shop.test/a" {
		t.Fatalf("order = %q, %q", items[0].Link, items[1].Link)
	}
	if items[0].DisplayName != "Lucky Luke Gesamtausgabe" || items[0].ImageRef != "b.jpg" {
		t.Fatalf("first item = %+v", items[0])
	}
	if items[1].DisplayName != "A" {
		t.Fatalf("fallback name = %q", items[1].DisplayName)
	}
}

func TestLookup(t *testing.T) {
	mem := store.NewMemory()
	mem.Seed(stamped("https://shop.test/a", time.Hour))
	o, _ := newTestOrchestrator(mem)

	item, err := o.Lookup(context.Background(), "https://shop.test/a")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !item.FromCache || item.NeedsUpdate {
		t.Fatalf("item = %+v", item)
	}

	if _, err := o.Lookup(context.Background(), " "); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("lookup error = %v, want ErrInvalidURL", err)
	}
}
