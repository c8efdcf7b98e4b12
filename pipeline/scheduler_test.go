package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-wishlist-mirror/models"
	"github.com/aluiziolira/go-wishlist-mirror/parser"
	"github.com/aluiziolira/go-wishlist-mirror/store"
)

type fakeFetcher struct {
	mu       sync.Mutex
	calls    map[string]int
	inFlight int
	peak     int
	delay    time.Duration
	respond  func(ctx context.Context, url string) (*models.Record, error)
}

func newFakeFetcher(respond func(ctx context.Context, url string) (*models.Record, error)) *fakeFetcher {
	return &fakeFetcher{calls: make(map[string]int), respond: respond}
}

func (f *fakeFetcher) FetchOne(ctx context.Context, url string) (*models.Record, error) {
	f.mu.Lock()
	f.calls[url]++
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.respond(ctx, url)
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) peakConcurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

func completeRecord(url string) (*models.Record, error) {
	return &models.Record{
		Key:         parser.NormalizeURL(url),
		Price:       "7,00 €",
		Author:      "Hergé",
		DisplayName: "Tim und Struppi " + url[len(url)-1:],
	}, nil
}

func task(url string) models.RefreshTask {
	return models.RefreshTask{Key: parser.NormalizeURL(url), URL: url}
}

func testOptions() Options {
	return Options{
		BatchSize:  5,
		BatchDelay: 20 * time.Millisecond,
		QueueSize:  64,
	}
}

func TestSchedulerDiscardsSentinelPrice(t *testing.T) {
	mem := store.NewMemory()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := models.Record{Key: "https://shop.test/a", Price: "5,00 €", Author: "Hergé", LastUpdated: &ts}
	mem.Seed(existing)

	fetcher := newFakeFetcher(func(_ context.Context, url string) (*models.Record, error) {
		return &models.Record{Key: url, Price: parser.PriceUnavailable, Author: "Hergé"}, nil
	})
	s := NewScheduler(fetcher, mem, testOptions())
	s.Start()
	s.Schedule([]models.RefreshTask{task("https://shop.test/a"), task("https://shop.test/b")})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, _ := mem.GetMany(context.Background(), []string{"https://shop.test/a", "https://shop.test/b"})
	if got["https://shop.test/a"].Price != "5,00 €" || !got["https://shop.test/a"].LastUpdated.Equal(ts) {
		t.Fatalf("existing record was modified: %+v", got["https://shop.test/a"])
	}
	if _, ok := got["https://shop.test/b"]; ok {
		t.Fatalf("incomplete record must not be stored")
	}

	outcomes := s.GetMetrics()["outcomes"].(map[string]int)
	if outcomes[outcomeDiscarded] != 2 {
		t.Fatalf("outcomes = %v, want 2 discarded", outcomes)
	}
}

func TestSchedulerBatchesWithDelay(t *testing.T) {
	mem := store.NewMemory()
	fetcher := newFakeFetcher(func(_ context.Context, url string) (*models.Record, error) {
		return completeRecord(url)
	})
	fetcher.delay = 10 * time.Millisecond

	opts := testOptions()
	s := NewScheduler(fetcher, mem, opts)

	tasks := make([]models.RefreshTask, 0, 12)
	keys := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		u := "https://shop.test/item-" + strconv.Itoa(i)
		tasks = append(tasks, task(u))
		keys = append(keys, u)
	}

	start := time.Now()
	s.Schedule(tasks)
	s.Start()
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	elapsed := time.Since(start)

	if got := s.GetMetrics()["batches"].(int64); got != 3 {
		t.Fatalf("batches = %d, want 3", got)
	}
	if peak := fetcher.peakConcurrency(); peak > opts.BatchSize {
		t.Fatalf("peak concurrency = %d, exceeds batch size %d", peak, opts.BatchSize)
	}
	if elapsed < 2*opts.BatchDelay {
		t.Fatalf("elapsed %v, want at least two inter-batch delays", elapsed)
	}

	got, err := mem.GetMany(context.Background(), keys)
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	if len(got) != 12 {
		t.Fatalf("stored %d records, want 12", len(got))
	}
	for _, rec := range got {
		if rec.LastUpdated == nil {
			t.Fatalf("record %s not stamped", rec.Key)
		}
	}
	if key, ok, _ := mem.LookupName(context.Background(), "Tim und Struppi 3"); !ok || key != "https://shop.test/item-3" {
		t.Fatalf("name alias = %q, %v", key, ok)
	}
}

func TestSchedulerIsolatesTaskFailures(t *testing.T) {
	mem := store.NewMemory()
	fetcher := newFakeFetcher(func(_ context.Context, url string) (*models.Record, error) {
		switch url {
		case "https://shop.test/panic":
			panic("parser blew up")
		case "https://shop.test/error":
			return nil, errors.New("origin down")
		case "https://shop.test/nil":
			return nil, nil
		}
		return completeRecord(url)
	})
	s := NewScheduler(fetcher, mem, testOptions())
	s.Start()
	s.Schedule([]models.RefreshTask{
		task("https://shop.test/panic"),
		task("https://shop.test/error"),
		task("https://shop.test/nil"),
		task("https://shop.test/ok"),
	})
	s.Schedule([]models.RefreshTask{task("https://shop.test/later")})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, _ := mem.GetMany(context.Background(), []string{"https://shop.test/ok", "https://shop.test/later"})
	if len(got) != 2 {
		t.Fatalf("stored %d healthy records, want 2", len(got))
	}
	outcomes := s.GetMetrics()["outcomes"].(map[string]int)
	if outcomes[outcomeFailed] != 2 || outcomes[outcomeDiscarded] != 1 || outcomes[outcomeUpdated] != 2 {
		t.Fatalf("outcomes = %v", outcomes)
	}
}

func TestSchedulerDedupesQueuedAndRecentKeys(t *testing.T) {
	mem := store.NewMemory()
	fetcher := newFakeFetcher(func(_ context.Context, url string) (*models.Record, error) {
		return completeRecord(url)
	})
	opts := testOptions()
	opts.DedupeWindow = time.Minute
	opts.DedupeSize = 16
	s := NewScheduler(fetcher, mem, opts)

	s.Schedule([]models.RefreshTask{task("https://shop.test/a"), task("https://shop.test/a")})
	s.Schedule([]models.RefreshTask{{URL: "HTTPS://shop.test/a"}})
	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for fetcher.callCount("https://shop.test/a") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	s.Schedule([]models.RefreshTask{task("https://shop.test/a")})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := fetcher.callCount("https://shop.test/a"); got != 1 {
		t.Fatalf("fetches = %d, want 1", got)
	}
	if got := s.GetMetrics()["outcomes"].(map[string]int)[outcomeSkipped]; got != 3 {
		t.Fatalf("skipped = %d, want 3", got)
	}
}

func TestSchedulerDropsWhenQueueFull(t *testing.T) {
	fetcher := newFakeFetcher(func(_ context.Context, url string) (*models.Record, error) {
		return completeRecord(url)
	})
	opts := testOptions()
	opts.QueueSize = 2
	s := NewScheduler(fetcher, store.NewMemory(), opts)

	s.Schedule([]models.RefreshTask{task("https://shop.test/1"), task("https://shop.test/2"), task("https://shop.test/3")})
	if got := s.GetMetrics()["queue_depth"].(int); got != 2 {
		t.Fatalf("queue depth = %d, want 2", got)
	}
	s.Start()
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := s.GetMetrics()["outcomes"].(map[string]int)[outcomeDropped]; got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
}

func TestRefreshNowCancelsOnlyThatItem(t *testing.T) {
	mem := store.NewMemory()
	fetcher := newFakeFetcher(func(ctx context.Context, url string) (*models.Record, error) {
		if url == "https://shop.test/slow" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return completeRecord(url)
	})
	s := NewScheduler(fetcher, mem, testOptions())
	s.Start()
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.RefreshNow(ctx, task("https://shop.test/slow")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("refresh error = %v, want deadline exceeded", err)
	}

	rec, err := s.RefreshNow(context.Background(), models.RefreshTask{URL: "shop.test/fast"})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rec.Key != "https://shop.test/fast" || rec.LastUpdated == nil {
		t.Fatalf("record = %+v", rec)
	}
	got, _ := mem.GetMany(context.Background(), []string{"https://shop.test/fast", "https://shop.test/slow"})
	if len(got) != 1 {
		t.Fatalf("stored %d records, want 1", len(got))
	}
}

func TestRefreshNowReportsDiscard(t *testing.T) {
	fetcher := newFakeFetcher(func(_ context.Context, url string) (*models.Record, error) {
		return &models.Record{Key: url, Price: "3 €", Author: parser.AuthorUnknown}, nil
	})
	s := NewScheduler(fetcher, store.NewMemory(), testOptions())
	if _, err := s.RefreshNow(context.Background(), task("https://shop.test/a")); !errors.Is(err, ErrRefreshDiscarded) {
		t.Fatalf("refresh error = %v, want ErrRefreshDiscarded", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.RefreshNow(context.Background(), task("https://shop.test/a")); !errors.Is(err, ErrSchedulerClosed) {
		t.Fatalf("refresh after close = %v, want ErrSchedulerClosed", err)
	}
}

func TestSchedulerCloseTimeout(t *testing.T) {
	release := make(chan struct{})
	fetcher := newFakeFetcher(func(ctx context.Context, url string) (*models.Record, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, errors.New("aborted")
	})
	s := NewScheduler(fetcher, store.NewMemory(), testOptions())
	s.Start()
	s.Schedule([]models.RefreshTask{task("https://shop.test/blocked")})

	deadline := time.Now().Add(2 * time.Second)
	for fetcher.callCount("https://shop.test/blocked") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	previousTimeout := drainTimeout
	drainTimeout = 25 * time.Millisecond
	t.Cleanup(func() {
		drainTimeout = previousTimeout
		close(release)
	})

	if err := s.Close(); err == nil || !errors.Is(err, ErrSchedulerCloseTimeout) {
		t.Fatalf("expected close timeout error, got %v", err)
	}
}
