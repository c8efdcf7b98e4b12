// Package pipeline runs background metadata refreshes against the origin and
// writes the results back to the metadata store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-wishlist-mirror/models"
	"github.com/aluiziolira/go-wishlist-mirror/parser"
	"github.com/aluiziolira/go-wishlist-mirror/store"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

var (
	// ErrSchedulerClosed is returned when work is submitted after Close.
	ErrSchedulerClosed = errors.New("pipeline: scheduler closed")
	// ErrSchedulerCloseTimeout is returned when queued refreshes do not finish
	// within the drain timeout.
	ErrSchedulerCloseTimeout = errors.New("pipeline: timed out draining refresh queue")
	// ErrRefreshDiscarded is returned by RefreshNow when the origin answered
	// without a usable price and author.
	ErrRefreshDiscarded = errors.New("pipeline: origin returned incomplete record")
)

var drainTimeout = 30 * time.Second

// Refresh outcomes.
const (
	outcomeUpdated   = "updated"
	outcomeDiscarded = "discarded"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
	outcomeDropped   = "dropped"
)

// Fetcher retrieves a fresh record for one item. A nil record means the
// origin had nothing usable.
type Fetcher interface {
	FetchOne(ctx context.Context, rawURL string) (*models.Record, error)
}

// Options tunes a Scheduler.
type Options struct {
	BatchSize    int
	BatchDelay   time.Duration
	QueueSize    int
	DedupeWindow time.Duration
	DedupeSize   int
	Metrics      *Metrics
}

// Scheduler drains refresh tasks in batches: tasks of one batch run
// concurrently, batches run one after another with BatchDelay between them.
// A failing task never affects its siblings or later batches.
type Scheduler struct {
	fetcher Fetcher
	store   store.Store
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex // guards pending/queued/closed
	pending []models.RefreshTask
	queued  map[string]struct{}
	closed  bool
	wake    chan struct{}

	recent *expirable.LRU[string, struct{}]

	stats *stats
	now   func() time.Time

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewScheduler builds a scheduler; call Start to launch the dispatcher.
func NewScheduler(fetcher Fetcher, st store.Store, opts Options) *Scheduler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		fetcher:  fetcher,
		store:    st,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		queued:   make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
		stats:    newStats(),
		now:      time.Now,
		shutdown: make(chan struct{}),
	}
	if opts.DedupeWindow > 0 && opts.DedupeSize > 0 {
		s.recent = expirable.NewLRU[string, struct{}](opts.DedupeSize, nil, opts.DedupeWindow)
	}
	return s
}

// Start launches the dispatcher goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.dispatch()
}

// Schedule queues tasks and returns immediately. Tasks whose key is already
// queued or was refreshed within the dedupe window are skipped; tasks that
// do not fit the queue are dropped.
func (s *Scheduler) Schedule(tasks []models.RefreshTask) {
	if len(tasks) == 0 {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		slog.Warn("refresh scheduled after close", slog.Int("tasks", len(tasks)))
		return
	}
	var skipped, dropped int
	for _, task := range tasks {
		if task.Key == "" {
			task.Key = parser.NormalizeURL(task.URL)
		}
		if _, ok := s.queued[task.Key]; ok {
			skipped++
			continue
		}
		if s.recent != nil && s.recent.Contains(task.Key) {
			skipped++
			continue
		}
		if len(s.pending) >= s.opts.QueueSize {
			dropped++
			continue
		}
		s.queued[task.Key] = struct{}{}
		s.pending = append(s.pending, task)
	}
	depth := len(s.pending)
	s.mu.Unlock()

	s.stats.add(outcomeSkipped, skipped)
	s.stats.add(outcomeDropped, dropped)
	s.opts.Metrics.addOutcome(outcomeSkipped, skipped)
	s.opts.Metrics.addOutcome(outcomeDropped, dropped)
	s.opts.Metrics.setQueueDepth(depth)
	if dropped > 0 {
		slog.Warn("refresh queue full, dropping tasks", slog.Int("dropped", dropped), slog.Int("depth", depth))
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// RefreshNow refreshes one item synchronously with the caller's context, so
// cancelling ctx aborts only this item. It returns the stored record.
func (s *Scheduler) RefreshNow(ctx context.Context, task models.RefreshTask) (*models.Record, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSchedulerClosed
	}
	if task.Key == "" {
		task.Key = parser.NormalizeURL(task.URL)
	}

	rec, outcome, err := s.refresh(ctx, task)
	s.record(outcome)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Close stops accepting work, waits for queued refreshes to finish and
// returns ErrSchedulerCloseTimeout if that takes longer than the drain
// timeout. In-flight origin calls are cancelled on timeout.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signalShutdown()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-time.After(drainTimeout):
		s.cancel()
		return ErrSchedulerCloseTimeout
	}
}

// GetMetrics returns a snapshot of the internal counters.
func (s *Scheduler) GetMetrics() map[string]interface{} {
	s.mu.Lock()
	depth := len(s.pending)
	s.mu.Unlock()

	snapshot := s.stats.snapshot()
	snapshot["queue_depth"] = depth
	return snapshot
}

// StartMetricsReporting emits periodic progress logs until Close.
func (s *Scheduler) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m := s.GetMetrics()
				slog.Info("refresh progress",
					slog.Any("outcomes", m["outcomes"]),
					slog.Any("batches", m["batches"]),
					slog.Any("queue_depth", m["queue_depth"]),
				)
			case <-s.shutdown:
				return
			}
		}
	}()
}

func (s *Scheduler) dispatch() {
	defer s.wg.Done()

	var lastBatch time.Time
	for {
		batch, ok := s.nextBatch()
		if !ok {
			return
		}

		if !lastBatch.IsZero() {
			if wait := s.opts.BatchDelay - s.now().Sub(lastBatch); wait > 0 {
				if !s.sleep(wait) {
					return
				}
			}
		}

		s.runBatch(batch)
		lastBatch = s.now()
	}
}

// nextBatch blocks until tasks are pending and takes up to BatchSize of
// them. It reports false once the scheduler is closed and fully drained.
func (s *Scheduler) nextBatch() ([]models.RefreshTask, bool) {
	for {
		s.mu.Lock()
		if n := min(len(s.pending), s.opts.BatchSize); n > 0 {
			batch := make([]models.RefreshTask, n)
			copy(batch, s.pending[:n])
			s.pending = s.pending[n:]
			depth := len(s.pending)
			s.mu.Unlock()
			s.opts.Metrics.setQueueDepth(depth)
			return batch, true
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return nil, false
		}
		select {
		case <-s.wake:
		case <-s.shutdown:
		case <-s.ctx.Done():
			return nil, false
		}
	}
}

func (s *Scheduler) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Scheduler) runBatch(batch []models.RefreshTask) {
	start := s.now()
	var wg sync.WaitGroup
	for _, task := range batch {
		wg.Add(1)
		go func(task models.RefreshTask) {
			defer wg.Done()
			_, outcome, err := s.refresh(s.ctx, task)
			if err != nil && outcome == outcomeFailed {
				slog.Warn("background refresh failed",
					slog.String("key", task.Key),
					slog.Any("error", err),
				)
			}
			s.record(outcome)
			s.finish(task.Key)
		}(task)
	}
	wg.Wait()

	s.stats.incBatch()
	s.opts.Metrics.observeBatch(time.Since(start))
	slog.Debug("refresh batch done", slog.Int("size", len(batch)), slog.Duration("took", time.Since(start)))
}

func (s *Scheduler) finish(key string) {
	s.mu.Lock()
	delete(s.queued, key)
	s.mu.Unlock()
	if s.recent != nil {
		s.recent.Add(key, struct{}{})
	}
}

// refresh fetches one item and writes it back if it is usable. Results
// without a usable price and author are discarded so stored data never
// regresses.
func (s *Scheduler) refresh(ctx context.Context, task models.RefreshTask) (rec *models.Record, outcome string, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec, outcome, err = nil, outcomeFailed, fmt.Errorf("refresh %s panicked: %v", task.Key, r)
		}
	}()

	fetched, err := s.fetcher.FetchOne(ctx, task.URL)
	if err != nil {
		return nil, outcomeFailed, err
	}
	if fetched == nil {
		return nil, outcomeDiscarded, ErrRefreshDiscarded
	}

	fresh := *fetched
	fresh.Key = task.Key
	if err := parser.ValidateRecord(&fresh); err != nil {
		slog.Debug("discarding incomplete refresh", slog.String("key", task.Key), slog.Any("error", err))
		return nil, outcomeDiscarded, fmt.Errorf("%w: %v", ErrRefreshDiscarded, err)
	}
	now := s.now()
	fresh.LastUpdated = &now

	if err := s.store.Upsert(ctx, fresh); err != nil {
		return nil, outcomeFailed, fmt.Errorf("store refresh %s: %w", task.Key, err)
	}
	if parser.HasUsableName(fresh.DisplayName) {
		if err := s.store.RecordName(ctx, fresh.DisplayName, fresh.Key); err != nil {
			slog.Warn("record name alias failed", slog.String("key", fresh.Key), slog.Any("error", err))
		}
	}
	return &fresh, outcomeUpdated, nil
}

func (s *Scheduler) record(outcome string) {
	s.stats.add(outcome, 1)
	s.opts.Metrics.addOutcome(outcome, 1)
}

func (s *Scheduler) signalShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
	})
}

type stats struct {
	mu       sync.Mutex
	batches  int64
	outcomes map[string]int
}

func newStats() *stats {
	return &stats{
		outcomes: make(map[string]int),
	}
}

func (st *stats) add(outcome string, n int) {
	if n <= 0 {
		return
	}
	st.mu.Lock()
	st.outcomes[outcome] += n
	st.mu.Unlock()
}

func (st *stats) incBatch() {
	st.mu.Lock()
	st.batches++
	st.mu.Unlock()
}

func (st *stats) snapshot() map[string]interface{} {
	st.mu.Lock()
	defer st.mu.Unlock()

	copyOutcomes := make(map[string]int, len(st.outcomes))
	for k, v := range st.outcomes {
		copyOutcomes[k] = v
	}

	return map[string]interface{}{
		"batches":  st.batches,
		"outcomes": copyOutcomes,
	}
}
