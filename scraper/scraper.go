// Package scraper fetches item metadata from the external catalog origin.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-wishlist-mirror/config"
	"github.com/aluiziolira/go-wishlist-mirror/models"
	"github.com/aluiziolira/go-wishlist-mirror/parser"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"
)

// Request phases, used as metric labels.
const (
	phasePrimary   = "primary"
	phaseAlternate = "alternate"
	phasePage      = "page"
)

const (
	primaryPath   = "/get_comic_information_api"
	alternatePath = "/get_comic_information"
)

// source performs one attempt against the origin and returns its raw payload.
type source func(ctx context.Context, rawURL string, attempt int) (map[string]any, error)

// Fetcher retrieves one item's metadata from the origin with a per-attempt
// timeout and a bounded number of retries. It never writes to a store.
type Fetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	limiter   *rate.Limiter
	retry     *retryManager
	Metrics   *Metrics

	fetch source
}

// NewFetcher builds a fetcher against the metadata service at cfg.BackendURL.
// cfg.OriginMode selects page scraping instead.
func NewFetcher(cfg *config.Config, metrics *Metrics) (*Fetcher, error) {
	if cfg.OriginMode == config.OriginPage {
		return NewPageFetcher(cfg, metrics)
	}
	parsed, err := url.Parse(cfg.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("backend url must include a host")
	}
	f := newFetcher(cfg, metrics)
	f.fetch = f.fetchService
	return f, nil
}

// NewPageFetcher builds a fetcher that scrapes the catalog product page of
// each item directly.
func NewPageFetcher(cfg *config.Config, metrics *Metrics) (*Fetcher, error) {
	f := newFetcher(cfg, metrics)
	f.fetch = f.fetchPage
	return f, nil
}

func newFetcher(cfg *config.Config, metrics *Metrics) *Fetcher {
	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.UserAgent(cfg.UserAgent),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &Fetcher{
		cfg:       cfg,
		collector: collector,
		limiter:   rate.NewLimiter(limit, max(cfg.RateBurst, 1)),
		retry:     newRetryManager(cfg, metrics),
		Metrics:   metrics,
	}
}

// FetchOne returns the canonical record for rawURL, keyed by its normalized
// form. After 1+MaxRetries failed attempts it returns a nil record and the
// last error; callers must then keep whatever they already have.
// Cancelling ctx aborts only this item's in-flight request.
func (f *Fetcher) FetchOne(ctx context.Context, rawURL string) (*models.Record, error) {
	key := parser.NormalizeURL(rawURL)
	attempts := f.cfg.MaxRetries + 1

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := f.retry.Wait(ctx, attempt); err != nil {
				return nil, err
			}
		}

		payload, err := f.attempt(ctx, rawURL, attempt)
		if err == nil {
			rec := parser.MapPayload(key, payload)
			f.Metrics.IncItems()
			return &rec, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			f.Metrics.IncError(errorTypeLabel(ctxErr))
			return nil, ctxErr
		}

		lastErr = err
		category := errorTypeLabel(err)
		f.Metrics.IncError(category)
		slog.Warn("origin attempt failed",
			slog.String("url", rawURL),
			slog.Int("attempt", attempt+1),
			slog.Int("of", attempts),
			slog.String("category", category),
			slog.Any("error", err),
		)
	}

	return nil, fmt.Errorf("fetch %s: all %d attempts failed: %w", rawURL, attempts, lastErr)
}

func (f *Fetcher) attempt(ctx context.Context, rawURL string, attempt int) (map[string]any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	return f.fetch(attemptCtx, rawURL, attempt)
}

// fetchService queries the metadata service. A 404 from the primary endpoint
// on the first attempt is retried once against the alternate POST endpoint
// before the attempt counts as failed.
func (f *Fetcher) fetchService(ctx context.Context, rawURL string, attempt int) (map[string]any, error) {
	base := strings.TrimRight(f.cfg.BackendURL, "/")

	hdr := http.Header{}
	hdr.Set("Accept", "application/json")
	hdr.Set("X-Requested-With", "XMLHttpRequest")
	target := base + primaryPath + "?url=" + url.QueryEscape(rawURL)

	body, err := f.exchange(ctx, phasePrimary, http.MethodGet, target, nil, hdr, nil)
	if err == nil {
		return decodePayload(body)
	}

	var notFound ErrNotFound
	if attempt != 0 || !errors.As(err, &notFound) {
		return nil, err
	}

	slog.Debug("primary endpoint missing, trying alternate", slog.String("url", rawURL))
	reqBody, marshalErr := json.Marshal(map[string]string{"url": rawURL})
	if marshalErr != nil {
		return nil, marshalErr
	}
	postHdr := http.Header{}
	postHdr.Set("Content-Type", "application/json")

	body, altErr := f.exchange(ctx, phaseAlternate, http.MethodPost, base+alternatePath, bytes.NewReader(reqBody), postHdr, nil)
	if altErr != nil {
		return nil, fmt.Errorf("alternate endpoint: %w (primary: %v)", altErr, err)
	}
	return decodePayload(body)
}

// fetchPage scrapes the product page itself. Attribute rows become payload
// keys under their on-page labels so the alias table resolves them.
func (f *Fetcher) fetchPage(ctx context.Context, rawURL string, _ int) (map[string]any, error) {
	target := rawURL
	if !strings.HasPrefix(strings.ToLower(target), "http") {
		target = "https://" + strings.TrimSpace(target)
	}

	var (
		mu      sync.Mutex
		payload = map[string]any{"url": rawURL}
	)
	set := func(key, value string) {
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" || value == "" {
			return
		}
		mu.Lock()
		if _, exists := payload[key]; !exists {
			payload[key] = value
		}
		mu.Unlock()
	}

	configure := func(c *colly.Collector) {
		c.OnHTML("span.price", func(e *colly.HTMLElement) {
			set("price", e.Text)
		})
		c.OnHTML("h1.page-title span, span.base, h1.product-name", func(e *colly.HTMLElement) {
			set("title", e.Text)
			set("name", e.Text)
		})
		c.OnHTML("div.additional-attributes-wrapper ul.items li", func(e *colly.HTMLElement) {
			label := strings.TrimSuffix(strings.TrimSpace(e.ChildText("strong.label")), ":")
			set(label, e.ChildText("span.data"))
		})
	}

	if _, err := f.exchange(ctx, phasePage, http.MethodGet, target, nil, nil, configure); err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	if !parser.HasOriginData(payload) {
		return nil, ErrIncomplete{Err: fmt.Errorf("no price, title or author on page")}
	}
	return payload, nil
}

// exchange issues one request through a clone of the base collector. The
// collector call runs in its own goroutine so ctx can abandon it.
func (f *Fetcher) exchange(ctx context.Context, phase, method, target string, body io.Reader, hdr http.Header, configure func(*colly.Collector)) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, classifyError(err, 0)
	}

	c := f.collector.Clone()
	var (
		respBody []byte
		status   int
	)
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		respBody = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})
	if configure != nil {
		configure(c)
	}

	f.Metrics.IncRequest(phase)
	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- c.Request(method, target, body, nil, hdr)
	}()

	select {
	case <-ctx.Done():
		return nil, classifyError(ctx.Err(), 0)
	case err := <-done:
		f.Metrics.ObserveDuration(time.Since(start))
		if err != nil {
			return nil, classifyError(err, status)
		}
		return respBody, nil
	}
}

// decodePayload parses a service response and rejects origin-reported errors
// and responses without any usable data.
func decodePayload(body []byte) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, ErrOriginFailure{Err: fmt.Errorf("decode payload: %w", err)}
	}
	if msg := parser.PayloadError(payload); msg != "" {
		return nil, ErrOriginFailure{Err: errors.New(msg)}
	}
	if !parser.HasOriginData(payload) {
		return nil, ErrIncomplete{Err: errors.New("no price, title or author in response")}
	}
	return payload, nil
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch {
		case statusCode == http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case statusCode == http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case statusCode == http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case statusCode >= http.StatusInternalServerError:
			return ErrOriginFailure{Err: wrapped}
		}
	}

	return err
}

// retryManager paces retries with a capped exponential backoff.
type retryManager struct {
	cfg     *config.Config
	metrics *Metrics

	mu           sync.Mutex
	totalRetries int
}

func newRetryManager(cfg *config.Config, metrics *Metrics) *retryManager {
	return &retryManager{cfg: cfg, metrics: metrics}
}

// Wait blocks for the backoff of the given retry attempt (1-based) and
// returns early with ctx's error when ctx ends first.
func (rm *retryManager) Wait(ctx context.Context, attempt int) error {
	rm.mu.Lock()
	rm.totalRetries++
	rm.mu.Unlock()
	rm.metrics.IncRetries()

	timer := time.NewTimer(rm.backoff(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (rm *retryManager) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rm.cfg.RetryBackoff
	if base <= 0 {
		return 0
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := rm.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

// TotalRetries reports how many retries were started.
func (rm *retryManager) TotalRetries() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.totalRetries
}
