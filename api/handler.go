// Package api exposes the enrichment core, list preferences and ordering
// over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aluiziolira/go-wishlist-mirror/enrich"
	"github.com/aluiziolira/go-wishlist-mirror/export"
	"github.com/aluiziolira/go-wishlist-mirror/models"
	"github.com/aluiziolira/go-wishlist-mirror/ordering"
	"github.com/aluiziolira/go-wishlist-mirror/parser"
	"github.com/aluiziolira/go-wishlist-mirror/pipeline"
	"github.com/aluiziolira/go-wishlist-mirror/store"
)

// Enricher resolves wishlist URLs to enriched items.
type Enricher interface {
	Enrich(ctx context.Context, urls []string) map[string]models.EnrichedItem
	EnrichEntries(ctx context.Context, entries []models.WishlistEntry) []models.EnrichedItem
	Lookup(ctx context.Context, rawURL string) (models.EnrichedItem, error)
}

// Refresher re-fetches single items on demand.
type Refresher interface {
	RefreshNow(ctx context.Context, task models.RefreshTask) (*models.Record, error)
	GetMetrics() map[string]interface{}
}

// Handler serves the item, list preference, ordering and export endpoints.
type Handler struct {
	Enricher  Enricher
	Refresher Refresher
	Prefs     store.Preferences
}

// NewHandler wires a Handler to the enrichment core, the on-demand refresher
// and the list preference store.
func NewHandler(enricher Enricher, refresher Refresher, prefs store.Preferences) *Handler {
	return &Handler{Enricher: enricher, Refresher: refresher, Prefs: prefs}
}

// RegisterRoutes mounts the /items and /lists/:urlEnding routes on rg.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/items/bulk", h.bulk)
	rg.GET("/items", h.lookup)
	rg.POST("/items/refresh", h.refresh)

	rg.GET("/lists/:urlEnding/priorities", h.priorities)
	rg.PUT("/lists/:urlEnding/priorities", h.setPriorities)
	rg.GET("/lists/:urlEnding/dependencies", h.dependencies)
	rg.PUT("/lists/:urlEnding/dependencies", h.setDependencies)
	rg.GET("/lists/:urlEnding/notes", h.notes)
	rg.PUT("/lists/:urlEnding/notes", h.setNotes)
	rg.POST("/lists/:urlEnding/order", h.order)
	rg.POST("/lists/:urlEnding/export", h.export)
}

func (h *Handler) health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if h.Refresher != nil {
		resp["scheduler"] = h.Refresher.GetMetrics()
	}
	c.JSON(http.StatusOK, resp)
}

type bulkReq struct {
	URLs []string `json:"urls"`
}

func (h *Handler) bulk(c *gin.Context) {
	var req bulkReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": h.Enricher.Enrich(c.Request.Context(), req.URLs)})
}

func (h *Handler) lookup(c *gin.Context) {
	item, err := h.Enricher.Lookup(c.Request.Context(), c.Query("url"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, item)
}

type refreshReq struct {
	URL string `json:"url"`
}

func (h *Handler) refresh(c *gin.Context) {
	var req refreshReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !parser.ValidURL(req.URL) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url required"})
		return
	}

	task := models.RefreshTask{Key: parser.NormalizeURL(req.URL), URL: req.URL}
	rec, err := h.Refresher.RefreshNow(c.Request.Context(), task)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, rec)
	case errors.Is(err, pipeline.ErrRefreshDiscarded):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, pipeline.ErrSchedulerClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled):
		slog.Debug("refresh aborted by client", slog.String("url", req.URL))
		c.Status(499)
	default:
		slog.Warn("refresh failed", slog.String("url", req.URL), slog.Any("error", err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "origin unavailable"})
	}
}

func (h *Handler) priorities(c *gin.Context) {
	out, err := h.Prefs.Priorities(c.Request.Context(), c.Param("urlEnding"))
	if err != nil {
		h.storeError(c, "load priorities", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"priorities": out})
}

func (h *Handler) setPriorities(c *gin.Context) {
	var req []models.Priority
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	urlEnding := c.Param("urlEnding")
	for _, p := range req {
		if strings.TrimSpace(p.URL) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "url required"})
			return
		}
		if err := h.Prefs.SetPriority(c.Request.Context(), urlEnding, p.URL, p.Priority); err != nil {
			if errors.Is(err, store.ErrInvalidPriority) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			h.storeError(c, "save priority", err)
			return
		}
	}
	h.priorities(c)
}

func (h *Handler) dependencies(c *gin.Context) {
	out, err := h.Prefs.Dependencies(c.Request.Context(), c.Param("urlEnding"))
	if err != nil {
		h.storeError(c, "load dependencies", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dependencies": out, "cycles": ordering.DetectCycles(out)})
}

func (h *Handler) setDependencies(c *gin.Context) {
	var req []models.Dependency
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	urlEnding := c.Param("urlEnding")
	for _, d := range req {
		if strings.TrimSpace(d.URL) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "url required"})
			return
		}
		if err := h.Prefs.SetDependency(c.Request.Context(), urlEnding, d.URL, d.DependencyURL); err != nil {
			if errors.Is(err, store.ErrSelfDependency) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			h.storeError(c, "save dependency", err)
			return
		}
	}
	h.dependencies(c)
}

func (h *Handler) notes(c *gin.Context) {
	out, err := h.Prefs.Notes(c.Request.Context(), c.Param("urlEnding"))
	if err != nil {
		h.storeError(c, "load notes", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": out})
}

func (h *Handler) setNotes(c *gin.Context) {
	var req []models.Note
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	urlEnding := c.Param("urlEnding")
	for _, n := range req {
		if strings.TrimSpace(n.URL) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "url required"})
			return
		}
		if err := h.Prefs.SetNote(c.Request.Context(), urlEnding, n.URL, n.Text); err != nil {
			h.storeError(c, "save note", err)
			return
		}
	}
	h.notes(c)
}

type orderReq struct {
	Entries       []models.WishlistEntry `json:"entries"`
	URLs          []string               `json:"urls"`
	SortField     string                 `json:"sortField"`
	SortDirection string                 `json:"sortDirection"`
}

type orderedList struct {
	items      []models.EnrichedItem
	priorities map[string]int
	deps       map[string]string
	notes      map[string]string
}

// resolve enriches the requested entries and orders them with the list's
// stored preferences. It writes the error response itself and returns false
// on failure.
func (h *Handler) resolve(c *gin.Context) (orderedList, bool) {
	var req orderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return orderedList{}, false
	}
	field, err := ordering.ParseField(req.SortField)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return orderedList{}, false
	}

	entries := req.Entries
	for _, u := range req.URLs {
		entries = append(entries, models.WishlistEntry{Link: u})
	}

	ctx := c.Request.Context()
	urlEnding := c.Param("urlEnding")
	priorities, err := h.Prefs.Priorities(ctx, urlEnding)
	if err != nil {
		h.storeError(c, "load priorities", err)
		return orderedList{}, false
	}
	deps, err := h.Prefs.Dependencies(ctx, urlEnding)
	if err != nil {
		h.storeError(c, "load dependencies", err)
		return orderedList{}, false
	}
	notes, err := h.Prefs.Notes(ctx, urlEnding)
	if err != nil {
		h.storeError(c, "load notes", err)
		return orderedList{}, false
	}

	items := h.Enricher.EnrichEntries(ctx, entries)
	sorted := ordering.Order(items, priorities, deps, ordering.Sort{
		Field:     field,
		Direction: ordering.ParseDirection(req.SortDirection),
		Notes:     notes,
	})
	return orderedList{items: sorted, priorities: priorities, deps: deps, notes: notes}, true
}

func (h *Handler) order(c *gin.Context) {
	list, ok := h.resolve(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items":  list.items,
		"cycles": ordering.DetectCycles(list.deps),
	})
}

func (h *Handler) export(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	if format != "csv" && format != "jsonl" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv or jsonl"})
		return
	}
	list, ok := h.resolve(c)
	if !ok {
		return
	}

	rows := export.Rows(list.items, list.priorities, list.deps, list.notes)
	var w export.Writer
	if format == "csv" {
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Status(http.StatusOK)
		cw, err := export.NewCSVWriter(c.Writer)
		if err != nil {
			slog.Error("export failed", slog.Any("error", err))
			return
		}
		w = cw
	} else {
		c.Header("Content-Type", "application/x-ndjson")
		c.Status(http.StatusOK)
		w = export.NewJSONWriter(c.Writer)
	}
	if err := w.Write(rows); err != nil {
		slog.Error("export failed", slog.Any("error", err))
	}
	if err := w.Close(); err != nil {
		slog.Error("export failed", slog.Any("error", err))
	}
}

func (h *Handler) storeError(c *gin.Context, op string, err error) {
	slog.Error(op+" failed", slog.String("list", c.Param("urlEnding")), slog.Any("error", err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
}

var _ Enricher = (*enrich.Orchestrator)(nil)
var _ Refresher = (*pipeline.Scheduler)(nil)
