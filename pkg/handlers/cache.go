package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/cache"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
)

// CacheAdmin is the administrative surface of the result cache.
type CacheAdmin interface {
	Stats(ctx context.Context) models.CacheStats
	ClearAll(ctx context.Context) error
	Invalidate(ctx context.Context, pattern string) (int, error)
	Optimize(ctx context.Context) (*models.CacheOptimizeReport, error)
	ListEntries(ctx context.Context, limit int) ([]models.CacheEntryInfo, error)
}

var _ CacheAdmin = (*cache.Manager)(nil)

// InvalidateCacheRequest for POST /api/cache/invalidate.
type InvalidateCacheRequest struct {
	Pattern string `json:"pattern"`
}

// InvalidateCacheResponse reports how many entries were removed.
type InvalidateCacheResponse struct {
	Pattern string `json:"pattern"`
	Removed int    `json:"removed"`
}

// CacheHandler exposes cache statistics and maintenance.
type CacheHandler struct {
	cache  CacheAdmin
	logger *zap.Logger
}

// NewCacheHandler creates a cache handler. A nil cache answers every
// request with 503 cache_disabled.
func NewCacheHandler(c CacheAdmin, logger *zap.Logger) *CacheHandler {
	return &CacheHandler{cache: c, logger: logger}
}

// RegisterRoutes registers the cache handler's routes on the given mux.
func (h *CacheHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/cache", h.requireCache(h.Stats))
	mux.HandleFunc("DELETE /api/cache", h.requireCache(h.Clear))
	mux.HandleFunc("GET /api/cache/entries", h.requireCache(h.Entries))
	mux.HandleFunc("POST /api/cache/invalidate", h.requireCache(h.Invalidate))
	mux.HandleFunc("POST /api/cache/optimize", h.requireCache(h.Optimize))
}

func (h *CacheHandler) requireCache(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.cache == nil {
			if err := ErrorResponse(w, http.StatusServiceUnavailable, "cache_disabled", "Result cache is disabled"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		next(w, r)
	}
}

// Stats handles GET /api/cache.
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.cache.Stats(r.Context()), h.logger)
}

// Clear handles DELETE /api/cache.
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.ClearAll(r.Context()); err != nil {
		writeError(w, err, nil, h.logger)
		return
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Cache cleared"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Entries handles GET /api/cache/entries?limit=N.
func (h *CacheHandler) Entries(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 100, h.logger)
	if !ok {
		return
	}

	entries, err := h.cache.ListEntries(r.Context(), limit)
	if err != nil {
		writeError(w, err, nil, h.logger)
		return
	}
	writeOK(w, entries, h.logger)
}

// Invalidate handles POST /api/cache/invalidate. The pattern is a glob
// over cache keys.
func (h *CacheHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req InvalidateCacheRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}
	if strings.TrimSpace(req.Pattern) == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "pattern is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	removed, err := h.cache.Invalidate(r.Context(), req.Pattern)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_pattern", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	writeOK(w, InvalidateCacheResponse{Pattern: req.Pattern, Removed: removed}, h.logger)
}

// Optimize handles POST /api/cache/optimize.
func (h *CacheHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	report, err := h.cache.Optimize(r.Context())
	if err != nil {
		writeError(w, err, nil, h.logger)
		return
	}
	writeOK(w, report, h.logger)
}
