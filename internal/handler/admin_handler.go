package handler

import (
	"encoding/json"
	"net/http"

	"go-wiki-engine/internal/cache"
	"go-wiki-engine/internal/config"
	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/middleware"
	"go-wiki-engine/internal/service"
)

// AdminHandler serves the maintenance endpoints under /sp.admin. Access is
// checked by the route policies, not here.
type AdminHandler struct {
	pageService service.PageServicer
	cache       *cache.Coordinator
	engine      config.EngineConfig
	log         logger.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(ps service.PageServicer, c *cache.Coordinator, engine config.EngineConfig, log logger.Logger) *AdminHandler {
	return &AdminHandler{pageService: ps, cache: c, engine: engine, log: log}
}

func encodeJSON(w http.ResponseWriter, v interface{}) *middleware.AppError {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to encode response", Code: http.StatusInternalServerError}
	}
	return nil
}

// reconcileHandler retries queued derived updates.
func (h *AdminHandler) reconcileHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	res, err := h.pageService.Reconcile(r.Context(), h.engine.ReconcileBatch)
	if err != nil {
		return &middleware.AppError{Error: err, Message: "Reconciliation failed", Code: http.StatusInternalServerError}
	}
	h.log.With(map[string]interface{}{"succeeded": res.Succeeded, "failed": res.Failed}).Info("Reconciliation run")
	return encodeJSON(w, map[string]interface{}{
		"succeeded": res.Succeeded,
		"failed":    res.Failed,
		"touched":   res.Touched,
	})
}

// recommendHandler refreshes the related pages. With "recent=1" only pages
// updated lately are walked from.
func (h *AdminHandler) recommendHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	updated, err := h.pageService.RefreshRecommendations(r.Context(), h.engine.RecommendIterations, r.URL.Query().Get("recent") == "1")
	if err != nil {
		return &middleware.AppError{Error: err, Message: "Recommendation refresh failed", Code: http.StatusInternalServerError}
	}
	if updated == nil {
		updated = []string{}
	}
	return encodeJSON(w, map[string]interface{}{"updated": updated})
}

// flushHandler drops every cached value.
func (h *AdminHandler) flushHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	h.cache.FlushAll()
	h.log.Info("Cache flushed")
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// reindexHandler rebuilds the structured-data index of the "title" page.
func (h *AdminHandler) reindexHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	title := r.URL.Query().Get("title")
	if title == "" {
		return &middleware.AppError{Message: "Missing title.", Code: http.StatusBadRequest}
	}
	if err := h.pageService.Reindex(r.Context(), title); err != nil {
		return &middleware.AppError{Error: err, Message: "Reindex failed", Code: http.StatusInternalServerError}
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
