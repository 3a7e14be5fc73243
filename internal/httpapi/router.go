// Package httpapi is the peripheral HTTP surface of spec.md §6: decode,
// validate shape, hand off to the engine's intake queue or status
// snapshot. No business logic lives here, following the thin-router
// shape of builder/internal/http/router.go.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollerd/internal/engine"
)

const statusTimeout = 2 * time.Second

// Router exposes the webhook, admin, status, and metrics endpoints.
type Router struct {
	mux    *chi.Mux
	logger *slog.Logger
	engine *engine.Engine
}

// New builds and registers handlers.
func New(logger *slog.Logger, eng *engine.Engine) *Router {
	r := &Router{
		mux:    chi.NewRouter(),
		logger: logger,
		engine: eng,
	}
	r.routes()
	return r
}

// ServeHTTP satisfies http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) routes() {
	r.mux.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.mux.Get("/healthz", r.handleHealth)
	r.mux.Post("/webhook", r.handleWebhook)
	r.mux.Get("/status", r.handleStatus)
	r.mux.Post("/admin/refresh/{index}", r.handleAdminRefresh)
}

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	r.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type webhookRequest struct {
	CloneURL string `json:"clone_url"`
}

// handleWebhook is spec.md §6's webhook receiver. An unknown clone_url
// is not rejected here — the HTTP layer has no registry to check
// against; the engine logs and drops it.
func (r *Router) handleWebhook(w http.ResponseWriter, req *http.Request) {
	var body webhookRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		r.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.CloneURL == "" {
		r.writeError(w, http.StatusBadRequest, "clone_url is required")
		return
	}
	r.engine.Webhook(body.CloneURL)
	r.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), statusTimeout)
	defer cancel()
	snap, err := r.engine.Status(ctx)
	if err != nil {
		r.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	r.writeJSON(w, http.StatusOK, snap)
}

func (r *Router) handleAdminRefresh(w http.ResponseWriter, req *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(req, "index"))
	if err != nil {
		r.writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	r.engine.AdminRefresh(idx)
	r.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (r *Router) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.logger.Error("failed to encode response", "error", err)
	}
}

func (r *Router) writeError(w http.ResponseWriter, status int, msg string) {
	r.writeJSON(w, status, map[string]string{"error": msg})
}
