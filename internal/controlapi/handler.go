// Package controlapi exposes the Run Controller's operations and the
// engine's debug/maintenance hooks over HTTP (§6 control operations), the
// way the teacher's internal/api package exposes its domain over chi
// routes and shared-secret-guarded admin endpoints.
package controlapi

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/terrarisk/hazardengine/internal/fusion"
	"github.com/terrarisk/hazardengine/internal/logger"
	middlewares "github.com/terrarisk/hazardengine/internal/middleware"
	"github.com/terrarisk/hazardengine/internal/models"
	"github.com/terrarisk/hazardengine/internal/publisher"
	"github.com/terrarisk/hazardengine/internal/runcontrol"
	"github.com/terrarisk/hazardengine/internal/sourcecontrol"
	"github.com/terrarisk/hazardengine/internal/store"
)

// Controller is the subset of runcontrol.Controller the HTTP layer drives.
type Controller interface {
	Trigger(ctx context.Context, mode, requestID string, regionLimit int) runcontrol.TriggerResult
	Abort() runcontrol.AbortResult
	Status() models.RunState
	Reset(ctx context.Context) error
	DebugLastCollection() []*models.CollectionResult
}

// Handler wires the control surface's HTTP routes.
type Handler struct {
	controller  Controller
	store       store.Store
	sourceCtrl  *sourcecontrol.Controller
	publisher   *publisher.Publisher
	adminSecret string
	version     string
	startTime   time.Time
}

// NewHandler builds the control-surface handler.
func NewHandler(controller Controller, st store.Store, sourceCtrl *sourcecontrol.Controller, pub *publisher.Publisher, adminSecret, version string) *Handler {
	return &Handler{
		controller:  controller,
		store:       st,
		sourceCtrl:  sourceCtrl,
		publisher:   pub,
		adminSecret: adminSecret,
		version:     version,
		startTime:   time.Now(),
	}
}

// RegisterRoutes mounts the health surface publicly and the run-control
// surface behind AdminSecret, mirroring the teacher's /v1 + /v1/admin split.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.Get("/v1/version", h.versionHandler)

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(middlewares.AdminSecret(h.adminSecret))
		r.Post("/trigger", h.trigger)
		r.Post("/abort", h.abort)
		r.Get("/status", h.status)
		r.Post("/reset", h.reset)
		r.Get("/debug/last_collection", h.debugLastCollection)
		r.Post("/debug/randomize", h.debugRandomize)
		r.Post("/reset_scraper_runtime", h.resetScraperRuntime)
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.store.Health(r.Context()); err != nil {
		status = "error: " + err.Error()
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "timestamp": time.Now().UTC()})
}

func (h *Handler) versionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"version": h.version, "uptime": time.Since(h.startTime).String()})
}

// trigger implements trigger_async(fast_mode, region_limit) → §6.
func (h *Handler) trigger(w http.ResponseWriter, r *http.Request) {
	fastMode := r.URL.Query().Get("fast_mode") == "true"
	requestID := r.URL.Query().Get("request_id")
	regionLimit := 0
	if v := r.URL.Query().Get("region_limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			regionLimit = parsed
		}
	}

	mode := models.ModeFull
	if fastMode {
		mode = models.ModeFast
	}

	result := h.controller.Trigger(r.Context(), mode, requestID, regionLimit)
	status := http.StatusAccepted
	if !result.Accepted {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

func (h *Handler) abort(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Abort())
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Status())
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Reset(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) debugLastCollection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.DebugLastCollection())
}

// debugRandomize implements debug_randomize() (§6): synthesize plausible
// Decisions for every region and broadcast them via C6, never touching a
// source, the LLM, or the store.
func (h *Handler) debugRandomize(w http.ResponseWriter, r *http.Request) {
	regions, err := h.store.ListRegions(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": err.Error()})
		return
	}

	inputs := make([]models.RegionInput, len(regions))
	for i, reg := range regions {
		inputs[i] = models.RegionInput{Code: reg.Code, Name: reg.Name, Lat: reg.Lat, Lon: reg.Lon}
	}
	decisions := fusion.DebugRandomize(inputs, func(min, max float64) float64 {
		return min + rand.Float64()*(max-min)
	})

	h.publisher.Publish(publisher.Delta{RequestID: "debug_randomize", BatchNum: 0, Decisions: decisions})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "decisions": decisions})
}

func (h *Handler) resetScraperRuntime(w http.ResponseWriter, r *http.Request) {
	clearCache := r.URL.Query().Get("clear_cache") == "true"
	h.sourceCtrl.ResetScraperRuntime(r.Context(), clearCache)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "clear_cache": clearCache})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode control-api response", "error", err)
	}
}
