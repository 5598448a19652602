package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/degenbets-settler/internal/pipeline"
)

// Sweeper runs resolution sweeps on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (pipeline.SweepStats, error)
	Enqueue() bool
}

// ResolveHandler serves the administrative sweep trigger.
type ResolveHandler struct {
	sweeper Sweeper
	logger  *slog.Logger
}

// NewResolveHandler creates a ResolveHandler.
func NewResolveHandler(sweeper Sweeper, logger *slog.Logger) *ResolveHandler {
	return &ResolveHandler{sweeper: sweeper, logger: logHandler(logger, "resolve")}
}

// TriggerSweep runs one resolution sweep and returns its counts. With
// ?async=true the sweep is handed to the running resolver loop instead and
// the request returns 202 immediately.
// POST /api/resolve/trigger
func (h *ResolveHandler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("async") == "true" {
		queued := h.sweeper.Enqueue()
		h.logger.InfoContext(r.Context(), "handler: sweep enqueued", slog.Bool("queued", queued))
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":       "accepted",
			"queued":       queued,
			"requested_at": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	h.logger.InfoContext(r.Context(), "handler: sweep requested")
	stats, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: sweep failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
