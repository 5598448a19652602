package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
	"github.com/alanyoungcy/degenbets-settler/internal/service"
)

// maxSyncBody bounds the POST /api/sync request body.
const maxSyncBody = 4 << 10

// MirrorService defines the methods that the sync handler requires.
type MirrorService interface {
	Sync(ctx context.Context, marketID uint64, wallet string, costBasisDelta int64) (service.SyncResult, error)
	GetPosition(ctx context.Context, marketID uint64, wallet string) (domain.Position, error)
}

// SyncHandler serves the ledger mirror endpoints called by the frontend after
// every confirmed transaction.
type SyncHandler struct {
	mirror MirrorService
	logger *slog.Logger
}

// NewSyncHandler creates a SyncHandler with the given service and logger.
func NewSyncHandler(mirror MirrorService, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{mirror: mirror, logger: logHandler(logger, "sync")}
}

// syncRequest is the POST /api/sync body. marketId is accepted as a number
// or a numeric string.
type syncRequest struct {
	MarketID       json.Number `json:"marketId"`
	UserWallet     string      `json:"userWallet"`
	CostBasisDelta json.Number `json:"costBasisDelta"`
}

type syncResponse struct {
	Success  bool              `json:"success"`
	Market   marketResponse    `json:"market"`
	Position *positionResponse `json:"position"`
}

// Sync re-reads one market and one wallet's position from the ledger and
// upserts the mirror rows.
// POST /api/sync {marketId, userWallet, costBasisDelta}
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSyncBody))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MarketID == "" || req.UserWallet == "" {
		writeError(w, http.StatusBadRequest, "marketId and userWallet are required")
		return
	}
	marketID, err := parseMarketID(req.MarketID.String())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid marketId")
		return
	}
	var delta int64
	if req.CostBasisDelta != "" {
		if delta, err = req.CostBasisDelta.Int64(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid costBasisDelta")
			return
		}
	}

	res, err := h.mirror.Sync(r.Context(), marketID, req.UserWallet, delta)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "sync failed")
		return
	}

	resp := syncResponse{Success: true, Market: toMarketResponse(res.Market)}
	if res.Position != nil {
		resp.Position = toPositionResponse(*res.Position)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPosition returns the mirrored position including its cost basis, or
// {"position": null} when the wallet never synced one.
// GET /api/sync/position?marketId=X&wallet=Y
func (h *SyncHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rawID, wallet := q.Get("marketId"), q.Get("wallet")
	if rawID == "" || wallet == "" {
		writeError(w, http.StatusBadRequest, "marketId and wallet are required")
		return
	}
	marketID, err := parseMarketID(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid marketId %q", rawID))
		return
	}

	p, err := h.mirror.GetPosition(r.Context(), marketID, wallet)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"position": nil})
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to fetch position")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"position": toPositionResponse(p)})
}
