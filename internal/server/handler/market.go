package handler

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
	"github.com/alanyoungcy/degenbets-settler/internal/service"
	"github.com/alanyoungcy/degenbets-settler/internal/settlement"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	View(ctx context.Context, id uint64) (service.MarketView, error)
	Resolutions(ctx context.Context, id uint64, opts domain.ListOpts) ([]domain.ResolutionLog, error)
	ClaimQuote(ctx context.Context, id uint64, wallet string) (settlement.ClaimQuote, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets  MarketService
	evidence domain.EvidenceStore
	logger   *slog.Logger
}

// NewMarketHandler creates a MarketHandler. evidence may be nil when object
// storage is not configured.
func NewMarketHandler(markets MarketService, evidence domain.EvidenceStore, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets:  markets,
		evidence: evidence,
		logger:   logHandler(logger, "market"),
	}
}

// GetMarket returns the mirrored market with its implied price and payout
// economics.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathMarketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	view, err := h.markets.View(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get market")
		return
	}
	writeJSON(w, http.StatusOK, toMarketViewResponse(view.Market, view.Summary))
}

// ListResolutions returns the resolution attempts for a market, newest first.
// GET /api/markets/{id}/resolutions?limit=50&offset=0&since=&until=
func (h *MarketHandler) ListResolutions(w http.ResponseWriter, r *http.Request) {
	id, err := pathMarketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := parseListOpts(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logs, err := h.markets.Resolutions(r.Context(), id, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list resolutions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resolutions": toResolutionResponses(logs),
		"limit":       opts.Limit,
		"offset":      opts.Offset,
	})
}

// GetClaimQuote reports what a wallet could claim from the market now and,
// if nothing, why not.
// GET /api/markets/{id}/claim?wallet=...
func (h *MarketHandler) GetClaimQuote(w http.ResponseWriter, r *http.Request) {
	id, err := pathMarketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet query parameter required")
		return
	}

	q, err := h.markets.ClaimQuote(r.Context(), id, wallet)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to quote claim")
		return
	}
	writeJSON(w, http.StatusOK, toClaimQuoteResponse(q))
}

// ListEvidence lists the raw source snapshots captured for a market.
// GET /api/markets/{id}/evidence
func (h *MarketHandler) ListEvidence(w http.ResponseWriter, r *http.Request) {
	if h.evidence == nil {
		writeError(w, http.StatusNotFound, "evidence storage not configured")
		return
	}
	id, err := pathMarketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	infos, err := h.evidence.List(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list evidence")
		return
	}
	out := make([]evidenceResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, evidenceResponse{
			Name:         path.Base(info.Path),
			Size:         info.Size,
			ContentType:  info.ContentType,
			LastModified: info.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"evidence": out})
}

// GetEvidence streams one snapshot. Captured pages are served sandboxed so
// third-party markup cannot run on this origin.
// GET /api/markets/{id}/evidence/{name}
func (h *MarketHandler) GetEvidence(w http.ResponseWriter, r *http.Request) {
	if h.evidence == nil {
		writeError(w, http.StatusNotFound, "evidence storage not configured")
		return
	}
	id, err := pathMarketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := r.PathValue("name")

	body, err := h.evidence.Open(r.Context(), id, name)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to open evidence")
		return
	}
	defer body.Close()

	ct := mime.TypeByExtension(path.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Security-Policy", "sandbox")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: evidence stream interrupted",
			slog.Uint64("market_id", id),
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
	}
}
