package handler

import (
	"net/http"

	"github.com/Dan9191/sacco-service/internal/models"
)

type openDividendRequest struct {
	PeriodLabel string `json:"period_label"`
	Year        int    `json:"year"`
}

type calculateDividendRequest struct {
	DistributionID int64 `json:"distribution_id"`
	TotalPool      int64 `json:"total_pool"`
}

type distributionIDRequest struct {
	DistributionID int64 `json:"distribution_id"`
}

type dividendResponse struct {
	Distribution *models.DividendDistribution `json:"distribution"`
	Entries      []*models.DividendEntry      `json:"entries,omitempty"`
	Error        string                       `json:"error,omitempty"`
}

func (h *Handler) OpenDividend(w http.ResponseWriter, r *http.Request) {
	var req openDividendRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.svc.Dividends.OpenPeriod(r.Context(), req.PeriodLabel, req.Year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dividendResponse{Distribution: d})
}

func (h *Handler) CalculateDividend(w http.ResponseWriter, r *http.Request) {
	var req calculateDividendRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	entries, err := h.svc.Dividends.Calculate(r.Context(), req.DistributionID, req.TotalPool)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.svc.Dividends.GetDistribution(r.Context(), req.DistributionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*models.DividendEntry{}
	}
	writeJSON(w, http.StatusOK, dividendResponse{Distribution: d, Entries: entries})
}

func (h *Handler) ApproveDividend(w http.ResponseWriter, r *http.Request) {
	var req distributionIDRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.svc.Dividends.Approve(r.Context(), req.DistributionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dividendResponse{Distribution: d})
}

// DistributeDividend pays out approved entries. Partial failures answer 207 with the entry states.
func (h *Handler) DistributeDividend(w http.ResponseWriter, r *http.Request) {
	var req distributionIDRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.svc.Dividends.Distribute(r.Context(), req.DistributionID)
	if err != nil && d == nil {
		h.writeError(w, r, err)
		return
	}
	entries, listErr := h.svc.Dividends.Entries(r.Context(), req.DistributionID)
	if listErr != nil {
		h.writeError(w, r, listErr)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusMultiStatus, dividendResponse{Distribution: d, Entries: entries, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, dividendResponse{Distribution: d, Entries: entries})
}

func (h *Handler) GetDividend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.svc.Dividends.GetDistribution(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entries, err := h.svc.Dividends.Entries(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dividendResponse{Distribution: d, Entries: entries})
}
