package admin

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/algorand-firewall-service/internal/archive"
	"github.com/algorand-firewall-service/internal/handler"
	"github.com/algorand-firewall-service/internal/httputil"
	"github.com/algorand-firewall-service/internal/model"
)

// --- List Validation Reports ---

type ReportsHandler struct {
	arch archive.Archive
}

func NewReportsHandler(arch archive.Archive) *ReportsHandler {
	return &ReportsHandler{arch: arch}
}

type reportsResponse struct {
	Reports []*model.ValidationReport `json:"reports"`
	Total   int                       `json:"total"`
	Page    int                       `json:"page"`
	PerPage int                       `json:"per_page"`
}

func (h *ReportsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, perPage, err := httputil.ParsePagination(q.Get("page"), q.Get("per_page"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	filters := archive.ReportFilters{
		Page:    page,
		PerPage: perPage,
	}

	if wallet := q.Get("wallet"); wallet != "" {
		filters.Wallet = &wallet
	}

	if verdictStr := q.Get("verdict"); verdictStr != "" {
		verdict := model.Verdict(verdictStr)
		filters.Verdict = &verdict
	}

	if fromStr := q.Get("from"); fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid 'from' date format (use RFC3339)")
			return
		}
		filters.From = &t
	}

	if toStr := q.Get("to"); toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid 'to' date format (use RFC3339)")
			return
		}
		filters.To = &t
	}

	reports, total, err := h.arch.ListReports(r.Context(), filters)
	if err != nil {
		log.Error().Err(err).Msg("failed to list reports")
		handler.RespondError(w, http.StatusInternalServerError, "internal_error", "Failed to list reports")
		return
	}

	handler.RespondJSON(w, http.StatusOK, reportsResponse{
		Reports: reports,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}
