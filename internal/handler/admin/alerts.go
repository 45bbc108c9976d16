package admin

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/algorand-firewall-service/internal/archive"
	"github.com/algorand-firewall-service/internal/handler"
	"github.com/algorand-firewall-service/internal/httputil"
	"github.com/algorand-firewall-service/internal/model"
	"github.com/algorand-firewall-service/internal/service"
)

// --- List Threat Alerts ---

// AlertsHandler pages through archived threat alerts. Alerts are stored
// under the key hash, so a key_id filter is resolved to its hash first.
type AlertsHandler struct {
	arch archive.Archive
	keys *service.KeyService
}

func NewAlertsHandler(arch archive.Archive, keys *service.KeyService) *AlertsHandler {
	return &AlertsHandler{arch: arch, keys: keys}
}

type alertsResponse struct {
	Alerts  []*model.ThreatAlert `json:"alerts"`
	Total   int                  `json:"total"`
	Page    int                  `json:"page"`
	PerPage int                  `json:"per_page"`
}

func (h *AlertsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, perPage, err := httputil.ParsePagination(q.Get("page"), q.Get("per_page"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	filters := archive.AlertFilters{
		Page:    page,
		PerPage: perPage,
	}

	if keyIDStr := q.Get("key_id"); keyIDStr != "" {
		id, err := uuid.Parse(keyIDStr)
		if err != nil {
			handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid key_id")
			return
		}
		record, err := h.keys.Get(r.Context(), id)
		if err != nil {
			service.RespondError(w, err)
			return
		}
		filters.KeyHash = &record.KeyHash
	}

	if kindStr := q.Get("kind"); kindStr != "" {
		kind := model.ThreatKind(kindStr)
		filters.Kind = &kind
	}

	if severityStr := q.Get("severity"); severityStr != "" {
		severity := model.Severity(severityStr)
		filters.Severity = &severity
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

	alerts, total, err := h.arch.ListAlerts(r.Context(), filters)
	if err != nil {
		log.Error().Err(err).Msg("failed to list alerts")
		handler.RespondError(w, http.StatusInternalServerError, "internal_error", "Failed to list alerts")
		return
	}

	handler.RespondJSON(w, http.StatusOK, alertsResponse{
		Alerts:  alerts,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}
