package handler

import (
	"net/http"
	"strconv"

	"github.com/algorand-firewall-service/internal/middleware"
	"github.com/algorand-firewall-service/internal/service"
)

type ThreatSummaryHandler struct {
	service *service.SecurityService
}

func NewThreatSummaryHandler(svc *service.SecurityService) *ThreatSummaryHandler {
	return &ThreatSummaryHandler{service: svc}
}

func (h *ThreatSummaryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sc := middleware.GetSecurityContext(r.Context())
	if sc == nil {
		RespondError(w, http.StatusUnauthorized, "invalid_api_key", "Missing API key")
		return
	}

	hours, err := parseHours(r.URL.Query().Get("hours"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid 'hours' parameter")
		return
	}

	summary, err := h.service.ThreatSummary(r.Context(), sc, hours)
	if err != nil {
		service.RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, summary)
}

// parseHours reads the lookback query parameter; absent means the service
// default applies.
func parseHours(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
