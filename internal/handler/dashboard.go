package handler

import (
	"net/http"

	"github.com/algorand-firewall-service/internal/middleware"
	"github.com/algorand-firewall-service/internal/model"
	"github.com/algorand-firewall-service/internal/service"
)

type DashboardHandler struct {
	service *service.SecurityService
}

func NewDashboardHandler(svc *service.SecurityService) *DashboardHandler {
	return &DashboardHandler{service: svc}
}

type DashboardResponse struct {
	Usage      *model.UsageStats    `json:"usage"`
	Threats    *model.ThreatSummary `json:"threats"`
	RateBucket *model.RateDecision  `json:"rate_bucket"`
}

func (h *DashboardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	result, err := h.service.Dashboard(r.Context(), sc, hours)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, DashboardResponse{
		Usage:      result.Usage,
		Threats:    result.Threats,
		RateBucket: result.Bucket,
	})
}
