package handler

import (
	"net/http"

	"github.com/algorand-firewall-service/internal/middleware"
	"github.com/algorand-firewall-service/internal/model"
	"github.com/algorand-firewall-service/internal/service"
)

type UsageHandler struct {
	service *service.KeyService
}

func NewUsageHandler(svc *service.KeyService) *UsageHandler {
	return &UsageHandler{service: svc}
}

type UsageResponse struct {
	*model.UsageStats
	RateLimitRemaining int `json:"rate_limit_remaining"`
}

func (h *UsageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sc := middleware.GetSecurityContext(r.Context())
	if sc == nil {
		RespondError(w, http.StatusUnauthorized, "invalid_api_key", "Missing API key")
		return
	}

	stats, err := h.service.Usage(r.Context(), sc.KeyHash)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, UsageResponse{
		UsageStats:         stats,
		RateLimitRemaining: sc.RateRemaining,
	})
}
