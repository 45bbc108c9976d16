package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/algorand-firewall-service/internal/service"
)

type WalletRiskHandler struct {
	service *service.SecurityService
}

func NewWalletRiskHandler(svc *service.SecurityService) *WalletRiskHandler {
	return &WalletRiskHandler{service: svc}
}

func (h *WalletRiskHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.WalletRisk(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		service.RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, profile)
}
