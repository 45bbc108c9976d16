package handler

import (
	"encoding/json"
	"net/http"

	"github.com/algorand-firewall-service/internal/middleware"
	"github.com/algorand-firewall-service/internal/model"
	"github.com/algorand-firewall-service/internal/service"
)

type ValidateTransactionHandler struct {
	service *service.SecurityService
}

func NewValidateTransactionHandler(svc *service.SecurityService) *ValidateTransactionHandler {
	return &ValidateTransactionHandler{service: svc}
}

type ValidateTransactionRequest struct {
	WalletAddress string                    `json:"wallet_address"`
	Transaction   *model.TransactionPayload `json:"transaction"`
}

type ValidateTransactionResponse struct {
	Report *model.ValidationReport `json:"report"`
	Alerts []model.ThreatAlert     `json:"alerts"`
}

// ServeHTTP reports on the submitted transaction without blocking it; the
// verdict is the caller's to act on.
func (h *ValidateTransactionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sc := middleware.GetSecurityContext(r.Context())
	if sc == nil {
		RespondError(w, http.StatusUnauthorized, "invalid_api_key", "Missing API key")
		return
	}

	var req ValidateTransactionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if req.WalletAddress == "" {
		RespondError(w, http.StatusBadRequest, "invalid_request", "wallet_address is required")
		return
	}
	if req.Transaction == nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "transaction is required")
		return
	}

	result, err := h.service.ValidateTransaction(r.Context(), sc, service.ValidateTransactionInput{
		WalletAddress: req.WalletAddress,
		Transaction:   req.Transaction,
	})
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, ValidateTransactionResponse{
		Report: result.Report,
		Alerts: result.Alerts,
	})
}
