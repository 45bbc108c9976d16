package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/algorand-firewall-service/internal/service"
)

type IssueKeyHandler struct {
	service *service.KeyService
}

func NewIssueKeyHandler(svc *service.KeyService) *IssueKeyHandler {
	return &IssueKeyHandler{service: svc}
}

type IssueKeyRequest struct {
	WalletAddress string `json:"wallet_address"`
	Tier          string `json:"tier"`
}

// IssueKeyResponse carries the raw key. It appears here once; only the hash
// is stored.
type IssueKeyResponse struct {
	APIKey        string    `json:"api_key"`
	KeyID         string    `json:"key_id"`
	KeyPrefix     string    `json:"key_prefix"`
	WalletAddress string    `json:"wallet_address"`
	Tier          string    `json:"tier"`
	Status        string    `json:"status"`
	Rotated       bool      `json:"rotated"`
	CreatedAt     time.Time `json:"created_at"`
}

func (h *IssueKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req IssueKeyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if req.WalletAddress == "" {
		RespondError(w, http.StatusBadRequest, "invalid_request", "wallet_address is required")
		return
	}

	issued, err := h.service.Issue(r.Context(), service.IssueKeyInput{
		WalletAddress: req.WalletAddress,
		Tier:          req.Tier,
	})
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusCreated, IssueKeyResponse{
		APIKey:        issued.RawKey,
		KeyID:         issued.Record.ID.String(),
		KeyPrefix:     issued.Record.KeyPrefix,
		WalletAddress: issued.Record.Wallet,
		Tier:          string(issued.Record.Tier),
		Status:        string(issued.Record.Status),
		Rotated:       issued.Rotated,
		CreatedAt:     issued.Record.CreatedAt,
	})
}

type WalletKeyHandler struct {
	service *service.KeyService
}

func NewWalletKeyHandler(svc *service.KeyService) *WalletKeyHandler {
	return &WalletKeyHandler{service: svc}
}

func (h *WalletKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.WalletKey(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		service.RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, record)
}
