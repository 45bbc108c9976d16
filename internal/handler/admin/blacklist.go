package admin

import (
	"encoding/json"
	"net/http"

	"github.com/algorand-firewall-service/internal/handler"
	"github.com/algorand-firewall-service/internal/service"
)

// --- Address Blacklist ---

type SetAddressBlacklistHandler struct {
	svc *service.SecurityService
}

func NewSetAddressBlacklistHandler(svc *service.SecurityService) *SetAddressBlacklistHandler {
	return &SetAddressBlacklistHandler{svc: svc}
}

type setAddressBlacklistRequest struct {
	Addresses []string `json:"addresses"`
}

type addressBlacklistResponse struct {
	Addresses []string `json:"addresses"`
	Count     int      `json:"count"`
}

// ServeHTTP replaces the blacklisted-address set with the submitted list.
func (h *SetAddressBlacklistHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req setAddressBlacklistRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if err := h.svc.SetAddressBlacklist(r.Context(), req.Addresses); err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, addressBlacklistResponse{
		Addresses: req.Addresses,
		Count:     len(req.Addresses),
	})
}

type GetAddressBlacklistHandler struct {
	svc *service.SecurityService
}

func NewGetAddressBlacklistHandler(svc *service.SecurityService) *GetAddressBlacklistHandler {
	return &GetAddressBlacklistHandler{svc: svc}
}

func (h *GetAddressBlacklistHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	addrs, err := h.svc.AddressBlacklist(r.Context())
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, addressBlacklistResponse{
		Addresses: addrs,
		Count:     len(addrs),
	})
}

// --- Contract Blacklist ---

type SetContractBlacklistHandler struct {
	svc *service.SecurityService
}

func NewSetContractBlacklistHandler(svc *service.SecurityService) *SetContractBlacklistHandler {
	return &SetContractBlacklistHandler{svc: svc}
}

type setContractBlacklistRequest struct {
	AppIDs []uint64 `json:"app_ids"`
}

type contractBlacklistResponse struct {
	AppIDs []uint64 `json:"app_ids"`
	Count  int      `json:"count"`
}

// ServeHTTP replaces the blacklisted-contract set with the submitted list.
func (h *SetContractBlacklistHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req setContractBlacklistRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if err := h.svc.SetContractBlacklist(r.Context(), req.AppIDs); err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, contractBlacklistResponse{
		AppIDs: req.AppIDs,
		Count:  len(req.AppIDs),
	})
}

type GetContractBlacklistHandler struct {
	svc *service.SecurityService
}

func NewGetContractBlacklistHandler(svc *service.SecurityService) *GetContractBlacklistHandler {
	return &GetContractBlacklistHandler{svc: svc}
}

func (h *GetContractBlacklistHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	appIDs, err := h.svc.ContractBlacklist(r.Context())
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, contractBlacklistResponse{
		AppIDs: appIDs,
		Count:  len(appIDs),
	})
}
