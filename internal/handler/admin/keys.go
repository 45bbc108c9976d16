package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/algorand-firewall-service/internal/handler"
	"github.com/algorand-firewall-service/internal/httputil"
	"github.com/algorand-firewall-service/internal/model"
	"github.com/algorand-firewall-service/internal/service"
)

// --- List API Keys ---

type ListAPIKeysHandler struct {
	svc *service.KeyService
}

func NewListAPIKeysHandler(svc *service.KeyService) *ListAPIKeysHandler {
	return &ListAPIKeysHandler{svc: svc}
}

type listAPIKeysResponse struct {
	APIKeys []*model.APIKey `json:"api_keys"`
	Total   int             `json:"total"`
	Page    int             `json:"page"`
	PerPage int             `json:"per_page"`
}

func (h *ListAPIKeysHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	page, perPage, err := httputil.ParsePagination(r.URL.Query().Get("page"), r.URL.Query().Get("per_page"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := h.svc.List(r.Context(), page, perPage)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, listAPIKeysResponse{
		APIKeys: result.Keys,
		Total:   result.Total,
		Page:    page,
		PerPage: perPage,
	})
}

// --- Get API Key ---

type GetAPIKeyHandler struct {
	svc *service.KeyService
}

func NewGetAPIKeyHandler(svc *service.KeyService) *GetAPIKeyHandler {
	return &GetAPIKeyHandler{svc: svc}
}

func (h *GetAPIKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid API key ID")
		return
	}

	record, err := h.svc.Get(r.Context(), id)
	if err != nil {
		service.RespondError(w, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, record)
}

// --- Suspend API Key ---

type SuspendAPIKeyHandler struct {
	svc *service.KeyService
}

func NewSuspendAPIKeyHandler(svc *service.KeyService) *SuspendAPIKeyHandler {
	return &SuspendAPIKeyHandler{svc: svc}
}

func (h *SuspendAPIKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid API key ID")
		return
	}

	if err := h.svc.Suspend(r.Context(), id); err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": string(model.StatusSuspended),
	})
}

// --- Reinstate API Key ---

type ReinstateAPIKeyHandler struct {
	svc *service.KeyService
}

func NewReinstateAPIKeyHandler(svc *service.KeyService) *ReinstateAPIKeyHandler {
	return &ReinstateAPIKeyHandler{svc: svc}
}

func (h *ReinstateAPIKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid API key ID")
		return
	}

	if err := h.svc.Reinstate(r.Context(), id); err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": string(model.StatusActive),
	})
}

// --- Revoke API Key ---

type RevokeAPIKeyHandler struct {
	svc *service.KeyService
}

func NewRevokeAPIKeyHandler(svc *service.KeyService) *RevokeAPIKeyHandler {
	return &RevokeAPIKeyHandler{svc: svc}
}

func (h *RevokeAPIKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid API key ID")
		return
	}

	if err := h.svc.Revoke(r.Context(), id); err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": string(model.StatusRevoked),
	})
}

// --- Set IP Allowlist ---

type SetAllowlistHandler struct {
	svc *service.KeyService
}

func NewSetAllowlistHandler(svc *service.KeyService) *SetAllowlistHandler {
	return &SetAllowlistHandler{svc: svc}
}

type setAllowlistRequest struct {
	IPAllowlist []string `json:"ip_allowlist"`
}

func (h *SetAllowlistHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid API key ID")
		return
	}

	var req setAllowlistRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if err := h.svc.SetAllowlist(r.Context(), id, req.IPAllowlist); err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"id":           id,
		"ip_allowlist": req.IPAllowlist,
	})
}
