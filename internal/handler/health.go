package handler

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/algorand-firewall-service/internal/archive"
	"github.com/algorand-firewall-service/internal/firewall"
	"github.com/algorand-firewall-service/internal/store"
)

const serviceVersion = "1.0.0"

type HealthHandler struct {
	kv        store.KV
	arch      archive.Archive
	keys      *firewall.KeyManager
	startTime time.Time
}

func NewHealthHandler(kv store.KV, arch archive.Archive, keys *firewall.KeyManager) *HealthHandler {
	return &HealthHandler{
		kv:        kv,
		arch:      arch,
		keys:      keys,
		startTime: time.Now(),
	}
}

type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Store         string `json:"store"`
	Archive       string `json:"archive"`
	TotalKeys     int    `json:"total_keys"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	storeStatus := "ok"
	if err := h.kv.Ping(r.Context()); err != nil {
		log.Error().Err(err).Msg("store ping failed")
		storeStatus = "unavailable"
		status = "degraded"
	}

	// The archive is optional; the firewall keeps enforcing without it.
	archiveStatus := "disabled"
	if h.arch != nil {
		archiveStatus = "ok"
		if err := h.arch.Ping(r.Context()); err != nil {
			log.Error().Err(err).Msg("archive ping failed")
			archiveStatus = "unavailable"
		}
	}

	total, err := h.keys.KeyCount(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to count API keys")
		total = 0
	}

	RespondJSON(w, http.StatusOK, HealthResponse{
		Status:        status,
		Version:       serviceVersion,
		Store:         storeStatus,
		Archive:       archiveStatus,
		TotalKeys:     total,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	})
}
