package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// StatsFunc reports runtime counters included in the health response.
type StatsFunc func() any

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	mode      string
	startedAt time.Time
	stats     StatsFunc
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. stats may be nil when this process
// does not index.
func NewHealthHandler(mode string, stats StatsFunc, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:      mode,
		startedAt: time.Now().UTC(),
		stats:     stats,
		logger:    logger,
	}
}

// HealthCheck responds with a JSON status indicating the server is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if h.stats != nil {
		resp["stats"] = h.stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
