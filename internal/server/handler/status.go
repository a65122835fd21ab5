package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/polygraph/internal/pipeline"
)

// PollerStatus exposes the running poller's counters.
type PollerStatus interface {
	Stats() pipeline.Stats
}

// StatusHandler serves the process status: run mode, uptime and, when a
// poller runs in this process, its counters.
type StatusHandler struct {
	mode      string
	poller    PollerStatus
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler. poller may be nil in server-only
// mode.
func NewStatusHandler(mode string, poller PollerStatus, startedAt time.Time) *StatusHandler {
	return &StatusHandler{mode: mode, poller: poller, startedAt: startedAt}
}

// GetStatus responds with the current mode and poller statistics.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.poller != nil {
		resp["poller"] = h.poller.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
