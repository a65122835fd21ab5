package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

// AuditHandler lists audit entries written by archive runs and seeding.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

type auditEntryView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListEntries returns audit entries newest first.
// GET /api/audit?event=archive.signals&since=...&limit=50
func (h *AuditHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	var err error
	if opts.Since, err = parseTime(r, "since"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if opts.Until, err = parseTime(r, "until"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.audit.List(r.Context(), r.URL.Query().Get("event"), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit entries failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	views := make([]auditEntryView, len(entries))
	for i, e := range entries {
		views[i] = auditEntryView(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": views})
}
