package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

// LedgerHandler serves the persisted history beyond the in-memory window.
type LedgerHandler struct {
	positions domain.PositionStore
	audit     domain.AuditStore
	stats     domain.StatsStore
	logger    *slog.Logger
}

func NewLedgerHandler(positions domain.PositionStore, audit domain.AuditStore, stats domain.StatsStore, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{positions: positions, audit: audit, stats: stats, logger: logger}
}

// ListPositionHistory GET /api/history/positions?limit=&offset=
func (h *LedgerHandler) ListPositionHistory(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.ListHistory(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list position history failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, positionsResponse{Positions: positions})
}

type auditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// ListAudit GET /api/audit?limit=&offset=
func (h *LedgerHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Entries: entries})
}

// LatestStats GET /api/history/stats
// Returns the newest persisted snapshot, which may predate the current run.
func (h *LedgerHandler) LatestStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.stats.Latest(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
