package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/mevbot/internal/domain"
	"github.com/alanyoungcy/mevbot/internal/engine"
)

// Bot is the part of the engine the HTTP API drives.
type Bot interface {
	Start(ctx context.Context)
	Stop()
	Status() engine.Status
	Config() domain.TradingConfig
	UpdateConfig(ctx context.Context, patch domain.ConfigPatch) (domain.TradingConfig, error)
	ApplyPreset(ctx context.Context, name string) (domain.TradingConfig, error)
	EnableLiveTrading(ctx context.Context, address string) error
	DisableLiveTrading(ctx context.Context)
	DisconnectWallet(ctx context.Context)
	Wallet() string
	Opportunities(limit int) []domain.Opportunity
	Positions(limit int) []domain.Position
	Position(id string) (domain.Position, error)
	Stats() domain.Stats
	Metrics() domain.ScanMetrics
}

// BotHandler serves lifecycle, configuration and read endpoints.
type BotHandler struct {
	bot    Bot
	logger *slog.Logger
}

func NewBotHandler(bot Bot, logger *slog.Logger) *BotHandler {
	return &BotHandler{bot: bot, logger: logger}
}

// GetStatus GET /api/status
func (h *BotHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bot.Status())
}

// Start POST /api/bot/start
func (h *BotHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.bot.Start(r.Context())
	writeJSON(w, http.StatusOK, h.bot.Status())
}

// Stop POST /api/bot/stop
func (h *BotHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.bot.Stop()
	writeJSON(w, http.StatusOK, h.bot.Status())
}

type opportunitiesResponse struct {
	Opportunities []domain.Opportunity `json:"opportunities"`
}

// ListOpportunities GET /api/opportunities?limit=
func (h *BotHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	opps := h.bot.Opportunities(parseLimit(r, 15, 100))
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, opportunitiesResponse{Opportunities: opps})
}

type positionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions GET /api/positions?limit=&status=
func (h *BotHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 500)
	status := domain.PositionStatus(r.URL.Query().Get("status"))

	out := []domain.Position{}
	for _, p := range h.bot.Positions(0) {
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, positionsResponse{Positions: out})
}

// GetPosition GET /api/positions/{id}
func (h *BotHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	p, err := h.bot.Position(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetStats GET /api/stats
func (h *BotHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bot.Stats())
}

// GetMetrics GET /api/metrics
func (h *BotHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bot.Metrics())
}

// GetConfig GET /api/config
func (h *BotHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bot.Config())
}

// UpdateConfig PUT /api/config with a partial config body.
func (h *BotHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch domain.ConfigPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := h.bot.UpdateConfig(r.Context(), patch)
	if err != nil {
		h.logger.WarnContext(r.Context(), "config update rejected", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type presetRequest struct {
	Preset string `json:"preset"`
}

// ApplyPreset POST /api/config/preset {"preset":"AGGRESSIVE"}
func (h *BotHandler) ApplyPreset(w http.ResponseWriter, r *http.Request) {
	var req presetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := h.bot.ApplyPreset(r.Context(), req.Preset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
