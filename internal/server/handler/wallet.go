package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

// WalletHandler connects the signing wallet and toggles live trading.
type WalletHandler struct {
	bot    Bot
	wallet domain.WalletProvider
	logger *slog.Logger
}

// NewWalletHandler creates a WalletHandler. wallet may be nil, in which case
// live trading can only be enabled with an explicit address.
func NewWalletHandler(bot Bot, wallet domain.WalletProvider, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{bot: bot, wallet: wallet, logger: logger}
}

type walletResponse struct {
	Connected bool            `json:"connected"`
	Account   *domain.Account `json:"account,omitempty"`
	LiveMode  bool            `json:"live_mode"`
	Address   string          `json:"address,omitempty"`
}

func (h *WalletHandler) state() walletResponse {
	resp := walletResponse{
		LiveMode: h.bot.Config().LiveMode,
		Address:  h.bot.Wallet(),
	}
	if h.wallet != nil {
		if acct, ok := h.wallet.Connected(); ok {
			resp.Connected = true
			resp.Account = &acct
		}
	}
	return resp
}

// GetWallet GET /api/wallet
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state())
}

// Connect POST /api/wallet/connect
func (h *WalletHandler) Connect(w http.ResponseWriter, r *http.Request) {
	if h.wallet == nil {
		writeError(w, http.StatusNotImplemented, "no wallet provider configured")
		return
	}
	if _, err := h.wallet.Connect(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "wallet connect failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.state())
}

// Disconnect POST /api/wallet/disconnect. Live trading is turned off.
func (h *WalletHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.bot.DisconnectWallet(r.Context())
	if h.wallet != nil {
		if err := h.wallet.Disconnect(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, h.state())
}

type enableLiveRequest struct {
	Wallet string `json:"wallet"`
}

// EnableLive POST /api/live/enable {"wallet":"..."}. Without a wallet in the
// body the connected account is used.
func (h *WalletHandler) EnableLive(w http.ResponseWriter, r *http.Request) {
	var req enableLiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	address := req.Wallet
	if address == "" && h.wallet != nil {
		if acct, ok := h.wallet.Connected(); ok {
			address = acct.Address
		}
	}
	if err := h.bot.EnableLiveTrading(r.Context(), address); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.state())
}

// DisableLive POST /api/live/disable
func (h *WalletHandler) DisableLive(w http.ResponseWriter, r *http.Request) {
	h.bot.DisableLiveTrading(r.Context())
	writeJSON(w, http.StatusOK, h.state())
}
