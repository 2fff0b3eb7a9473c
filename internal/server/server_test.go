package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mevbot/internal/cache/memory"
	"github.com/alanyoungcy/mevbot/internal/domain"
	"github.com/alanyoungcy/mevbot/internal/engine"
	"github.com/alanyoungcy/mevbot/internal/server/handler"
)

type fakeBot struct {
	cfg       domain.TradingConfig
	running   bool
	wallet    string
	positions []domain.Position
}

func newFakeBot() *fakeBot {
	return &fakeBot{cfg: domain.DefaultTradingConfig()}
}

func (b *fakeBot) Start(context.Context) { b.running = true }
func (b *fakeBot) Stop()                 { b.running = false }
func (b *fakeBot) Status() engine.Status {
	return engine.Status{Running: b.running, LiveMode: b.cfg.LiveMode, Wallet: b.wallet, Preset: b.cfg.Preset}
}
func (b *fakeBot) Config() domain.TradingConfig { return b.cfg.Clone() }
func (b *fakeBot) UpdateConfig(_ context.Context, p domain.ConfigPatch) (domain.TradingConfig, error) {
	next := b.cfg.Apply(p)
	if err := next.Validate(); err != nil {
		return b.cfg, fmt.Errorf("engine: config_updated: %w", err)
	}
	b.cfg = next
	return next, nil
}
func (b *fakeBot) ApplyPreset(_ context.Context, name string) (domain.TradingConfig, error) {
	next, err := b.cfg.ApplyPreset(name)
	if err != nil {
		return b.cfg, err
	}
	b.cfg = next
	return next, nil
}
func (b *fakeBot) EnableLiveTrading(_ context.Context, addr string) error {
	if addr == "" {
		return domain.ErrWalletNotConnected
	}
	b.wallet, b.cfg.LiveMode = addr, true
	return nil
}
func (b *fakeBot) DisableLiveTrading(context.Context) { b.cfg.LiveMode = false }
func (b *fakeBot) DisconnectWallet(ctx context.Context) {
	b.DisableLiveTrading(ctx)
	b.wallet = ""
}
func (b *fakeBot) Wallet() string                          { return b.wallet }
func (b *fakeBot) Opportunities(int) []domain.Opportunity { return nil }
func (b *fakeBot) Positions(int) []domain.Position        { return b.positions }
func (b *fakeBot) Position(id string) (domain.Position, error) {
	for _, p := range b.positions {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Position{}, fmt.Errorf("engine: position %s: %w", id, domain.ErrNotFound)
}
func (b *fakeBot) Stats() domain.Stats         { return domain.Stats{Executed: 3} }
func (b *fakeBot) Metrics() domain.ScanMetrics { return domain.ScanMetrics{Scans: 7} }

type fakeWallet struct {
	acct      domain.Account
	connected bool
}

func (w *fakeWallet) Connect(context.Context) (domain.Account, error) {
	w.connected = true
	return w.acct, nil
}
func (w *fakeWallet) Disconnect() error { w.connected = false; return nil }
func (w *fakeWallet) Connected() (domain.Account, bool) {
	return w.acct, w.connected
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T, cfg Config, bot *fakeBot, wallet domain.WalletProvider, checks map[string]handler.Check) http.Handler {
	t.Helper()
	logger := testLogger()
	return NewHandler(cfg, Handlers{
		Health: handler.NewHealthHandler(checks, logger),
		Bot:    handler.NewBotHandler(bot, logger),
		Wallet: handler.NewWalletHandler(bot, wallet, logger),
	}, nil, memory.NewRateLimiter(), logger)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, Config{}, newFakeBot(), nil, map[string]handler.Check{
		"redis": func(context.Context) error { return nil },
	})
	rec := do(t, h, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])

	h = newTestHandler(t, Config{}, newFakeBot(), nil, map[string]handler.Check{
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	})
	rec = do(t, h, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestStartStop(t *testing.T) {
	bot := newFakeBot()
	h := newTestHandler(t, Config{}, bot, nil, nil)

	rec := do(t, h, http.MethodPost, "/api/bot/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[engine.Status](t, rec).Running)

	rec = do(t, h, http.MethodPost, "/api/bot/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, bot.running)
}

func TestUpdateConfig(t *testing.T) {
	bot := newFakeBot()
	h := newTestHandler(t, Config{}, bot, nil, nil)

	rec := do(t, h, http.MethodPut, "/api/config", `{"capital":"250","max_concurrent_positions":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, bot.cfg.Capital.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, 3, bot.cfg.MaxConcurrentPositions)

	rec = do(t, h, http.MethodPut, "/api/config", `{"capital":"-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, bot.cfg.Capital.Equal(decimal.NewFromInt(250)), "rejected patch must not apply")

	rec = do(t, h, http.MethodPut, "/api/config", `{"live_mode":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, bot.cfg.LiveMode)
}

func TestApplyPreset(t *testing.T) {
	bot := newFakeBot()
	h := newTestHandler(t, Config{}, bot, nil, nil)

	rec := do(t, h, http.MethodPost, "/api/config/preset", `{"preset":"aggressive"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PresetAggressive, bot.cfg.Preset)

	rec = do(t, h, http.MethodPost, "/api/config/preset", `{"preset":"yolo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPositions(t *testing.T) {
	bot := newFakeBot()
	bot.positions = []domain.Position{
		{ID: "p2", Status: domain.PositionFrontRunSent},
		{ID: "p1", Status: domain.PositionCompleted},
	}
	h := newTestHandler(t, Config{}, bot, nil, nil)

	rec := do(t, h, http.MethodGet, "/api/positions?status=COMPLETED", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Positions []domain.Position `json:"positions"`
	}](t, rec)
	require.Len(t, body.Positions, 1)
	assert.Equal(t, "p1", body.Positions[0].ID)

	rec = do(t, h, http.MethodGet, "/api/positions/p2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p2", decode[domain.Position](t, rec).ID)

	rec = do(t, h, http.MethodGet, "/api/positions/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLiveTrading(t *testing.T) {
	bot := newFakeBot()
	wallet := &fakeWallet{acct: domain.Account{Address: "0xabc", ConnectedAt: time.Now()}}
	h := newTestHandler(t, Config{}, bot, wallet, nil)

	rec := do(t, h, http.MethodPost, "/api/live/enable", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, bot.cfg.LiveMode)

	rec = do(t, h, http.MethodPost, "/api/wallet/connect", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/live/enable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bot.cfg.LiveMode)
	assert.Equal(t, "0xabc", bot.wallet)

	rec = do(t, h, http.MethodPost, "/api/wallet/disconnect", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, bot.cfg.LiveMode)
	assert.False(t, wallet.connected)
}

func TestAuth(t *testing.T) {
	h := newTestHandler(t, Config{APIKey: "secret"}, newFakeBot(), nil, nil)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/stats", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decode[domain.Stats](t, rec).Executed)
}

func TestRateLimit(t *testing.T) {
	h := newTestHandler(t, Config{RateLimit: 2, RateLimitWindow: time.Minute}, newFakeBot(), nil, nil)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/metrics", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/metrics", "").Code)
	rec := do(t, h, http.MethodGet, "/api/metrics", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

type ledgerStores struct {
	positions []domain.Position
	audit     []domain.AuditEntry
	stats     *domain.Stats
	lastOpts  domain.ListOpts
}

func (s *ledgerStores) Insert(context.Context, domain.Position) error { return nil }
func (s *ledgerStores) GetByID(context.Context, string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}
func (s *ledgerStores) ListHistory(_ context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	s.lastOpts = opts
	return s.positions, nil
}
func (s *ledgerStores) ListBefore(context.Context, time.Time) ([]domain.Position, error) {
	return nil, nil
}
func (s *ledgerStores) Log(context.Context, string, map[string]any) error { return nil }
func (s *ledgerStores) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.audit, nil
}
func (s *ledgerStores) InsertSnapshot(context.Context, domain.Stats) error { return nil }
func (s *ledgerStores) Latest(context.Context) (domain.Stats, error) {
	if s.stats == nil {
		return domain.Stats{}, fmt.Errorf("postgres: latest stats: %w", domain.ErrNotFound)
	}
	return *s.stats, nil
}

func TestLedgerRoutes(t *testing.T) {
	logger := testLogger()
	stores := &ledgerStores{
		positions: []domain.Position{{ID: "pos_1", Status: domain.PositionCompleted}},
		audit:     []domain.AuditEntry{{ID: 1, Event: "bot_started"}},
	}
	bot := newFakeBot()
	h := NewHandler(Config{}, Handlers{
		Health: handler.NewHealthHandler(nil, logger),
		Bot:    handler.NewBotHandler(bot, logger),
		Wallet: handler.NewWalletHandler(bot, nil, logger),
		Ledger: handler.NewLedgerHandler(stores, stores, stores, logger),
	}, nil, nil, logger)

	rec := do(t, h, http.MethodGet, "/api/history/positions?limit=10&offset=20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pos_1")
	assert.Equal(t, 10, stores.lastOpts.Limit)
	assert.Equal(t, 20, stores.lastOpts.Offset)

	rec = do(t, h, http.MethodGet, "/api/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bot_started")

	rec = do(t, h, http.MethodGet, "/api/history/stats", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	stores.stats = &domain.Stats{Executed: 4, NetProfit: decimal.RequireFromString("0.02")}
	rec = do(t, h, http.MethodGet, "/api/history/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 4, decode[map[string]any](t, rec)["executed_sandwiches"])
}
