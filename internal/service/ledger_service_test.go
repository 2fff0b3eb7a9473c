package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mevbot/internal/cache/memory"
	"github.com/alanyoungcy/mevbot/internal/domain"
)

type fakeStores struct {
	mu        sync.Mutex
	opps      []domain.Opportunity
	statuses  map[string]domain.OpportunityStatus
	positions []domain.Position
	snapshots []domain.Stats
	audits    []string
	alerts    []string
	archived  []string
}

func newFakeStores() *fakeStores {
	return &fakeStores{statuses: map[string]domain.OpportunityStatus{}}
}

type oppStore struct{ *fakeStores }

func (s oppStore) Insert(_ context.Context, o domain.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opps = append(s.opps, o)
	return nil
}

func (s oppStore) UpdateStatus(_ context.Context, id string, st domain.OpportunityStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = st
	return nil
}

func (s oppStore) ListRecent(context.Context, int) ([]domain.Opportunity, error) { return nil, nil }

type posStore struct{ *fakeStores }

func (s posStore) Insert(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = append(s.positions, p)
	return nil
}

func (s posStore) GetByID(context.Context, string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}

func (s posStore) ListHistory(context.Context, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

func (s posStore) ListBefore(context.Context, time.Time) ([]domain.Position, error) { return nil, nil }

type statsStore struct{ *fakeStores }

func (s statsStore) InsertSnapshot(_ context.Context, st domain.Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, st)
	return nil
}

func (s statsStore) Latest(context.Context) (domain.Stats, error) { return domain.Stats{}, nil }

type auditStore struct{ *fakeStores }

func (s auditStore) Log(_ context.Context, event string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, event)
	return nil
}

func (s auditStore) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (s *fakeStores) Notify(_ context.Context, event, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, event)
	return nil
}

func (s *fakeStores) Add(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archived = append(s.archived, p.ID)
	return nil
}

func (s *fakeStores) count(f func() int) func() bool {
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return f() > 0
	}
}

func newLedger(t *testing.T, fs *fakeStores, bus domain.SignalBus) (*LedgerService, context.CancelFunc, chan struct{}) {
	t.Helper()
	svc := NewLedgerService(LedgerConfig{
		Opportunities: oppStore{fs},
		Positions:     posStore{fs},
		Stats:         statsStore{fs},
		Audit:         auditStore{fs},
		Bus:           bus,
		Notifier:      fs,
		Archiver:      fs,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx)
	}()
	return svc, cancel, done
}

func terminalPosition(id string, success bool) domain.Position {
	return domain.Position{
		ID:        id,
		Pair:      domain.Pair{Base: "SOL", Quote: "USDC", Symbol: "SOL/USDC"},
		Status:    domain.PositionCompleted,
		Success:   success,
		Profit:    decimal.RequireFromString("0.01"),
		Fee:       decimal.RequireFromString("0.0001"),
		NetProfit: decimal.RequireFromString("0.0099"),
	}
}

func TestLedgerRecordsTerminalPositions(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStores()
	bus := memory.NewBus(0)
	svc, cancel, done := newLedger(t, fs, bus)
	defer func() { cancel(); <-done }()

	open := terminalPosition("pos_1", false)
	open.Status = domain.PositionFrontRunSent
	svc.PositionUpdated(ctx, open)
	svc.PositionUpdated(ctx, terminalPosition("pos_1", true))

	require.Eventually(t, fs.count(func() int { return len(fs.alerts) }), time.Second, 5*time.Millisecond)

	fs.mu.Lock()
	require.Len(t, fs.positions, 1)
	assert.Equal(t, domain.PositionCompleted, fs.positions[0].Status)
	assert.Equal(t, []string{"position_completed"}, fs.alerts)
	fs.mu.Unlock()

	msgs, err := bus.StreamRead(ctx, domain.StreamPositions, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var got domain.Position
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &got))
	assert.Equal(t, "pos_1", got.ID)
}

func TestLedgerOpportunitiesAndAudit(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStores()
	bus := memory.NewBus(0)

	subCtx, stopSub := context.WithCancel(ctx)
	defer stopSub()
	status, err := bus.Subscribe(subCtx, domain.ChannelStatus)
	require.NoError(t, err)

	svc, cancel, done := newLedger(t, fs, bus)
	defer func() { cancel(); <-done }()

	opp := domain.Opportunity{ID: "opp_1", Status: domain.OpportunityDetected}
	svc.OpportunitiesDetected(ctx, []domain.Opportunity{opp})
	svc.OpportunityUpdated(ctx, opp.WithStatus(domain.OpportunityExecuting))
	svc.Audit(ctx, "live_enabled", map[string]any{"wallet": "0xabc"})

	require.Eventually(t, fs.count(func() int { return len(fs.alerts) }), time.Second, 5*time.Millisecond)

	fs.mu.Lock()
	assert.Len(t, fs.opps, 1)
	assert.Equal(t, domain.OpportunityExecuting, fs.statuses["opp_1"])
	assert.Equal(t, []string{"live_enabled"}, fs.audits)
	assert.Equal(t, []string{"live_enabled"}, fs.alerts)
	fs.mu.Unlock()

	select {
	case evt := <-status:
		var m map[string]any
		require.NoError(t, json.Unmarshal(evt, &m))
		assert.Equal(t, "live_enabled", m["event"])
		assert.Equal(t, "0xabc", m["wallet"])
	case <-time.After(time.Second):
		t.Fatal("no status event")
	}
}

func TestLedgerSnapshotsStatsOnShutdown(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStores()
	svc, cancel, done := newLedger(t, fs, memory.NewBus(0))

	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	svc.StatsUpdated(ctx, domain.Stats{Executed: 3, LastUpdate: at})
	cancel()
	<-done

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(t, fs.snapshots, 1)
	assert.Equal(t, int64(3), fs.snapshots[0].Executed)
}

func TestLedgerIgnoresOutOfOrderStats(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStores()
	bus := memory.NewBus(0)
	subCtx, stopSub := context.WithCancel(ctx)
	defer stopSub()
	frames, err := bus.Subscribe(subCtx, domain.ChannelStats)
	require.NoError(t, err)

	svc, cancel, done := newLedger(t, fs, bus)

	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	newer := domain.Stats{TotalOpportunities: 9, Executed: 4, LastUpdate: at.Add(time.Second)}
	older := domain.Stats{TotalOpportunities: 9, Executed: 3, LastUpdate: at}
	svc.StatsUpdated(ctx, newer)
	svc.StatsUpdated(ctx, older)
	assert.Equal(t, int64(4), svc.Latest().Executed)

	select {
	case evt := <-frames:
		var m struct {
			Stats domain.Stats `json:"stats"`
		}
		require.NoError(t, json.Unmarshal(evt, &m))
		assert.Equal(t, int64(4), m.Stats.Executed)
	case <-time.After(time.Second):
		t.Fatal("no stats frame")
	}

	cancel()
	<-done

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(t, fs.snapshots, 1)
	assert.Equal(t, int64(4), fs.snapshots[0].Executed)
}

func TestLedgerDropsWhenQueueFull(t *testing.T) {
	svc := NewLedgerService(LedgerConfig{QueueSize: 1}, testLogger())
	ctx := context.Background()

	svc.PositionUpdated(ctx, terminalPosition("a", true))
	svc.PositionUpdated(ctx, terminalPosition("b", true))

	assert.Equal(t, int64(1), svc.Dropped())
}

func TestDescribePosition(t *testing.T) {
	event, title, msg := DescribePosition(terminalPosition("pos_9", true))
	assert.Equal(t, "position_completed", event)
	assert.Equal(t, "Sandwich completed", title)
	assert.Contains(t, msg, "SOL/USDC pos_9 (demo)")
	assert.Contains(t, msg, "net 0.009900 SOL")

	failed := terminalPosition("pos_f", false)
	failed.Status = domain.PositionFailed
	failed.Error = "boom"
	event, _, msg = DescribePosition(failed)
	assert.Equal(t, "position_failed", event)
	assert.Contains(t, msg, "boom")
}
