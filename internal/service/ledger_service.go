package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

// Notifier forwards operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// PositionArchiver receives terminal positions for cold storage.
type PositionArchiver interface {
	Add(ctx context.Context, pos domain.Position) error
}

// LedgerConfig wires the optional collaborators of a LedgerService. Nil
// stores, notifier or archiver are skipped.
type LedgerConfig struct {
	Opportunities domain.OpportunityStore
	Positions     domain.PositionStore
	Stats         domain.StatsStore
	Audit         domain.AuditStore
	Bus           domain.SignalBus
	Notifier      Notifier
	Archiver      PositionArchiver

	QueueSize        int
	SnapshotInterval time.Duration
}

type ledgerEvent struct {
	kind   string
	opps   []domain.Opportunity
	pos    domain.Position
	detail map[string]any
}

const (
	kindDetected    = "opportunities_detected"
	kindOppUpdated  = "opportunity_updated"
	kindPosition    = "position_updated"
	kindStats       = "stats_updated"
	kindAudit       = "audit"
	defaultLedgerQ  = 1024
	defaultSnapshot = time.Minute
)

// LedgerService is the engine's EventSink. Events are queued without
// blocking the caller and a single worker fans them out to the stores, the
// signal bus, the notifier and the archiver. Failures are logged, never
// returned to the engine.
type LedgerService struct {
	cfg    LedgerConfig
	queue  chan ledgerEvent
	logger *slog.Logger

	mu        sync.Mutex
	latest    domain.Stats
	saved     time.Time
	dropped   int64
	closeOnce sync.Once
	closed    chan struct{}
}

// NewLedgerService creates a LedgerService. Call Run to start the worker.
func NewLedgerService(cfg LedgerConfig, logger *slog.Logger) *LedgerService {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultLedgerQ
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = defaultSnapshot
	}
	return &LedgerService{
		cfg:    cfg,
		queue:  make(chan ledgerEvent, cfg.QueueSize),
		logger: logger.With(slog.String("component", "ledger")),
		closed: make(chan struct{}),
	}
}

func (s *LedgerService) OpportunitiesDetected(ctx context.Context, opps []domain.Opportunity) {
	if len(opps) == 0 {
		return
	}
	s.enqueue(ctx, ledgerEvent{kind: kindDetected, opps: opps})
}

func (s *LedgerService) OpportunityUpdated(ctx context.Context, opp domain.Opportunity) {
	s.enqueue(ctx, ledgerEvent{kind: kindOppUpdated, opps: []domain.Opportunity{opp}})
}

func (s *LedgerService) PositionUpdated(ctx context.Context, pos domain.Position) {
	s.enqueue(ctx, ledgerEvent{kind: kindPosition, pos: pos})
}

// StatsUpdated records st unless it is older than the latest snapshot seen.
// Snapshots from concurrent resolutions can arrive out of order, and the
// counters only grow, so a lower count marks a stale one.
func (s *LedgerService) StatsUpdated(ctx context.Context, st domain.Stats) {
	s.mu.Lock()
	if olderStats(st, s.latest) {
		s.mu.Unlock()
		return
	}
	s.latest = st
	s.mu.Unlock()
	s.enqueue(ctx, ledgerEvent{kind: kindStats})
}

func olderStats(st, latest domain.Stats) bool {
	return st.TotalOpportunities < latest.TotalOpportunities ||
		st.Executed < latest.Executed
}

// Latest returns the newest stats snapshot received.
func (s *LedgerService) Latest() domain.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

func (s *LedgerService) Audit(ctx context.Context, event string, detail map[string]any) {
	s.enqueue(ctx, ledgerEvent{kind: kindAudit, detail: withEvent(event, detail)})
}

// Dropped returns how many events were discarded because the queue was full.
func (s *LedgerService) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *LedgerService) enqueue(ctx context.Context, ev ledgerEvent) {
	select {
	case <-s.closed:
		return
	default:
	}
	select {
	case s.queue <- ev:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.logger.WarnContext(ctx, "ledger queue full, event dropped",
			slog.String("kind", ev.kind),
		)
	}
}

// Run processes events until ctx is cancelled, then drains what is already
// queued and writes a final stats snapshot.
func (s *LedgerService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeOnce.Do(func() { close(s.closed) })
			s.drain()
			return nil
		case ev := <-s.queue:
			s.handle(ctx, ev)
		case <-ticker.C:
			s.snapshot(ctx)
		}
	}
}

func (s *LedgerService) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-s.queue:
			s.handle(ctx, ev)
		default:
			s.snapshot(ctx)
			return
		}
	}
}

func (s *LedgerService) handle(ctx context.Context, ev ledgerEvent) {
	switch ev.kind {
	case kindDetected:
		if s.cfg.Opportunities != nil {
			for _, o := range ev.opps {
				if err := s.cfg.Opportunities.Insert(ctx, o); err != nil {
					s.warn(ctx, "insert opportunity failed", err, slog.String("opportunity_id", o.ID))
				}
			}
		}
		s.publish(ctx, domain.ChannelOpportunities, map[string]any{
			"event":         ev.kind,
			"opportunities": ev.opps,
		})

	case kindOppUpdated:
		o := ev.opps[0]
		if s.cfg.Opportunities != nil {
			if err := s.cfg.Opportunities.UpdateStatus(ctx, o.ID, o.Status); err != nil {
				s.warn(ctx, "update opportunity failed", err, slog.String("opportunity_id", o.ID))
			}
		}
		s.publish(ctx, domain.ChannelOpportunities, map[string]any{
			"event":       ev.kind,
			"opportunity": o,
		})

	case kindPosition:
		s.handlePosition(ctx, ev.pos)

	case kindStats:
		s.publish(ctx, domain.ChannelStats, map[string]any{
			"event": ev.kind,
			"stats": s.Latest(),
		})

	case kindAudit:
		s.handleAudit(ctx, ev.detail)
	}
}

func (s *LedgerService) handlePosition(ctx context.Context, pos domain.Position) {
	s.publish(ctx, domain.ChannelPositions, map[string]any{
		"event":    "position_updated",
		"position": pos,
	})
	if !pos.Status.Terminal() {
		return
	}

	if s.cfg.Positions != nil {
		if err := s.cfg.Positions.Insert(ctx, pos); err != nil {
			s.warn(ctx, "insert position failed", err, slog.String("position_id", pos.ID))
		}
	}
	if s.cfg.Bus != nil {
		if payload, err := json.Marshal(pos); err == nil {
			if err := s.cfg.Bus.StreamAppend(ctx, domain.StreamPositions, payload); err != nil {
				s.warn(ctx, "stream append failed", err, slog.String("position_id", pos.ID))
			}
		}
	}
	if s.cfg.Archiver != nil {
		if err := s.cfg.Archiver.Add(ctx, pos); err != nil {
			s.warn(ctx, "archive position failed", err, slog.String("position_id", pos.ID))
		}
	}

	event, title, msg := DescribePosition(pos)
	s.notify(ctx, event, title, msg)

	s.logger.InfoContext(ctx, "position recorded",
		slog.String("position_id", pos.ID),
		slog.String("status", string(pos.Status)),
		slog.Bool("success", pos.Success),
		slog.String("net_profit", pos.NetProfit.String()),
	)
}

func (s *LedgerService) handleAudit(ctx context.Context, detail map[string]any) {
	event, _ := detail["event"].(string)
	if s.cfg.Audit != nil {
		if err := s.cfg.Audit.Log(ctx, event, detail); err != nil {
			s.warn(ctx, "audit log failed", err, slog.String("event", event))
		}
	}
	s.publish(ctx, domain.ChannelStatus, detail)

	title, msg := DescribeAudit(event, detail)
	s.notify(ctx, event, title, msg)
}

func (s *LedgerService) snapshot(ctx context.Context) {
	if s.cfg.Stats == nil {
		return
	}
	s.mu.Lock()
	st := s.latest
	changed := !st.LastUpdate.IsZero() && !st.LastUpdate.Equal(s.saved)
	s.mu.Unlock()
	if !changed {
		return
	}

	if err := s.cfg.Stats.InsertSnapshot(ctx, st); err != nil {
		s.warn(ctx, "stats snapshot failed", err)
		return
	}
	s.mu.Lock()
	s.saved = st.LastUpdate
	s.mu.Unlock()
}

func (s *LedgerService) publish(ctx context.Context, channel string, v any) {
	if s.cfg.Bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		s.warn(ctx, "marshal event failed", err, slog.String("channel", channel))
		return
	}
	if err := s.cfg.Bus.Publish(ctx, channel, payload); err != nil {
		s.warn(ctx, "publish failed", err, slog.String("channel", channel))
	}
}

func (s *LedgerService) notify(ctx context.Context, event, title, msg string) {
	if s.cfg.Notifier == nil {
		return
	}
	if err := s.cfg.Notifier.Notify(ctx, event, title, msg); err != nil {
		s.warn(ctx, "notify failed", err, slog.String("event", event))
	}
}

func (s *LedgerService) warn(ctx context.Context, msg string, err error, attrs ...any) {
	s.logger.WarnContext(ctx, msg, append(attrs, slog.String("error", err.Error()))...)
}

func withEvent(event string, detail map[string]any) map[string]any {
	out := make(map[string]any, len(detail)+2)
	for k, v := range detail {
		out[k] = v
	}
	out["event"] = event
	if _, ok := out["timestamp"]; !ok {
		out["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return out
}

// DescribePosition renders the notification for a terminal position.
func DescribePosition(pos domain.Position) (event, title, message string) {
	mode := "demo"
	if pos.IsLive {
		mode = "live"
	}
	switch {
	case pos.Status == domain.PositionFailed:
		event, title = "position_failed", "Sandwich failed"
	case pos.Success:
		event, title = "position_completed", "Sandwich completed"
	default:
		event, title = "position_completed", "Sandwich lost"
	}
	message = fmt.Sprintf("%s %s (%s)\nprofit %s, fee %s, net %s SOL",
		pos.Pair.Symbol, pos.ID, mode,
		pos.Profit.StringFixed(6), pos.Fee.StringFixed(6), pos.NetProfit.StringFixed(6))
	if pos.Error != "" {
		message += "\n" + pos.Error
	}
	return event, title, message
}

// DescribeAudit renders the notification for an administrative event.
func DescribeAudit(event string, detail map[string]any) (title, message string) {
	switch event {
	case "bot_started":
		title = "Bot started"
	case "bot_stopped":
		title = "Bot stopped"
	case "live_enabled":
		title = "Live trading enabled"
	case "live_disabled":
		title = "Live trading disabled"
	default:
		title = event
	}
	if w, ok := detail["wallet"].(string); ok && w != "" {
		message = "wallet " + w
	}
	return title, message
}

var _ domain.EventSink = (*LedgerService)(nil)
