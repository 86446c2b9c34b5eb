// Package positions - Position Tracker
// Single owner of open positions, balance, cooldowns and aggregate stats
package positions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polygraalx/polygraalx/exec"
	"github.com/polygraalx/polygraalx/metrics"
	"github.com/polygraalx/polygraalx/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION TRACKER
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every balance movement and position transition goes through here. The
// gateways fill orders but never touch the ledger, so paper and live mode
// share the exact same accounting. Positions move OPEN → CLOSED once and
// closed positions are immutable history.
//
// All mutation happens on the engine's tick goroutine. The lock exists for
// readers on other goroutines (Telegram commands, status snapshots).
//
// ═══════════════════════════════════════════════════════════════════════════════

// Journal receives closed trades for persistence. The tracker never reads
// anything back; a nil journal is fine.
type Journal interface {
	SaveTrade(trade *types.TradeRecord) error
}

// Notifier receives position lifecycle events. A nil notifier is fine.
type Notifier interface {
	PositionOpened(p *types.Position)
	PositionClosed(p *types.Position)
}

// Config holds the tracker's risk knobs.
type Config struct {
	StartingBalance      decimal.Decimal
	BetAmount            decimal.Decimal
	MaxPositions         int
	Cooldown             time.Duration
	MinCloseBuffer       time.Duration
	MaxHold              time.Duration
	GatewayTimeout       time.Duration
	MaxConsecutiveLosses int
}

type Tracker struct {
	mu sync.RWMutex

	cfg     Config
	gateway exec.Gateway
	journal Journal
	notify  Notifier

	open      map[string]*types.Position // keyed by asset, one per asset
	lastTrade map[string]time.Time       // cooldown anchor per asset
	seq       int

	balance           decimal.Decimal
	totalPnL          decimal.Decimal
	trades            int
	wins              int
	losses            int
	consecutiveLosses int
	halted            bool
}

func NewTracker(cfg Config, gateway exec.Gateway, journal Journal, notify Notifier) *Tracker {
	return &Tracker{
		cfg:       cfg,
		gateway:   gateway,
		journal:   journal,
		notify:    notify,
		open:      make(map[string]*types.Position),
		lastTrade: make(map[string]time.Time),
		balance:   cfg.StartingBalance,
		totalPnL:  decimal.Zero,
	}
}

// SetNotifier attaches a lifecycle notifier after construction. The
// notifier usually needs the tracker as its stats source, so it cannot
// exist yet when the tracker is built.
func (t *Tracker) SetNotifier(n Notifier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notify = n
}

// OnSignal applies one signal to tracker state. Entry rejections (limits,
// cooldown, balance, venue) are logged no-ops; state only changes on a
// confirmed fill.
func (t *Tracker) OnSignal(ctx context.Context, sig types.Signal, market *types.Market) error {
	switch sig.Kind {
	case types.SignalEnterYes, types.SignalEnterNo:
		return t.enter(ctx, sig, market)
	case types.SignalExit:
		return t.exit(ctx, sig)
	default:
		return nil
	}
}

func (t *Tracker) enter(ctx context.Context, sig types.Signal, market *types.Market) error {
	side := sig.EntrySide()

	t.mu.RLock()
	reason := t.entryBlockReason(sig.Asset, time.Now().UTC())
	t.mu.RUnlock()
	if reason != "" {
		log.Debug().Str("asset", sig.Asset).Str("reason", reason).Msg("⏭️ Entry skipped")
		return nil
	}

	if market == nil || !market.Tradeable(time.Now().UTC(), t.cfg.MinCloseBuffer) {
		log.Debug().Str("asset", sig.Asset).Msg("⏭️ Entry skipped: no tradeable market")
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, t.cfg.GatewayTimeout)
	defer cancel()

	fill, err := t.gateway.Open(callCtx, sig.Asset, side, market.TokenID(side), t.cfg.BetAmount)
	if err != nil {
		metrics.OrdersTotal.WithLabelValues(sig.Asset, "open", "rejected").Inc()
		if errors.Is(err, exec.ErrRejected) {
			log.Warn().Err(err).Str("asset", sig.Asset).Msg("🚫 Entry rejected by venue")
			return nil
		}
		return fmt.Errorf("open order: %w", err)
	}
	metrics.OrdersTotal.WithLabelValues(sig.Asset, "open", "filled").Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Re-check limits under the write lock before committing the fill.
	if reason := t.entryBlockReason(sig.Asset, fill.Timestamp); reason != "" {
		log.Warn().Str("asset", sig.Asset).Str("reason", reason).Msg("⚠️ Fill arrived after limits changed, recording anyway")
	}

	t.seq++
	p := &types.Position{
		ID:           fmt.Sprintf("pos_%s_%04d", fill.Timestamp.Format("20060102150405"), t.seq),
		Asset:        sig.Asset,
		Side:         side,
		MarketID:     market.ID,
		TokenID:      market.TokenID(side),
		EntryPrice:   fill.AvgPrice,
		Shares:       fill.Shares,
		Cost:         fill.Notional,
		EntryZScore:  sig.ZScore,
		OpenedAt:     fill.Timestamp,
		MarketExpiry: market.EndTime,
		Status:       types.StatusOpen,
	}

	t.open[sig.Asset] = p
	t.lastTrade[sig.Asset] = fill.Timestamp
	t.balance = t.balance.Sub(fill.Notional)

	log.Info().
		Str("id", p.ID).
		Str("asset", p.Asset).
		Str("side", string(p.Side)).
		Str("z", sig.ZScore.StringFixed(2)).
		Str("price", p.EntryPrice.StringFixed(4)).
		Str("cost", p.Cost.StringFixed(2)).
		Str("balance", t.balance.StringFixed(2)).
		Msg("📈 Position opened")

	if t.notify != nil {
		t.notify.PositionOpened(p)
	}
	return nil
}

// entryBlockReason returns a non-empty reason when a new entry for asset
// must be skipped. Caller holds at least the read lock.
func (t *Tracker) entryBlockReason(asset string, now time.Time) string {
	if t.halted {
		return fmt.Sprintf("halted after %d consecutive losses", t.consecutiveLosses)
	}
	if _, exists := t.open[asset]; exists {
		return "position already open"
	}
	if len(t.open) >= t.cfg.MaxPositions {
		return fmt.Sprintf("max positions reached (%d)", t.cfg.MaxPositions)
	}
	if last, ok := t.lastTrade[asset]; ok && now.Sub(last) < t.cfg.Cooldown {
		return fmt.Sprintf("cooldown (%.0fs remaining)", (t.cfg.Cooldown - now.Sub(last)).Seconds())
	}
	if t.balance.LessThan(t.cfg.BetAmount) {
		return fmt.Sprintf("insufficient balance (%s < %s)", t.balance.StringFixed(2), t.cfg.BetAmount.StringFixed(2))
	}
	return ""
}

func (t *Tracker) exit(ctx context.Context, sig types.Signal) error {
	t.mu.RLock()
	p, exists := t.open[sig.Asset]
	t.mu.RUnlock()
	if !exists {
		return nil
	}
	return t.close(ctx, p, sig.Reason)
}

// ForceClosePass closes positions that must come off regardless of the
// z-score: market expiry approaching, or held past the maximum duration.
// Runs at the start of every tick, before signals.
func (t *Tracker) ForceClosePass(ctx context.Context, now time.Time) {
	t.mu.RLock()
	var forced []*types.Position
	var reasons []string
	for _, p := range t.open {
		switch {
		case p.MarketExpiry.Sub(now) < t.cfg.MinCloseBuffer:
			forced = append(forced, p)
			reasons = append(reasons, fmt.Sprintf("market expires in %.0fs", p.MarketExpiry.Sub(now).Seconds()))
		case now.Sub(p.OpenedAt) > t.cfg.MaxHold:
			forced = append(forced, p)
			reasons = append(reasons, fmt.Sprintf("held %.0fs, max %.0fs", now.Sub(p.OpenedAt).Seconds(), t.cfg.MaxHold.Seconds()))
		}
	}
	t.mu.RUnlock()

	for i, p := range forced {
		log.Info().Str("id", p.ID).Str("reason", reasons[i]).Msg("⏰ Forcing close")
		if err := t.close(ctx, p, reasons[i]); err != nil {
			log.Error().Err(err).Str("id", p.ID).Msg("Forced close failed, will retry next tick")
		}
	}
}

// CloseAll closes every open position, used at shutdown.
func (t *Tracker) CloseAll(ctx context.Context, reason string) {
	t.mu.RLock()
	var all []*types.Position
	for _, p := range t.open {
		all = append(all, p)
	}
	t.mu.RUnlock()

	for _, p := range all {
		if err := t.close(ctx, p, reason); err != nil {
			log.Error().Err(err).Str("id", p.ID).Msg("Close on shutdown failed")
		}
	}
}

func (t *Tracker) close(ctx context.Context, p *types.Position, reason string) error {
	callCtx, cancel := context.WithTimeout(ctx, t.cfg.GatewayTimeout)
	defer cancel()

	fill, err := t.gateway.Close(callCtx, p.ID, p.TokenID, p.Shares)
	if err != nil {
		metrics.OrdersTotal.WithLabelValues(p.Asset, "close", "rejected").Inc()
		if errors.Is(err, exec.ErrRejected) {
			log.Warn().Err(err).Str("id", p.ID).Msg("🚫 Close rejected, position stays open")
			return nil
		}
		return fmt.Errorf("close order: %w", err)
	}
	metrics.OrdersTotal.WithLabelValues(p.Asset, "close", "filled").Inc()

	t.mu.Lock()

	pnl := fill.AvgPrice.Sub(p.EntryPrice).Mul(p.Shares).Mul(p.Side.DirectionSign())

	p.Status = types.StatusClosed
	p.ExitPrice = fill.AvgPrice
	p.PnL = pnl
	p.ClosedAt = fill.Timestamp
	p.ExitReason = reason
	delete(t.open, p.Asset)

	// Credit what was spent plus the signed pnl so the ledger always
	// satisfies balance = starting + totalPnL - open cost.
	t.balance = t.balance.Add(p.Cost).Add(pnl)
	t.totalPnL = t.totalPnL.Add(pnl)
	t.trades++

	if pnl.IsNegative() {
		t.losses++
		t.consecutiveLosses++
		if t.cfg.MaxConsecutiveLosses > 0 && t.consecutiveLosses >= t.cfg.MaxConsecutiveLosses && !t.halted {
			t.halted = true
			log.Warn().Int("losses", t.consecutiveLosses).Msg("🛑 Loss streak limit hit, new entries halted")
		}
	} else {
		t.wins++
		t.consecutiveLosses = 0
	}

	balance := t.balance
	t.mu.Unlock()

	emoji := "💰"
	if pnl.IsNegative() {
		emoji = "💸"
	}
	log.Info().
		Str("id", p.ID).
		Str("asset", p.Asset).
		Str("side", string(p.Side)).
		Str("exit", p.ExitPrice.StringFixed(4)).
		Str("pnl", pnl.StringFixed(2)).
		Str("balance", balance.StringFixed(2)).
		Str("reason", reason).
		Msg(emoji + " Position closed")

	if t.journal != nil {
		record := &types.TradeRecord{
			ID:          p.ID,
			Asset:       p.Asset,
			Side:        p.Side,
			EntryPrice:  p.EntryPrice,
			ExitPrice:   p.ExitPrice,
			Shares:      p.Shares,
			PnL:         pnl,
			EntryZScore: p.EntryZScore,
			ExitReason:  reason,
			OpenedAt:    p.OpenedAt,
			ClosedAt:    p.ClosedAt,
		}
		if err := t.journal.SaveTrade(record); err != nil {
			log.Error().Err(err).Str("id", p.ID).Msg("Trade journal write failed")
		}
	}
	if t.notify != nil {
		t.notify.PositionClosed(p)
	}
	return nil
}

// Position returns the open position for an asset, or nil.
func (t *Tracker) Position(asset string) *types.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.open[asset]
}

// OpenPositions returns a copy of all open positions.
func (t *Tracker) OpenPositions() []*types.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*types.Position, 0, len(t.open))
	for _, p := range t.open {
		out = append(out, p)
	}
	return out
}

// Balance returns the current ledger balance.
func (t *Tracker) Balance() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balance
}

// Halted reports whether the loss-streak stop has tripped.
func (t *Tracker) Halted() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.halted
}

// Snapshot returns the aggregate state for status reporting. ZScores is
// left for the caller to fill in.
func (t *Tracker) Snapshot() types.Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return types.Snapshot{
		Balance:       t.balance,
		TotalPnL:      t.totalPnL,
		Trades:        t.trades,
		Wins:          t.wins,
		Losses:        t.losses,
		OpenPositions: len(t.open),
		Timestamp:     time.Now().UTC(),
	}
}
