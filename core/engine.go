// Package core - Engine Tick Loop
// Drives the sample → signal → position pipeline at a fixed interval
package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polygraalx/polygraalx/feeds"
	"github.com/polygraalx/polygraalx/metrics"
	"github.com/polygraalx/polygraalx/positions"
	"github.com/polygraalx/polygraalx/strategy"
	"github.com/polygraalx/polygraalx/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ═══════════════════════════════════════════════════════════════════════════════
//
// One goroutine, one tick at a time:
//
//   drain feed → forced closes → per asset: stale check → stats → signal → tracker
//
// A failure on one asset never blocks the others, and shutdown only happens
// between ticks so no position is left half-processed.
//
// ═══════════════════════════════════════════════════════════════════════════════

// MarketSource supplies the current tradeable market per asset.
type MarketSource interface {
	Current(asset string) *types.Market
}

// SnapshotSink receives periodic stat snapshots. A nil sink is fine.
type SnapshotSink interface {
	SaveSnapshot(snap types.Snapshot) error
}

// Config holds the loop timing.
type Config struct {
	Assets         []string
	TickInterval   time.Duration
	StatusInterval time.Duration
}

type Engine struct {
	cfg      Config
	sampler  *feeds.Sampler
	strategy *strategy.Engine
	tracker  *positions.Tracker
	markets  MarketSource
	sink     SnapshotSink

	lastStatus time.Time
}

func NewEngine(cfg Config, sampler *feeds.Sampler, strat *strategy.Engine, tracker *positions.Tracker, markets MarketSource, sink SnapshotSink) *Engine {
	return &Engine{
		cfg:      cfg,
		sampler:  sampler,
		strategy: strat,
		tracker:  tracker,
		markets:  markets,
		sink:     sink,
	}
}

// Run drives ticks until ctx is cancelled, then closes all open positions.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	log.Info().
		Strs("assets", e.cfg.Assets).
		Dur("tick", e.cfg.TickInterval).
		Msg("⚙️ Engine running")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Engine stopping, closing open positions")
			// ctx is already cancelled; give the gateway a fresh,
			// bounded context to unwind in.
			closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			e.tracker.CloseAll(closeCtx, "shutdown")
			cancel()
			return
		case <-ticker.C:
			e.Tick(ctx, time.Now().UTC())
		}
	}
}

// Tick runs one full pipeline pass.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	metrics.TicksTotal.Inc()

	for asset, n := range e.sampler.Drain() {
		metrics.SamplesTotal.WithLabelValues(asset).Add(float64(n))
	}

	e.tracker.ForceClosePass(ctx, now)

	for _, asset := range e.cfg.Assets {
		if err := e.tickAsset(ctx, asset, now); err != nil {
			log.Error().Err(err).Str("asset", asset).Msg("Tick failed for asset")
		}
	}

	if now.Sub(e.lastStatus) >= e.cfg.StatusInterval {
		e.lastStatus = now
		e.reportStatus(now)
	}
}

func (e *Engine) tickAsset(ctx context.Context, asset string, now time.Time) error {
	price, err := e.sampler.Latest(asset, now)
	if err != nil {
		if errors.Is(err, feeds.ErrFeedStale) {
			log.Debug().Str("asset", asset).Msg("Feed stale, skipping")
			return nil
		}
		return err
	}

	var stats *feeds.WindowStats
	if s, err := e.sampler.Window(asset).Stats(); err == nil {
		stats = &s
	} else if !errors.Is(err, feeds.ErrInsufficientData) {
		return err
	}

	sig := e.strategy.Evaluate(asset, price, stats, e.tracker.Position(asset), now)

	if !sig.ZScore.IsZero() || stats != nil {
		z, _ := sig.ZScore.Float64()
		metrics.ZScore.WithLabelValues(asset).Set(z)
	}

	if sig.Kind == types.SignalNone {
		return nil
	}

	metrics.SignalsTotal.WithLabelValues(asset, string(sig.Kind)).Inc()
	log.Info().
		Str("asset", asset).
		Str("kind", string(sig.Kind)).
		Str("z", sig.ZScore.StringFixed(2)).
		Str("price", sig.Price.StringFixed(2)).
		Str("reason", sig.Reason).
		Msg("📣 Signal")

	return e.tracker.OnSignal(ctx, sig, e.markets.Current(asset))
}

func (e *Engine) reportStatus(now time.Time) {
	snap := e.tracker.Snapshot()

	snap.ZScores = make(map[string]decimal.Decimal, len(e.cfg.Assets))
	for _, asset := range e.cfg.Assets {
		w := e.sampler.Window(asset)
		if w == nil {
			continue
		}
		stats, err := w.Stats()
		if err != nil {
			continue
		}
		price, err := e.sampler.Latest(asset, now)
		if err != nil {
			continue
		}
		snap.ZScores[asset] = stats.ZScore(price)
	}

	balance, _ := snap.Balance.Float64()
	pnl, _ := snap.TotalPnL.Float64()
	metrics.Balance.Set(balance)
	metrics.TotalPnL.Set(pnl)
	metrics.OpenPositions.Set(float64(snap.OpenPositions))

	event := log.Info().
		Str("balance", snap.Balance.StringFixed(2)).
		Str("pnl", snap.TotalPnL.StringFixed(2)).
		Int("trades", snap.Trades).
		Int("wins", snap.Wins).
		Int("losses", snap.Losses).
		Int("open", snap.OpenPositions)
	for asset, z := range snap.ZScores {
		event = event.Str("z_"+asset, z.StringFixed(2))
	}
	event.Msg("📊 Status")

	if e.sink != nil {
		if err := e.sink.SaveSnapshot(snap); err != nil {
			log.Error().Err(err).Msg("Snapshot write failed")
		}
	}
}
