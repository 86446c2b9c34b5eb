// Package strategy - Z-Score Mean Reversion
// Detects statistically stretched prices and signals entries against the move
package strategy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polygraalx/polygraalx/feeds"
	"github.com/polygraalx/polygraalx/types"
)

// ThresholdSource resolves the entry/exit z-score levels for an asset,
// allowing per-asset overrides on top of the global defaults.
type ThresholdSource interface {
	Thresholds(asset string) (entry, exit decimal.Decimal)
}

// Engine turns window statistics into trading signals. It holds no state
// beyond its thresholds: the same inputs always produce the same signal.
type Engine struct {
	thresholds ThresholdSource
}

// NewEngine creates a signal engine reading thresholds from src.
func NewEngine(src ThresholdSource) *Engine {
	return &Engine{thresholds: src}
}

// Evaluate computes the signal for one asset at one tick.
//
// stats may be nil when the window cannot produce statistics yet; the
// engine then emits NONE regardless of any open position. open is the
// asset's open position, or nil when flat.
func (e *Engine) Evaluate(asset string, price decimal.Decimal, stats *feeds.WindowStats, open *types.Position, now time.Time) types.Signal {
	sig := types.Signal{
		Asset:     asset,
		Kind:      types.SignalNone,
		Price:     price,
		Timestamp: now,
	}

	if stats == nil {
		return sig
	}

	z := stats.ZScore(price)
	sig.ZScore = z

	entry, exit := e.thresholds.Thresholds(asset)

	if open == nil {
		switch {
		case z.GreaterThanOrEqual(entry):
			// Price stretched above its mean: bet on reversion down.
			sig.Kind = types.SignalEnterNo
			sig.Reason = fmt.Sprintf("z=%s ≥ +%s, price stretched above mean %s", z.StringFixed(2), entry.StringFixed(2), stats.Mean.StringFixed(2))
		case z.LessThanOrEqual(entry.Neg()):
			// Price stretched below its mean: bet on reversion up.
			sig.Kind = types.SignalEnterYes
			sig.Reason = fmt.Sprintf("z=%s ≤ -%s, price stretched below mean %s", z.StringFixed(2), entry.StringFixed(2), stats.Mean.StringFixed(2))
		}
		return sig
	}

	// Open position: exit when the stretch has reverted, or when it has
	// blown through the mean to the opposite side (over-correction).
	if z.Abs().LessThanOrEqual(exit) {
		sig.Kind = types.SignalExit
		sig.Reason = fmt.Sprintf("z=%s within ±%s, mean reverted", z.StringFixed(2), exit.StringFixed(2))
		return sig
	}

	switch open.Side {
	case types.SideNo:
		if z.LessThan(exit.Neg()) {
			sig.Kind = types.SignalExit
			sig.Reason = fmt.Sprintf("z=%s over-corrected below -%s", z.StringFixed(2), exit.StringFixed(2))
		}
	case types.SideYes:
		if z.GreaterThan(exit) {
			sig.Kind = types.SignalExit
			sig.Reason = fmt.Sprintf("z=%s over-corrected above +%s", z.StringFixed(2), exit.StringFixed(2))
		}
	}

	return sig
}
