package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/polygraalx/polygraalx/feeds"
	"github.com/polygraalx/polygraalx/types"
)

type fixedThresholds struct {
	entry, exit decimal.Decimal
}

func (f fixedThresholds) Thresholds(string) (decimal.Decimal, decimal.Decimal) {
	return f.entry, f.exit
}

func defaultEngine() *Engine {
	return NewEngine(fixedThresholds{
		entry: decimal.NewFromFloat(2.5),
		exit:  decimal.NewFromFloat(0.5),
	})
}

// stats with mean 100 and stddev 2, so price 106 gives z = 3.
func stretchedStats() *feeds.WindowStats {
	return &feeds.WindowStats{
		Mean:   decimal.NewFromInt(100),
		StdDev: decimal.NewFromInt(2),
		Count:  60,
	}
}

func openPosition(asset string, side types.Side) *types.Position {
	return &types.Position{
		ID:     "pos_20260830120000_0001",
		Asset:  asset,
		Side:   side,
		Status: types.StatusOpen,
	}
}

func TestEvaluateNilStats(t *testing.T) {
	e := defaultEngine()
	now := time.Now().UTC()

	sig := e.Evaluate("BTC", decimal.NewFromInt(100), nil, nil, now)
	assert.Equal(t, types.SignalNone, sig.Kind)

	// Even with an open position, no stats means no opinion
	sig = e.Evaluate("BTC", decimal.NewFromInt(100), nil, openPosition("BTC", types.SideYes), now)
	assert.Equal(t, types.SignalNone, sig.Kind)
}

func TestEvaluateEntrySignals(t *testing.T) {
	e := defaultEngine()
	now := time.Now().UTC()
	stats := stretchedStats()

	// Price stretched 3 stddevs above the mean: buy NO
	sig := e.Evaluate("BTC", decimal.NewFromInt(106), stats, nil, now)
	assert.Equal(t, types.SignalEnterNo, sig.Kind)
	assert.True(t, sig.ZScore.Equal(decimal.NewFromInt(3)), "z = %s", sig.ZScore)
	assert.Equal(t, types.SideNo, sig.EntrySide())

	// Stretched below: buy YES
	sig = e.Evaluate("BTC", decimal.NewFromInt(94), stats, nil, now)
	assert.Equal(t, types.SignalEnterYes, sig.Kind)
	assert.True(t, sig.ZScore.Equal(decimal.NewFromInt(-3)))

	// Exactly at the threshold still enters
	sig = e.Evaluate("BTC", decimal.NewFromInt(105), stats, nil, now)
	assert.Equal(t, types.SignalEnterNo, sig.Kind)
}

func TestEvaluateNoEntryBelowThreshold(t *testing.T) {
	e := defaultEngine()
	now := time.Now().UTC()
	stats := stretchedStats()

	for _, price := range []int64{100, 102, 104, 96, 98} {
		sig := e.Evaluate("BTC", decimal.NewFromInt(price), stats, nil, now)
		assert.Equal(t, types.SignalNone, sig.Kind, "price %d must not enter", price)
	}
}

func TestEvaluateExitOnReversion(t *testing.T) {
	e := defaultEngine()
	now := time.Now().UTC()
	stats := stretchedStats()

	// Open YES, price back to 100.5 gives z = 0.25, inside the exit band
	sig := e.Evaluate("BTC", decimal.NewFromFloat(100.5), stats, openPosition("BTC", types.SideYes), now)
	assert.Equal(t, types.SignalExit, sig.Kind)
	assert.True(t, sig.ZScore.Equal(decimal.NewFromFloat(0.25)))

	// Same band exits a NO position too
	sig = e.Evaluate("BTC", decimal.NewFromFloat(99.5), stats, openPosition("BTC", types.SideNo), now)
	assert.Equal(t, types.SignalExit, sig.Kind)
}

func TestEvaluateOverCorrectionExit(t *testing.T) {
	e := defaultEngine()
	now := time.Now().UTC()
	stats := stretchedStats()

	// NO position entered on a positive stretch; z blowing through to -1
	// is an over-correction
	sig := e.Evaluate("BTC", decimal.NewFromInt(98), stats, openPosition("BTC", types.SideNo), now)
	assert.Equal(t, types.SignalExit, sig.Kind)

	// YES position with z = +1 over-corrected the other way
	sig = e.Evaluate("BTC", decimal.NewFromInt(102), stats, openPosition("BTC", types.SideYes), now)
	assert.Equal(t, types.SignalExit, sig.Kind)

	// YES position still stretched on its own side holds
	sig = e.Evaluate("BTC", decimal.NewFromInt(98), stats, openPosition("BTC", types.SideYes), now)
	assert.Equal(t, types.SignalNone, sig.Kind)
}

func TestEvaluateIdempotent(t *testing.T) {
	e := defaultEngine()
	now := time.Now().UTC()
	stats := stretchedStats()
	pos := openPosition("BTC", types.SideYes)

	first := e.Evaluate("BTC", decimal.NewFromInt(106), stats, pos, now)
	second := e.Evaluate("BTC", decimal.NewFromInt(106), stats, pos, now)
	assert.Equal(t, first.Kind, second.Kind)
	assert.True(t, first.ZScore.Equal(second.ZScore))
	assert.Equal(t, first.Reason, second.Reason)
}

func TestEvaluatePerAssetThresholds(t *testing.T) {
	// ETH uses a looser entry threshold than BTC
	src := map[string][2]decimal.Decimal{
		"BTC": {decimal.NewFromFloat(2.5), decimal.NewFromFloat(0.5)},
		"ETH": {decimal.NewFromFloat(3.0), decimal.NewFromFloat(0.5)},
	}
	e := NewEngine(mapThresholds(src))
	now := time.Now().UTC()
	stats := stretchedStats()

	// z = 2.75 enters BTC but not ETH
	price := decimal.NewFromFloat(105.5)
	assert.Equal(t, types.SignalEnterNo, e.Evaluate("BTC", price, stats, nil, now).Kind)
	assert.Equal(t, types.SignalNone, e.Evaluate("ETH", price, stats, nil, now).Kind)
}

type mapThresholds map[string][2]decimal.Decimal

func (m mapThresholds) Thresholds(asset string) (decimal.Decimal, decimal.Decimal) {
	th := m[asset]
	return th[0], th[1]
}
