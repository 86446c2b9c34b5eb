package positions

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polygraalx/polygraalx/exec"
	"github.com/polygraalx/polygraalx/types"
)

// stubGateway fills every order at a fixed price, or fails on demand.
type stubGateway struct {
	openPrice  decimal.Decimal
	closePrice decimal.Decimal
	openErr    error
	closeErr   error
	opens      int
	closes     int
}

func (g *stubGateway) Name() string { return "stub" }

func (g *stubGateway) Open(ctx context.Context, asset string, side types.Side, tokenID string, amount decimal.Decimal) (*exec.Fill, error) {
	g.opens++
	if g.openErr != nil {
		return nil, g.openErr
	}
	return &exec.Fill{
		OrderID:   fmt.Sprintf("stub_%d", g.opens),
		Shares:    amount.Div(g.openPrice),
		AvgPrice:  g.openPrice,
		Notional:  amount,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (g *stubGateway) Close(ctx context.Context, positionID, tokenID string, shares decimal.Decimal) (*exec.Fill, error) {
	g.closes++
	if g.closeErr != nil {
		return nil, g.closeErr
	}
	return &exec.Fill{
		OrderID:   fmt.Sprintf("stub_c%d", g.closes),
		Shares:    shares,
		AvgPrice:  g.closePrice,
		Notional:  shares.Mul(g.closePrice),
		Timestamp: time.Now().UTC(),
	}, nil
}

func testConfig() Config {
	return Config{
		StartingBalance:      decimal.NewFromInt(100),
		BetAmount:            decimal.NewFromInt(10),
		MaxPositions:         5,
		Cooldown:             60 * time.Second,
		MinCloseBuffer:       120 * time.Second,
		MaxHold:              5 * time.Minute,
		GatewayTimeout:       5 * time.Second,
		MaxConsecutiveLosses: 5,
	}
}

func testMarket(asset string, expiry time.Time) *types.Market {
	return &types.Market{
		ID:         "mkt-" + asset,
		Asset:      asset,
		Strike:     decimal.NewFromInt(100000),
		EndTime:    expiry,
		TokenIDYes: "tok-yes-" + asset,
		TokenIDNo:  "tok-no-" + asset,
	}
}

func enterSignal(asset string, kind types.SignalKind) types.Signal {
	return types.Signal{
		Asset:     asset,
		Kind:      kind,
		ZScore:    decimal.NewFromInt(3),
		Price:     decimal.NewFromInt(100000),
		Timestamp: time.Now().UTC(),
	}
}

func TestTrackerOpensPosition(t *testing.T) {
	gw := &stubGateway{openPrice: decimal.NewFromFloat(0.5), closePrice: decimal.NewFromFloat(0.6)}
	tr := NewTracker(testConfig(), gw, nil, nil)
	ctx := context.Background()
	expiry := time.Now().UTC().Add(10 * time.Minute)

	err := tr.OnSignal(ctx, enterSignal("BTC", types.SignalEnterNo), testMarket("BTC", expiry))
	require.NoError(t, err)

	p := tr.Position("BTC")
	require.NotNil(t, p)
	assert.Equal(t, types.SideNo, p.Side)
	assert.Equal(t, types.StatusOpen, p.Status)
	assert.True(t, p.EntryPrice.Equal(decimal.NewFromFloat(0.5)))
	assert.True(t, p.Shares.Equal(decimal.NewFromInt(20)))
	assert.True(t, tr.Balance().Equal(decimal.NewFromInt(90)))
}

func TestTrackerMaxPositions(t *testing.T) {
	gw := &stubGateway{openPrice: decimal.NewFromFloat(0.5), closePrice: decimal.NewFromFloat(0.5)}
	tr := NewTracker(testConfig(), gw, nil, nil)
	ctx := context.Background()
	expiry := time.Now().UTC().Add(10 * time.Minute)

	assets := []string{"A1", "A2", "A3", "A4", "A5", "A6"}
	for _, a := range assets {
		require.NoError(t, tr.OnSignal(ctx, enterSignal(a, types.SignalEnterYes), testMarket(a, expiry)))
	}

	// Five fills, the sixth is a logged no-op
	assert.Equal(t, 5, gw.opens)
	assert.Len(t, tr.OpenPositions(), 5)
	assert.Nil(t, tr.Position("A6"))
}

func TestTrackerOnePositionPerAsset(t *testing.T) {
	gw := &stubGateway{openPrice: decimal.NewFromFloat(0.5), closePrice: decimal.NewFromFloat(0.5)}
	tr := NewTracker(testConfig(), gw, nil, nil)
	ctx := context.Background()
	expiry := time.Now().UTC().Add(10 * time.Minute)

	require.NoError(t, tr.OnSignal(ctx, enterSignal("BTC", types.SignalEnterYes), testMarket("BTC", expiry)))
	require.NoError(t, tr.OnSignal(ctx, enterSignal("BTC", types.SignalEnterNo), testMarket("BTC", expiry)))

	assert.Equal(t, 1, gw.opens)
	assert.Equal(t, types.SideYes, tr.Position("BTC").Side)
}

func TestTrackerInsufficientBalance(t *testing.T) {
	cfg := testConfig()
	cfg.StartingBalance = decimal.NewFromInt(5) // below the bet amount
	gw := &stubGateway{openPrice: decimal.NewFromFloat(0.5), closePrice: decimal.NewFromFloat(0.5)}
	tr := NewTracker(cfg, gw, nil, nil)

	err := tr.OnSignal(context.Background(), enterSignal("BTC", types.SignalEnterYes),
		testMarket("BTC", time.Now().UTC().Add(10*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, 0, gw.opens)
	assert.Nil(t, tr.Position("BTC"))
}

func TestTrackerRejectionLeavesStateUntouched(t *testing.T) {
	gw := &stubGateway{
		openPrice: decimal.NewFromFloat(0.5),
		openErr:   fmt.Errorf("%w: not enough liquidity", exec.ErrRejected),
	}
	tr := NewTracker(testConfig(), gw, nil, nil)

	err := tr.OnSignal(context.Background(), enterSignal("BTC", types.SignalEnterYes),
		testMarket("BTC", time.Now().UTC().Add(10*time.Minute)))
	require.NoError(t, err)

	assert.Nil(t, tr.Position("BTC"))
	assert.True(t, tr.Balance().Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 0, tr.Snapshot().Trades)
}

func TestTrackerExitPnL(t *testing.T) {
	// NO position: entry 0.5, exit 0.4 means the underlying moved with us,
	// pnl = (0.4 - 0.5) * 20 * (-1) = +2
	gw := &stubGateway{openPrice: decimal.NewFromFloat(0.5), closePrice: decimal.NewFromFloat(0.4)}
	tr := NewTracker(testConfig(), gw, nil, nil)
	ctx := context.Background()
	expiry := time.Now().UTC().Add(10 * time.Minute)

	require.NoError(t, tr.OnSignal(ctx, enterSignal("BTC", types.SignalEnterNo), testMarket("BTC", expiry)))
	p := tr.Position("BTC")
	require.NotNil(t, p)

	exitSig := types.Signal{Asset: "BTC", Kind: types.SignalExit, Reason: "mean reverted"}
	require.NoError(t, tr.OnSignal(ctx, exitSig, nil))

	assert.Nil(t, tr.Position("BTC"))
	assert.Equal(t, types.StatusClosed, p.Status)
	assert.True(t, p.PnL.Equal(decimal.NewFromInt(2)), "pnl = %s", p.PnL)
	assert.True(t, tr.Balance().Equal(decimal.NewFromInt(102)), "balance = %s", tr.Balance())

	snap := tr.Snapshot()
	assert.Equal(t, 1, snap.Trades)
	assert.Equal(t, 1, snap.Wins)
	assert.True(t, snap.TotalPnL.Equal(decimal.NewFromInt(2)))
}

func TestTrackerExitWithoutPositionIsNoop(t *testing.T) {
	gw := &stubGateway{openPrice: decimal.NewFromFloat(0.5), closePrice: decimal.NewFromFloat(0.5)}
	tr := NewTracker(testConfig(), gw, nil, nil)

	exitSig := types.Signal{Asset: "BTC", Kind: types.SignalExit}
	require.NoError(t, tr.OnSignal(context.Background(), exitSig, nil))
	assert.Equal(t, 0, gw.closes)
}

func TestTrackerForcedCloseOnExpiryBuffer(t *testing.T) {
	gw := &stubGateway{openPrice: decimal.NewFromFloat(0.5), closePrice: decimal.NewFromFloat(0.5)}
	tr := NewTracker(testConfig(), gw, nil, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	// Market expires in 190s; tradeable now (buffer 120s + some room)
	require.NoError(t, tr.OnSignal(ctx, enterSignal("BTC", types.SignalEnterYes), testMarket("BTC", now.Add(190*time.Second))))
	require.NotNil(t, tr.Position("BTC"))

	// 60s in: 130s to expiry, still outside the buffer
	tr.ForceClosePass(ctx, now.Add(60*time.Second))
	assert.NotNil(t, tr.Position("BTC"))

	// 75s in: 115s to expiry, inside the buffer, forced out
	tr.ForceClosePass(ctx, now.Add(75*time.Second))
	assert.Nil(t, tr.Position("BTC"))
	assert.Equal(t, 1, gw.closes)
}

func TestTrackerForcedCloseOnMaxHold(t *testing.T) {
	gw := &stubGateway{openPrice: decimal.NewFromFloat(0.5), closePrice: decimal.NewFromFloat(0.5)}
	tr := NewTracker(testConfig(), gw, nil, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, tr.OnSignal(ctx, enterSignal("BTC", types.SignalEnterYes), testMarket("BTC", now.Add(30*time.Minute))))

	tr.ForceClosePass(ctx, now.Add(4*time.Minute))
	assert.NotNil(t, tr.Position("BTC"))

	tr.ForceClosePass(ctx, now.Add(5*time.Minute+time.Second))
	assert.Nil(t, tr.Position("BTC"))
}

func TestTrackerCooldownAfterClose(t *testing.T) {
	gw := &stubGateway{openPrice: decimal.NewFromFloat(0.5), closePrice: decimal.NewFromFloat(0.6)}
	tr := NewTracker(testConfig(), gw, nil, nil)
	ctx := context.Background()
	expiry := time.Now().UTC().Add(30 * time.Minute)

	require.NoError(t, tr.OnSignal(ctx, enterSignal("BTC", types.SignalEnterYes), testMarket("BTC", expiry)))
	require.NoError(t, tr.OnSignal(ctx, types.Signal{Asset: "BTC", Kind: types.SignalExit}, nil))

	// Immediate re-entry is inside the cooldown window
	require.NoError(t, tr.OnSignal(ctx, enterSignal("BTC", types.SignalEnterYes), testMarket("BTC", expiry)))
	assert.Equal(t, 1, gw.opens)
	assert.Nil(t, tr.Position("BTC"))
}

func TestTrackerLossStreakHalt(t *testing.T) {
	// Every trade loses: entry 0.5, exit 0.4 on a YES position
	cfg := testConfig()
	cfg.Cooldown = 0
	cfg.MaxConsecutiveLosses = 3
	gw := &stubGateway{openPrice: decimal.NewFromFloat(0.5), closePrice: decimal.NewFromFloat(0.4)}
	tr := NewTracker(cfg, gw, nil, nil)
	ctx := context.Background()
	expiry := time.Now().UTC().Add(30 * time.Minute)

	for i := 0; i < 3; i++ {
		require.NoError(t, tr.OnSignal(ctx, enterSignal("BTC", types.SignalEnterYes), testMarket("BTC", expiry)))
		require.NoError(t, tr.OnSignal(ctx, types.Signal{Asset: "BTC", Kind: types.SignalExit}, nil))
	}

	assert.True(t, tr.Halted())

	// Halted: no more entries
	require.NoError(t, tr.OnSignal(ctx, enterSignal("ETH", types.SignalEnterYes), testMarket("ETH", expiry)))
	assert.Equal(t, 3, gw.opens)
	assert.Nil(t, tr.Position("ETH"))

	snap := tr.Snapshot()
	assert.Equal(t, 3, snap.Losses)
	assert.Equal(t, 0, snap.Wins)
}

func TestTrackerCloseAll(t *testing.T) {
	gw := &stubGateway{openPrice: decimal.NewFromFloat(0.5), closePrice: decimal.NewFromFloat(0.5)}
	tr := NewTracker(testConfig(), gw, nil, nil)
	ctx := context.Background()
	expiry := time.Now().UTC().Add(30 * time.Minute)

	for _, a := range []string{"BTC", "ETH"} {
		require.NoError(t, tr.OnSignal(ctx, enterSignal(a, types.SignalEnterYes), testMarket(a, expiry)))
	}

	tr.CloseAll(ctx, "shutdown")
	assert.Empty(t, tr.OpenPositions())
	assert.Equal(t, 2, tr.Snapshot().Trades)
}
