package exec

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polygraalx/polygraalx/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PAPER GATEWAY - Simulated fills, no venue, no balance
// ═══════════════════════════════════════════════════════════════════════════════
//
// Fill prices are drawn from the ranges a 15-minute market actually trades
// in: entries near the midpoint, exits wherever the book drifted to.
// Slippage of 0-2% is applied against the trader. Balance accounting is
// NOT done here; the position tracker owns the ledger.
//
// ═══════════════════════════════════════════════════════════════════════════════

const maxSlippagePct = 0.02

type PaperGateway struct {
	mu       sync.Mutex
	rng      *rand.Rand
	orderSeq int
}

// NewPaperGateway creates a simulator. Pass a fixed seed for reproducible
// fills, or 0 to seed from the clock.
func NewPaperGateway(seed int64) *PaperGateway {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &PaperGateway{rng: rand.New(rand.NewSource(seed))}
}

func (g *PaperGateway) Name() string { return "paper" }

// Open simulates buying an outcome token near the midpoint.
func (g *PaperGateway) Open(ctx context.Context, asset string, side types.Side, tokenID string, amount decimal.Decimal) (*Fill, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Fresh windows trade near 50/50; fills land in 35-65¢.
	base := 0.35 + g.rng.Float64()*0.30
	// Slippage works against the buyer.
	price := decimal.NewFromFloat(base * (1 + g.rng.Float64()*maxSlippagePct))
	if price.GreaterThan(decimal.NewFromFloat(0.99)) {
		price = decimal.NewFromFloat(0.99)
	}

	shares := amount.Div(price).Round(4)

	g.orderSeq++
	fill := &Fill{
		OrderID:   fmt.Sprintf("paper_%d", g.orderSeq),
		Shares:    shares,
		AvgPrice:  price.Round(4),
		Notional:  amount,
		Timestamp: time.Now().UTC(),
	}

	log.Debug().
		Str("order_id", fill.OrderID).
		Str("asset", asset).
		Str("side", string(side)).
		Str("price", fill.AvgPrice.StringFixed(4)).
		Str("shares", fill.Shares.StringFixed(4)).
		Msg("📝 Paper fill (open)")

	return fill, nil
}

// Close simulates selling an open position's shares.
func (g *PaperGateway) Close(ctx context.Context, positionID, tokenID string, shares decimal.Decimal) (*Fill, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	base := 0.45 + g.rng.Float64()*0.20
	// Slippage works against the seller.
	price := decimal.NewFromFloat(base * (1 - g.rng.Float64()*maxSlippagePct))

	g.orderSeq++
	fill := &Fill{
		OrderID:   fmt.Sprintf("paper_%d", g.orderSeq),
		Shares:    shares,
		AvgPrice:  price.Round(4),
		Notional:  shares.Mul(price).Round(4),
		Timestamp: time.Now().UTC(),
	}

	log.Debug().
		Str("order_id", fill.OrderID).
		Str("position_id", positionID).
		Str("price", fill.AvgPrice.StringFixed(4)).
		Str("proceeds", fill.Notional.StringFixed(2)).
		Msg("📝 Paper fill (close)")

	return fill, nil
}
