// Package exec - Order Gateways
// Abstracts fill execution so the tracker works identically in paper and live mode
package exec

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polygraalx/polygraalx/types"
)

// ErrRejected is returned when the venue declines an order. Rejections are
// expected operating conditions, not faults, so callers match on this
// sentinel and move on.
var ErrRejected = errors.New("order rejected")

// Fill is the result of a filled order.
type Fill struct {
	OrderID   string
	Shares    decimal.Decimal
	AvgPrice  decimal.Decimal // per-share fill price in USDC
	Notional  decimal.Decimal // total USDC moved
	Timestamp time.Time
}

// Gateway executes entries and exits against a venue.
//
// Open spends amount USDC on the given outcome token and reports the fill.
// Close sells shares of the token backing a position. Both honor ctx
// cancellation and deadline; on timeout they return an error wrapping
// ErrRejected so the tracker treats the attempt as declined.
type Gateway interface {
	Open(ctx context.Context, asset string, side types.Side, tokenID string, amount decimal.Decimal) (*Fill, error)
	Close(ctx context.Context, positionID, tokenID string, shares decimal.Decimal) (*Fill, error)
	Name() string
}
