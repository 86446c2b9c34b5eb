package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Side is the outcome token a position is long.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// DirectionSign returns +1 for YES and -1 for NO.
// A YES position profits when the outcome price rises, a NO position
// profits when it falls.
func (s Side) DirectionSign() decimal.Decimal {
	if s == SideNo {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// SignalKind classifies the action a signal asks for.
type SignalKind string

const (
	SignalNone     SignalKind = "NONE"
	SignalEnterYes SignalKind = "ENTER_YES"
	SignalEnterNo  SignalKind = "ENTER_NO"
	SignalExit     SignalKind = "EXIT"
)

// Signal is produced once per evaluation tick per asset and consumed
// immediately. It is never persisted.
type Signal struct {
	Asset     string
	Kind      SignalKind
	ZScore    decimal.Decimal
	Price     decimal.Decimal
	Timestamp time.Time
	Reason    string
}

// IsEntry reports whether the signal opens a new position.
func (s Signal) IsEntry() bool {
	return s.Kind == SignalEnterYes || s.Kind == SignalEnterNo
}

// EntrySide maps an entry signal to the side it buys.
func (s Signal) EntrySide() Side {
	if s.Kind == SignalEnterNo {
		return SideNo
	}
	return SideYes
}

// PositionStatus is the position lifecycle state. OPEN → CLOSED is the only
// transition; a new trade always creates a new Position.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "OPEN"
	StatusClosed PositionStatus = "CLOSED"
)

// Position represents one trade on a prediction market outcome token.
type Position struct {
	ID           string
	Asset        string
	Side         Side
	MarketID     string
	TokenID      string
	EntryPrice   decimal.Decimal
	Shares       decimal.Decimal
	Cost         decimal.Decimal // USDC spent at entry
	EntryZScore  decimal.Decimal
	OpenedAt     time.Time
	MarketExpiry time.Time
	Status       PositionStatus

	// Set at close time, immutable afterwards
	ExitPrice  decimal.Decimal
	PnL        decimal.Decimal
	ClosedAt   time.Time
	ExitReason string
}

// AgeSeconds returns how long the position has been open.
func (p *Position) AgeSeconds(now time.Time) int {
	return int(now.Sub(p.OpenedAt).Seconds())
}

// SecondsToExpiry returns seconds until the underlying market settles.
func (p *Position) SecondsToExpiry(now time.Time) int {
	d := int(p.MarketExpiry.Sub(now).Seconds())
	if d < 0 {
		return 0
	}
	return d
}

func (p *Position) String() string {
	return fmt.Sprintf("Position(%s %s shares=%s entry=%s z=%s)",
		p.Asset, p.Side, p.Shares.StringFixed(2),
		p.EntryPrice.StringFixed(3), p.EntryZScore.StringFixed(2))
}

// Market is a tradeable short-lived prediction market, supplied by the
// discovery collaborator and treated as read-only metadata.
type Market struct {
	ID          string
	ConditionID string
	Question    string
	Asset       string
	Strike      decimal.Decimal
	EndTime     time.Time
	TokenIDYes  string
	TokenIDNo   string
	Slug        string
}

// SecondsToExpiry returns seconds until the market closes, floored at zero.
func (m *Market) SecondsToExpiry(now time.Time) int {
	d := int(m.EndTime.Sub(now).Seconds())
	if d < 0 {
		return 0
	}
	return d
}

// Tradeable reports whether enough time remains before expiry to open a
// position and still close it before the forced-close buffer kicks in.
func (m *Market) Tradeable(now time.Time, closeBuffer time.Duration) bool {
	return m.EndTime.Sub(now) > closeBuffer
}

// TokenID returns the outcome token for a side.
func (m *Market) TokenID(side Side) string {
	if side == SideNo {
		return m.TokenIDNo
	}
	return m.TokenIDYes
}

// TradeRecord is a closed trade for display and persistence.
type TradeRecord struct {
	ID          string
	Asset       string
	Side        Side
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal
	Shares      decimal.Decimal
	PnL         decimal.Decimal
	EntryZScore decimal.Decimal
	ExitReason  string
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// Snapshot is the periodic observability view of the engine, consumed by
// logging, metrics, Telegram, and the trade journal.
type Snapshot struct {
	Balance       decimal.Decimal
	TotalPnL      decimal.Decimal
	Trades        int
	Wins          int
	Losses        int
	OpenPositions int
	ZScores       map[string]decimal.Decimal
	Timestamp     time.Time
}
