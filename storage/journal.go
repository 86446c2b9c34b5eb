// Package storage - Trade Journal
// Persists closed trades and periodic stat snapshots
package storage

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/polygraalx/polygraalx/types"
)

// Journal is a passive sink: the engine writes, nothing reads back at
// runtime. Its tables exist for post-run analysis.
type Journal struct {
	db *gorm.DB
}

// Models

type Trade struct {
	ID          string          `gorm:"primaryKey"`
	Asset       string          `gorm:"index"`
	Side        string          // "YES" or "NO"
	EntryPrice  decimal.Decimal `gorm:"type:decimal(10,6)"`
	ExitPrice   decimal.Decimal `gorm:"type:decimal(10,6)"`
	Shares      decimal.Decimal `gorm:"type:decimal(20,6)"`
	PnL         decimal.Decimal `gorm:"type:decimal(20,6)"`
	EntryZScore decimal.Decimal `gorm:"type:decimal(10,4)"`
	ExitReason  string
	OpenedAt    time.Time
	ClosedAt    time.Time `gorm:"index"`
	CreatedAt   time.Time
}

type StatSnapshot struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,6)"`
	TotalPnL  decimal.Decimal `gorm:"type:decimal(20,6)"`
	Trades    int
	Wins      int
	Losses    int
	OpenCount int
	CreatedAt time.Time `gorm:"index"`
}

// New opens the journal. A postgres:// DSN selects PostgreSQL, anything
// else is treated as a SQLite file path.
func New(dsn string) (*Journal, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Trade journal connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("Trade journal initialized (SQLite)")
	}

	if err := db.AutoMigrate(&Trade{}, &StatSnapshot{}); err != nil {
		return nil, err
	}

	return &Journal{db: db}, nil
}

// SaveTrade records one closed trade.
func (j *Journal) SaveTrade(trade *types.TradeRecord) error {
	row := &Trade{
		ID:          trade.ID,
		Asset:       trade.Asset,
		Side:        string(trade.Side),
		EntryPrice:  trade.EntryPrice,
		ExitPrice:   trade.ExitPrice,
		Shares:      trade.Shares,
		PnL:         trade.PnL,
		EntryZScore: trade.EntryZScore,
		ExitReason:  trade.ExitReason,
		OpenedAt:    trade.OpenedAt,
		ClosedAt:    trade.ClosedAt,
	}
	return j.db.Create(row).Error
}

// SaveSnapshot records one periodic stat snapshot.
func (j *Journal) SaveSnapshot(snap types.Snapshot) error {
	row := &StatSnapshot{
		Balance:   snap.Balance,
		TotalPnL:  snap.TotalPnL,
		Trades:    snap.Trades,
		Wins:      snap.Wins,
		Losses:    snap.Losses,
		OpenCount: snap.OpenPositions,
	}
	return j.db.Create(row).Error
}

// RecentTrades returns the latest closed trades, newest first.
func (j *Journal) RecentTrades(limit int) ([]Trade, error) {
	var trades []Trade
	err := j.db.Order("closed_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// Close releases the underlying connection.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
