// Package bot - Telegram notifications and control
package bot

import (
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polygraalx/polygraalx/storage"
	"github.com/polygraalx/polygraalx/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT
// ═══════════════════════════════════════════════════════════════════════════════
//
// Pushes position open/close alerts and answers a small set of read-only
// commands. Only the configured chat gets responses.
//
// ═══════════════════════════════════════════════════════════════════════════════

// StatsProvider supplies current engine state for commands.
type StatsProvider interface {
	Snapshot() types.Snapshot
	OpenPositions() []*types.Position
	Halted() bool
}

// TradeHistory supplies closed trades for /trades.
type TradeHistory interface {
	RecentTrades(limit int) ([]storage.Trade, error)
}

type TelegramBot struct {
	mu      sync.Mutex
	api     *tgbotapi.BotAPI
	chatID  int64
	running bool
	stopCh  chan struct{}

	stats   StatsProvider
	history TradeHistory // nil when no journal configured
	mode    string       // "PAPER" or "LIVE"
}

func NewTelegramBot(token string, chatID int64, mode string, stats StatsProvider, history TradeHistory) (*TelegramBot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	b := &TelegramBot{
		api:     api,
		chatID:  chatID,
		stopCh:  make(chan struct{}),
		stats:   stats,
		history: history,
		mode:    mode,
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")
	return b, nil
}

// Start begins listening for commands.
func (b *TelegramBot) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.commandLoop()
	log.Info().Msg("📱 Telegram bot started")
}

func (b *TelegramBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	b.running = false
	close(b.stopCh)
	b.api.StopReceivingUpdates()
}

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// PositionOpened sends an entry alert. Delivery is fire-and-forget so the
// caller never blocks on the Telegram API.
func (b *TelegramBot) PositionOpened(p *types.Position) {
	emoji := "🟢"
	if p.Side == types.SideNo {
		emoji = "🔴"
	}

	msg := fmt.Sprintf(`%s *POSITION OPENED*

📊 %s — %s
💵 Entry: *%s¢*
📦 Cost: *$%s*
📐 Z-score: *%s*`,
		emoji,
		p.Asset, p.Side,
		p.EntryPrice.Mul(decimal.NewFromInt(100)).StringFixed(1),
		p.Cost.StringFixed(2),
		p.EntryZScore.StringFixed(2),
	)

	go b.sendMarkdown(msg)
}

// PositionClosed sends an exit alert.
func (b *TelegramBot) PositionClosed(p *types.Position) {
	emoji := "📈"
	sign := "+"
	if p.PnL.IsNegative() {
		emoji = "📉"
		sign = ""
	}

	msg := fmt.Sprintf(`%s *POSITION CLOSED*

📊 %s — %s
💵 Exit: *%s¢*
💰 P&L: *%s$%s*
📝 %s`,
		emoji,
		p.Asset, p.Side,
		p.ExitPrice.Mul(decimal.NewFromInt(100)).StringFixed(1),
		sign, p.PnL.StringFixed(2),
		p.ExitReason,
	)

	go b.sendMarkdown(msg)
}

// NotifyStartup announces the engine coming online.
func (b *TelegramBot) NotifyStartup(assets []string, balance decimal.Decimal) {
	msg := fmt.Sprintf(`🚀 *POLYGRAALX STARTED*
━━━━━━━━━━━━━━━━━━━━

🎯 Strategy: *Z-Score Mean Reversion*
📊 Mode: *%s*
🪙 Assets: *%s*
💰 Balance: *$%s*

Use /help for commands`,
		b.mode,
		strings.Join(assets, ", "),
		balance.StringFixed(2),
	)

	b.sendMarkdown(msg)
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.stopCh:
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.Chat.ID != b.chatID {
				continue
			}
			b.handleCommand(update.Message)
		}
	}
}

func (b *TelegramBot) handleCommand(msg *tgbotapi.Message) {
	switch strings.ToLower(msg.Command()) {
	case "start", "help":
		b.cmdHelp()
	case "status":
		b.cmdStatus()
	case "stats":
		b.cmdStats()
	case "positions":
		b.cmdPositions()
	case "trades":
		b.cmdTrades()
	case "ping":
		b.send("🏓 Pong!")
	default:
		b.send("❓ Unknown command. Use /help")
	}
}

func (b *TelegramBot) cmdHelp() {
	b.sendMarkdown(`🤖 *POLYGRAALX COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📊 /status — Engine status
📈 /stats — Trading statistics
💼 /positions — Open positions
📜 /trades — Last 10 trades
🏓 /ping — Test connection`)
}

func (b *TelegramBot) cmdStatus() {
	snap := b.stats.Snapshot()

	status := "🟢 RUNNING"
	if b.stats.Halted() {
		status = "🛑 HALTED (loss streak)"
	}

	b.sendMarkdown(fmt.Sprintf(`📊 *ENGINE STATUS*
━━━━━━━━━━━━━━━━━━━━

%s
📊 Mode: *%s*
💰 Balance: *$%s*
💼 Open: *%d*`,
		status, b.mode,
		snap.Balance.StringFixed(2),
		snap.OpenPositions,
	))
}

func (b *TelegramBot) cmdStats() {
	snap := b.stats.Snapshot()

	winRate := float64(0)
	if snap.Trades > 0 {
		winRate = float64(snap.Wins) / float64(snap.Trades) * 100
	}

	sign := "+"
	if snap.TotalPnL.IsNegative() {
		sign = ""
	}

	b.sendMarkdown(fmt.Sprintf(`📈 *TRADING STATS*
━━━━━━━━━━━━━━━━━━━━

📊 Trades: *%d*
✅ Wins: *%d*
❌ Losses: *%d*
📈 Win Rate: *%.1f%%*

💵 P&L: *%s$%s*
💰 Balance: *$%s*`,
		snap.Trades, snap.Wins, snap.Losses, winRate,
		sign, snap.TotalPnL.StringFixed(2),
		snap.Balance.StringFixed(2),
	))
}

func (b *TelegramBot) cmdPositions() {
	open := b.stats.OpenPositions()
	if len(open) == 0 {
		b.send("💼 No open positions")
		return
	}

	var sb strings.Builder
	sb.WriteString("💼 *OPEN POSITIONS*\n━━━━━━━━━━━━━━━━━━━━\n")
	for _, p := range open {
		sb.WriteString(fmt.Sprintf("\n📊 %s %s @ %s¢ ($%s, z=%s)",
			p.Asset, p.Side,
			p.EntryPrice.Mul(decimal.NewFromInt(100)).StringFixed(1),
			p.Cost.StringFixed(2),
			p.EntryZScore.StringFixed(2),
		))
	}
	b.sendMarkdown(sb.String())
}

func (b *TelegramBot) cmdTrades() {
	if b.history == nil {
		b.send("📜 No trade journal configured")
		return
	}

	trades, err := b.history.RecentTrades(10)
	if err != nil {
		b.send("⚠️ Failed to load trades")
		return
	}
	if len(trades) == 0 {
		b.send("📜 No closed trades yet")
		return
	}

	var sb strings.Builder
	sb.WriteString("📜 *RECENT TRADES*\n━━━━━━━━━━━━━━━━━━━━\n")
	for _, t := range trades {
		emoji := "✅"
		sign := "+"
		if t.PnL.IsNegative() {
			emoji = "❌"
			sign = ""
		}
		sb.WriteString(fmt.Sprintf("\n%s %s %s %s$%s (%s)",
			emoji, t.Asset, t.Side, sign, t.PnL.StringFixed(2), t.ExitReason))
	}
	b.sendMarkdown(sb.String())
}

func (b *TelegramBot) send(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Telegram send failed")
	}
}

func (b *TelegramBot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Telegram send failed")
	}
}
