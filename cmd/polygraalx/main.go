// PolyGraalX - Z-Score Mean Reversion Bot for Polymarket
//
// Samples BTC/ETH spot prices, computes a rolling z-score, and trades the
// 15-minute "above $X" prediction windows against statistical stretches:
//
// 1. Stream trade prices from Binance (Chainlink on-chain fallback)
// 2. Keep a rolling lookback window per asset
// 3. z >= +threshold: price stretched up, buy NO
//    z <= -threshold: price stretched down, buy YES
// 4. Exit when |z| falls back inside the exit band, or on forced close
//    (market expiry buffer, max hold duration)
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/polygraalx/polygraalx/bot"
	"github.com/polygraalx/polygraalx/core"
	"github.com/polygraalx/polygraalx/exec"
	"github.com/polygraalx/polygraalx/feeds"
	"github.com/polygraalx/polygraalx/internal/config"
	"github.com/polygraalx/polygraalx/markets"
	"github.com/polygraalx/polygraalx/metrics"
	"github.com/polygraalx/polygraalx/positions"
	"github.com/polygraalx/polygraalx/storage"
	"github.com/polygraalx/polygraalx/strategy"
)

const version = "1.0.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	mode := "LIVE"
	if cfg.PaperTrading {
		mode = "PAPER"
	}

	log.Info().
		Str("version", version).
		Str("mode", mode).
		Strs("assets", cfg.TradeAssets).
		Str("entry_z", cfg.EntryThreshold.String()).
		Str("exit_z", cfg.ExitThreshold.String()).
		Msg("⚡ PolyGraalX starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Trade journal
	journal, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open trade journal")
	}
	defer journal.Close()

	// Price pipeline
	sampler := feeds.NewSampler(cfg.TradeAssets, time.Duration(cfg.LookbackSeconds)*time.Second, cfg.MinSamples, cfg.StaleAfter)
	binanceFeed := feeds.NewBinanceFeed(cfg.BinanceWSURL, cfg.BinanceRESTURL, cfg.TradeAssets, sampler)
	binanceFeed.Start()
	defer binanceFeed.Stop()

	if cfg.PolygonRPCURL != "" {
		chainlinkFeed, err := feeds.NewChainlinkFeed(cfg.PolygonRPCURL, cfg.TradeAssets, sampler, func() bool {
			return !binanceFeed.Connected()
		})
		if err != nil {
			log.Error().Err(err).Msg("Chainlink fallback unavailable, continuing without it")
		} else {
			if err := chainlinkFeed.Start(ctx); err != nil {
				log.Error().Err(err).Msg("Chainlink fallback failed to start")
			} else {
				defer chainlinkFeed.Stop()
			}
		}
	}

	// Market discovery
	scanner := markets.NewScanner(markets.Config{
		BaseURL:         cfg.GammaAPIURL,
		Assets:          cfg.TradeAssets,
		ScanInterval:    cfg.ScanInterval,
		MinTimeToExpiry: time.Duration(cfg.MinTimeToExpiry) * time.Second,
		MaxTimeToExpiry: time.Duration(cfg.MaxTimeToExpiry) * time.Second,
	})
	scanner.Start()
	defer scanner.Stop()

	// Gateway
	var gateway exec.Gateway
	if cfg.PaperTrading {
		gateway = exec.NewPaperGateway(0)
	} else {
		gateway = exec.NewClobGateway(exec.ClobConfig{
			BaseURL:    cfg.CLOBURL,
			APIKey:     cfg.CLOBApiKey,
			APISecret:  cfg.CLOBApiSecret,
			Passphrase: cfg.CLOBPassphrase,
			Timeout:    cfg.GatewayTimeout,
		})
	}
	log.Info().Str("gateway", gateway.Name()).Msg("🚀 Gateway ready")

	tracker := positions.NewTracker(positions.Config{
		StartingBalance:      cfg.PaperBalance,
		BetAmount:            cfg.BetAmount,
		MaxPositions:         cfg.MaxPositions,
		Cooldown:             time.Duration(cfg.CooldownSeconds) * time.Second,
		MinCloseBuffer:       cfg.MinCloseBuffer,
		MaxHold:              cfg.MaxHoldDuration,
		GatewayTimeout:       cfg.GatewayTimeout,
		MaxConsecutiveLosses: cfg.MaxConsecutiveLosses,
	}, gateway, journal, nil)

	// Telegram (optional)
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := bot.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID, mode, tracker, journal)
		if err != nil {
			log.Error().Err(err).Msg("Telegram unavailable, continuing without it")
		} else {
			tracker.SetNotifier(tg)
			tg.Start()
			defer tg.Stop()
			tg.NotifyStartup(cfg.TradeAssets, cfg.PaperBalance)
		}
	}

	// Metrics endpoint
	metricsSrv := metrics.Serve(cfg.MetricsAddr)
	defer metricsSrv.Close()
	log.Info().Str("addr", cfg.MetricsAddr).Msg("📊 Metrics endpoint up")

	engine := core.NewEngine(core.Config{
		Assets:         cfg.TradeAssets,
		TickInterval:   cfg.TickInterval,
		StatusInterval: cfg.StatusInterval,
	}, sampler, strategy.NewEngine(cfg), tracker, scanner, journal)

	engine.Run(ctx)

	log.Info().Msg("👋 Goodbye!")
}
