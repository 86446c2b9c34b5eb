// Package config loads and validates all bot configuration from
// environment variables, plus an optional per-asset YAML override file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// AssetOverride carries per-asset threshold overrides. Zero values fall
// back to the global defaults. Resolved once at startup, never mutated.
type AssetOverride struct {
	EntryThreshold decimal.Decimal `yaml:"entry_threshold"`
	ExitThreshold  decimal.Decimal `yaml:"exit_threshold"`
}

// Config holds all configuration for the bot.
type Config struct {
	// Mode
	PaperTrading bool
	PaperBalance decimal.Decimal
	Debug        bool

	// Assets
	TradeAssets []string

	// Signal thresholds
	EntryThreshold decimal.Decimal // Z-score that triggers an entry
	ExitThreshold  decimal.Decimal // |Z| at or below which a position exits
	Overrides      map[string]AssetOverride

	// Rolling window
	LookbackSeconds int
	MinSamples      int
	StaleAfter      time.Duration

	// Position management
	BetAmount            decimal.Decimal
	MaxPositions         int
	CooldownSeconds      int
	MinCloseBuffer       time.Duration
	MaxHoldDuration      time.Duration
	MaxConsecutiveLosses int

	// Engine loop
	TickInterval   time.Duration
	StatusInterval time.Duration
	GatewayTimeout time.Duration

	// Market discovery
	GammaAPIURL     string
	MinTimeToExpiry int
	MaxTimeToExpiry int
	ScanInterval    time.Duration

	// Venue (live mode)
	CLOBURL        string
	CLOBApiKey     string
	CLOBApiSecret  string
	CLOBPassphrase string

	// Feeds
	BinanceWSURL   string
	BinanceRESTURL string
	PolygonRPCURL  string // enables the Chainlink fallback feed when set

	// Observability
	MetricsAddr    string
	TelegramToken  string
	TelegramChatID int64

	// Persistence
	DatabasePath string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		PaperTrading: getEnvBool("PAPER_TRADING", true),
		PaperBalance: getEnvDecimal("PAPER_BALANCE", decimal.NewFromFloat(100)),
		Debug:        getEnvBool("DEBUG", false),

		EntryThreshold: getEnvDecimal("ZSCORE_THRESHOLD", decimal.NewFromFloat(2.5)),
		ExitThreshold:  getEnvDecimal("EXIT_ZSCORE_THRESHOLD", decimal.NewFromFloat(0.5)),

		LookbackSeconds: getEnvInt("LOOKBACK_WINDOW", 60),
		MinSamples:      getEnvInt("MIN_SAMPLES", 30),
		StaleAfter:      getEnvDuration("FEED_STALE_AFTER", 15*time.Second),

		BetAmount:            getEnvDecimal("BET_AMOUNT_USDC", decimal.NewFromFloat(10)),
		MaxPositions:         getEnvInt("MAX_POSITIONS", 5),
		CooldownSeconds:      getEnvInt("COOLDOWN_SECONDS", 60),
		MinCloseBuffer:       getEnvDuration("FORCE_EXIT_BEFORE_EXPIRY", 120*time.Second),
		MaxHoldDuration:      getEnvDuration("MAX_HOLD_DURATION", 5*time.Minute),
		MaxConsecutiveLosses: getEnvInt("MAX_CONSECUTIVE_LOSSES", 5),

		TickInterval:   getEnvDuration("TICK_INTERVAL", 1*time.Second),
		StatusInterval: getEnvDuration("STATUS_INTERVAL", 30*time.Second),
		GatewayTimeout: getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),

		GammaAPIURL:     getEnv("POLYMARKET_API_URL", "https://gamma-api.polymarket.com"),
		MinTimeToExpiry: getEnvInt("MIN_TIME_TO_EXPIRY", 300),
		MaxTimeToExpiry: getEnvInt("MAX_TIME_TO_EXPIRY", 840),
		ScanInterval:    getEnvDuration("MARKET_SCAN_INTERVAL", 30*time.Second),

		CLOBURL:        getEnv("POLYMARKET_CLOB_URL", "https://clob.polymarket.com"),
		CLOBApiKey:     os.Getenv("CLOB_API_KEY"),
		CLOBApiSecret:  os.Getenv("CLOB_API_SECRET"),
		CLOBPassphrase: os.Getenv("CLOB_PASSPHRASE"),

		BinanceWSURL:   getEnv("BINANCE_WS_URL", "wss://stream.binance.com:9443"),
		BinanceRESTURL: getEnv("BINANCE_REST_URL", "https://api.binance.com"),
		PolygonRPCURL:  os.Getenv("POLYGON_RPC_URL"),

		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		DatabasePath: getEnv("DATABASE_PATH", "data/polygraalx.db"),
	}

	// Parse trade assets
	assetsStr := getEnv("TRADE_ASSETS", "BTC,ETH")
	for _, a := range strings.Split(assetsStr, ",") {
		a = strings.ToUpper(strings.TrimSpace(a))
		if a != "" {
			cfg.TradeAssets = append(cfg.TradeAssets, a)
		}
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	// Optional per-asset threshold overrides
	if path := os.Getenv("ASSET_CONFIG_FILE"); path != "" {
		overrides, err := LoadOverrides(path)
		if err != nil {
			return nil, fmt.Errorf("load asset overrides: %w", err)
		}
		cfg.Overrides = overrides
	}

	return cfg, nil
}

// LoadOverrides reads a YAML map of asset name to threshold overrides.
func LoadOverrides(path string) (map[string]AssetOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Assets map[string]AssetOverride `yaml:"assets"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	overrides := make(map[string]AssetOverride, len(raw.Assets))
	for asset, ov := range raw.Assets {
		overrides[strings.ToUpper(asset)] = ov
	}
	return overrides, nil
}

// Validate checks configuration invariants. An invalid combination is fatal
// at startup; the bot never silently proceeds on a broken config.
func (c *Config) Validate() error {
	if len(c.TradeAssets) == 0 {
		return fmt.Errorf("TRADE_ASSETS must name at least one asset")
	}
	if !c.EntryThreshold.IsPositive() {
		return fmt.Errorf("ZSCORE_THRESHOLD must be positive, got %s", c.EntryThreshold)
	}
	if !c.ExitThreshold.IsPositive() {
		return fmt.Errorf("EXIT_ZSCORE_THRESHOLD must be positive, got %s", c.ExitThreshold)
	}
	if c.ExitThreshold.GreaterThanOrEqual(c.EntryThreshold) {
		return fmt.Errorf("EXIT_ZSCORE_THRESHOLD (%s) must be below ZSCORE_THRESHOLD (%s)",
			c.ExitThreshold, c.EntryThreshold)
	}
	if !c.BetAmount.IsPositive() {
		return fmt.Errorf("BET_AMOUNT_USDC must be positive, got %s", c.BetAmount)
	}
	if c.MaxPositions < 1 {
		return fmt.Errorf("MAX_POSITIONS must be at least 1, got %d", c.MaxPositions)
	}
	if c.LookbackSeconds < 1 {
		return fmt.Errorf("LOOKBACK_WINDOW must be at least 1 second, got %d", c.LookbackSeconds)
	}
	if c.MinSamples < 2 {
		return fmt.Errorf("MIN_SAMPLES must be at least 2 (stddev undefined below), got %d", c.MinSamples)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive")
	}
	for asset, ov := range c.Overrides {
		entry := ov.EntryThreshold
		if entry.IsZero() {
			entry = c.EntryThreshold
		}
		exit := ov.ExitThreshold
		if exit.IsZero() {
			exit = c.ExitThreshold
		}
		if exit.GreaterThanOrEqual(entry) {
			return fmt.Errorf("asset %s: exit threshold (%s) must be below entry threshold (%s)",
				asset, exit, entry)
		}
	}
	if !c.PaperTrading && c.CLOBApiKey == "" {
		return fmt.Errorf("CLOB_API_KEY is required in live trading mode")
	}
	return nil
}

// Thresholds resolves the entry/exit thresholds for an asset, applying
// any per-asset override on top of the globals.
func (c *Config) Thresholds(asset string) (entry, exit decimal.Decimal) {
	entry, exit = c.EntryThreshold, c.ExitThreshold
	if ov, ok := c.Overrides[asset]; ok {
		if !ov.EntryThreshold.IsZero() {
			entry = ov.EntryThreshold
		}
		if !ov.ExitThreshold.IsZero() {
			exit = ov.ExitThreshold
		}
	}
	return entry, exit
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Bare integers are seconds, matching the original deployment envs
		if i, err := strconv.Atoi(value); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
