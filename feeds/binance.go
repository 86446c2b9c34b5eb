package feeds

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BINANCE PRICE FEED - Real-time spot prices via WebSocket trade streams
// ═══════════════════════════════════════════════════════════════════════════════
//
// Primary price source for the engine. Streams raw trades for every tracked
// asset over a combined WebSocket stream; reconnects with exponential
// backoff and falls back to REST ticker polling while the socket is down.
//
// ═══════════════════════════════════════════════════════════════════════════════

const restPollInterval = 2 * time.Second

// BinanceFeed streams live trade prices for the tracked assets.
type BinanceFeed struct {
	mu        sync.Mutex
	wsURL     string
	restURL   string
	assets    []string
	conn      *websocket.Conn
	running   bool
	connected bool
	stopCh    chan struct{}

	// Delivery target; Push never blocks
	sampler *Sampler

	backoff *Backoff
}

// combinedStreamMsg is Binance's combined-stream envelope.
type combinedStreamMsg struct {
	Stream string `json:"stream"`
	Data   struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		Price     string `json:"p"`
		TradeTime int64  `json:"T"`
	} `json:"data"`
}

// NewBinanceFeed creates a feed delivering trade prices into the sampler.
func NewBinanceFeed(wsURL, restURL string, assets []string, sampler *Sampler) *BinanceFeed {
	return &BinanceFeed{
		wsURL:   wsURL,
		restURL: restURL,
		assets:  assets,
		sampler: sampler,
		stopCh:  make(chan struct{}),
		backoff: NewBackoff(1*time.Second, 60*time.Second),
	}
}

// Start connects the WebSocket and begins streaming.
func (f *BinanceFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.runWebSocket()

	log.Info().Strs("assets", f.assets).Msg("📈 Binance feed started")
}

// Stop closes the connection and halts reconnection attempts.
func (f *BinanceFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)
	if f.conn != nil {
		f.conn.Close()
	}
	log.Info().Msg("Binance feed stopped")
}

func (f *BinanceFeed) isRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Connected reports whether the WebSocket stream is currently live. Used
// by the Chainlink standby feed to decide when to take over.
func (f *BinanceFeed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *BinanceFeed) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

// streamURL builds the combined trade-stream URL, e.g.
// wss://stream.binance.com:9443/stream?streams=btcusdt@trade/ethusdt@trade
func (f *BinanceFeed) streamURL() string {
	streams := make([]string, 0, len(f.assets))
	for _, asset := range f.assets {
		streams = append(streams, strings.ToLower(Symbol(asset))+"@trade")
	}
	return fmt.Sprintf("%s/stream?streams=%s", f.wsURL, strings.Join(streams, "/"))
}

func (f *BinanceFeed) runWebSocket() {
	for f.isRunning() {
		if err := f.connect(); err != nil {
			delay := f.backoff.Next()
			log.Error().Err(err).
				Dur("retry_in", delay).
				Int("attempt", f.backoff.Attempts()).
				Msg("WebSocket connection failed, polling REST meanwhile")

			f.pollRESTUntil(delay)
			continue
		}

		f.backoff.Reset()
		f.setConnected(true)
		f.readMessages()
		f.setConnected(false)

		if f.isRunning() {
			log.Warn().Msg("WebSocket disconnected, reconnecting...")
		}
	}
}

func (f *BinanceFeed) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.Dial(f.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	log.Info().Str("url", f.wsURL).Msg("🔌 WebSocket connected to Binance")
	return nil
}

func (f *BinanceFeed) readMessages() {
	for f.isRunning() {
		_, message, err := f.conn.ReadMessage()
		if err != nil {
			if f.isRunning() {
				log.Error().Err(err).Msg("WebSocket read error")
			}
			return
		}
		f.handleMessage(message)
	}
}

func (f *BinanceFeed) handleMessage(data []byte) {
	var msg combinedStreamMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.Data.EventType != "trade" {
		return
	}

	price, err := decimal.NewFromString(msg.Data.Price)
	if err != nil || price.IsZero() {
		return
	}

	asset := AssetFromSymbol(msg.Data.Symbol)
	ts := time.UnixMilli(msg.Data.TradeTime).UTC()
	f.sampler.Push(asset, price, ts)
}

// pollRESTUntil fetches ticker prices over REST while the socket is down,
// so windows keep filling through short outages.
func (f *BinanceFeed) pollRESTUntil(d time.Duration) {
	deadline := time.Now().Add(d)
	ticker := time.NewTicker(restPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			if time.Now().After(deadline) {
				return
			}
			f.fetchRESTPrices()
		}
	}
}

func (f *BinanceFeed) fetchRESTPrices() {
	for _, asset := range f.assets {
		price, err := f.fetchRESTPrice(Symbol(asset))
		if err != nil {
			log.Debug().Err(err).Str("asset", asset).Msg("REST price fetch failed")
			continue
		}
		f.sampler.Push(asset, price, time.Now().UTC())
	}
}

func (f *BinanceFeed) fetchRESTPrice(symbol string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", f.restURL, symbol)

	resp, err := http.Get(url)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, err
	}

	var result struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return decimal.Zero, err
	}

	return decimal.NewFromString(result.Price)
}

// Symbol maps an asset name to its Binance spot symbol.
func Symbol(asset string) string {
	return strings.ToUpper(asset) + "USDT"
}

// AssetFromSymbol reverses Symbol, e.g. "BTCUSDT" -> "BTC".
func AssetFromSymbol(symbol string) string {
	return strings.TrimSuffix(strings.ToUpper(symbol), "USDT")
}
