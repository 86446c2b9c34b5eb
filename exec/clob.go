package exec

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polygraalx/polygraalx/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CLOB GATEWAY - Market orders against the Polymarket CLOB API
// ═══════════════════════════════════════════════════════════════════════════════
//
// Sends fill-or-kill market orders authenticated with L2 API credentials
// (key, secret, passphrase). Order signing is handled by the operator's
// proxy wallet setup; this client only talks HTTP.
//
// ═══════════════════════════════════════════════════════════════════════════════

type ClobGateway struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	passphrase string
	httpClient *http.Client
}

type ClobConfig struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Passphrase string
	Timeout    time.Duration
}

func NewClobGateway(cfg ClobConfig) *ClobGateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &ClobGateway{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		passphrase: cfg.Passphrase,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (g *ClobGateway) Name() string { return "clob" }

type orderRequest struct {
	TokenID   string `json:"tokenID"`
	Side      string `json:"side"`
	Amount    string `json:"amount,omitempty"` // USDC for BUY
	Size      string `json:"size,omitempty"`   // shares for SELL
	OrderType string `json:"orderType"`
}

type orderResponse struct {
	OrderID      string `json:"orderID"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
}

// Open buys amount USDC of the outcome token at market.
func (g *ClobGateway) Open(ctx context.Context, asset string, side types.Side, tokenID string, amount decimal.Decimal) (*Fill, error) {
	order := orderRequest{
		TokenID:   tokenID,
		Side:      "BUY",
		Amount:    amount.StringFixed(2),
		OrderType: "FOK",
	}

	resp, err := g.placeOrder(ctx, order)
	if err != nil {
		return nil, err
	}

	// takingAmount is the shares received, makingAmount the USDC spent.
	shares, err := decimal.NewFromString(resp.TakingAmount)
	if err != nil || shares.IsZero() {
		return nil, fmt.Errorf("%w: no shares filled (order %s)", ErrRejected, resp.OrderID)
	}
	spent, err := decimal.NewFromString(resp.MakingAmount)
	if err != nil || spent.IsZero() {
		spent = amount
	}

	fill := &Fill{
		OrderID:   resp.OrderID,
		Shares:    shares,
		AvgPrice:  spent.Div(shares).Round(4),
		Notional:  spent,
		Timestamp: time.Now().UTC(),
	}

	log.Info().
		Str("order_id", fill.OrderID).
		Str("asset", asset).
		Str("side", string(side)).
		Str("price", fill.AvgPrice.StringFixed(4)).
		Str("shares", fill.Shares.StringFixed(4)).
		Msg("✅ Order filled")

	return fill, nil
}

// Close sells shares of the token at market.
func (g *ClobGateway) Close(ctx context.Context, positionID, tokenID string, shares decimal.Decimal) (*Fill, error) {
	order := orderRequest{
		TokenID:   tokenID,
		Side:      "SELL",
		Size:      shares.StringFixed(4),
		OrderType: "FOK",
	}

	resp, err := g.placeOrder(ctx, order)
	if err != nil {
		return nil, err
	}

	proceeds, err := decimal.NewFromString(resp.TakingAmount)
	if err != nil || proceeds.IsZero() {
		return nil, fmt.Errorf("%w: sell not filled (order %s)", ErrRejected, resp.OrderID)
	}

	fill := &Fill{
		OrderID:   resp.OrderID,
		Shares:    shares,
		AvgPrice:  proceeds.Div(shares).Round(4),
		Notional:  proceeds,
		Timestamp: time.Now().UTC(),
	}

	log.Info().
		Str("order_id", fill.OrderID).
		Str("position_id", positionID).
		Str("price", fill.AvgPrice.StringFixed(4)).
		Str("proceeds", fill.Notional.StringFixed(2)).
		Msg("✅ Position sold")

	return fill, nil
}

// Midpoint fetches the current mid price for a token.
func (g *ClobGateway) Midpoint(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	body, err := g.get(ctx, "/midpoint?token_id="+tokenID)
	if err != nil {
		return decimal.Zero, err
	}

	var result struct {
		Mid string `json:"mid"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return decimal.Zero, fmt.Errorf("parse midpoint: %w", err)
	}
	return decimal.NewFromString(result.Mid)
}

func (g *ClobGateway) placeOrder(ctx context.Context, order orderRequest) (*orderResponse, error) {
	body, err := g.post(ctx, "/order", order)
	if err != nil {
		if ctx.Err() != nil {
			// Deadline hit before a fill confirmation: treat as declined.
			return nil, fmt.Errorf("%w: %v", ErrRejected, ctx.Err())
		}
		return nil, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse order response: %w", err)
	}
	if !resp.Success || resp.ErrorMsg != "" {
		return nil, fmt.Errorf("%w: %s", ErrRejected, resp.ErrorMsg)
	}
	return &resp, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (g *ClobGateway) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", g.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	g.addHeaders(req, nil)
	return g.doRequest(req)
}

func (g *ClobGateway) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	g.addHeaders(req, jsonBody)
	return g.doRequest(req)
}

func (g *ClobGateway) addHeaders(req *http.Request, body []byte) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	req.Header.Set("POLY_API_KEY", g.apiKey)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", g.passphrase)

	if g.apiSecret != "" {
		message := timestamp + req.Method + req.URL.Path + string(body)
		req.Header.Set("POLY_SIGNATURE", g.hmacSign(message))
	}
}

func (g *ClobGateway) hmacSign(message string) string {
	key, err := base64.URLEncoding.DecodeString(g.apiSecret)
	if err != nil {
		key = []byte(g.apiSecret)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

func (g *ClobGateway) doRequest(req *http.Request) ([]byte, error) {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
