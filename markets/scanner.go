// Package markets - Market Discovery
// Finds the active 15-minute crypto windows on Polymarket via the Gamma API
package markets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polygraalx/polygraalx/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET SCANNER
// ═══════════════════════════════════════════════════════════════════════════════
//
// Polls the Gamma API for active 15-minute "Bitcoin above $X" windows and
// keeps one tradeable market cached per asset. The tradeable window is
// bounded on both sides: too close to expiry and there is no time to exit,
// too far out and the window has not started trading yet.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Gamma tag for 15-minute crypto price markets.
const cryptoWindowTag = "102467"

var (
	strikeRe = regexp.MustCompile(`\$([0-9][0-9,]*(?:\.[0-9]+)?)`)
	windowRe = regexp.MustCompile(`(?i)15[\s-]*min`)
)

// assetPatterns maps question/slug substrings to tracked assets.
var assetPatterns = map[string][]string{
	"BTC": {"bitcoin", "btc"},
	"ETH": {"ethereum", "eth"},
}

// Config holds scanner tuning.
type Config struct {
	BaseURL         string
	Assets          []string
	ScanInterval    time.Duration
	MinTimeToExpiry time.Duration // skip markets expiring sooner than this
	MaxTimeToExpiry time.Duration // skip markets further out than this
}

// Scanner discovers and caches tradeable markets.
type Scanner struct {
	mu      sync.RWMutex
	cfg     Config
	current map[string]*types.Market // best market per asset
	running bool
	stopCh  chan struct{}

	httpClient *http.Client

	// apiDownSince suppresses repeated unreachable warnings.
	apiDownSince time.Time
}

func NewScanner(cfg Config) *Scanner {
	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = 10 * time.Second
	}
	if cfg.MinTimeToExpiry == 0 {
		cfg.MinTimeToExpiry = 2 * time.Minute
	}
	if cfg.MaxTimeToExpiry == 0 {
		cfg.MaxTimeToExpiry = 16 * time.Minute
	}
	return &Scanner{
		cfg:        cfg,
		current:    make(map[string]*types.Market),
		stopCh:     make(chan struct{}),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Start begins the scan loop.
func (s *Scanner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.scanLoop()
	log.Info().Strs("assets", s.cfg.Assets).Msg("🔍 Market scanner started")
}

// Stop halts scanning.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
}

// Current returns the cached tradeable market for an asset, or nil.
func (s *Scanner) Current(asset string) *types.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.current[asset]
	if m == nil || !m.Tradeable(time.Now().UTC(), s.cfg.MinTimeToExpiry) {
		return nil
	}
	return m
}

func (s *Scanner) scanLoop() {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	s.scan()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.scan()
		}
	}
}

func (s *Scanner) scan() {
	markets, err := s.fetchMarkets()
	if err != nil {
		s.noteUnreachable(err)
		return
	}
	s.noteReachable()

	now := time.Now().UTC()
	best := make(map[string]*types.Market)

	for _, m := range markets {
		ttl := m.EndTime.Sub(now)
		if ttl < s.cfg.MinTimeToExpiry || ttl > s.cfg.MaxTimeToExpiry {
			continue
		}
		// Prefer the market expiring soonest inside the window.
		if cur, ok := best[m.Asset]; !ok || m.EndTime.Before(cur.EndTime) {
			best[m.Asset] = m
		}
	}

	s.mu.Lock()
	for asset, m := range best {
		prev := s.current[asset]
		if prev == nil || prev.ID != m.ID {
			log.Info().
				Str("asset", asset).
				Str("strike", m.Strike.StringFixed(0)).
				Time("expires", m.EndTime).
				Str("question", m.Question).
				Msg("🎯 New market window")
		}
		s.current[asset] = m
	}
	s.mu.Unlock()
}

// noteUnreachable logs an API outage once, then stays quiet until the next
// five-minute mark so a long outage does not flood the log.
func (s *Scanner) noteUnreachable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if s.apiDownSince.IsZero() {
		s.apiDownSince = now
		log.Warn().Err(err).Msg("⚠️ Gamma API unreachable")
		return
	}
	if down := now.Sub(s.apiDownSince); down > 5*time.Minute {
		log.Warn().Dur("down", down).Msg("⚠️ Gamma API still unreachable")
		s.apiDownSince = now
	}
}

func (s *Scanner) noteReachable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.apiDownSince.IsZero() {
		log.Info().Msg("✅ Gamma API reachable again")
		s.apiDownSince = time.Time{}
	}
}

type gammaMarket struct {
	ID            string `json:"id"`
	ConditionID   string `json:"conditionId"`
	Question      string `json:"question"`
	Slug          string `json:"slug"`
	EndDate       string `json:"endDate"`
	ClobTokenIDs  string `json:"clobTokenIds"`  // JSON array string
	OutcomesRaw   string `json:"outcomes"`      // JSON array string, ["Yes","No"]
	Active        bool   `json:"active"`
	Closed        bool   `json:"closed"`
	AcceptingBids bool   `json:"acceptingOrders"`
}

func (s *Scanner) fetchMarkets() ([]*types.Market, error) {
	url := fmt.Sprintf("%s/markets?tag_id=%s&active=true&closed=false&limit=100", s.cfg.BaseURL, cryptoWindowTag)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
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

	var raw []gammaMarket
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse markets: %w", err)
	}

	var out []*types.Market
	for i := range raw {
		m, ok := s.parseMarket(&raw[i])
		if !ok {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// parseMarket turns a Gamma row into a tradeable market, or rejects it.
func (s *Scanner) parseMarket(g *gammaMarket) (*types.Market, bool) {
	if g.Closed || !g.Active || !g.AcceptingBids {
		return nil, false
	}

	text := g.Question + " " + g.Slug
	if !windowRe.MatchString(text) {
		return nil, false
	}

	asset := matchAsset(text, s.cfg.Assets)
	if asset == "" {
		return nil, false
	}

	strike := extractStrike(g.Question)
	if strike.IsZero() {
		return nil, false
	}

	endTime, err := time.Parse(time.RFC3339, g.EndDate)
	if err != nil {
		return nil, false
	}

	var tokenIDs []string
	if err := json.Unmarshal([]byte(g.ClobTokenIDs), &tokenIDs); err != nil || len(tokenIDs) < 2 {
		return nil, false
	}

	return &types.Market{
		ID:          g.ID,
		ConditionID: g.ConditionID,
		Question:    g.Question,
		Slug:        g.Slug,
		Asset:       asset,
		Strike:      strike,
		EndTime:     endTime.UTC(),
		TokenIDYes:  tokenIDs[0],
		TokenIDNo:   tokenIDs[1],
	}, true
}

// matchAsset finds which tracked asset a question refers to.
func matchAsset(text string, tracked []string) string {
	lower := strings.ToLower(text)
	for _, asset := range tracked {
		for _, pat := range assetPatterns[asset] {
			if strings.Contains(lower, pat) {
				return asset
			}
		}
	}
	return ""
}

// extractStrike pulls the strike price out of a question like
// "Bitcoin above $104,250.50 at 3:45 PM ET?".
func extractStrike(question string) decimal.Decimal {
	m := strikeRe.FindStringSubmatch(question)
	if len(m) < 2 {
		return decimal.Zero
	}
	cleaned := strings.ReplaceAll(m[1], ",", "")
	strike, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return strike
}
