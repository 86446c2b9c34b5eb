package feeds

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CHAINLINK STANDBY FEED - On-chain oracle prices from Polygon
// ═══════════════════════════════════════════════════════════════════════════════
//
// Polymarket resolves its crypto windows against Chainlink, so the on-chain
// aggregators are the closest free source when Binance is unreachable. This
// feed polls latestRoundData and pushes into the sampler only while the
// primary feed reports disconnected.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Chainlink aggregator addresses on Polygon mainnet.
var aggregatorAddresses = map[string]string{
	"BTC": "0xc907E116054Ad103354f2D350FD2514433D57F6f",
	"ETH": "0xF9680D99D6C9589e2a93a78A04A279e509205945",
}

const aggregatorABI = `[
  {"inputs":[],"name":"latestRoundData","outputs":[
    {"internalType":"uint80","name":"roundId","type":"uint80"},
    {"internalType":"int256","name":"answer","type":"int256"},
    {"internalType":"uint256","name":"startedAt","type":"uint256"},
    {"internalType":"uint256","name":"updatedAt","type":"uint256"},
    {"internalType":"uint80","name":"answeredInRound","type":"uint80"}],
   "stateMutability":"view","type":"function"},
  {"inputs":[],"name":"decimals","outputs":[
    {"internalType":"uint8","name":"","type":"uint8"}],
   "stateMutability":"view","type":"function"}
]`

// ChainlinkFeed reads aggregator rounds for the tracked assets.
type ChainlinkFeed struct {
	mu      sync.Mutex
	client  *ethclient.Client
	parsed  abi.ABI
	assets  []string
	feeds   map[string]common.Address
	scale   map[string]decimal.Decimal // 10^decimals per asset
	running bool
	stopCh  chan struct{}

	sampler *Sampler
	// standby gates pushes: the feed only supplies prices while it
	// returns true (primary disconnected).
	standby func() bool

	pollInterval time.Duration
}

// NewChainlinkFeed dials the RPC endpoint and prepares aggregator bindings
// for every tracked asset that has a known feed address.
func NewChainlinkFeed(rpcURL string, assets []string, sampler *Sampler, standby func() bool) (*ChainlinkFeed, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial polygon rpc: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("parse aggregator abi: %w", err)
	}

	f := &ChainlinkFeed{
		client:       client,
		parsed:       parsed,
		sampler:      sampler,
		standby:      standby,
		feeds:        make(map[string]common.Address),
		scale:        make(map[string]decimal.Decimal),
		stopCh:       make(chan struct{}),
		pollInterval: 1 * time.Second,
	}

	for _, asset := range assets {
		addr, ok := aggregatorAddresses[asset]
		if !ok {
			log.Warn().Str("asset", asset).Msg("no Chainlink aggregator known, asset has no standby feed")
			continue
		}
		f.assets = append(f.assets, asset)
		f.feeds[asset] = common.HexToAddress(addr)
	}

	return f, nil
}

// Start resolves feed decimals and begins the polling loop.
func (f *ChainlinkFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = true
	f.mu.Unlock()

	for _, asset := range f.assets {
		dec, err := f.fetchDecimals(ctx, f.feeds[asset])
		if err != nil {
			// BTC/USD and ETH/USD aggregators both use 8
			dec = 8
			log.Warn().Err(err).Str("asset", asset).Msg("decimals() call failed, assuming 8")
		}
		f.scale[asset] = decimal.New(1, int32(dec))
	}

	go f.pollLoop()

	log.Info().Strs("assets", f.assets).Msg("⛓️ Chainlink standby feed started (Polygon)")
	return nil
}

// Stop halts polling.
func (f *ChainlinkFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)
	f.client.Close()
}

func (f *ChainlinkFeed) pollLoop() {
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			if f.standby != nil && !f.standby() {
				continue
			}
			f.fetchAll()
		}
	}
}

func (f *ChainlinkFeed) fetchAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	for _, asset := range f.assets {
		price, updatedAt, err := f.fetchRound(ctx, f.feeds[asset], f.scale[asset])
		if err != nil {
			log.Debug().Err(err).Str("asset", asset).Msg("Chainlink round fetch failed")
			continue
		}
		// Aggregators update on deviation or heartbeat, so a round a
		// few seconds behind spot is normal. Skip only rounds old
		// enough to be suspect, and stamp samples at observation time
		// so the window fills at poll rate instead of round rate.
		if now.Sub(updatedAt) > 5*time.Minute {
			log.Debug().Str("asset", asset).Time("updated_at", updatedAt).Msg("Chainlink round too old, skipping")
			continue
		}
		f.sampler.Push(asset, price, now)
	}
}

// fetchRound calls latestRoundData and scales the answer to a price.
func (f *ChainlinkFeed) fetchRound(ctx context.Context, feed common.Address, scale decimal.Decimal) (decimal.Decimal, time.Time, error) {
	data, err := f.parsed.Pack("latestRoundData")
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}

	raw, err := f.client.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: data}, nil)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}

	out, err := f.parsed.Unpack("latestRoundData", raw)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}
	if len(out) < 4 {
		return decimal.Zero, time.Time{}, fmt.Errorf("short latestRoundData response")
	}

	answer, ok := out[1].(*big.Int)
	if !ok || answer.Sign() <= 0 {
		return decimal.Zero, time.Time{}, fmt.Errorf("invalid aggregator answer")
	}
	updated, ok := out[3].(*big.Int)
	if !ok {
		return decimal.Zero, time.Time{}, fmt.Errorf("invalid updatedAt")
	}

	price := decimal.NewFromBigInt(answer, 0).Div(scale)
	return price, time.Unix(updated.Int64(), 0).UTC(), nil
}

func (f *ChainlinkFeed) fetchDecimals(ctx context.Context, feed common.Address) (uint8, error) {
	data, err := f.parsed.Pack("decimals")
	if err != nil {
		return 0, err
	}

	raw, err := f.client.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: data}, nil)
	if err != nil {
		return 0, err
	}

	out, err := f.parsed.Unpack("decimals", raw)
	if err != nil {
		return 0, err
	}
	dec, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("invalid decimals response")
	}
	return dec, nil
}
