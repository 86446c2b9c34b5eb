package feeds

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrFeedStale marks an asset whose last sample is older than the staleness
// bound. The asset is excluded from signal evaluation until fresh data
// arrives; the condition is recoverable.
var ErrFeedStale = errors.New("feeds: price data stale")

// PriceUpdate is a price event queued by a feed goroutine.
type PriceUpdate struct {
	Asset     string
	Price     decimal.Decimal
	Timestamp time.Time
}

// Sampler owns the per-asset rolling windows and decouples asynchronous
// feed arrival from the synchronous tick loop: feed goroutines enqueue on
// a bounded channel via Push, the engine drains it at the top of each tick.
// Window mutation therefore happens on the tick goroutine only.
type Sampler struct {
	windows    map[string]*Window
	updates    chan PriceUpdate
	staleAfter time.Duration
}

// NewSampler creates a sampler tracking the given assets.
func NewSampler(assets []string, lookback time.Duration, minSamples int, staleAfter time.Duration) *Sampler {
	windows := make(map[string]*Window, len(assets))
	for _, asset := range assets {
		windows[asset] = NewWindow(asset, lookback, minSamples)
	}
	return &Sampler{
		windows:    windows,
		updates:    make(chan PriceUpdate, 4096),
		staleAfter: staleAfter,
	}
}

// Push enqueues a price update without blocking. Updates for untracked
// assets are ignored; when the queue is full the update is dropped, the
// next one supersedes it anyway.
func (s *Sampler) Push(asset string, price decimal.Decimal, ts time.Time) {
	if _, ok := s.windows[asset]; !ok {
		return
	}
	select {
	case s.updates <- PriceUpdate{Asset: asset, Price: price, Timestamp: ts}:
	default:
		log.Debug().Str("asset", asset).Msg("sampler queue full, dropping update")
	}
}

// Drain applies all queued updates to the windows and returns how many
// were applied per asset. Called once per tick by the engine goroutine.
func (s *Sampler) Drain() map[string]int {
	applied := make(map[string]int)
	for {
		select {
		case u := <-s.updates:
			s.windows[u.Asset].Insert(Sample{Asset: u.Asset, Price: u.Price, Timestamp: u.Timestamp})
			applied[u.Asset]++
		default:
			return applied
		}
	}
}

// Window returns the rolling window for an asset, or nil if untracked.
func (s *Sampler) Window(asset string) *Window {
	return s.windows[asset]
}

// Latest returns the last-known price for an asset, with ErrFeedStale when
// the sample is older than the staleness bound or no data has arrived yet.
func (s *Sampler) Latest(asset string, now time.Time) (decimal.Decimal, error) {
	w, ok := s.windows[asset]
	if !ok {
		return decimal.Zero, ErrFeedStale
	}
	price, ts := w.Current()
	if ts.IsZero() || now.Sub(ts) > s.staleAfter {
		return decimal.Zero, ErrFeedStale
	}
	return price, nil
}

// Fresh reports whether an asset has data within the staleness bound.
func (s *Sampler) Fresh(asset string, now time.Time) bool {
	_, err := s.Latest(asset, now)
	return err == nil
}

// Assets returns the tracked asset names.
func (s *Sampler) Assets() []string {
	out := make([]string, 0, len(s.windows))
	for a := range s.windows {
		out = append(out, a)
	}
	return out
}
