package feeds

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInsufficientData is returned by Stats when the window holds too few
// samples (or zero spread) to compute a meaningful standard deviation.
var ErrInsufficientData = errors.New("window: insufficient data")

// Sample is a single immutable price observation.
type Sample struct {
	Asset     string
	Price     decimal.Decimal
	Timestamp time.Time
}

// WindowStats is the result of a Stats call over the current window.
type WindowStats struct {
	Mean   decimal.Decimal
	StdDev decimal.Decimal // sample standard deviation (n-1)
	Count  int
}

// ZScore computes how many standard deviations price sits from the mean.
// Callers must only invoke it on stats obtained from a successful Stats
// call, which guarantees a non-zero StdDev.
func (s WindowStats) ZScore(price decimal.Decimal) decimal.Decimal {
	return price.Sub(s.Mean).Div(s.StdDev)
}

// Window is a fixed-duration rolling buffer of price samples for one asset.
// Samples older than the lookback are evicted on insert; the sequence stays
// time-ordered. Mutated only by Insert, read by the signal engine.
type Window struct {
	mu         sync.RWMutex
	asset      string
	lookback   time.Duration
	minSamples int

	samples    []Sample
	current    decimal.Decimal
	lastUpdate time.Time
}

// NewWindow creates an empty rolling window.
func NewWindow(asset string, lookback time.Duration, minSamples int) *Window {
	return &Window{
		asset:      asset,
		lookback:   lookback,
		minSamples: minSamples,
		samples:    make([]Sample, 0, 512),
	}
}

// Insert appends a sample and evicts entries older than the lookback,
// measured from the new sample's timestamp.
func (w *Window) Insert(s Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.current = s.Price
	w.lastUpdate = s.Timestamp
	w.samples = append(w.samples, s)

	cutoff := s.Timestamp.Add(-w.lookback)
	i := 0
	for i < len(w.samples) && w.samples[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = w.samples[i:]
	}
}

// Current returns the latest price and its timestamp.
func (w *Window) Current() (decimal.Decimal, time.Time) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current, w.lastUpdate
}

// Count returns the number of samples currently in the window.
func (w *Window) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.samples)
}

// Stats computes mean and sample standard deviation over the window.
// Returns ErrInsufficientData when fewer than minSamples observations are
// present or when every sample is identical (stddev zero); it never
// divides by zero.
func (w *Window) Stats() (WindowStats, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	n := len(w.samples)
	if n < w.minSamples || n < 2 {
		return WindowStats{Count: n}, ErrInsufficientData
	}

	sum := decimal.Zero
	for _, s := range w.samples {
		sum = sum.Add(s.Price)
	}
	mean := sum.Div(decimal.NewFromInt(int64(n)))

	variance := decimal.Zero
	for _, s := range w.samples {
		diff := s.Price.Sub(mean)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.Div(decimal.NewFromInt(int64(n - 1)))

	stddev := sqrt(variance)
	if stddev.IsZero() {
		return WindowStats{Mean: mean, Count: n}, ErrInsufficientData
	}

	return WindowStats{Mean: mean, StdDev: stddev, Count: n}, nil
}

// sqrt calculates square root using Newton's method.
func sqrt(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() || d.IsNegative() {
		return decimal.Zero
	}

	x := d
	for i := 0; i < 20; i++ {
		x = x.Add(d.Div(x)).Div(decimal.NewFromInt(2))
	}
	return x
}
