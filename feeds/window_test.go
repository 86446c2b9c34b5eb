package feeds

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAt(price float64, ts time.Time) Sample {
	return Sample{Asset: "BTC", Price: decimal.NewFromFloat(price), Timestamp: ts}
}

func TestWindowStatsInsufficientData(t *testing.T) {
	now := time.Now().UTC()
	w := NewWindow("BTC", 60*time.Second, 3)

	// 1. Empty window
	_, err := w.Stats()
	assert.ErrorIs(t, err, ErrInsufficientData)

	// 2. Below minSamples
	w.Insert(sampleAt(100, now))
	w.Insert(sampleAt(101, now.Add(time.Second)))
	_, err = w.Stats()
	assert.ErrorIs(t, err, ErrInsufficientData)

	// 3. Enough samples but all identical: stddev is zero, still an error,
	// never a division by zero downstream
	w2 := NewWindow("BTC", 60*time.Second, 3)
	for i := 0; i < 5; i++ {
		w2.Insert(sampleAt(100, now.Add(time.Duration(i)*time.Second)))
	}
	_, err = w2.Stats()
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestWindowStats(t *testing.T) {
	now := time.Now().UTC()
	w := NewWindow("BTC", 60*time.Second, 2)

	w.Insert(sampleAt(98, now))
	w.Insert(sampleAt(100, now.Add(time.Second)))
	w.Insert(sampleAt(102, now.Add(2*time.Second)))

	stats, err := w.Stats()
	require.NoError(t, err)

	// mean 100, sample variance (4+0+4)/2 = 4, stddev 2
	assert.True(t, stats.Mean.Equal(decimal.NewFromInt(100)), "mean = %s", stats.Mean)
	assert.True(t, stats.StdDev.Sub(decimal.NewFromInt(2)).Abs().LessThan(decimal.NewFromFloat(1e-9)),
		"stddev = %s", stats.StdDev)
	assert.Equal(t, 3, stats.Count)

	z := stats.ZScore(decimal.NewFromInt(106))
	assert.True(t, z.Sub(decimal.NewFromInt(3)).Abs().LessThan(decimal.NewFromFloat(1e-9)), "z = %s", z)
}

func TestWindowEviction(t *testing.T) {
	now := time.Now().UTC()
	w := NewWindow("BTC", 60*time.Second, 2)

	w.Insert(sampleAt(90, now))
	w.Insert(sampleAt(95, now.Add(30*time.Second)))
	assert.Equal(t, 2, w.Count())

	// Sample 61s after the first evicts it
	w.Insert(sampleAt(100, now.Add(61*time.Second)))
	assert.Equal(t, 2, w.Count())

	// Mean no longer includes the evicted 90
	stats, err := w.Stats()
	require.NoError(t, err)
	assert.True(t, stats.Mean.Equal(decimal.NewFromFloat(97.5)), "mean = %s", stats.Mean)
}

func TestWindowCurrent(t *testing.T) {
	now := time.Now().UTC()
	w := NewWindow("ETH", 60*time.Second, 2)

	price, ts := w.Current()
	assert.True(t, price.IsZero())
	assert.True(t, ts.IsZero())

	w.Insert(sampleAt(3000, now))
	w.Insert(sampleAt(3001, now.Add(time.Second)))

	price, ts = w.Current()
	assert.True(t, price.Equal(decimal.NewFromInt(3001)))
	assert.Equal(t, now.Add(time.Second), ts)
}

func TestStatsIdempotent(t *testing.T) {
	now := time.Now().UTC()
	w := NewWindow("BTC", 60*time.Second, 2)
	for i := 0; i < 10; i++ {
		w.Insert(sampleAt(100+float64(i%3), now.Add(time.Duration(i)*time.Second)))
	}

	first, err1 := w.Stats()
	second, err2 := w.Stats()
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.True(t, first.Mean.Equal(second.Mean))
	assert.True(t, first.StdDev.Equal(second.StdDev))
	assert.Equal(t, first.Count, second.Count)
}
