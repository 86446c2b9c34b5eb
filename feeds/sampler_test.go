package feeds

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSamplerPushDrain(t *testing.T) {
	now := time.Now().UTC()
	s := NewSampler([]string{"BTC", "ETH"}, 60*time.Second, 2, 15*time.Second)

	s.Push("BTC", decimal.NewFromInt(100000), now)
	s.Push("BTC", decimal.NewFromInt(100100), now.Add(time.Second))
	s.Push("ETH", decimal.NewFromInt(3000), now)

	// Nothing reaches a window until the engine drains
	assert.Equal(t, 0, s.Window("BTC").Count())

	applied := s.Drain()
	assert.Equal(t, 2, applied["BTC"])
	assert.Equal(t, 1, applied["ETH"])
	assert.Equal(t, 2, s.Window("BTC").Count())
	assert.Equal(t, 1, s.Window("ETH").Count())

	// Second drain is empty
	assert.Empty(t, s.Drain())
}

func TestSamplerIgnoresUntrackedAsset(t *testing.T) {
	s := NewSampler([]string{"BTC"}, 60*time.Second, 2, 15*time.Second)

	s.Push("DOGE", decimal.NewFromFloat(0.1), time.Now().UTC())
	assert.Empty(t, s.Drain())
	assert.Nil(t, s.Window("DOGE"))
}

func TestSamplerLatestStaleness(t *testing.T) {
	now := time.Now().UTC()
	s := NewSampler([]string{"BTC"}, 60*time.Second, 2, 15*time.Second)

	// 1. No data yet
	_, err := s.Latest("BTC", now)
	assert.ErrorIs(t, err, ErrFeedStale)

	s.Push("BTC", decimal.NewFromInt(100000), now)
	s.Drain()

	// 2. Fresh sample
	price, err := s.Latest("BTC", now.Add(5*time.Second))
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(100000)))

	// 3. Past the staleness bound
	_, err = s.Latest("BTC", now.Add(16*time.Second))
	assert.ErrorIs(t, err, ErrFeedStale)

	// 4. Untracked asset
	_, err = s.Latest("SOL", now)
	assert.ErrorIs(t, err, ErrFeedStale)
}

func TestSamplerDropsWhenFull(t *testing.T) {
	now := time.Now().UTC()
	s := NewSampler([]string{"BTC"}, 60*time.Second, 2, 15*time.Second)

	// Overfill the queue; Push must never block
	for i := 0; i < 5000; i++ {
		s.Push("BTC", decimal.NewFromInt(int64(100000+i)), now.Add(time.Duration(i)*time.Millisecond))
	}

	applied := s.Drain()
	assert.LessOrEqual(t, applied["BTC"], 4096)
	assert.Greater(t, applied["BTC"], 0)
}
