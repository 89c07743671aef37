package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/rebalancer/market"
)

func TestResolvePrice(t *testing.T) {
	t.Parallel()
	now := time.Now()
	full := market.Quote{Symbol: "AAA", Bid: 99.95, Ask: 100.05, Last: 100.02, Time: now}

	tests := []struct {
		name string
		q    market.Quote
		cfg  SourceConfig
		want float64
	}{
		{"last preferred", full, SourceConfig{PriceSource: SourceLast}, 100.02},
		{"midpoint preferred", full, SourceConfig{PriceSource: SourceMid}, 100.00},
		{"bidask preferred", full, SourceConfig{PriceSource: SourceBidAsk}, 99.95},
		{
			"last missing rotates to mid",
			market.Quote{Symbol: "AAA", Bid: 99.95, Ask: 100.05, Time: now},
			SourceConfig{PriceSource: SourceLast},
			100.00,
		},
		{
			"one-sided book rotates to ask",
			market.Quote{Symbol: "AAA", Ask: 100.05, Time: now},
			SourceConfig{PriceSource: SourceBidAsk},
			100.05,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			price, err := ResolvePrice(tt.q, tt.cfg, nil)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, price, 1e-9)
		})
	}
}

func TestResolvePriceSnapshotFallback(t *testing.T) {
	t.Parallel()
	empty := market.Quote{Symbol: "AAA"}
	snap := func() (float64, bool) { return 98.70, true }

	price, err := ResolvePrice(empty, SourceConfig{PriceSource: SourceLast, FallbackToSnapshot: true}, snap)
	require.NoError(t, err)
	assert.InDelta(t, 98.70, price, 1e-9)

	// Without the fallback flag the snapshot is never consulted.
	_, err = ResolvePrice(empty, SourceConfig{PriceSource: SourceLast}, snap)
	var perr *PricingError
	assert.ErrorAs(t, err, &perr)
}

func TestResolvePriceInvalidSource(t *testing.T) {
	t.Parallel()
	_, err := ResolvePrice(market.Quote{Symbol: "AAA"}, SourceConfig{PriceSource: "vibes"}, nil)
	var perr *PricingError
	assert.ErrorAs(t, err, &perr)
}
