package pricing

import (
	"context"

	"github.com/rustyeddy/rebalancer/market"
)

// Source is the preferred starting point for resolving a planning price.
type Source string

const (
	SourceLast   Source = "last"
	SourceMid    Source = "midpoint"
	SourceBidAsk Source = "bidask"
)

func (s Source) Valid() bool {
	switch s {
	case SourceLast, SourceMid, SourceBidAsk:
		return true
	}
	return false
}

// SourceConfig controls planning-price resolution.
type SourceConfig struct {
	PriceSource        Source `yaml:"price_source"`
	FallbackToSnapshot bool   `yaml:"fallback_to_snapshot"`
}

// QuoteProvider supplies quotes and optional snapshot prices for symbols.
// The broker adapter and its sim double both satisfy it.
type QuoteProvider interface {
	Quote(ctx context.Context, symbol string) (market.Quote, error)
	// Snapshot returns a delayed snapshot price, if one is available.
	Snapshot(ctx context.Context, symbol string) (float64, bool)
}

// ResolvePrice picks a planning price from the quote, starting at the
// configured source and rotating through the remaining sources. A snapshot
// price is consulted only when the whole chain fails and the config allows
// it; otherwise a PricingError is returned rather than guessing.
func ResolvePrice(q market.Quote, cfg SourceConfig, snapshot func() (float64, bool)) (float64, error) {
	if !cfg.PriceSource.Valid() {
		return 0, &PricingError{Symbol: q.Symbol, Reason: "price_source must be last, midpoint or bidask"}
	}

	chain := []Source{SourceLast, SourceMid, SourceBidAsk}
	start := 0
	for i, s := range chain {
		if s == cfg.PriceSource {
			start = i
			break
		}
	}

	for i := 0; i < len(chain); i++ {
		switch chain[(start+i)%len(chain)] {
		case SourceLast:
			if q.HasLast() {
				return q.Last, nil
			}
		case SourceMid:
			if mid, err := q.Mid(); err == nil {
				return mid, nil
			}
		case SourceBidAsk:
			if q.HasBid() {
				return q.Bid, nil
			}
			if q.HasAsk() {
				return q.Ask, nil
			}
		}
	}

	if cfg.FallbackToSnapshot && snapshot != nil {
		if price, ok := snapshot(); ok {
			return price, nil
		}
	}
	return 0, &PricingError{Symbol: q.Symbol, Reason: "no usable price source"}
}
