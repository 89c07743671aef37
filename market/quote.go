package market

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingBid  = errors.New("quote missing bid")
	ErrMissingAsk  = errors.New("quote missing ask")
	ErrCrossedBook = errors.New("quote bid exceeds ask")
)

// Quote is a point-in-time market quote. A zero Bid/Ask/Last means the side
// was not available from the provider.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	Last   float64
	Time   time.Time
}

func (q Quote) HasBid() bool  { return q.Bid > 0 }
func (q Quote) HasAsk() bool  { return q.Ask > 0 }
func (q Quote) HasLast() bool { return q.Last > 0 }

// Validate checks that both sides are present and the book is not crossed.
func (q Quote) Validate() error {
	if !q.HasBid() {
		return fmt.Errorf("%s: %w", q.Symbol, ErrMissingBid)
	}
	if !q.HasAsk() {
		return fmt.Errorf("%s: %w", q.Symbol, ErrMissingAsk)
	}
	if q.Bid > q.Ask {
		return fmt.Errorf("%s: %w: bid=%g ask=%g", q.Symbol, ErrCrossedBook, q.Bid, q.Ask)
	}
	return nil
}

// Mid returns the arithmetic mid price.
func (q Quote) Mid() (float64, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}
	return (q.Bid + q.Ask) / 2, nil
}

// Spread returns ask minus bid.
func (q Quote) Spread() float64 {
	return q.Ask - q.Bid
}

// SpreadBps returns the spread relative to the mid price in basis points.
func (q Quote) SpreadBps() (float64, error) {
	mid, err := q.Mid()
	if err != nil {
		return 0, err
	}
	if mid == 0 {
		return 0, nil
	}
	return ToBps(q.Spread() / mid), nil
}

// Age returns how old the quote is relative to now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Time)
}

// IsStale reports whether the quote is older than maxAge.
func (q Quote) IsStale(now time.Time, maxAge time.Duration) bool {
	return q.Age(now) > maxAge
}
