package sim

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/rebalancer/broker"
	"github.com/rustyeddy/rebalancer/market"
)

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e := NewEngine(opts, zerolog.Nop())
	e.AddContract(broker.Contract{Symbol: "AAA", SecType: "STK", Currency: "USD", MinTick: 0.01})
	e.SetQuote(market.Quote{Symbol: "AAA", Bid: 99.95, Ask: 100.05, Time: time.Now()})
	return e
}

func buyLimit(price float64) broker.OrderRequest {
	return broker.OrderRequest{
		Contract:   broker.Contract{Symbol: "AAA"},
		Side:       broker.Buy,
		Quantity:   10,
		Type:       broker.Limit,
		LimitPrice: price,
	}
}

func TestEngineFillsMarketableLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	oid, err := e.Place(ctx, buyLimit(100.05)) // at the ask
	require.NoError(t, err)

	fills, err := e.WaitForFills(ctx, []string{oid}, time.Second)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, oid, fills[0].OrderID)
	assert.InDelta(t, 100.05, fills[0].Price, 1e-9)
	assert.Zero(t, e.OpenOrders())

	events := e.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "placed", events[0].Type)
	assert.Equal(t, "filled", events[1].Type)
}

func TestEngineLeavesUnmarketableOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	oid, err := e.Place(ctx, buyLimit(99.00)) // below the ask
	require.NoError(t, err)

	fills, err := e.WaitForFills(ctx, []string{oid}, time.Second)
	require.NoError(t, err)
	assert.Empty(t, fills)
	assert.Equal(t, 1, e.OpenOrders())

	require.NoError(t, e.Cancel(ctx, oid))
	assert.Zero(t, e.OpenOrders())

	// A second cancel is an error, not a silent no-op.
	assert.ErrorIs(t, e.Cancel(ctx, oid), ErrAlreadyClosed)
}

func TestEngineSellFillsAtBid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	req := buyLimit(99.95)
	req.Side = broker.Sell

	oid, err := e.Place(ctx, req)
	require.NoError(t, err)
	fills, err := e.WaitForFills(ctx, []string{oid}, time.Second)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.InDelta(t, 99.95, fills[0].Price, 1e-9)
}

func TestEngineMarketOrders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	req := buyLimit(0)
	req.Type = broker.Market

	// Blocked unless enabled.
	e := newTestEngine(t, Options{})
	_, err := e.Place(ctx, req)
	assert.ErrorIs(t, err, ErrMarketBlocked)

	e = newTestEngine(t, Options{AllowMarketOrders: true})
	oid, err := e.Place(ctx, req)
	require.NoError(t, err)
	fills, err := e.WaitForFills(ctx, []string{oid}, time.Second)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.InDelta(t, 100.05, fills[0].Price, 1e-9) // buys lift the ask
}

func TestEnginePlaceValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	req := buyLimit(100)
	req.Quantity = 0
	_, err := e.Place(ctx, req)
	var perr *broker.ProviderError
	assert.ErrorAs(t, err, &perr)

	req = buyLimit(100)
	req.Contract.Symbol = "ZZZ"
	_, err = e.Place(ctx, req)
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestEnginePacing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var hookCalls int
	e := newTestEngine(t, Options{
		ConcurrencyLimit: 2,
		PacingHook:       func(open int) { hookCalls++ },
	})

	// Two unmarketable orders occupy the limit.
	_, err := e.Place(ctx, buyLimit(99.00))
	require.NoError(t, err)
	_, err = e.Place(ctx, buyLimit(99.01))
	require.NoError(t, err)

	_, err = e.Place(ctx, buyLimit(99.02))
	assert.ErrorIs(t, err, broker.ErrPacing)
	assert.Equal(t, 1, hookCalls)
}

func TestEngineFillOrderIsPlacementOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	first, err := e.Place(ctx, buyLimit(100.05))
	require.NoError(t, err)
	second, err := e.Place(ctx, buyLimit(100.06))
	require.NoError(t, err)

	// Wait on the reversed slice; fills still come back in placement order.
	fills, err := e.WaitForFills(ctx, []string{second, first}, time.Second)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, first, fills[0].OrderID)
	assert.Equal(t, second, fills[1].OrderID)
}
