package exec

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/rebalancer/broker"
	"github.com/rustyeddy/rebalancer/broker/sim"
	"github.com/rustyeddy/rebalancer/market"
	"github.com/rustyeddy/rebalancer/safety"
)

func seededEngine(opts sim.Options) *sim.Engine {
	e := sim.NewEngine(opts, zerolog.Nop())
	now := time.Now()
	e.AddContract(broker.Contract{Symbol: "USD.CAD", SecType: "CASH", Currency: "CAD", MinTick: market.PipSize})
	e.AddContract(broker.Contract{Symbol: "AAA", SecType: "STK", Currency: "USD", MinTick: 0.01})
	e.AddContract(broker.Contract{Symbol: "BBB", SecType: "STK", Currency: "USD", MinTick: 0.01})
	e.AddContract(broker.Contract{Symbol: "CCC", SecType: "STK", Currency: "USD", MinTick: 0.01})
	e.SetQuote(market.Quote{Symbol: "USD.CAD", Bid: 1.3498, Ask: 1.3502, Time: now})
	e.SetQuote(market.Quote{Symbol: "AAA", Bid: 100.00, Ask: 100.10, Time: now})
	e.SetQuote(market.Quote{Symbol: "BBB", Bid: 50.00, Ask: 50.10, Time: now})
	e.SetQuote(market.Quote{Symbol: "CCC", Bid: 9.95, Ask: 10.00, Time: now})
	return e
}

func order(symbol string, side broker.Side, qty, limit float64) broker.OrderRequest {
	return broker.OrderRequest{
		Contract:   broker.Contract{Symbol: symbol},
		Side:       side,
		Quantity:   qty,
		Type:       broker.Limit,
		LimitPrice: limit,
		TIF:        "DAY",
	}
}

func fxOrder() *broker.OrderRequest {
	req := order("USD.CAD", broker.Buy, 8016, 1.3502)
	return &req
}

func TestExecuteStagesInOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := seededEngine(sim.Options{})

	bundle := Bundle{
		FX:    fxOrder(),
		Sells: []broker.OrderRequest{order("AAA", broker.Sell, 10, 100.00)},
		Buys:  []broker.OrderRequest{order("BBB", broker.Buy, 20, 50.10)},
	}

	ex := New(engine, safety.Config{}, DefaultOptions(), zerolog.Nop())
	result, err := ex.Execute(ctx, bundle)
	require.NoError(t, err)
	require.Len(t, result.Fills, 3)
	assert.Empty(t, result.Canceled)

	// Funding completes before the first sell, and the sell before the buy.
	var sequence []string
	for _, ev := range engine.Events() {
		sequence = append(sequence, ev.Type+":"+ev.Symbol)
	}
	assert.Equal(t, []string{
		"placed:USD.CAD", "filled:USD.CAD",
		"placed:AAA", "filled:AAA",
		"placed:BBB", "filled:BBB",
	}, sequence)
}

func TestExecuteDryRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := seededEngine(sim.Options{})

	bundle := Bundle{
		FX:    fxOrder(),
		Sells: []broker.OrderRequest{order("AAA", broker.Sell, 10, 100.00)},
		Buys:  []broker.OrderRequest{order("BBB", broker.Buy, 20, 50.10)},
	}

	opts := DefaultOptions()
	opts.DryRun = true

	result, err := New(engine, safety.Config{}, opts, zerolog.Nop()).Execute(ctx, bundle)
	require.NoError(t, err)
	assert.Len(t, result.Planned, 3)
	assert.Empty(t, result.Fills)
	assert.Empty(t, engine.Events(), "dry run must not touch the broker")
}

func TestExecuteIdempotentRerun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := seededEngine(sim.Options{})

	sell := order("AAA", broker.Sell, 10, 100.00)
	buy := order("BBB", broker.Buy, 20, 50.10)
	bundle := Bundle{Sells: []broker.OrderRequest{sell}, Buys: []broker.OrderRequest{buy}}

	// A prior run filled everything; the ledger carries that forward.
	ledger := NewLedger()
	ledger.MarkFilled(sell.Key())
	ledger.MarkFilled(buy.Key())

	ex := New(engine, safety.Config{}, DefaultOptions(), zerolog.Nop()).WithLedger(ledger)
	result, err := ex.Execute(ctx, bundle)
	require.NoError(t, err)
	assert.Len(t, result.Skipped, 2)
	assert.Empty(t, result.Fills)
	assert.Empty(t, engine.Events(), "no orders may be re-placed")
}

func TestExecuteTimeoutCancelRescalesBuys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := seededEngine(sim.Options{})

	bundle := Bundle{
		Sells: []broker.OrderRequest{
			order("AAA", broker.Sell, 10, 100.00), // fills for 1000
			order("BBB", broker.Sell, 10, 60.00),  // never marketable
		},
		Buys:                 []broker.OrderRequest{order("CCC", broker.Buy, 9, 10.00)},
		ExpectedSellProceeds: 2000,
	}

	result, err := New(engine, safety.Config{}, DefaultOptions(), zerolog.Nop()).Execute(ctx, bundle)
	require.NoError(t, err)

	require.Len(t, result.Canceled, 1)
	assert.Equal(t, "BBB", result.Canceled[0].Contract.Symbol)

	// Realized 1000 of 2000 planned: the 9-share buy halves and floors to 4.
	var buyFill broker.Fill
	for _, fill := range result.Fills {
		if fill.Side == broker.Buy {
			buyFill = fill
		}
	}
	require.Equal(t, "CCC", buyFill.Contract.Symbol)
	assert.InDelta(t, 4, buyFill.Quantity, 1e-9)
}

func TestExecuteResumeAfterSellsFilled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := seededEngine(sim.Options{})

	sell := order("AAA", broker.Sell, 10, 100.00)
	buy := order("CCC", broker.Buy, 9, 10.00)
	bundle := Bundle{
		Sells:                []broker.OrderRequest{sell},
		Buys:                 []broker.OrderRequest{buy},
		ExpectedSellProceeds: 1000,
	}

	// The prior run filled the sell but died before the buys went out.
	ledger := NewLedger()
	ledger.MarkFilled(sell.Key())

	ex := New(engine, safety.Config{}, DefaultOptions(), zerolog.Nop()).WithLedger(ledger)
	result, err := ex.Execute(ctx, bundle)
	require.NoError(t, err)

	// The skipped sell's planned value counts as realized proceeds, so the
	// buy goes out at full size.
	require.Len(t, result.Skipped, 1)
	require.Len(t, result.Fills, 1)
	assert.Equal(t, "CCC", result.Fills[0].Contract.Symbol)
	assert.InDelta(t, 9, result.Fills[0].Quantity, 1e-9)

	placed := 0
	for _, ev := range engine.Events() {
		if ev.Type == "placed" && ev.Symbol == "CCC" {
			placed++
		}
	}
	assert.Equal(t, 1, placed, "the unfilled buy must be submitted on resume")
}

func TestExecuteRerunAfterRescaleSkipsBuy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := seededEngine(sim.Options{})

	bundle := Bundle{
		Sells: []broker.OrderRequest{
			order("AAA", broker.Sell, 10, 100.00), // fills for 1000
			order("BBB", broker.Sell, 10, 60.00),  // never marketable
		},
		Buys:                 []broker.OrderRequest{order("CCC", broker.Buy, 9, 10.00)},
		ExpectedSellProceeds: 2000,
	}

	first := New(engine, safety.Config{}, DefaultOptions(), zerolog.Nop())
	_, err := first.Execute(ctx, bundle)
	require.NoError(t, err)

	// Rerunning the same bundle with the carried-over ledger must not
	// duplicate the buy, even though it was rescaled before it filled.
	second := New(engine, safety.Config{}, DefaultOptions(), zerolog.Nop()).WithLedger(first.Ledger())
	result, err := second.Execute(ctx, bundle)
	require.NoError(t, err)

	for _, fill := range result.Fills {
		assert.NotEqual(t, broker.Buy, fill.Side, "buy re-submitted on rerun")
	}
	placed := 0
	for _, ev := range engine.Events() {
		if ev.Type == "placed" && ev.Symbol == "CCC" {
			placed++
		}
	}
	assert.Equal(t, 1, placed)
}

func TestExecuteTimeoutContinueLeavesOrdersWorking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := seededEngine(sim.Options{})

	opts := DefaultOptions()
	opts.OnTimeout = TimeoutContinue

	bundle := Bundle{Sells: []broker.OrderRequest{order("AAA", broker.Sell, 10, 120.00)}}

	result, err := New(engine, safety.Config{}, opts, zerolog.Nop()).Execute(ctx, bundle)
	require.NoError(t, err)
	assert.Empty(t, result.Canceled)
	assert.Equal(t, 1, engine.OpenOrders())
}

func TestExecutePacingRetries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var hookCalls int
	engine := seededEngine(sim.Options{
		ConcurrencyLimit: 1,
		PacingHook:       func(open int) { hookCalls++ },
	})

	// Two unmarketable sells in one batch: the second hits the broker's
	// pacing limit on every attempt.
	bundle := Bundle{
		Sells: []broker.OrderRequest{
			order("AAA", broker.Sell, 10, 120.00),
			order("BBB", broker.Sell, 10, 60.00),
		},
	}

	opts := DefaultOptions()
	opts.Concurrency = 2
	opts.MaxRetries = 3
	opts.Backoff = func(attempt int) time.Duration { return time.Duration(attempt) * time.Millisecond }

	var sleeps []time.Duration
	ex := New(engine, safety.Config{}, opts, zerolog.Nop())
	ex.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

	result, err := ex.Execute(ctx, bundle)
	require.ErrorIs(t, err, broker.ErrPacing)

	// Initial attempt plus three retries, each preceded by a backoff sleep.
	assert.Equal(t, 4, hookCalls)
	assert.Equal(t, []time.Duration{0, time.Millisecond, 2 * time.Millisecond}, sleeps)

	// The order that did get placed is canceled on abort.
	require.Len(t, result.Canceled, 1)
	assert.Equal(t, "AAA", result.Canceled[0].Contract.Symbol)
	assert.Zero(t, engine.OpenOrders())
}

func TestExecuteBatchesAvoidPacing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var hookCalls int
	engine := seededEngine(sim.Options{
		ConcurrencyLimit: 1,
		PacingHook:       func(open int) { hookCalls++ },
	})

	bundle := Bundle{
		Sells: []broker.OrderRequest{
			order("AAA", broker.Sell, 10, 100.00),
			order("BBB", broker.Sell, 10, 50.00),
		},
	}

	// Capping the executor at the broker's limit keeps placement clean.
	opts := DefaultOptions()
	opts.Concurrency = 1

	result, err := New(engine, safety.Config{}, opts, zerolog.Nop()).Execute(ctx, bundle)
	require.NoError(t, err)
	assert.Len(t, result.Fills, 2)
	assert.Zero(t, hookCalls)
}

func TestExecuteKillSwitchAborts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := seededEngine(sim.Options{})

	killFile := filepath.Join(t.TempDir(), "KILL_SWITCH")
	require.NoError(t, os.WriteFile(killFile, nil, 0o644))

	cfg := safety.Config{KillSwitchFile: killFile}
	bundle := Bundle{Sells: []broker.OrderRequest{order("AAA", broker.Sell, 10, 100.00)}}

	_, err := New(engine, cfg, DefaultOptions(), zerolog.Nop()).Execute(ctx, bundle)
	var serr *safety.SafetyError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "kill_switch", serr.Check)
	assert.Empty(t, engine.Events())
}

func TestExecuteLiveGates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := seededEngine(sim.Options{})

	opts := DefaultOptions()
	opts.Live = true

	// paper_only blocks live execution outright.
	_, err := New(engine, safety.Config{PaperOnly: true}, opts, zerolog.Nop()).Execute(ctx, Bundle{})
	var serr *safety.SafetyError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "paper_only", serr.Check)

	// Without consent the confirm gate holds.
	cfg := safety.Config{RequireConfirm: true}
	_, err = New(engine, cfg, opts, zerolog.Nop()).Execute(ctx, Bundle{})
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "consent", serr.Check)

	// Live also requires the account allow-list to match.
	engine.SetAccount(broker.AccountValues{Account: "DU999"})
	cfg = safety.Config{AllowedAccounts: []string{"DU111"}}
	opts.Consent = true
	_, err = New(engine, cfg, opts, zerolog.Nop()).Execute(ctx, Bundle{})
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "account", serr.Check)
}
