// Package exec drives planned orders through the broker as a staged state
// machine: funding first, then sells, then buys. Safety gates run before
// the first placement and again before each stage, and a fill ledger makes
// reruns idempotent.
package exec

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/rebalancer/broker"
	"github.com/rustyeddy/rebalancer/safety"
)

// TimeoutPolicy decides what happens to orders still open when the fill
// wait expires. It applies uniformly to every order in a run.
type TimeoutPolicy string

const (
	// TimeoutCancel cancels unfilled orders.
	TimeoutCancel TimeoutPolicy = "cancel"
	// TimeoutContinue leaves them working and moves on.
	TimeoutContinue TimeoutPolicy = "continue"
)

// Options controls one execution run.
type Options struct {
	DryRun      bool
	Live        bool
	Consent     bool
	Concurrency int // max open orders per batch; default 5
	WaitForFill time.Duration
	OnTimeout   TimeoutPolicy
	MaxRetries  int // placement retries on provider/pacing errors
	Backoff     BackoffFunc
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Concurrency: 5,
		WaitForFill: 30 * time.Second,
		OnTimeout:   TimeoutCancel,
		MaxRetries:  3,
		Backoff:     ExponentialBackoff(100*time.Millisecond, 2*time.Second),
	}
}

// Bundle is the built order set for one run. FX may be nil.
type Bundle struct {
	FX     *broker.OrderRequest
	FXWait time.Duration // wait before dependent stages, from the FX plan
	Sells  []broker.OrderRequest
	Buys   []broker.OrderRequest
	// ExpectedSellProceeds is the planned sell notional; realized proceeds
	// below it rescale buys downward.
	ExpectedSellProceeds float64
}

// Result summarises a run.
type Result struct {
	Fills    []broker.Fill
	Canceled []broker.OrderRequest
	Skipped  []broker.OrderRequest // already filled per the ledger
	Planned  []broker.OrderRequest // dry-run only
}

// Executor owns the per-run order lifecycle. Each run gets its own
// instance; only the ledger survives across retries of the same plan.
type Executor struct {
	broker broker.Broker
	safety safety.Config
	opts   Options
	ledger *Ledger
	log    zerolog.Logger

	// sleep is swapped out in tests so backoff is observable without waiting.
	sleep func(time.Duration)

	open map[string]broker.OrderRequest // non-terminal orders by id
}

func New(b broker.Broker, safetyCfg safety.Config, opts Options, log zerolog.Logger) *Executor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.Backoff == nil {
		opts.Backoff = ExponentialBackoff(100*time.Millisecond, 2*time.Second)
	}
	if opts.OnTimeout == "" {
		opts.OnTimeout = TimeoutCancel
	}
	return &Executor{
		broker: b,
		safety: safetyCfg,
		opts:   opts,
		ledger: NewLedger(),
		log:    log.With().Str("component", "executor").Logger(),
		sleep:  time.Sleep,
		open:   make(map[string]broker.OrderRequest),
	}
}

// Ledger exposes the fill ledger so a rerun can resume with it.
func (e *Executor) Ledger() *Ledger { return e.ledger }

// WithLedger replaces the ledger, used when resuming a partially executed
// plan.
func (e *Executor) WithLedger(l *Ledger) *Executor {
	if l != nil {
		e.ledger = l
	}
	return e
}

// Execute runs the bundle through the staged sequence. Funding completes
// (or is confirmed skipped) before any sell is submitted, and all sells
// are submitted before any buy. A failed gate or stage cancels every order
// still working before returning.
func (e *Executor) Execute(ctx context.Context, bundle Bundle) (Result, error) {
	var result Result

	if err := e.gates(ctx); err != nil {
		return result, err
	}

	if e.opts.DryRun {
		if bundle.FX != nil {
			result.Planned = append(result.Planned, *bundle.FX)
		}
		result.Planned = append(result.Planned, bundle.Sells...)
		result.Planned = append(result.Planned, bundle.Buys...)
		e.log.Info().Int("orders", len(result.Planned)).Msg("dry run, nothing placed")
		return result, nil
	}

	// Stage 0: FX funding.
	if bundle.FX != nil {
		wait := e.opts.WaitForFill
		if bundle.FXWait > 0 {
			wait = bundle.FXWait
		}
		if err := e.runStage(ctx, "fx", []broker.OrderRequest{*bundle.FX}, wait, &result); err != nil {
			e.cancelOpen(ctx, &result)
			return result, err
		}
	}

	// Stage 1: sells.
	if err := e.gates(ctx); err != nil {
		e.cancelOpen(ctx, &result)
		return result, err
	}
	if err := e.runStage(ctx, "sell", bundle.Sells, e.opts.WaitForFill, &result); err != nil {
		e.cancelOpen(ctx, &result)
		return result, err
	}

	// Stage 2: buys, rescaled to realized proceeds when sells lagged.
	if err := e.gates(ctx); err != nil {
		e.cancelOpen(ctx, &result)
		return result, err
	}
	buys := e.rescaleBuys(bundle, result.Fills, result.Skipped)
	if err := e.runStage(ctx, "buy", buys, e.opts.WaitForFill, &result); err != nil {
		e.cancelOpen(ctx, &result)
		return result, err
	}

	return result, nil
}

// gates runs every safety check. They are re-checked before each stage so
// a kill switch dropped mid-run stops the next stage.
func (e *Executor) gates(ctx context.Context) error {
	if err := safety.CheckKillSwitch(e.safety.KillSwitchFile); err != nil {
		return err
	}
	if err := safety.CheckTradingMode(e.safety, e.opts.Live, e.opts.Consent); err != nil {
		return err
	}
	if e.opts.Live {
		acct, err := e.broker.GetAccountValues(ctx)
		if err != nil {
			return fmt.Errorf("account check: %w", err)
		}
		if err := safety.CheckAccount(e.safety, acct.Account, e.opts.Live); err != nil {
			return err
		}
	}
	return nil
}

// runStage submits requests in batches bounded by the concurrency cap,
// waits for fills after each batch, and applies the timeout policy to
// whatever stayed open.
func (e *Executor) runStage(ctx context.Context, stage string, reqs []broker.OrderRequest, wait time.Duration, result *Result) error {
	pending := make([]broker.OrderRequest, 0, len(reqs))
	for _, req := range reqs {
		if e.ledger.Filled(req.Key()) {
			e.log.Info().Str("stage", stage).Str("symbol", req.Contract.Symbol).Msg("already filled, skipping")
			result.Skipped = append(result.Skipped, req)
			continue
		}
		pending = append(pending, req)
	}

	for start := 0; start < len(pending); start += e.opts.Concurrency {
		end := start + e.opts.Concurrency
		if end > len(pending) {
			end = len(pending)
		}

		ids := make([]string, 0, end-start)
		byID := make(map[string]broker.OrderRequest, end-start)
		for _, req := range pending[start:end] {
			id, err := e.place(ctx, req)
			if err != nil {
				return fmt.Errorf("stage %s: %w", stage, err)
			}
			ids = append(ids, id)
			byID[id] = req
			e.open[id] = req
		}

		fills, err := e.broker.WaitForFills(ctx, ids, wait)
		if err != nil {
			return fmt.Errorf("stage %s wait: %w", stage, err)
		}
		filled := make(map[string]bool, len(fills))
		for _, fill := range fills {
			filled[fill.OrderID] = true
			delete(e.open, fill.OrderID)
			if req, ok := byID[fill.OrderID]; ok {
				e.ledger.MarkFilled(req.Key())
			}
			result.Fills = append(result.Fills, fill)
		}

		for _, id := range ids {
			if filled[id] {
				continue
			}
			switch e.opts.OnTimeout {
			case TimeoutCancel:
				if err := e.broker.Cancel(ctx, id); err != nil {
					return fmt.Errorf("stage %s cancel: %w", stage, err)
				}
				delete(e.open, id)
				result.Canceled = append(result.Canceled, byID[id])
			case TimeoutContinue:
				e.log.Warn().Str("stage", stage).Str("order_id", id).Msg("leaving unfilled order working")
			default:
				return fmt.Errorf("stage %s: unknown timeout policy %q", stage, e.opts.OnTimeout)
			}
		}
	}
	return nil
}

// place submits one request, retrying provider and pacing errors with the
// configured backoff until MaxRetries is exhausted.
func (e *Executor) place(ctx context.Context, req broker.OrderRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			e.sleep(e.opts.Backoff(attempt - 1))
		}
		id, err := e.broker.Place(ctx, req)
		if err == nil {
			return id, nil
		}
		lastErr = err

		var provErr *broker.ProviderError
		if !errors.Is(err, broker.ErrPacing) && !errors.As(err, &provErr) {
			return "", err
		}
		e.log.Warn().
			Str("symbol", req.Contract.Symbol).
			Int("attempt", attempt+1).
			Err(err).
			Msg("placement retry")
	}
	return "", fmt.Errorf("place %s %s qty=%g after %d retries: %w",
		req.Side, req.Contract.Symbol, req.Quantity, e.opts.MaxRetries, lastErr)
}

// rescaleBuys shrinks buy quantities when realized sell proceeds fell
// short of the plan. Sells the ledger skipped filled on an earlier run of
// the same plan, so their planned value counts as realized; otherwise a
// resume would starve the remaining buys. Whole-share buys stay whole.
func (e *Executor) rescaleBuys(bundle Bundle, fills []broker.Fill, skipped []broker.OrderRequest) []broker.OrderRequest {
	if bundle.ExpectedSellProceeds <= 0 || len(bundle.Buys) == 0 {
		return bundle.Buys
	}
	var realized float64
	for _, fill := range fills {
		if fill.Side == broker.Sell && !fill.Contract.IsFX() {
			realized += fill.Quantity * fill.Price
		}
	}
	for _, req := range skipped {
		if req.Side != broker.Sell || req.Contract.IsFX() {
			continue
		}
		if req.LimitPrice <= 0 {
			// A skipped market sell has no planned price to credit. Its
			// proceeds exist from the earlier run, so leave the buys alone.
			return bundle.Buys
		}
		realized += req.Quantity * req.LimitPrice
	}
	if realized >= bundle.ExpectedSellProceeds {
		return bundle.Buys
	}

	factor := realized / bundle.ExpectedSellProceeds
	scaled := make([]broker.OrderRequest, 0, len(bundle.Buys))
	for _, req := range bundle.Buys {
		qty := req.Quantity * factor
		if req.Quantity == math.Trunc(req.Quantity) {
			qty = math.Floor(qty)
		}
		if qty <= 0 {
			e.log.Warn().Str("symbol", req.Contract.Symbol).Msg("buy dropped after proceeds rescale")
			continue
		}
		req.Quantity = qty
		scaled = append(scaled, req)
	}
	e.log.Info().Float64("factor", factor).Msg("buys rescaled to realized proceeds")
	return scaled
}

// cancelOpen cancels every order still working for this run.
func (e *Executor) cancelOpen(ctx context.Context, result *Result) {
	for id, req := range e.open {
		if err := e.broker.Cancel(ctx, id); err != nil {
			e.log.Error().Str("order_id", id).Err(err).Msg("cancel on abort failed")
			continue
		}
		result.Canceled = append(result.Canceled, req)
		delete(e.open, id)
	}
}
