// Package sim provides a deterministic in-memory Broker used by tests and
// dry runs. Limit orders fill when marketable against the configured quote
// (BUY at or above the ask, SELL at or below the bid); everything else stays
// open until canceled.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/rebalancer/broker"
	"github.com/rustyeddy/rebalancer/market"
	"github.com/rustyeddy/rebalancer/pkg/id"
)

var (
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrUnknownOrder  = errors.New("unknown order")
	ErrMarketBlocked = errors.New("market orders not allowed")
	ErrAlreadyClosed = errors.New("order already terminal")
	ErrNoQuote       = errors.New("no quote available")
	errBadQuantity   = errors.New("quantity must be positive")
)

// Event records a broker-side action for assertions on sequencing.
type Event struct {
	Type    string // "placed", "filled", "canceled"
	OrderID string
	Symbol  string
	Side    broker.Side
}

// Options configures the sim engine.
type Options struct {
	AllowMarketOrders bool
	// ConcurrencyLimit caps simultaneously open orders. Zero means no limit.
	ConcurrencyLimit int
	// PacingHook is invoked with the number of open orders whenever the
	// concurrency limit would be exceeded. Placement then fails with
	// broker.ErrPacing.
	PacingHook func(open int)
}

type simOrder struct {
	id    string
	req   broker.OrderRequest
	state broker.OrderState
}

// Engine is an in-memory broker double.
type Engine struct {
	mu        sync.Mutex
	opts      Options
	account   broker.AccountValues
	contracts map[string]broker.Contract
	quotes    map[string]market.Quote
	orders    map[string]*simOrder
	placed    []string // placement order, for deterministic fills
	events    []Event
	log       zerolog.Logger
}

func NewEngine(opts Options, log zerolog.Logger) *Engine {
	return &Engine{
		opts:      opts,
		contracts: make(map[string]broker.Contract),
		quotes:    make(map[string]market.Quote),
		orders:    make(map[string]*simOrder),
		log:       log.With().Str("component", "sim").Logger(),
	}
}

// SetAccount seeds the account snapshot returned by GetAccountValues.
func (e *Engine) SetAccount(acct broker.AccountValues) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.account = acct
}

// AddContract registers a resolvable contract.
func (e *Engine) AddContract(c broker.Contract) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.contracts[c.Symbol] = c
}

// SetQuote sets the current quote for a symbol.
func (e *Engine) SetQuote(q market.Quote) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.quotes[q.Symbol] = q
}

// Events returns a copy of the event log.
func (e *Engine) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, len(e.events))
	copy(out, e.events)
	return out
}

// OpenOrders returns the number of non-terminal orders.
func (e *Engine) OpenOrders() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openLocked()
}

func (e *Engine) openLocked() int {
	n := 0
	for _, o := range e.orders {
		if !o.state.Terminal() {
			n++
		}
	}
	return n
}

func (e *Engine) Resolve(ctx context.Context, symbol string) (broker.Contract, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.contracts[symbol]
	if !ok {
		return broker.Contract{}, &broker.ProviderError{Op: "resolve", Symbol: symbol, Err: ErrUnknownSymbol}
	}
	return c, nil
}

func (e *Engine) GetQuote(ctx context.Context, contract broker.Contract) (market.Quote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.quotes[contract.Symbol]
	if !ok {
		return market.Quote{}, &broker.ProviderError{Op: "quote", Symbol: contract.Symbol, Err: ErrNoQuote}
	}
	return q, nil
}

func (e *Engine) GetAccountValues(ctx context.Context) (broker.AccountValues, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account, nil
}

func (e *Engine) Place(ctx context.Context, req broker.OrderRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if req.Quantity <= 0 {
		return "", &broker.ProviderError{Op: "place", Symbol: req.Contract.Symbol, Err: errBadQuantity}
	}
	if req.Type == broker.Market && !e.opts.AllowMarketOrders {
		return "", &broker.ProviderError{Op: "place", Symbol: req.Contract.Symbol, Err: ErrMarketBlocked}
	}
	if _, ok := e.contracts[req.Contract.Symbol]; !ok {
		return "", &broker.ProviderError{Op: "place", Symbol: req.Contract.Symbol, Err: ErrUnknownSymbol}
	}

	if e.opts.ConcurrencyLimit > 0 && e.openLocked() >= e.opts.ConcurrencyLimit {
		if e.opts.PacingHook != nil {
			e.opts.PacingHook(e.openLocked())
		}
		return "", fmt.Errorf("place %s: %w", req.Contract.Symbol, broker.ErrPacing)
	}

	o := &simOrder{id: id.New(), req: req, state: broker.StateOpen}
	e.orders[o.id] = o
	e.placed = append(e.placed, o.id)
	e.events = append(e.events, Event{Type: "placed", OrderID: o.id, Symbol: req.Contract.Symbol, Side: req.Side})
	e.log.Info().
		Str("order_id", o.id).
		Str("symbol", req.Contract.Symbol).
		Str("side", string(req.Side)).
		Float64("quantity", req.Quantity).
		Float64("price", req.LimitPrice).
		Msg("order_placed")
	return o.id, nil
}

func (e *Engine) Cancel(ctx context.Context, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return &broker.ProviderError{Op: "cancel", Err: fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)}
	}
	if o.state.Terminal() {
		return fmt.Errorf("cancel %s: %w", orderID, ErrAlreadyClosed)
	}
	o.state = broker.StateCanceled
	e.events = append(e.events, Event{Type: "canceled", OrderID: o.id, Symbol: o.req.Contract.Symbol, Side: o.req.Side})
	e.log.Info().
		Str("order_id", o.id).
		Str("symbol", o.req.Contract.Symbol).
		Str("side", string(o.req.Side)).
		Float64("quantity", o.req.Quantity).
		Str("reason", "unfilled").
		Msg("order_canceled")
	return nil
}

// WaitForFills fills every marketable open order among orderIDs, in
// placement order, and returns the fills. Unmarketable orders remain open.
func (e *Engine) WaitForFills(ctx context.Context, orderIDs []string, timeout time.Duration) ([]broker.Fill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	want := make(map[string]bool, len(orderIDs))
	for _, oid := range orderIDs {
		if _, ok := e.orders[oid]; !ok {
			return nil, &broker.ProviderError{Op: "wait", Err: fmt.Errorf("%w: %s", ErrUnknownOrder, oid)}
		}
		want[oid] = true
	}

	var fills []broker.Fill
	for _, oid := range e.placed {
		if !want[oid] {
			continue
		}
		o := e.orders[oid]
		if o.state.Terminal() {
			continue
		}
		price, ok := e.fillPriceLocked(o.req)
		if !ok {
			continue
		}
		o.state = broker.StateFilled
		fill := broker.Fill{
			OrderID:  o.id,
			Contract: o.req.Contract,
			Side:     o.req.Side,
			Quantity: o.req.Quantity,
			Price:    price,
			Time:     e.quotes[o.req.Contract.Symbol].Time,
		}
		fills = append(fills, fill)
		e.events = append(e.events, Event{Type: "filled", OrderID: o.id, Symbol: o.req.Contract.Symbol, Side: o.req.Side})
		e.log.Info().
			Str("order_id", o.id).
			Str("symbol", o.req.Contract.Symbol).
			Str("side", string(o.req.Side)).
			Float64("quantity", o.req.Quantity).
			Float64("price", price).
			Msg("order_filled")
	}
	return fills, nil
}

// fillPriceLocked decides whether the order executes against the current
// quote and at what price.
func (e *Engine) fillPriceLocked(req broker.OrderRequest) (float64, bool) {
	q, ok := e.quotes[req.Contract.Symbol]
	if !ok {
		return 0, false
	}
	switch req.Type {
	case broker.Market:
		if req.Side == broker.Buy {
			return q.Ask, q.HasAsk()
		}
		return q.Bid, q.HasBid()
	case broker.Limit:
		if req.Side == broker.Buy {
			if q.HasAsk() && req.LimitPrice >= q.Ask {
				return q.Ask, true
			}
		} else {
			if q.HasBid() && req.LimitPrice <= q.Bid {
				return q.Bid, true
			}
		}
	}
	return 0, false
}
