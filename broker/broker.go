package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/rebalancer/market"
)

// Broker is the connectivity surface the executor drives. Implementations
// are the live adapter and the deterministic sim engine used in tests.
type Broker interface {
	Resolve(ctx context.Context, symbol string) (Contract, error)
	GetQuote(ctx context.Context, contract Contract) (market.Quote, error)
	GetAccountValues(ctx context.Context) (AccountValues, error)
	Place(ctx context.Context, req OrderRequest) (string, error)
	Cancel(ctx context.Context, orderID string) error
	WaitForFills(ctx context.Context, orderIDs []string, timeout time.Duration) ([]Fill, error)
}

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

type OrderType string

const (
	Limit  OrderType = "LMT"
	Market OrderType = "MKT"
)

// Contract identifies a tradable instrument at the broker.
type Contract struct {
	Symbol   string
	SecType  string // "STK" or "CASH"
	Currency string
	Exchange string
	MinTick  float64
}

// IsFX reports whether the contract is a currency pair.
func (c Contract) IsFX() bool { return c.SecType == "CASH" }

// OrderRequest is an immutable, broker-agnostic order. Ownership transfers
// to the executor once built.
type OrderRequest struct {
	Contract   Contract
	Side       Side
	Quantity   float64
	Type       OrderType
	LimitPrice float64 // zero for market orders
	TIF        string
	Route      string
	RTH        bool
}

// Key identifies the planned trade line across runs; the executor's fill
// ledger uses it to skip already-filled lines on retry. Quantity is
// excluded: a mid-run proceeds rescale may shrink it, and the rescaled
// order must still be recognised as the same line.
func (r OrderRequest) Key() string {
	return fmt.Sprintf("%s|%s", r.Contract.Symbol, r.Side)
}

// OrderState tracks a placed order. Orders fill whole or not at all here;
// a live adapter reporting partial fills maps them to open until complete.
type OrderState int

const (
	StateOpen OrderState = iota
	StateFilled
	StateCanceled
	StateRejected
)

func (s OrderState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateFilled:
		return "filled"
	case StateCanceled:
		return "canceled"
	case StateRejected:
		return "rejected"
	}
	return fmt.Sprintf("OrderState(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s OrderState) Terminal() bool {
	return s == StateFilled || s == StateCanceled || s == StateRejected
}

// Fill reports a completed execution for a placed order.
type Fill struct {
	OrderID  string
	Contract Contract
	Side     Side
	Quantity float64
	Price    float64
	Time     time.Time
}

// Position is a single holding in the account.
type Position struct {
	Quantity  float64
	LastPrice float64
}

// AccountValues is the immutable snapshot of broker account state captured
// once per planning pass.
type AccountValues struct {
	Account   string
	NetLiq    float64
	Cash      map[string]float64 // by ISO currency code
	Positions map[string]Position
}

// ErrPacing signals the broker rate-limited a submission; the executor
// retries it with bounded backoff.
var ErrPacing = errors.New("pacing limit exceeded")

// ProviderError wraps failures surfaced by the broker adapter.
type ProviderError struct {
	Op     string
	Symbol string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("broker %s %s: %v", e.Op, e.Symbol, e.Err)
	}
	return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
