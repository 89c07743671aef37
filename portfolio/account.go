package portfolio

import (
	"math"
	"sort"

	"github.com/rustyeddy/rebalancer/broker"
)

// Snapshot is the normalised view of the account used for one planning
// pass. It is immutable once computed; the engine never revalidates it
// mid-pass.
type Snapshot struct {
	MarketValues map[string]float64 // per-symbol USD market value
	Weights      map[string]float64 // per-symbol weight of effective equity, plus CASH
	Cash         map[string]float64 // reported cash balances by currency
	Gross        float64            // sum of absolute asset exposure
	Net          float64            // net exposure including USD cash
	TotalEquity  float64            // net liquidation value
	Effective    float64            // equity available for allocation after the cash buffer
}

// USDCash returns the reported USD balance.
func (s Snapshot) USDCash() float64 { return s.Cash["USD"] }

// Symbols returns held symbols sorted for stable iteration.
func (s Snapshot) Symbols() []string {
	out := make([]string, 0, len(s.MarketValues))
	for symbol := range s.MarketValues {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// ComputeSnapshot derives the account snapshot from broker account values
// and per-symbol prices. cashBufferPct holds back that percentage of net
// liquidation value from the equity used for weights, so the buffer never
// gets allocated. Prices must be positive for every held symbol.
func ComputeSnapshot(acct broker.AccountValues, prices map[string]float64, cashBufferPct float64) (Snapshot, error) {
	cash := make(map[string]float64, len(acct.Cash))
	for ccy, amount := range acct.Cash {
		cash[ccy] = amount
	}
	usdCash := cash["USD"]

	marketValues := make(map[string]float64, len(acct.Positions))
	var netPos, grossPos float64
	for symbol, pos := range acct.Positions {
		if pos.Quantity == 0 {
			return Snapshot{}, &ValidationError{Reason: "zero quantity position for " + symbol}
		}
		price, ok := prices[symbol]
		if !ok {
			price = pos.LastPrice
		}
		if price <= 0 || math.IsNaN(price) {
			return Snapshot{}, &ValidationError{Reason: "invalid price for " + symbol}
		}
		value := pos.Quantity * price
		marketValues[symbol] = value
		netPos += value
		grossPos += math.Abs(value)
	}

	// NetLiq is the broker's all-currency figure; fall back to the USD view
	// when the adapter does not report one.
	totalEquity := acct.NetLiq
	if totalEquity == 0 {
		totalEquity = netPos + usdCash
	}
	buffer := totalEquity * cashBufferPct / 100
	effective := totalEquity - buffer
	if effective <= 0 {
		return Snapshot{}, &ValidationError{Reason: "account has no allocatable equity"}
	}

	weights := make(map[string]float64, len(marketValues)+1)
	for symbol, value := range marketValues {
		weights[symbol] = value / effective
	}
	weights[CashSymbol] = (usdCash - buffer) / effective

	return Snapshot{
		MarketValues: marketValues,
		Weights:      weights,
		Cash:         cash,
		Gross:        grossPos / effective,
		Net:          (netPos + usdCash - buffer) / effective,
		TotalEquity:  totalEquity,
		Effective:    effective,
	}, nil
}
