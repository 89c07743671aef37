// Package order maps sized trade lines and FX plans into broker-agnostic
// order requests, pricing equity lines through the limit pricer.
package order

import (
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/rebalancer/broker"
	"github.com/rustyeddy/rebalancer/fx"
	"github.com/rustyeddy/rebalancer/market"
	"github.com/rustyeddy/rebalancer/pricing"
	"github.com/rustyeddy/rebalancer/rebalance"
)

// BuildError reports a trade line that cannot become a valid order. The
// builder fails fast; it never emits a partial request.
type BuildError struct {
	Symbol string
	Reason string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build order %s: %s", e.Symbol, e.Reason)
}

const (
	defaultTIF   = "DAY"
	defaultRoute = "SMART"
)

// BuildEquityOrders prices and assembles one request per trade line. Limit
// lines go through the spread-aware pricer, which may escalate individual
// orders to market orders.
func BuildEquityOrders(
	lines []rebalance.TradeLine,
	quotes map[string]market.Quote,
	contracts map[string]broker.Contract,
	orderType broker.OrderType,
	limitCfg pricing.LimitConfig,
	allowFractional bool,
	preferRTH bool,
	now time.Time,
) ([]broker.OrderRequest, error) {
	requests := make([]broker.OrderRequest, 0, len(lines))

	for _, line := range lines {
		contract, ok := contracts[line.Symbol]
		if !ok {
			return nil, &BuildError{Symbol: line.Symbol, Reason: "no resolved contract"}
		}
		quote, ok := quotes[line.Symbol]
		if !ok {
			return nil, &BuildError{Symbol: line.Symbol, Reason: "no quote"}
		}
		if line.Shares == 0 {
			return nil, &BuildError{Symbol: line.Symbol, Reason: "zero quantity"}
		}

		quantity := math.Abs(line.Shares)
		if !allowFractional {
			quantity = math.Round(quantity)
			if quantity <= 0 {
				continue
			}
		}

		req := broker.OrderRequest{
			Contract: contract,
			Side:     line.Side,
			Quantity: quantity,
			Type:     orderType,
			TIF:      defaultTIF,
			Route:    defaultRoute,
			RTH:      preferRTH,
		}

		if orderType == broker.Limit {
			var lp pricing.LimitPrice
			var err error
			if line.Side == broker.Buy {
				lp, err = pricing.LimitBuy(quote, contract.MinTick, limitCfg, now)
			} else {
				lp, err = pricing.LimitSell(quote, contract.MinTick, limitCfg, now)
			}
			if err != nil {
				return nil, err
			}
			req.Type = lp.Type
			if lp.Type == broker.Limit {
				req.LimitPrice = lp.Price
			}
		}

		requests = append(requests, req)
	}

	return requests, nil
}

// BuildFxOrder assembles the funding order from an FX plan. Callers must
// check plan.NeedFX first; a no-conversion plan is a build error here.
func BuildFxOrder(plan fx.Plan, contract broker.Contract, preferRTH bool) (broker.OrderRequest, error) {
	if !plan.NeedFX {
		return broker.OrderRequest{}, &BuildError{Symbol: plan.Pair, Reason: "plan does not require conversion"}
	}

	qty := market.RoundCents(plan.Qty)
	if qty <= 0 {
		return broker.OrderRequest{}, &BuildError{Symbol: plan.Pair, Reason: "fx quantity must be positive"}
	}

	req := broker.OrderRequest{
		Contract: contract,
		Side:     plan.Side,
		Quantity: qty,
		Type:     plan.OrderType,
		TIF:      defaultTIF,
		Route:    plan.Route,
		RTH:      preferRTH,
	}

	if plan.OrderType == broker.Limit {
		if plan.LimitPrice <= 0 {
			return broker.OrderRequest{}, &BuildError{Symbol: plan.Pair, Reason: "limit price required for LMT fx order"}
		}
		tick := contract.MinTick
		if tick <= 0 {
			tick = market.PipSize
		}
		req.LimitPrice = market.RoundToPip(market.RoundToTick(plan.LimitPrice, tick))
	}

	return req, nil
}
