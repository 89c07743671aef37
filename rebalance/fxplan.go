package rebalance

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/rebalancer/broker"
	"github.com/rustyeddy/rebalancer/fx"
	"github.com/rustyeddy/rebalancer/market"
	"github.com/rustyeddy/rebalancer/portfolio"
)

// PlanWithFX plans equity trades together with any funding conversion.
//
// Sizing runs in two passes. The first pass pretends the funding cash is
// already converted so desired buys are sized at full strength, which
// determines the real USD need. The FX planner then sizes the conversion
// just-in-time, and the final pass re-plans with only the cash the
// conversion actually raises. Both passes see the same frozen snapshot
// inputs.
func PlanWithFX(
	target portfolio.Target,
	acct broker.AccountValues,
	prices map[string]float64,
	fundingCurrency string,
	fxQuote *market.Quote,
	cfg Config,
	fxCfg fx.Config,
	now time.Time,
) (Plan, fx.Plan, error) {
	fundingCurrency = strings.ToUpper(fundingCurrency)
	allowed := false
	for _, c := range fxCfg.FundingCurrencies {
		if strings.EqualFold(c, fundingCurrency) {
			allowed = true
			break
		}
	}
	if !allowed {
		return Plan{}, fx.Plan{}, &portfolio.ValidationError{
			Reason: fmt.Sprintf("unsupported funding currency %s", fundingCurrency),
		}
	}
	fundingCash := acct.Cash[fundingCurrency]
	pair := fxCfg.BaseCurrency + "." + fundingCurrency

	// First pass: size buys as if funding cash were USD already.
	provisional, err := planWithExtraCash(target, acct, prices, fundingCash, cfg)
	if err != nil {
		return Plan{}, fx.Plan{}, err
	}

	buffer := acct.NetLiq * cfg.CashBufferPct / 100
	usdAfterSells := acct.Cash["USD"] - buffer + provisional.SellNotional

	fxPlan := fx.Plan{
		Pair:      pair,
		Side:      broker.Buy,
		OrderType: fxCfg.OrderType,
		Route:     fxCfg.Route,
		WaitFill:  time.Duration(fxCfg.WaitForFillSeconds) * time.Second,
		Reason:    "sufficient USD cash",
	}
	if !fxCfg.Enabled {
		fxPlan.Reason = "fx disabled"
	}

	needFX := fxCfg.Enabled &&
		(provisional.BuyNotional > usdAfterSells || fxCfg.ConvertMode == fx.ConvertAlwaysTopUp)
	if needFX {
		usdNeeded := provisional.BuyNotional
		if fxCfg.ConvertMode == fx.ConvertAlwaysTopUp && usdNeeded < fxCfg.MinOrderUSD {
			usdNeeded = fxCfg.MinOrderUSD
		}
		fxPlan, err = fx.PlanConversion(usdNeeded, usdAfterSells, fundingCash, fundingCurrency, fxQuote, fxCfg, now)
		if err != nil {
			return Plan{}, fx.Plan{}, err
		}
	}

	// Final pass: only the raised USD participates.
	final, err := planWithExtraCash(target, acct, prices, fxPlan.Notional, cfg)
	if err != nil {
		return Plan{}, fx.Plan{}, err
	}
	return final, fxPlan, nil
}

func planWithExtraCash(target portfolio.Target, acct broker.AccountValues, prices map[string]float64, extraUSD float64, cfg Config) (Plan, error) {
	adjusted := broker.AccountValues{
		Account:   acct.Account,
		NetLiq:    acct.NetLiq,
		Cash:      make(map[string]float64, len(acct.Cash)),
		Positions: acct.Positions,
	}
	for ccy, amount := range acct.Cash {
		adjusted.Cash[ccy] = amount
	}
	// A conversion moves cash between currencies; net liquidation value is
	// unchanged.
	adjusted.Cash["USD"] += extraUSD

	snap, err := portfolio.ComputeSnapshot(adjusted, prices, cfg.CashBufferPct)
	if err != nil {
		return Plan{}, err
	}
	return BuildPlan(target, snap, prices, cfg)
}
