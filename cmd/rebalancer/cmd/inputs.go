package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/rebalancer/broker"
	"github.com/rustyeddy/rebalancer/config"
	"github.com/rustyeddy/rebalancer/market"
	"github.com/rustyeddy/rebalancer/portfolio"
	"github.com/rustyeddy/rebalancer/pricing"
)

// quoteInput is the on-disk quote shape. Time defaults to now so canned
// files do not read as stale.
type quoteInput struct {
	Bid  float64 `yaml:"bid"`
	Ask  float64 `yaml:"ask"`
	Last float64 `yaml:"last"`
	Time string  `yaml:"time"`
}

func loadPortfolios(path string) (map[string]portfolio.ModelPortfolio, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read portfolios: %w", err)
	}
	models := make(map[string]portfolio.ModelPortfolio)
	if err := yaml.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("parse portfolios: %w", err)
	}
	return models, nil
}

func loadPositions(path string) (map[string]float64, error) {
	if path == "" {
		return map[string]float64{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	positions := make(map[string]float64)
	if err := yaml.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}
	return positions, nil
}

func loadQuotes(path string, now time.Time) (map[string]market.Quote, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quotes: %w", err)
	}
	raw := make(map[string]quoteInput)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse quotes: %w", err)
	}

	quotes := make(map[string]market.Quote, len(raw))
	for symbol, in := range raw {
		ts := now
		if in.Time != "" {
			ts, err = time.Parse(time.RFC3339, in.Time)
			if err != nil {
				return nil, fmt.Errorf("parse quote time for %s: %w", symbol, err)
			}
		}
		quotes[symbol] = market.Quote{Symbol: symbol, Bid: in.Bid, Ask: in.Ask, Last: in.Last, Time: ts}
	}
	return quotes, nil
}

// parseCash turns repeated --cash CCY=AMOUNT flags into balances.
func parseCash(flags []string) (map[string]float64, error) {
	cash := make(map[string]float64, len(flags))
	for _, flag := range flags {
		ccy, amount, ok := strings.Cut(flag, "=")
		if !ok {
			return nil, fmt.Errorf("cash flag %q must be CCY=AMOUNT", flag)
		}
		value, err := strconv.ParseFloat(amount, 64)
		if err != nil {
			return nil, fmt.Errorf("cash flag %q: %w", flag, err)
		}
		cash[strings.ToUpper(ccy)] = value
	}
	return cash, nil
}

// resolvePrices picks a planning price per symbol through the configured
// source chain.
func resolvePrices(quotes map[string]market.Quote, cfg pricing.SourceConfig) (map[string]float64, error) {
	prices := make(map[string]float64, len(quotes))
	for symbol, quote := range quotes {
		price, err := pricing.ResolvePrice(quote, cfg, nil)
		if err != nil {
			return nil, err
		}
		prices[symbol] = price
	}
	return prices, nil
}

// buildAccount assembles the broker account snapshot from CLI inputs. Net
// liquidation includes funding cash converted at the FX mid when a pair
// quote is present.
func buildAccount(cfg *config.Config, positions map[string]float64, prices map[string]float64, cash map[string]float64, quotes map[string]market.Quote) (broker.AccountValues, error) {
	acct := broker.AccountValues{
		Account:   cfg.Broker.Account,
		Cash:      cash,
		Positions: make(map[string]broker.Position, len(positions)),
	}

	netLiq := cash["USD"]
	for symbol, qty := range positions {
		price, ok := prices[symbol]
		if !ok {
			return broker.AccountValues{}, fmt.Errorf("no price for held symbol %s", symbol)
		}
		acct.Positions[symbol] = broker.Position{Quantity: qty, LastPrice: price}
		netLiq += qty * price
	}

	for _, ccy := range cfg.FX.FundingCurrencies {
		amount := cash[strings.ToUpper(ccy)]
		if amount == 0 {
			continue
		}
		pair := cfg.FX.BaseCurrency + "." + strings.ToUpper(ccy)
		if quote, ok := quotes[pair]; ok {
			if mid, err := quote.Mid(); err == nil && mid > 0 {
				netLiq += amount / mid
			}
		}
	}
	acct.NetLiq = netLiq
	return acct, nil
}
