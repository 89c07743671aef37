package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/rebalancer/broker"
	"github.com/rustyeddy/rebalancer/config"
	"github.com/rustyeddy/rebalancer/fx"
	"github.com/rustyeddy/rebalancer/market"
	"github.com/rustyeddy/rebalancer/portfolio"
	"github.com/rustyeddy/rebalancer/rebalance"
	"github.com/rustyeddy/rebalancer/report"
	"github.com/rustyeddy/rebalancer/safety"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Produce a pre-trade report without placing orders",
	Long: `Blend the model portfolios, compare the target against current
holdings and print the drift table, sized trades and FX decision.

Example:
  rebalancer plan --config config.yaml --portfolios portfolios.yaml \
      --positions positions.yaml --quotes quotes.yaml --cash USD=10000`,
	RunE: runPlan,
}

var (
	planConfigPath     string
	planPortfoliosPath string
	planPositionsPath  string
	planQuotesPath     string
	planCashFlags      []string
	planOutputCSV      string
)

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringVarP(&planConfigPath, "config", "f", "", "path to config file (required)")
	planCmd.Flags().StringVar(&planPortfoliosPath, "portfolios", "", "model portfolios YAML (required)")
	planCmd.Flags().StringVar(&planPositionsPath, "positions", "", "current positions YAML")
	planCmd.Flags().StringVar(&planQuotesPath, "quotes", "", "quotes YAML (required)")
	planCmd.Flags().StringArrayVar(&planCashFlags, "cash", nil, "cash balance, e.g. USD=10000 (repeatable)")
	planCmd.Flags().StringVarP(&planOutputCSV, "output", "o", "", "also write the trade list as CSV")
	planCmd.MarkFlagRequired("config")
	planCmd.MarkFlagRequired("portfolios")
	planCmd.MarkFlagRequired("quotes")
}

// planContext is everything one planning pass produced.
type planContext struct {
	cfg     *config.Config
	target  portfolio.Target
	acct    broker.AccountValues
	quotes  map[string]market.Quote
	prices  map[string]float64
	snap    portfolio.Snapshot
	plan    rebalance.Plan
	fxPlan  fx.Plan
	funding string
}

func buildPlanContext(configPath, portfoliosPath, positionsPath, quotesPath string, cashFlags []string, now time.Time) (*planContext, error) {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, err
	}
	if err := safety.CheckKillSwitch(cfg.Safety.KillSwitchFile); err != nil {
		return nil, err
	}

	models, err := loadPortfolios(portfoliosPath)
	if err != nil {
		return nil, err
	}
	positions, err := loadPositions(positionsPath)
	if err != nil {
		return nil, err
	}
	quotes, err := loadQuotes(quotesPath, now)
	if err != nil {
		return nil, err
	}
	cash, err := parseCash(cashFlags)
	if err != nil {
		return nil, err
	}

	target, err := portfolio.Blend(models, cfg.Models, cfg.Rebalance.MaxLeverage)
	if err != nil {
		return nil, err
	}

	prices, err := resolvePrices(quotes, cfg.Pricing)
	if err != nil {
		return nil, err
	}
	acct, err := buildAccount(cfg, positions, prices, cash, quotes)
	if err != nil {
		return nil, err
	}
	snap, err := portfolio.ComputeSnapshot(acct, prices, cfg.Rebalance.CashBufferPct)
	if err != nil {
		return nil, err
	}

	funding := fundingCurrency(cfg, cash)
	var fxQuote *market.Quote
	if q, ok := quotes[cfg.FX.BaseCurrency+"."+funding]; ok {
		fxQuote = &q
	}

	plan, fxPlan, err := rebalance.PlanWithFX(target, acct, prices, funding, fxQuote, cfg.Rebalance, cfg.FX, now)
	if err != nil {
		return nil, err
	}

	return &planContext{
		cfg:     cfg,
		target:  target,
		acct:    acct,
		quotes:  quotes,
		prices:  prices,
		snap:    snap,
		plan:    plan,
		fxPlan:  fxPlan,
		funding: funding,
	}, nil
}

// fundingCurrency prefers the first configured currency with a balance.
func fundingCurrency(cfg *config.Config, cash map[string]float64) string {
	if len(cfg.FX.FundingCurrencies) == 0 {
		return "CAD"
	}
	for _, ccy := range cfg.FX.FundingCurrencies {
		if cash[strings.ToUpper(ccy)] > 0 {
			return strings.ToUpper(ccy)
		}
	}
	return strings.ToUpper(cfg.FX.FundingCurrencies[0])
}

func runPlan(cmd *cobra.Command, args []string) error {
	pc, err := buildPlanContext(planConfigPath, planPortfoliosPath, planPositionsPath, planQuotesPath, planCashFlags, time.Now().UTC())
	if err != nil {
		return err
	}

	fmt.Print(report.PreTrade(pc.target, pc.snap, pc.plan, pc.fxPlan))

	if planOutputCSV != "" {
		if err := report.WriteTradesCSV(pc.plan, planOutputCSV); err != nil {
			return err
		}
		fmt.Printf("\nTrade list written to %s\n", planOutputCSV)
	}
	return nil
}
