package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/rebalancer/broker"
	"github.com/rustyeddy/rebalancer/broker/sim"
	"github.com/rustyeddy/rebalancer/config"
	"github.com/rustyeddy/rebalancer/exec"
	"github.com/rustyeddy/rebalancer/journal"
	"github.com/rustyeddy/rebalancer/market"
	"github.com/rustyeddy/rebalancer/order"
	"github.com/rustyeddy/rebalancer/pkg/id"
	"github.com/rustyeddy/rebalancer/report"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Plan and execute a rebalance",
	Long: `Plan the rebalance and drive the resulting orders through the
broker: the funding conversion first, then sells, then buys. Paper runs
execute against the deterministic sim engine; live runs additionally
require --live --yes, the paper_only gate lifted and an allow-listed
account.

Example:
  rebalancer run --config config.yaml --portfolios portfolios.yaml \
      --positions positions.yaml --quotes quotes.yaml --cash USD=10000`,
	RunE: runRun,
}

var (
	runConfigPath     string
	runPortfoliosPath string
	runPositionsPath  string
	runQuotesPath     string
	runCashFlags      []string
	runReportOnly     bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (required)")
	runCmd.Flags().StringVar(&runPortfoliosPath, "portfolios", "", "model portfolios YAML (required)")
	runCmd.Flags().StringVar(&runPositionsPath, "positions", "", "current positions YAML")
	runCmd.Flags().StringVar(&runQuotesPath, "quotes", "", "quotes YAML (required)")
	runCmd.Flags().StringArrayVar(&runCashFlags, "cash", nil, "cash balance, e.g. USD=10000 (repeatable)")
	runCmd.Flags().BoolVar(&runReportOnly, "report-only", false, "generate reports without placing orders")
	runCmd.MarkFlagRequired("config")
	runCmd.MarkFlagRequired("portfolios")
	runCmd.MarkFlagRequired("quotes")
}

func runRun(cmd *cobra.Command, args []string) error {
	log := newLogger()
	now := time.Now().UTC()
	runID := id.New()

	pc, err := buildPlanContext(runConfigPath, runPortfoliosPath, runPositionsPath, runQuotesPath, runCashFlags, now)
	if err != nil {
		return err
	}

	fmt.Print(report.PreTrade(pc.target, pc.snap, pc.plan, pc.fxPlan))
	if runReportOnly {
		return nil
	}
	if pc.plan.Empty() && !pc.fxPlan.NeedFX {
		return nil
	}

	cfg := pc.cfg
	contracts := buildContracts(pc)

	sells, err := order.BuildEquityOrders(pc.plan.Sells, pc.quotes, contracts,
		cfg.Rebalance.OrderType, cfg.Limits, cfg.Rebalance.AllowFractional, cfg.Rebalance.PreferRTH, now)
	if err != nil {
		return err
	}
	buys, err := order.BuildEquityOrders(pc.plan.Buys, pc.quotes, contracts,
		cfg.Rebalance.OrderType, cfg.Limits, cfg.Rebalance.AllowFractional, cfg.Rebalance.PreferRTH, now)
	if err != nil {
		return err
	}

	bundle := exec.Bundle{
		Sells:                sells,
		Buys:                 buys,
		ExpectedSellProceeds: pc.plan.SellNotional,
	}
	if pc.fxPlan.NeedFX {
		fxReq, err := order.BuildFxOrder(pc.fxPlan, contracts[pc.fxPlan.Pair], cfg.Rebalance.PreferRTH)
		if err != nil {
			return err
		}
		bundle.FX = &fxReq
		bundle.FXWait = pc.fxPlan.WaitFill
	}

	// The live adapter is out of scope; paper runs execute against the sim.
	if flagLive {
		return fmt.Errorf("live trading requires a broker adapter; run with --paper")
	}
	engine := buildSimBroker(pc, contracts, log)

	opts := exec.Options{
		DryRun:      flagDryRun,
		Live:        flagLive,
		Consent:     flagYes,
		Concurrency: cfg.Exec.ConcurrencyCap,
		WaitForFill: time.Duration(cfg.Exec.WaitForFillSeconds) * time.Second,
		OnTimeout:   cfg.Exec.OnTimeout,
		MaxRetries:  cfg.Exec.MaxRetries,
	}
	executor := exec.New(engine, cfg.Safety, opts, log)

	result, err := executor.Execute(cmd.Context(), bundle)
	if err != nil {
		return err
	}
	fmt.Print(report.PostTrade(result))

	if flagDryRun {
		return nil
	}
	return journalRun(cfg, runID, result, now)
}

// buildContracts derives tradable contracts from the planned symbols.
func buildContracts(pc *planContext) map[string]broker.Contract {
	contracts := make(map[string]broker.Contract)
	for _, line := range pc.plan.Lines() {
		contracts[line.Symbol] = broker.Contract{
			Symbol:   line.Symbol,
			SecType:  "STK",
			Currency: "USD",
			Exchange: "SMART",
			MinTick:  0.01,
		}
	}
	if pc.fxPlan.NeedFX {
		contracts[pc.fxPlan.Pair] = broker.Contract{
			Symbol:   pc.fxPlan.Pair,
			SecType:  "CASH",
			Currency: pc.funding,
			Exchange: pc.fxPlan.Route,
			MinTick:  market.PipSize,
		}
	}
	return contracts
}

func buildSimBroker(pc *planContext, contracts map[string]broker.Contract, log zerolog.Logger) *sim.Engine {
	engine := sim.NewEngine(sim.Options{AllowMarketOrders: true}, log)
	engine.SetAccount(pc.acct)
	for _, c := range contracts {
		engine.AddContract(c)
	}
	for _, q := range pc.quotes {
		engine.SetQuote(q)
	}
	return engine
}

// journalRun persists the fill log for post-trade reporting.
func journalRun(cfg *config.Config, runID string, result exec.Result, now time.Time) error {
	var j journal.Journal
	var err error
	switch strings.ToLower(cfg.IO.JournalType) {
	case "sqlite":
		j, err = journal.NewSQLite(cfg.IO.JournalPath)
	default:
		base := strings.TrimSuffix(cfg.IO.JournalPath, ".csv")
		j, err = journal.NewCSV(base+".orders.csv", base+".fills.csv")
	}
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	for _, fill := range result.Fills {
		rec := journal.FillRecord{
			RunID:    runID,
			OrderID:  fill.OrderID,
			Symbol:   fill.Contract.Symbol,
			Side:     string(fill.Side),
			Quantity: fill.Quantity,
			Price:    fill.Price,
			Time:     fill.Time,
		}
		if rec.Time.IsZero() {
			rec.Time = now
		}
		if err := j.RecordFill(rec); err != nil {
			return fmt.Errorf("record fill: %w", err)
		}
	}
	for _, req := range result.Canceled {
		rec := journal.OrderRecord{
			RunID:      runID,
			OrderID:    id.New(),
			Stage:      stageOf(req),
			Symbol:     req.Contract.Symbol,
			Side:       string(req.Side),
			Quantity:   req.Quantity,
			OrderType:  string(req.Type),
			LimitPrice: req.LimitPrice,
			State:      broker.StateCanceled.String(),
			Time:       now,
		}
		if err := j.RecordOrder(rec); err != nil {
			return fmt.Errorf("record order: %w", err)
		}
	}
	return nil
}

func stageOf(req broker.OrderRequest) string {
	if req.Contract.IsFX() {
		return "fx"
	}
	if req.Side == broker.Sell {
		return "sell"
	}
	return "buy"
}
