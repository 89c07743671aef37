// Package report renders pre- and post-trade summaries for the operator.
// The core hands it plans and fills; persistence beyond these files is the
// journal's job.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rustyeddy/rebalancer/exec"
	"github.com/rustyeddy/rebalancer/fx"
	"github.com/rustyeddy/rebalancer/market"
	"github.com/rustyeddy/rebalancer/portfolio"
	"github.com/rustyeddy/rebalancer/rebalance"
)

// PreTrade renders the drift table, the sized trades and the FX decision.
func PreTrade(target portfolio.Target, snap portfolio.Snapshot, plan rebalance.Plan, fxPlan fx.Plan) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Equity: %.2f (allocatable %.2f)  gross %.2f%%  net %.2f%%\n\n",
		snap.TotalEquity, snap.Effective, snap.Gross*100, snap.Net*100)

	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tTARGET%\tCURRENT%\tDRIFT bps")
	for _, symbol := range unionSymbols(target, snap) {
		tw := target.Weights[symbol]
		cw := snap.Weights[symbol]
		fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%+.0f\n", symbol, tw*100, cw*100, market.ToBps(cw-tw))
	}
	w.Flush()

	fmt.Fprintf(&b, "\nTotal drift: %.0f bps\n", plan.TotalDriftBps)

	if fxPlan.NeedFX {
		fmt.Fprintf(&b, "\nFX: %s %s %.2f @ ~%.4f (%s): %s\n",
			fxPlan.Side, fxPlan.Pair, fxPlan.Qty, fxPlan.EstRate, fxPlan.OrderType, fxPlan.Reason)
	} else {
		fmt.Fprintf(&b, "\nFX: none (%s)\n", fxPlan.Reason)
	}

	if plan.Empty() {
		b.WriteString("\nNo trades required.\n")
	} else {
		b.WriteString("\nTrades (sells first):\n")
		w = tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SIDE\tSYMBOL\tSHARES\tEST PRICE\tNOTIONAL")
		for _, line := range plan.Lines() {
			fmt.Fprintf(w, "%s\t%s\t%g\t%.2f\t%.2f\n",
				line.Side, line.Symbol, line.Shares, line.EstPrice, line.Notional)
		}
		w.Flush()
	}

	if len(plan.Skipped) > 0 {
		b.WriteString("\nSkipped:\n")
		symbols := make([]string, 0, len(plan.Skipped))
		for symbol := range plan.Skipped {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
		for _, symbol := range symbols {
			fmt.Fprintf(&b, "  %s: %s\n", symbol, plan.Skipped[symbol])
		}
	}

	return b.String()
}

// PostTrade renders the fill and cancel summary of a run.
func PostTrade(result exec.Result) string {
	var b strings.Builder

	if len(result.Planned) > 0 {
		fmt.Fprintf(&b, "Dry run: %d orders planned, none placed.\n", len(result.Planned))
		return b.String()
	}

	fmt.Fprintf(&b, "Fills: %d  Canceled: %d  Skipped (already filled): %d\n",
		len(result.Fills), len(result.Canceled), len(result.Skipped))

	if len(result.Fills) > 0 {
		w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SIDE\tSYMBOL\tQTY\tPRICE\tNOTIONAL")
		for _, fill := range result.Fills {
			fmt.Fprintf(w, "%s\t%s\t%g\t%.4f\t%.2f\n",
				fill.Side, fill.Contract.Symbol, fill.Quantity, fill.Price, fill.Quantity*fill.Price)
		}
		w.Flush()
	}
	for _, req := range result.Canceled {
		fmt.Fprintf(&b, "canceled: %s %s qty=%g\n", req.Side, req.Contract.Symbol, req.Quantity)
	}

	return b.String()
}

// WriteTradesCSV writes the plan's trade lines for spreadsheet review.
func WriteTradesCSV(plan rebalance.Plan, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"side", "symbol", "shares", "est_price", "notional"}); err != nil {
		return err
	}
	for _, line := range plan.Lines() {
		record := []string{
			string(line.Side),
			line.Symbol,
			strconv.FormatFloat(line.Shares, 'f', -1, 64),
			strconv.FormatFloat(line.EstPrice, 'f', 2, 64),
			strconv.FormatFloat(line.Notional, 'f', 2, 64),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func unionSymbols(target portfolio.Target, snap portfolio.Snapshot) []string {
	seen := make(map[string]bool)
	for symbol := range target.Weights {
		seen[symbol] = true
	}
	for symbol := range snap.MarketValues {
		seen[symbol] = true
	}
	out := make([]string, 0, len(seen))
	for symbol := range seen {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}
