// Package portfolio defines model portfolios, the target blender and the
// account snapshot the rebalance engine plans against.
package portfolio

import (
	"fmt"
	"math"
	"sort"
)

// CashSymbol is the pseudo-symbol carrying a negative percentage when a
// model borrows on margin. It never becomes a tradable target.
const CashSymbol = "CASH"

// percentage sums must land within this of 100%.
const sumTolerance = 0.01

// ModelPortfolio maps symbol to a signed percentage of the model. Asset
// rows are positive; a single CASH row may be negative to indicate borrow.
type ModelPortfolio map[string]float64

// ValidationError reports invalid model or blend input. Nothing is executed
// once one is returned.
type ValidationError struct {
	Model  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("invalid model %s: %s", e.Model, e.Reason)
	}
	return fmt.Sprintf("invalid portfolio input: %s", e.Reason)
}

// Gross returns the sum of asset percentages, excluding CASH.
func (m ModelPortfolio) Gross() float64 {
	var gross float64
	for symbol, pct := range m {
		if symbol != CashSymbol {
			gross += pct
		}
	}
	return gross
}

// Validate enforces the model invariants: asset percentages sum to 100
// (with any CASH row included in that sum), CASH is strictly negative when
// present, and gross exposure stays within maxLeverage.
func (m ModelPortfolio) Validate(name string, maxLeverage float64) error {
	if len(m) == 0 {
		return &ValidationError{Model: name, Reason: "no holdings"}
	}

	gross := m.Gross()
	total := gross
	if cash, ok := m[CashSymbol]; ok {
		if cash >= 0 {
			return &ValidationError{Model: name, Reason: fmt.Sprintf("CASH must be negative, got %g", cash)}
		}
		total += cash
	}
	for symbol, pct := range m {
		if symbol != CashSymbol && pct < 0 {
			return &ValidationError{Model: name, Reason: fmt.Sprintf("short position %s=%g not supported", symbol, pct)}
		}
	}

	if math.Abs(total-100) > sumTolerance {
		return &ValidationError{Model: name, Reason: fmt.Sprintf("percentages sum to %.4f, want 100", total)}
	}
	if maxLeverage > 0 && gross > maxLeverage*100+sumTolerance {
		return &ValidationError{
			Model:  name,
			Reason: fmt.Sprintf("gross exposure %.2f%% exceeds leverage cap %.0f%%", gross, maxLeverage*100),
		}
	}
	return nil
}

// Symbols returns the model's symbols in sorted order, CASH excluded.
func (m ModelPortfolio) Symbols() []string {
	out := make([]string, 0, len(m))
	for symbol := range m {
		if symbol != CashSymbol {
			out = append(out, symbol)
		}
	}
	sort.Strings(out)
	return out
}
