package portfolio

import (
	"fmt"
	"math"
	"sort"
)

// mix weights must sum to 1 within this.
const mixTolerance = 0.001

// Target is the blended allocation the engine rebalances toward. Weights
// are fractions of net asset value and never include CASH; a borrowing
// blend is reflected in CashWeight (negative) and Gross above 1.
type Target struct {
	Weights    map[string]float64
	CashWeight float64
	Gross      float64
	Net        float64
}

// Symbols returns the target symbols sorted for stable iteration.
func (t Target) Symbols() []string {
	out := make([]string, 0, len(t.Weights))
	for symbol := range t.Weights {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Blend combines the named model portfolios by their mix weights into a
// single Target. Each model is validated against maxLeverage first, and the
// blended result is normalised so net exposure is exactly 1.
func Blend(models map[string]ModelPortfolio, mix map[string]float64, maxLeverage float64) (Target, error) {
	var mixTotal float64
	for _, w := range mix {
		mixTotal += w
	}
	if math.Abs(mixTotal-1) > mixTolerance {
		return Target{}, &ValidationError{Reason: fmt.Sprintf("model mix weights sum to %.4f, want 1.0", mixTotal)}
	}

	// Deterministic model order so float accumulation is reproducible.
	names := make([]string, 0, len(mix))
	for name := range mix {
		names = append(names, name)
	}
	sort.Strings(names)

	contributions := make(map[string]float64)
	for _, name := range names {
		model, ok := models[name]
		if !ok {
			return Target{}, &ValidationError{Model: name, Reason: "no portfolio loaded for model"}
		}
		if err := model.Validate(name, maxLeverage); err != nil {
			return Target{}, err
		}
		for symbol, pct := range model {
			contributions[symbol] += mix[name] * pct / 100
		}
	}

	var net float64
	for _, w := range contributions {
		net += w
	}
	if net <= 0 {
		return Target{}, &ValidationError{Reason: "blended portfolio has zero net exposure"}
	}

	// Normalise so net exposure is exactly 100%.
	weights := make(map[string]float64, len(contributions))
	var gross float64
	for symbol, w := range contributions {
		w /= net
		if symbol == CashSymbol {
			continue
		}
		weights[symbol] = w
		gross += w
	}
	cash := contributions[CashSymbol] / net

	if maxLeverage > 0 && gross > maxLeverage+mixTolerance {
		return Target{}, &ValidationError{
			Reason: fmt.Sprintf("blended gross exposure %.4f exceeds leverage cap %.2f", gross, maxLeverage),
		}
	}

	return Target{
		Weights:    weights,
		CashWeight: cash,
		Gross:      gross,
		Net:        gross + cash,
	}, nil
}
