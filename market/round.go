package market

import "github.com/shopspring/decimal"

// PipSize is the price increment convention for currency pairs.
const PipSize = 0.0001

// ToBps converts a fraction to basis points (0.0125 -> 125).
func ToBps(fraction float64) float64 {
	return fraction * 10_000
}

// FromBps converts basis points to a fraction (125 -> 0.0125).
func FromBps(bps float64) float64 {
	return bps / 10_000
}

// RoundToTick rounds price to the nearest multiple of tick. Non-positive
// ticks fall back to a $0.01 increment.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		tick = 0.01
	}
	d := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	steps := d.Div(t).Round(0)
	f, _ := steps.Mul(t).Float64()
	return f
}

// RoundToPip rounds a currency-pair price to the nearest pip.
func RoundToPip(price float64) float64 {
	f, _ := decimal.NewFromFloat(price).Round(4).Float64()
	return f
}

// RoundCents rounds a cash amount to the nearest cent.
func RoundCents(amount float64) float64 {
	f, _ := decimal.NewFromFloat(amount).Round(2).Float64()
	return f
}

// Clamp constrains value to [lower, upper].
func Clamp(value, lower, upper float64) float64 {
	if value < lower {
		return lower
	}
	if value > upper {
		return upper
	}
	return value
}
