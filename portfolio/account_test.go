package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/rebalancer/broker"
)

func TestComputeSnapshot(t *testing.T) {
	t.Parallel()

	acct := broker.AccountValues{
		Account: "DU111111",
		NetLiq:  14000,
		Cash:    map[string]float64{"USD": 5000, "CAD": 500},
		Positions: map[string]broker.Position{
			"AAA": {Quantity: 90, LastPrice: 100},
		},
	}
	prices := map[string]float64{"AAA": 100}

	snap, err := ComputeSnapshot(acct, prices, 1.0)
	require.NoError(t, err)

	assert.InDelta(t, 14000, snap.TotalEquity, 1e-9)
	assert.InDelta(t, 13860, snap.Effective, 1e-9) // 1% buffer held back
	assert.InDelta(t, 9000, snap.MarketValues["AAA"], 1e-9)
	assert.InDelta(t, 9000.0/13860, snap.Weights["AAA"], 1e-9)
	assert.InDelta(t, (5000.0-140)/13860, snap.Weights[CashSymbol], 1e-9)
	assert.InDelta(t, 500, snap.Cash["CAD"], 1e-9)
}

func TestComputeSnapshotPriceFallback(t *testing.T) {
	t.Parallel()

	acct := broker.AccountValues{
		Cash: map[string]float64{"USD": 1000},
		Positions: map[string]broker.Position{
			"AAA": {Quantity: 10, LastPrice: 42},
		},
	}

	// No planning price: the position's own last price is used.
	snap, err := ComputeSnapshot(acct, map[string]float64{}, 0)
	require.NoError(t, err)
	assert.InDelta(t, 420, snap.MarketValues["AAA"], 1e-9)
	assert.InDelta(t, 1420, snap.TotalEquity, 1e-9)
}

func TestComputeSnapshotRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		acct broker.AccountValues
	}{
		{
			"zero quantity",
			broker.AccountValues{
				Cash:      map[string]float64{"USD": 1000},
				Positions: map[string]broker.Position{"AAA": {Quantity: 0, LastPrice: 10}},
			},
		},
		{
			"no equity",
			broker.AccountValues{Cash: map[string]float64{"USD": 0}},
		},
		{
			"bad price",
			broker.AccountValues{
				Cash:      map[string]float64{"USD": 1000},
				Positions: map[string]broker.Position{"AAA": {Quantity: 5, LastPrice: -1}},
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ComputeSnapshot(tt.acct, map[string]float64{}, 0)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}
