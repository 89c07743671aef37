package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderRequestKey(t *testing.T) {
	t.Parallel()

	buy := OrderRequest{Contract: Contract{Symbol: "AAA"}, Side: Buy, Quantity: 9}

	rescaled := buy
	rescaled.Quantity = 4
	assert.Equal(t, buy.Key(), rescaled.Key(), "a proceeds rescale must not change the line identity")

	sell := buy
	sell.Side = Sell
	assert.NotEqual(t, buy.Key(), sell.Key())

	other := buy
	other.Contract.Symbol = "BBB"
	assert.NotEqual(t, buy.Key(), other.Key())
}

func TestOrderStates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state    OrderState
		name     string
		terminal bool
	}{
		{StateOpen, "open", false},
		{StateFilled, "filled", true},
		{StateCanceled, "canceled", true},
		{StateRejected, "rejected", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.state.String())
		assert.Equal(t, tt.terminal, tt.state.Terminal())
	}
}
