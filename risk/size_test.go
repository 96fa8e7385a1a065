package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmorriss/tradegate/signal"
)

func TestSizeQuantityFromRiskBudget(t *testing.T) {
	t.Parallel()

	// risk $150, entry 42500, stop 41800: quantity = 150/700.
	sig := btcSignal(150)
	pos, err := Size(DefaultPolicy(), sig, 42500)
	require.NoError(t, err)

	assert.InDelta(t, 0.214286, pos.Quantity, 1e-6)
	assert.Equal(t, 5, pos.Leverage)
	assert.Equal(t, signal.Buy, pos.Direction)
	assert.InDelta(t, 41800.0, pos.StopPrice, 1e-9)
	assert.InDelta(t, 45000.0, pos.TargetPrice, 1e-9)
	assert.InDelta(t, 150.0, pos.RiskUSD, 1e-9)
}

func TestSizeStopOnEntry(t *testing.T) {
	t.Parallel()

	sig := btcSignal(150)
	sig.StopPrice = 42500

	_, err := Size(DefaultPolicy(), sig, 42500)
	var serr *StopDistanceError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "BTC", serr.Instrument)
}

func TestSizeZeroRiskRejected(t *testing.T) {
	t.Parallel()

	sig := btcSignal(0)
	_, err := Size(DefaultPolicy(), sig, 42500)
	var serr *StopDistanceError
	require.ErrorAs(t, err, &serr)
}

func TestSizeLeverageClamped(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   int
		want int
	}{
		{"below minimum", 0, 1},
		{"at minimum", 1, 1},
		{"in range", 7, 7},
		{"at maximum", 20, 20},
		{"above maximum", 50, 20},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sig := btcSignal(150)
			sig.Leverage = tt.in

			pos, err := Size(DefaultPolicy(), sig, 42500)
			require.NoError(t, err)
			assert.Equal(t, tt.want, pos.Leverage)
		})
	}
}

func TestSizeShortUsesAbsoluteDistance(t *testing.T) {
	t.Parallel()

	sig := signal.TradeSignal{
		Instrument:  "ETH",
		Direction:   signal.Sell,
		RiskUSD:     100,
		Leverage:    3,
		StopPrice:   2100, // stop above entry on a short
		TargetPrice: 1800,
	}

	pos, err := Size(DefaultPolicy(), sig, 2000)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, pos.Quantity, 1e-9)
}
