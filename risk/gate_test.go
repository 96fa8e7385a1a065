package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmorriss/tradegate/signal"
)

func btcSignal(riskUSD float64) signal.TradeSignal {
	return signal.TradeSignal{
		Instrument:  "BTC",
		Direction:   signal.Buy,
		Confidence:  0.8,
		RiskUSD:     riskUSD,
		Leverage:    5,
		StopPrice:   41800,
		TargetPrice: 45000,
	}
}

func month(initial, cumLoss float64) MonthView {
	return MonthView{
		MonthKey:        "2025-10",
		InitialBalance:  initial,
		CumulativeLoss:  cumLoss,
		OpenInstruments: map[string]bool{},
	}
}

func TestEvaluateApproves(t *testing.T) {
	t.Parallel()

	// $150 risk on a $10k account: within the $200 per-trade limit.
	acct := AccountSnapshot{Balance: 10000, FreeMargin: 10000}
	d := Evaluate(DefaultPolicy(), btcSignal(150), 42500, acct, month(10000, 0))

	require.True(t, d.Approved)
	assert.Nil(t, d.Rejection)
	assert.InDelta(t, 200.0, d.MaxRisk, 1e-9)
}

func TestEvaluatePerTradeExceeded(t *testing.T) {
	t.Parallel()

	acct := AccountSnapshot{Balance: 10000, FreeMargin: 10000}
	d := Evaluate(DefaultPolicy(), btcSignal(250), 42500, acct, month(10000, 0))

	require.False(t, d.Approved)
	require.NotNil(t, d.Rejection)
	assert.Equal(t, PerTradeExceeded, d.Rejection.Kind)
	assert.InDelta(t, 200.0, d.MaxRisk, 1e-9)
}

func TestEvaluateMonthlyLimitExceeded(t *testing.T) {
	t.Parallel()

	// $580 already lost this month; another $30 of risk would breach the
	// $600 budget even though it is far below the per-trade cap.
	acct := AccountSnapshot{Balance: 10000, FreeMargin: 10000}
	d := Evaluate(DefaultPolicy(), btcSignal(30), 42500, acct, month(10000, 580))

	require.False(t, d.Approved)
	require.NotNil(t, d.Rejection)
	assert.Equal(t, MonthlyLimitExceeded, d.Rejection.Kind)
}

func TestEvaluateMonthlyBoundaryExact(t *testing.T) {
	t.Parallel()

	// Exactly reaching the limit is allowed; exceeding it is not.
	acct := AccountSnapshot{Balance: 10000, FreeMargin: 10000}

	d := Evaluate(DefaultPolicy(), btcSignal(20), 42500, acct, month(10000, 580))
	assert.True(t, d.Approved)

	d = Evaluate(DefaultPolicy(), btcSignal(20.01), 42500, acct, month(10000, 580))
	require.False(t, d.Approved)
	assert.Equal(t, MonthlyLimitExceeded, d.Rejection.Kind)
}

func TestEvaluatePerTradeReportedBeforeMonthly(t *testing.T) {
	t.Parallel()

	// Both limits would fail; the per-trade violation wins the tie-break.
	acct := AccountSnapshot{Balance: 10000, FreeMargin: 10000}
	d := Evaluate(DefaultPolicy(), btcSignal(250), 42500, acct, month(10000, 580))

	require.False(t, d.Approved)
	assert.Equal(t, PerTradeExceeded, d.Rejection.Kind)
}

func TestEvaluateInsufficientMargin(t *testing.T) {
	t.Parallel()

	// qty = 150/700 ~ 0.2143, notional ~ $9107, margin at 5x ~ $1821.
	acct := AccountSnapshot{Balance: 10000, FreeMargin: 1000}
	d := Evaluate(DefaultPolicy(), btcSignal(150), 42500, acct, month(10000, 0))

	require.False(t, d.Approved)
	assert.Equal(t, InsufficientMargin, d.Rejection.Kind)
}

func TestEvaluatePositionAlreadyOpen(t *testing.T) {
	t.Parallel()

	m := month(10000, 0)
	m.OpenInstruments["BTC"] = true

	acct := AccountSnapshot{Balance: 10000, FreeMargin: 10000}
	d := Evaluate(DefaultPolicy(), btcSignal(150), 42500, acct, m)

	require.False(t, d.Approved)
	assert.Equal(t, PositionAlreadyOpen, d.Rejection.Kind)
}

func TestEvaluateZeroStopDistanceSkipsMargin(t *testing.T) {
	t.Parallel()

	sig := btcSignal(150)
	sig.StopPrice = 42500 // stop on entry: sizing fails later, not here

	acct := AccountSnapshot{Balance: 10000, FreeMargin: 1}
	d := Evaluate(DefaultPolicy(), sig, 42500, acct, month(10000, 0))
	assert.True(t, d.Approved)
}

func TestEvaluateConfigurableFractions(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.PerTradeFraction = 0.01

	acct := AccountSnapshot{Balance: 10000, FreeMargin: 10000}
	d := Evaluate(p, btcSignal(150), 42500, acct, month(10000, 0))

	require.False(t, d.Approved)
	assert.Equal(t, PerTradeExceeded, d.Rejection.Kind)
	assert.InDelta(t, 100.0, d.MaxRisk, 1e-9)
}
