package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmorriss/tradegate/broker"
	"github.com/rmorriss/tradegate/risk"
	"github.com/rmorriss/tradegate/signal"
)

// scriptedAdapter lets tests fail individual adapter operations a set number
// of times before succeeding, and counts every call.
type scriptedAdapter struct {
	orderFailures       []error
	conditionalFailures []error
	closeFailures       []error

	orderCalls       int
	conditionalCalls int
	closeCalls       int
	leverageCalls    int
	cancelCalls      int
	leverageErr      error
}

func (a *scriptedAdapter) FetchBalance(ctx context.Context) (broker.Balance, error) {
	return broker.Balance{Total: 10000, Free: 10000}, nil
}

func (a *scriptedAdapter) LastPrice(ctx context.Context, instrument string) (float64, error) {
	return 42500, nil
}

func (a *scriptedAdapter) SetLeverage(ctx context.Context, instrument string, leverage int) error {
	a.leverageCalls++
	return a.leverageErr
}

func (a *scriptedAdapter) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.Receipt, error) {
	a.orderCalls++
	if len(a.orderFailures) > 0 {
		err := a.orderFailures[0]
		a.orderFailures = a.orderFailures[1:]
		return broker.Receipt{}, err
	}
	return broker.Receipt{
		OrderID:    "ord-1",
		Instrument: req.Instrument,
		FillPrice:  42500,
		Quantity:   req.Quantity,
		Time:       time.Date(2025, 10, 10, 14, 0, 0, 0, time.UTC),
	}, nil
}

func (a *scriptedAdapter) PlaceConditional(ctx context.Context, req broker.ConditionalRequest) (string, error) {
	a.conditionalCalls++
	if len(a.conditionalFailures) > 0 {
		err := a.conditionalFailures[0]
		a.conditionalFailures = a.conditionalFailures[1:]
		return "", err
	}
	return "algo-1", nil
}

func (a *scriptedAdapter) ClosePosition(ctx context.Context, instrument string, quantity float64) (broker.Receipt, error) {
	a.closeCalls++
	if len(a.closeFailures) > 0 {
		err := a.closeFailures[0]
		a.closeFailures = a.closeFailures[1:]
		return broker.Receipt{}, err
	}
	return broker.Receipt{
		OrderID:    "ord-close",
		Instrument: instrument,
		FillPrice:  43100,
		Quantity:   quantity,
		Time:       time.Date(2025, 10, 10, 20, 0, 0, 0, time.UTC),
	}, nil
}

func (a *scriptedAdapter) CancelConditionals(ctx context.Context, instrument string) error {
	a.cancelCalls++
	return nil
}

var _ broker.Adapter = (*scriptedAdapter)(nil)

func testPosition() risk.Position {
	return risk.Position{
		Instrument:  "BTC",
		Direction:   signal.Buy,
		Quantity:    0.214286,
		Leverage:    5,
		StopPrice:   41800,
		TargetPrice: 43100,
		RiskUSD:     150,
	}
}

func TestOpenRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	adapter := &scriptedAdapter{
		orderFailures: []error{
			broker.Transientf("place order", "429", "rate limited"),
			broker.Transientf("place order", "429", "rate limited"),
		},
	}
	d := NewDispatcher(adapter, WithRetry(3, time.Millisecond))

	receipt, err := d.Open(context.Background(), testPosition())
	require.NoError(t, err)
	assert.Equal(t, 3, adapter.orderCalls)
	assert.InDelta(t, 42500.0, receipt.FillPrice, 1e-9)
}

func TestOpenExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	adapter := &scriptedAdapter{
		orderFailures: []error{
			broker.Transientf("place order", "429", "rate limited"),
			broker.Transientf("place order", "429", "rate limited"),
			broker.Transientf("place order", "429", "rate limited"),
		},
	}
	d := NewDispatcher(adapter, WithRetry(3, time.Millisecond))

	_, err := d.Open(context.Background(), testPosition())

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "BTC", execErr.Instrument)
	assert.Equal(t, 3, adapter.orderCalls)
}

func TestOpenNonTransientFailsWithoutRetry(t *testing.T) {
	t.Parallel()

	adapter := &scriptedAdapter{
		orderFailures: []error{
			broker.Permanentf("place order", "51008", "insufficient balance"),
		},
	}
	d := NewDispatcher(adapter, WithRetry(3, time.Millisecond))

	_, err := d.Open(context.Background(), testPosition())

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 1, adapter.orderCalls, "permanent failures must not be retried")
}

func TestOpenConditionalFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	adapter := &scriptedAdapter{
		conditionalFailures: []error{
			broker.Permanentf("place algo", "51000", "bad trigger"),
		},
	}
	d := NewDispatcher(adapter, WithRetry(3, time.Millisecond))

	receipt, err := d.Open(context.Background(), testPosition())
	require.NoError(t, err, "a parked conditional failing must not unwind the fill")
	assert.Equal(t, "ord-1", receipt.OrderID)
	assert.Equal(t, 2, adapter.conditionalCalls)
}

func TestOpenLeverageFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	adapter := &scriptedAdapter{
		leverageErr: broker.Permanentf("set leverage", "59000", "position exists"),
	}
	d := NewDispatcher(adapter, WithRetry(3, time.Millisecond))

	_, err := d.Open(context.Background(), testPosition())
	require.NoError(t, err)
	assert.Equal(t, 1, adapter.orderCalls)
}

func TestCloseCancelsConditionals(t *testing.T) {
	t.Parallel()

	adapter := &scriptedAdapter{}
	d := NewDispatcher(adapter, WithRetry(3, time.Millisecond))

	receipt, err := d.Close(context.Background(), "BTC", 0.214286)
	require.NoError(t, err)
	assert.InDelta(t, 43100.0, receipt.FillPrice, 1e-9)
	assert.Equal(t, 1, adapter.cancelCalls)
}

func TestCloseFailureReturnsExecutionError(t *testing.T) {
	t.Parallel()

	adapter := &scriptedAdapter{
		closeFailures: []error{
			broker.Permanentf("close position", "51023", "position not exist"),
		},
	}
	d := NewDispatcher(adapter, WithRetry(3, time.Millisecond))

	_, err := d.Close(context.Background(), "BTC", 0.214286)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "close position", execErr.Op)
	assert.Equal(t, 0, adapter.cancelCalls, "no cleanup after a failed close")
}

func TestCancelledContextStopsRetries(t *testing.T) {
	t.Parallel()

	adapter := &scriptedAdapter{
		orderFailures: []error{
			broker.Transientf("place order", "429", "rate limited"),
			broker.Transientf("place order", "429", "rate limited"),
		},
	}
	d := NewDispatcher(adapter, WithRetry(3, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Open(ctx, testPosition())
	require.Error(t, err)
	assert.LessOrEqual(t, adapter.orderCalls, 1)
}
