package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmorriss/tradegate/broker"
	"github.com/rmorriss/tradegate/risk"
)

// ExecutionError means an order could not be placed. Transient failures
// were already retried; either way the cycle skips the instrument and the
// ledger is untouched.
type ExecutionError struct {
	Instrument string
	Op         string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed: %s: %s: %v", e.Instrument, e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Dispatcher submits sized positions to the exchange adapter. Adapter calls
// are the only blocking I/O in a cycle; each carries a bounded timeout, and
// transient failures are retried with exponential backoff.
type Dispatcher struct {
	adapter     broker.Adapter
	maxAttempts int
	backoff     time.Duration
	callTimeout time.Duration
	log         zerolog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithRetry(attempts int, backoff time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.maxAttempts = attempts
		d.backoff = backoff
	}
}

func WithCallTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.callTimeout = timeout }
}

func WithDispatchLogger(log zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = log }
}

func NewDispatcher(adapter broker.Adapter, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		adapter:     adapter,
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
		callTimeout: 15 * time.Second,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open sets leverage, places the market order, and parks the stop and
// target conditionals. A leverage or conditional failure is logged but not
// fatal: the fill already happened (or will), and the coordinator's own
// exit checks back up the resting orders. An order failure is fatal to the
// attempt and nothing is recorded.
func (d *Dispatcher) Open(ctx context.Context, pos risk.Position) (broker.Receipt, error) {
	if err := d.call(ctx, func(ctx context.Context) error {
		return d.adapter.SetLeverage(ctx, pos.Instrument, pos.Leverage)
	}); err != nil {
		d.log.Warn().Err(err).Str("instrument", pos.Instrument).Msg("set leverage failed, venue default applies")
	}

	var receipt broker.Receipt
	err := d.call(ctx, func(ctx context.Context) error {
		var err error
		receipt, err = d.adapter.PlaceOrder(ctx, broker.OrderRequest{
			Instrument: pos.Instrument,
			Direction:  pos.Direction,
			Quantity:   pos.Quantity,
			Leverage:   pos.Leverage,
		})
		return err
	})
	if err != nil {
		return broker.Receipt{}, &ExecutionError{Instrument: pos.Instrument, Op: "place order", Err: err}
	}

	for _, cond := range []broker.ConditionalRequest{
		{Instrument: pos.Instrument, Direction: pos.Direction, Kind: broker.StopLoss, TriggerPrice: pos.StopPrice, Quantity: receipt.Quantity},
		{Instrument: pos.Instrument, Direction: pos.Direction, Kind: broker.TakeProfit, TriggerPrice: pos.TargetPrice, Quantity: receipt.Quantity},
	} {
		cond := cond
		if err := d.call(ctx, func(ctx context.Context) error {
			_, err := d.adapter.PlaceConditional(ctx, cond)
			return err
		}); err != nil {
			d.log.Error().Err(err).
				Str("instrument", pos.Instrument).
				Str("kind", string(cond.Kind)).
				Msg("conditional order failed, local exit checks cover it")
		}
	}

	return receipt, nil
}

// Close exits the instrument's position at market and cleans up its resting
// conditionals.
func (d *Dispatcher) Close(ctx context.Context, instrument string, quantity float64) (broker.Receipt, error) {
	var receipt broker.Receipt
	err := d.call(ctx, func(ctx context.Context) error {
		var err error
		receipt, err = d.adapter.ClosePosition(ctx, instrument, quantity)
		return err
	})
	if err != nil {
		return broker.Receipt{}, &ExecutionError{Instrument: instrument, Op: "close position", Err: err}
	}

	if err := d.call(ctx, func(ctx context.Context) error {
		return d.adapter.CancelConditionals(ctx, instrument)
	}); err != nil {
		d.log.Warn().Err(err).Str("instrument", instrument).Msg("cancel conditionals failed")
	}

	return receipt, nil
}

// call runs one adapter operation under the call timeout, retrying
// transient failures with doubling backoff up to the attempt bound.
func (d *Dispatcher) call(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(d.backoff << (attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
		err = op(callCtx)
		cancel()

		if err == nil {
			return nil
		}
		if !broker.IsTransient(err) {
			return err
		}
		d.log.Warn().Err(err).Int("attempt", attempt+1).Msg("transient adapter failure")
	}
	return err
}
