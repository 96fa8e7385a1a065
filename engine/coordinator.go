// Package engine runs the trading cycle: ingest signals, gate them against
// the risk limits, size and dispatch approved trades, and record outcomes in
// the ledger.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmorriss/tradegate/broker"
	"github.com/rmorriss/tradegate/ledger"
	"github.com/rmorriss/tradegate/risk"
	"github.com/rmorriss/tradegate/signal"
)

// ErrHalted means ledger persistence failed definitively and the
// coordinator refuses all further trade approvals. Trading stays down until
// an operator resolves the storage fault.
var ErrHalted = errors.New("engine: trading halted, ledger persistence failed")

// SignalSource produces one batch of raw signals per cycle. It is the
// boundary to the decision layer; the coordinator only consumes.
type SignalSource interface {
	Signals(ctx context.Context) ([]signal.Raw, error)
}

// SourceFunc adapts a function to the SignalSource interface.
type SourceFunc func(ctx context.Context) ([]signal.Raw, error)

func (f SourceFunc) Signals(ctx context.Context) ([]signal.Raw, error) { return f(ctx) }

// Coordinator drives the evaluate -> size -> dispatch -> record pipeline.
// One exclusive lock serializes that span per cycle, so the risk gate's
// snapshot cannot be invalidated by a concurrent mutation before the ledger
// write lands.
type Coordinator struct {
	mu sync.Mutex

	policy     risk.Policy
	ingestor   *signal.Ingestor
	adapter    broker.Adapter
	dispatcher *Dispatcher
	ledger     *ledger.Ledger
	source     SignalSource

	interval time.Duration
	halted   atomic.Bool
	now      func() time.Time
	log      zerolog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.interval = d }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithClock overrides the wall clock. Test hook.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func New(policy risk.Policy, adapter broker.Adapter, dispatcher *Dispatcher, lgr *ledger.Ledger, source SignalSource, opts ...Option) *Coordinator {
	c := &Coordinator{
		policy:     policy,
		ingestor:   signal.NewIngestor(),
		adapter:    adapter,
		dispatcher: dispatcher,
		ledger:     lgr,
		source:     source,
		interval:   5 * time.Minute,
		now:        time.Now,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Halted reports whether the persistence halt latch has tripped.
func (c *Coordinator) Halted() bool { return c.halted.Load() }

// Run executes cycles on the configured interval until ctx is cancelled or
// the halt latch trips. Cycle-local failures never stop the loop.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.Cycle(ctx); err != nil {
			if errors.Is(err, ErrHalted) {
				return err
			}
			c.log.Error().Err(err).Msg("cycle failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cycle processes one batch of signals sequentially. Rejections and
// execution failures skip their instrument; only a persistence failure
// escalates.
func (c *Coordinator) Cycle(ctx context.Context) error {
	if c.halted.Load() {
		return ErrHalted
	}

	bal, err := c.adapter.FetchBalance(ctx)
	if err != nil {
		return err
	}

	now := c.now()
	if err := c.ledger.EnsureMonth(now, bal.Total); err != nil {
		return c.escalate(err)
	}

	// Monthly hard stop: once the balance touches the drawdown floor, no
	// new positions this month. Exits keep working.
	hardStopped := c.ledger.HardStopBreached(bal.Total, c.policy.MonthlyDrawdownFraction)
	if hardStopped {
		c.log.Error().
			Float64("balance", bal.Total).
			Msg("monthly drawdown floor reached, holding new entries")
	}

	raws, err := c.source.Signals(ctx)
	if err != nil {
		return err
	}

	c.log.Info().
		Int("signals", len(raws)).
		Float64("balance", bal.Total).
		Str("month", ledger.MonthKey(now)).
		Msg("cycle start")

	for _, raw := range raws {
		if err := c.process(ctx, raw, bal, hardStopped); err != nil {
			return c.escalate(err)
		}
	}
	return nil
}

// process handles one instrument's signal. Returned errors are persistence
// failures only; everything else is logged and swallowed as cycle-local.
func (c *Coordinator) process(ctx context.Context, raw signal.Raw, bal broker.Balance, hardStopped bool) error {
	log := c.log.With().Str("instrument", raw.Instrument).Logger()

	sig, err := c.ingestor.Normalize(raw)
	if err != nil {
		log.Warn().Err(err).Msg("signal rejected at ingestion")
		return nil
	}

	open, hasOpen := c.ledger.OpenTrade(sig.Instrument)

	switch {
	case sig.Direction == signal.Hold:
		if !hasOpen {
			return nil
		}
		return c.checkExit(ctx, log, open)

	case hasOpen && sig.Direction != signal.Direction(open.Direction):
		// An opposing signal against an open position exits it rather
		// than stacking exposure the other way.
		return c.closePosition(ctx, log, open, "opposing signal")

	case hasOpen:
		log.Info().Msg("position already open, signal ignored")
		return nil

	default:
		if hardStopped {
			log.Warn().Msg("entry suppressed by monthly hard stop")
			return nil
		}
		return c.openPosition(ctx, log, sig, bal)
	}
}

// openPosition runs the gated entry pipeline under the coordinator lock.
func (c *Coordinator) openPosition(ctx context.Context, log zerolog.Logger, sig signal.TradeSignal, bal broker.Balance) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.adapter.LastPrice(ctx, sig.Instrument)
	if err != nil {
		log.Warn().Err(err).Msg("no price, instrument skipped")
		return nil
	}

	acct := risk.AccountSnapshot{Balance: bal.Total, FreeMargin: bal.Free}
	decision := risk.Evaluate(c.policy, sig, entry, acct, c.ledger.View())
	if !decision.Approved {
		log.Warn().
			Str("kind", string(decision.Rejection.Kind)).
			Float64("risk_usd", sig.RiskUSD).
			Float64("max_risk", decision.MaxRisk).
			Msg("risk gate rejected signal")
		return nil
	}

	pos, err := risk.Size(c.policy, sig, entry)
	if err != nil {
		log.Warn().Err(err).Msg("position sizing failed")
		return nil
	}

	receipt, err := c.dispatcher.Open(ctx, pos)
	if err != nil {
		// Execution failed after approval: the cycle skips the
		// instrument and the ledger keeps no trace of the attempt.
		log.Error().Err(err).Msg("dispatch failed")
		return nil
	}

	rec, err := c.ledger.RecordOpen(sig, pos, receipt, bal.Total)
	if err != nil {
		return err
	}

	log.Info().
		Str("trade_id", rec.ID).
		Float64("entry", receipt.FillPrice).
		Float64("quantity", pos.Quantity).
		Int("leverage", pos.Leverage).
		Float64("risk_usd", pos.RiskUSD).
		Msg("position opened")
	return nil
}

// checkExit closes an open position whose recorded stop or target has been
// crossed. This local check backs up the venue-side conditional orders.
func (c *Coordinator) checkExit(ctx context.Context, log zerolog.Logger, open ledger.TradeRecord) error {
	price, err := c.adapter.LastPrice(ctx, open.Instrument)
	if err != nil {
		log.Warn().Err(err).Msg("no price for exit check")
		return nil
	}

	long := signal.Direction(open.Direction) == signal.Buy
	var reason string
	switch {
	case open.StopPrice > 0 && (long && price <= open.StopPrice || !long && price >= open.StopPrice):
		reason = "stop hit"
	case open.TargetPrice > 0 && (long && price >= open.TargetPrice || !long && price <= open.TargetPrice):
		reason = "target hit"
	default:
		return nil
	}
	return c.closePosition(ctx, log, open, reason)
}

func (c *Coordinator) closePosition(ctx context.Context, log zerolog.Logger, open ledger.TradeRecord, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	receipt, err := c.dispatcher.Close(ctx, open.Instrument, open.Quantity)
	if err != nil {
		log.Error().Err(err).Str("reason", reason).Msg("close failed")
		return nil
	}

	rec, err := c.ledger.RecordClose(open.Instrument, receipt.FillPrice, receipt.Time)
	if err != nil {
		if errors.Is(err, ledger.ErrNoOpenTrade) {
			log.Warn().Err(err).Msg("close recorded nothing")
			return nil
		}
		return err
	}

	log.Info().
		Str("trade_id", rec.ID).
		Str("reason", reason).
		Float64("exit", receipt.FillPrice).
		Float64("pnl", rec.RealizedPL).
		Float64("pnl_pct", rec.PLPercent).
		Msg("position closed")
	return nil
}

// escalate trips the halt latch on persistence failures; other errors pass
// through as cycle-local.
func (c *Coordinator) escalate(err error) error {
	var perr *ledger.PersistenceError
	if errors.As(err, &perr) {
		c.halted.Store(true)
		c.log.Error().Err(err).Msg("ledger persistence failed, halting all trade approvals")
		return errors.Join(ErrHalted, err)
	}
	return err
}
