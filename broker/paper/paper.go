// Package paper is an in-memory exchange adapter: orders fill instantly at
// the last set price, margin is tracked per position, and resting
// conditionals are held until cancelled. It backs tests and dry runs.
package paper

import (
	"context"
	"sync"
	"time"

	"github.com/rmorriss/tradegate/broker"
	"github.com/rmorriss/tradegate/pkg/id"
	"github.com/rmorriss/tradegate/signal"
)

type position struct {
	direction signal.Direction
	quantity  float64
	entry     float64
	leverage  int
	margin    float64
}

type conditional struct {
	id      string
	kind    broker.ConditionalKind
	trigger float64
	qty     float64
}

// Engine simulates a single-currency margin account.
type Engine struct {
	mu           sync.Mutex
	balance      float64
	prices       map[string]float64
	leverage     map[string]int
	positions    map[string]*position
	conditionals map[string][]conditional
	clock        func() time.Time
}

func New(balance float64) *Engine {
	return &Engine{
		balance:      balance,
		prices:       make(map[string]float64),
		leverage:     make(map[string]int),
		positions:    make(map[string]*position),
		conditionals: make(map[string][]conditional),
		clock:        time.Now,
	}
}

// SetClock overrides the fill timestamp source. Test hook.
func (e *Engine) SetClock(clock func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = clock
}

// SetPrice publishes the last traded price for an instrument.
func (e *Engine) SetPrice(instrument string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[instrument] = price
}

func (e *Engine) FetchBalance(ctx context.Context) (broker.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	equity := e.balance
	var used float64
	for instr, pos := range e.positions {
		if price, ok := e.prices[instr]; ok {
			equity += (price - pos.entry) * pos.quantity * pos.direction.Sign()
		}
		used += pos.margin
	}
	return broker.Balance{Total: equity, Free: equity - used}, nil
}

func (e *Engine) LastPrice(ctx context.Context, instrument string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	price, ok := e.prices[instrument]
	if !ok {
		return 0, broker.Permanentf("last price", "", "no price published for %s", instrument)
	}
	return price, nil
}

func (e *Engine) SetLeverage(ctx context.Context, instrument string, leverage int) error {
	if leverage < 1 {
		return broker.Permanentf("set leverage", "", "leverage %d below venue minimum", leverage)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leverage[instrument] = leverage
	return nil
}

func (e *Engine) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	price, ok := e.prices[req.Instrument]
	if !ok {
		return broker.Receipt{}, broker.Permanentf("place order", "", "no price published for %s", req.Instrument)
	}
	if req.Quantity <= 0 {
		return broker.Receipt{}, broker.Permanentf("place order", "", "quantity must be positive")
	}
	if _, exists := e.positions[req.Instrument]; exists {
		return broker.Receipt{}, broker.Permanentf("place order", "", "position already open for %s", req.Instrument)
	}

	lev := req.Leverage
	if lev < 1 {
		if set, ok := e.leverage[req.Instrument]; ok {
			lev = set
		} else {
			lev = 1
		}
	}

	margin := price * req.Quantity / float64(lev)
	if free := e.freeLocked(); margin > free {
		return broker.Receipt{}, broker.Permanentf("place order", "insufficient_margin",
			"margin %.2f required, %.2f free", margin, free)
	}

	e.positions[req.Instrument] = &position{
		direction: req.Direction,
		quantity:  req.Quantity,
		entry:     price,
		leverage:  lev,
		margin:    margin,
	}

	return broker.Receipt{
		OrderID:    id.New(),
		Instrument: req.Instrument,
		FillPrice:  price,
		Quantity:   req.Quantity,
		Time:       e.clock(),
	}, nil
}

func (e *Engine) PlaceConditional(ctx context.Context, req broker.ConditionalRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.positions[req.Instrument]; !exists {
		return "", broker.Permanentf("place conditional", "", "no open position for %s", req.Instrument)
	}

	c := conditional{id: id.New(), kind: req.Kind, trigger: req.TriggerPrice, qty: req.Quantity}
	e.conditionals[req.Instrument] = append(e.conditionals[req.Instrument], c)
	return c.id, nil
}

func (e *Engine) ClosePosition(ctx context.Context, instrument string, quantity float64) (broker.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[instrument]
	if !ok {
		return broker.Receipt{}, broker.Permanentf("close position", "", "no open position for %s", instrument)
	}

	price, ok := e.prices[instrument]
	if !ok {
		return broker.Receipt{}, broker.Permanentf("close position", "", "no price published for %s", instrument)
	}

	e.balance += (price - pos.entry) * pos.quantity * pos.direction.Sign()
	delete(e.positions, instrument)

	return broker.Receipt{
		OrderID:    id.New(),
		Instrument: instrument,
		FillPrice:  price,
		Quantity:   pos.quantity,
		Time:       e.clock(),
	}, nil
}

func (e *Engine) CancelConditionals(ctx context.Context, instrument string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.conditionals, instrument)
	return nil
}

// OpenConditionals returns the resting conditionals for an instrument.
func (e *Engine) OpenConditionals(instrument string) []broker.ConditionalRequest {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]broker.ConditionalRequest, 0, len(e.conditionals[instrument]))
	for _, c := range e.conditionals[instrument] {
		out = append(out, broker.ConditionalRequest{
			Instrument:   instrument,
			Kind:         c.kind,
			TriggerPrice: c.trigger,
			Quantity:     c.qty,
		})
	}
	return out
}

func (e *Engine) freeLocked() float64 {
	equity := e.balance
	var used float64
	for instr, pos := range e.positions {
		if price, ok := e.prices[instr]; ok {
			equity += (price - pos.entry) * pos.quantity * pos.direction.Sign()
		}
		used += pos.margin
	}
	return equity - used
}
