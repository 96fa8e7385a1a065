package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmorriss/tradegate/broker/paper"
	"github.com/rmorriss/tradegate/ledger"
	"github.com/rmorriss/tradegate/risk"
	"github.com/rmorriss/tradegate/signal"
)

// memStore keeps ledger state in memory. failAfter > 0 makes every save past
// that count fail, to exercise the persistence halt latch.
type memStore struct {
	mu        sync.Mutex
	state     *ledger.State
	saves     int
	failAfter int
}

func (s *memStore) Save(state *ledger.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saves++
	if s.failAfter > 0 && s.saves > s.failAfter {
		return errors.New("disk full")
	}
	s.state = state
	return nil
}

func (s *memStore) Load() (*ledger.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return ledger.NewState(), nil
	}
	return s.state, nil
}

var testNow = time.Date(2025, 10, 10, 14, 0, 0, 0, time.UTC)

func buySignal() signal.Raw {
	return signal.Raw{
		Instrument:   "BTC",
		Signal:       "buy",
		Confidence:   0.8,
		RiskUSD:      150,
		Leverage:     5,
		ProfitTarget: 43100,
		StopLoss:     41800,
	}
}

type fixture struct {
	engine *paper.Engine
	ledger *ledger.Ledger
	coord  *Coordinator
	store  *memStore

	signals []signal.Raw
}

func newFixture(t *testing.T, balance float64, store *memStore) *fixture {
	t.Helper()

	eng := paper.New(balance)
	eng.SetPrice("BTC", 42500)
	eng.SetClock(func() time.Time { return testNow })

	lgr, err := ledger.Open(store, ledger.WithPersistBackoff(time.Millisecond))
	require.NoError(t, err)

	f := &fixture{engine: eng, ledger: lgr, store: store}
	source := SourceFunc(func(ctx context.Context) ([]signal.Raw, error) {
		return f.signals, nil
	})
	f.coord = New(
		risk.DefaultPolicy(),
		eng,
		NewDispatcher(eng, WithRetry(3, time.Millisecond)),
		lgr,
		source,
		WithClock(func() time.Time { return testNow }),
	)
	return f
}

func TestCycleOpensApprovedPosition(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000, &memStore{})
	f.signals = []signal.Raw{buySignal()}

	require.NoError(t, f.coord.Cycle(context.Background()))

	rec, ok := f.ledger.OpenTrade("BTC")
	require.True(t, ok)
	assert.Equal(t, "buy", rec.Direction)
	assert.InDelta(t, 42500.0, rec.EntryPrice, 1e-9)
	assert.InDelta(t, 150.0/700.0, rec.Quantity, 1e-6)
	assert.Equal(t, 5, rec.Leverage)

	assert.Len(t, f.engine.OpenConditionals("BTC"), 2, "stop and target parked at the venue")
}

func TestCycleRejectsPerTradeBreach(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000, &memStore{})
	over := buySignal()
	over.RiskUSD = 250
	f.signals = []signal.Raw{over}

	require.NoError(t, f.coord.Cycle(context.Background()))

	_, ok := f.ledger.OpenTrade("BTC")
	assert.False(t, ok, "rejected signal must leave no trace")
	assert.Equal(t, 0, f.ledger.Stats().TotalTrades)
}

func TestDuplicateSignalIgnoredWhilePositionOpen(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000, &memStore{})
	f.signals = []signal.Raw{buySignal()}

	require.NoError(t, f.coord.Cycle(context.Background()))
	require.NoError(t, f.coord.Cycle(context.Background()))

	assert.Equal(t, 1, f.ledger.Stats().TotalTrades)
}

func TestOpposingSignalClosesPosition(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000, &memStore{})
	f.signals = []signal.Raw{buySignal()}
	require.NoError(t, f.coord.Cycle(context.Background()))

	f.engine.SetPrice("BTC", 43100)
	sell := buySignal()
	sell.Signal = "sell"
	f.signals = []signal.Raw{sell}
	require.NoError(t, f.coord.Cycle(context.Background()))

	_, ok := f.ledger.OpenTrade("BTC")
	assert.False(t, ok)

	stats := f.ledger.Stats()
	assert.Equal(t, 1, stats.ClosedTrades)
	assert.InDelta(t, (43100.0-42500.0)*(150.0/700.0), stats.TotalPL, 1e-6)
}

func TestHoldSignalExitsOnStopBreach(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000, &memStore{})
	f.signals = []signal.Raw{buySignal()}
	require.NoError(t, f.coord.Cycle(context.Background()))

	f.engine.SetPrice("BTC", 41750)
	hold := signal.Raw{Instrument: "BTC", Signal: "hold", Leverage: 1}
	f.signals = []signal.Raw{hold}
	require.NoError(t, f.coord.Cycle(context.Background()))

	_, ok := f.ledger.OpenTrade("BTC")
	assert.False(t, ok, "price through the stop must close the position")

	stats := f.ledger.Stats()
	require.Equal(t, 1, stats.ClosedTrades)
	assert.Negative(t, stats.TotalPL)
}

func TestHoldSignalKeepsPositionInsideBand(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000, &memStore{})
	f.signals = []signal.Raw{buySignal()}
	require.NoError(t, f.coord.Cycle(context.Background()))

	f.engine.SetPrice("BTC", 42800)
	hold := signal.Raw{Instrument: "BTC", Signal: "hold", Leverage: 1}
	f.signals = []signal.Raw{hold}
	require.NoError(t, f.coord.Cycle(context.Background()))

	_, ok := f.ledger.OpenTrade("BTC")
	assert.True(t, ok)
}

func TestHoldSignalWithoutPositionIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000, &memStore{})
	f.signals = []signal.Raw{{Instrument: "BTC", Signal: "hold", Leverage: 1}}

	require.NoError(t, f.coord.Cycle(context.Background()))
	assert.Equal(t, 0, f.ledger.Stats().TotalTrades)
}

func TestMalformedSignalSkipsInstrument(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000, &memStore{})
	bad := buySignal()
	bad.Confidence = 1.4
	good := buySignal()
	good.Instrument = "ETH"
	f.engine.SetPrice("ETH", 3200)
	good.StopLoss = 3100
	good.ProfitTarget = 3350
	f.signals = []signal.Raw{bad, good}

	require.NoError(t, f.coord.Cycle(context.Background()))

	_, ok := f.ledger.OpenTrade("BTC")
	assert.False(t, ok)
	_, ok = f.ledger.OpenTrade("ETH")
	assert.True(t, ok, "one malformed signal must not sink the batch")
}

func TestPersistenceFailureHaltsTrading(t *testing.T) {
	t.Parallel()

	// One save is allowed for the initial month rollover; the trade open
	// after it cannot be made durable.
	f := newFixture(t, 10000, &memStore{failAfter: 1})
	f.signals = []signal.Raw{buySignal()}

	err := f.coord.Cycle(context.Background())
	require.ErrorIs(t, err, ErrHalted)
	assert.True(t, f.coord.Halted())

	// The latch holds: subsequent cycles refuse outright.
	err = f.coord.Cycle(context.Background())
	require.ErrorIs(t, err, ErrHalted)
}

func TestHardStopSuppressesEntriesButAllowsExits(t *testing.T) {
	t.Parallel()

	// The month opened at 12000; equity has since fallen to the 6% floor.
	store := &memStore{
		state: &ledger.State{
			CurrentMonth: "2025-10",
			MonthStats:   &ledger.MonthStats{InitialBalance: 12000},
			Archive:      make(map[string]*ledger.MonthStats),
		},
	}
	f := newFixture(t, 11280, store)
	f.signals = []signal.Raw{buySignal()}

	require.NoError(t, f.coord.Cycle(context.Background()))

	_, ok := f.ledger.OpenTrade("BTC")
	assert.False(t, ok, "drawdown floor must block new entries")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000, &memStore{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.coord.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
