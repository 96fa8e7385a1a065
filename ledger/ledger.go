package ledger

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmorriss/tradegate/broker"
	"github.com/rmorriss/tradegate/pkg/id"
	"github.com/rmorriss/tradegate/risk"
	"github.com/rmorriss/tradegate/signal"
)

// Store is the durable backend for ledger state. Save must be atomic: after
// a crash mid-save, Load returns either the previous state or the new one,
// never a torn mix.
type Store interface {
	Save(*State) error
	Load() (*State, error)
}

// Mirror receives a copy of every open and close for reporting. Mirror
// failures are logged, never fatal: the Store is the authority.
type Mirror interface {
	TradeOpened(TradeRecord) error
	TradeClosed(TradeRecord) error
}

// PersistenceError means a mutation could not be made durable after retries.
// The coordinator must halt new trade approvals when it sees one: continuing
// would let in-memory and durable state diverge.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger: %s: persistence failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ErrNoOpenTrade is returned by RecordClose when the instrument has no open
// record anywhere in the ledger.
var ErrNoOpenTrade = errors.New("ledger: no open trade for instrument")

const persistAttempts = 3

// Ledger owns the single in-memory State. All mutations run clone ->
// persist -> commit under one lock.
type Ledger struct {
	mu     sync.Mutex
	state  *State
	store  Store
	mirror Mirror
	log    zerolog.Logger

	persistBackoff time.Duration // between durable-write retries
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMirror attaches a reporting mirror.
func WithMirror(m Mirror) Option {
	return func(l *Ledger) { l.mirror = m }
}

// WithLogger sets the ledger's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithPersistBackoff overrides the delay between durable-write retries.
func WithPersistBackoff(d time.Duration) Option {
	return func(l *Ledger) { l.persistBackoff = d }
}

// Open loads the last saved state from store. A corrupt store surfaces as
// an error; the ledger never silently resets durable state.
func Open(store Store, opts ...Option) (*Ledger, error) {
	state, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load ledger state: %w", err)
	}
	if state.Archive == nil {
		state.Archive = make(map[string]*MonthStats)
	}

	l := &Ledger{
		state:          state,
		store:          store,
		log:            zerolog.Nop(),
		persistBackoff: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// View returns the gate's frozen snapshot of the current month: opening
// balance, realized losses, and every instrument with a position in flight.
// Trades opened in a prior month and not yet closed still block their
// instrument.
func (l *Ledger) View() risk.MonthView {
	l.mu.Lock()
	defer l.mu.Unlock()

	view := risk.MonthView{
		MonthKey:        l.state.CurrentMonth,
		OpenInstruments: make(map[string]bool),
	}
	if l.state.MonthStats != nil {
		view.InitialBalance = l.state.MonthStats.InitialBalance
		for _, t := range l.state.MonthStats.Trades {
			if t.Open() {
				view.OpenInstruments[t.Instrument] = true
			} else if t.RealizedPL < 0 {
				view.CumulativeLoss += -t.RealizedPL
			}
		}
	}
	for _, month := range l.state.Archive {
		for _, t := range month.Trades {
			if t.Open() {
				view.OpenInstruments[t.Instrument] = true
			}
		}
	}
	return view
}

// EnsureMonth lazily rolls the ledger over: when the wall-clock month
// differs from the ledger's month key, the active month is archived and a
// fresh one starts with the account balance at this moment. Open trades stay
// with the month they were opened in; their risk and P&L attribute there.
func (l *Ledger) EnsureMonth(now time.Time, balance float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ensureMonthLocked(now, balance)
}

func (l *Ledger) ensureMonthLocked(now time.Time, balance float64) error {
	key := MonthKey(now)
	if l.state.CurrentMonth == key && l.state.MonthStats != nil {
		return nil
	}

	next := l.state.clone()
	if next.MonthStats != nil && next.CurrentMonth != "" {
		next.Archive[next.CurrentMonth] = next.MonthStats
	}
	next.CurrentMonth = key
	next.MonthStats = &MonthStats{InitialBalance: balance}

	if err := l.persist(next, "rollover"); err != nil {
		return err
	}

	l.log.Info().
		Str("month", key).
		Float64("initial_balance", balance).
		Msg("monthly ledger rolled over")
	l.state = next
	return nil
}

// RecordOpen appends an open TradeRecord for a filled position and persists
// it. balance is the account balance used if this open triggers rollover.
func (l *Ledger) RecordOpen(sig signal.TradeSignal, pos risk.Position, receipt broker.Receipt, balance float64) (TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureMonthLocked(receipt.Time, balance); err != nil {
		return TradeRecord{}, err
	}

	rec := TradeRecord{
		ID:          id.New(),
		OrderID:     receipt.OrderID,
		Timestamp:   receipt.Time.UTC(),
		Instrument:  pos.Instrument,
		Direction:   string(pos.Direction),
		EntryPrice:  receipt.FillPrice,
		Quantity:    pos.Quantity,
		Leverage:    pos.Leverage,
		StopPrice:   pos.StopPrice,
		TargetPrice: pos.TargetPrice,
		RiskUSD:     pos.RiskUSD,
		Confidence:  sig.Confidence,
		Rationale:   sig.Rationale,
		Status:      StatusOpen,
	}

	next := l.state.clone()
	next.MonthStats.Trades = append(next.MonthStats.Trades, rec)

	if err := l.persist(next, "record open"); err != nil {
		return TradeRecord{}, err
	}
	l.state = next

	if l.mirror != nil {
		if err := l.mirror.TradeOpened(rec); err != nil {
			l.log.Warn().Err(err).Str("trade_id", rec.ID).Msg("journal mirror write failed")
		}
	}
	return rec, nil
}

// RecordClose transitions the instrument's open record to closed, computing
// realized P&L and the P&L percentage of the risked amount, and persists.
// The record is searched in the current month first, then the archive, so a
// trade straddling rollover closes into the month it was opened in.
// Replaying a close for an already-closed record is a no-op.
func (l *Ledger) RecordClose(instrument string, exitPrice float64, ts time.Time) (TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.state.clone()

	rec, monthKey := findOpen(next, instrument)
	if rec == nil {
		// Idempotent replay: the most recent closed record with the same
		// exit price means this close already happened.
		if prev := lastClosed(l.state, instrument); prev != nil && sameExit(*prev, exitPrice) {
			return *prev, nil
		}
		return TradeRecord{}, fmt.Errorf("%w: %s", ErrNoOpenTrade, instrument)
	}

	pl := rec.realizedPL(exitPrice)
	closedAt := ts.UTC()
	rec.Status = StatusClosed
	rec.ExitPrice = exitPrice
	rec.RealizedPL = pl
	rec.ClosedAt = &closedAt
	if rec.RiskUSD > 0 {
		rec.PLPercent = pl / rec.RiskUSD * 100
	}

	if err := l.persist(next, "record close"); err != nil {
		return TradeRecord{}, err
	}
	l.state = next

	l.log.Info().
		Str("instrument", instrument).
		Str("month", monthKey).
		Float64("exit", exitPrice).
		Float64("pnl", pl).
		Msg("trade closed")

	if l.mirror != nil {
		if err := l.mirror.TradeClosed(*rec); err != nil {
			l.log.Warn().Err(err).Str("trade_id", rec.ID).Msg("journal mirror write failed")
		}
	}
	return *rec, nil
}

// OpenTrade returns the instrument's open record, wherever it lives: a
// position opened before rollover is still found in the archive.
func (l *Ledger) OpenTrade(instrument string) (TradeRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, _ := findOpen(l.state, instrument)
	if rec == nil {
		return TradeRecord{}, false
	}
	return *rec, true
}

// persist writes next to the store, retrying transiently before giving up
// with a PersistenceError.
func (l *Ledger) persist(next *State, op string) error {
	var err error
	for attempt := 0; attempt < persistAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(l.persistBackoff << (attempt - 1))
		}
		if err = l.store.Save(next); err == nil {
			return nil
		}
		l.log.Warn().Err(err).Int("attempt", attempt+1).Str("op", op).Msg("ledger save failed")
	}
	return &PersistenceError{Op: op, Err: err}
}

func findOpen(s *State, instrument string) (*TradeRecord, string) {
	if s.MonthStats != nil {
		for i := range s.MonthStats.Trades {
			t := &s.MonthStats.Trades[i]
			if t.Instrument == instrument && t.Open() {
				return t, s.CurrentMonth
			}
		}
	}
	for key, month := range s.Archive {
		for i := range month.Trades {
			t := &month.Trades[i]
			if t.Instrument == instrument && t.Open() {
				return t, key
			}
		}
	}
	return nil, ""
}

func lastClosed(s *State, instrument string) *TradeRecord {
	var latest *TradeRecord
	consider := func(month *MonthStats) {
		if month == nil {
			return
		}
		for i := range month.Trades {
			t := &month.Trades[i]
			if t.Instrument != instrument || t.Open() {
				continue
			}
			if latest == nil || t.ClosedAt != nil && (latest.ClosedAt == nil || t.ClosedAt.After(*latest.ClosedAt)) {
				latest = t
			}
		}
	}
	consider(s.MonthStats)
	for _, month := range s.Archive {
		consider(month)
	}
	return latest
}

func sameExit(t TradeRecord, exitPrice float64) bool {
	return math.Abs(t.ExitPrice-exitPrice) < 1e-9
}
