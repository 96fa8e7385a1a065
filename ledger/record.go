// Package ledger is the authoritative record of account trading state: the
// current month's opening balance and trades, with prior months archived.
// Every mutation persists before it commits, so the in-memory ledger and the
// durable state never diverge.
package ledger

import (
	"time"

	"github.com/rmorriss/tradegate/signal"
)

// Outcome of a trade record.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// TradeRecord is one trade as persisted. Records are append-only: a record
// mutates exactly once, open -> closed, and is never deleted.
type TradeRecord struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Instrument  string    `json:"coin"`
	Direction   string    `json:"signal"`
	EntryPrice  float64   `json:"entry_price"`
	Quantity    float64   `json:"quantity"`
	Leverage    int       `json:"leverage"`
	StopPrice   float64   `json:"stop_loss"`
	TargetPrice float64   `json:"profit_target"`
	RiskUSD     float64   `json:"risk_usd"`
	Confidence  float64   `json:"confidence"`
	Rationale   string    `json:"entry_logic,omitempty"`
	Status      string    `json:"status"`

	// Exit fields, present once closed.
	ExitPrice  float64    `json:"exit_price,omitempty"`
	RealizedPL float64    `json:"pnl,omitempty"`
	PLPercent  float64    `json:"pnl_pct,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

// Open reports whether the record still has a position in flight.
func (r TradeRecord) Open() bool { return r.Status == StatusOpen }

// realizedPL computes (exit - entry) * quantity signed by direction.
func (r TradeRecord) realizedPL(exit float64) float64 {
	return (exit - r.EntryPrice) * r.Quantity * signal.Direction(r.Direction).Sign()
}

// MonthStats is one calendar month's ledger: the balance recorded at the
// month's first trade and the ordered trade sequence.
type MonthStats struct {
	InitialBalance float64       `json:"initial_balance"`
	Trades         []TradeRecord `json:"trades"`
}

func (m *MonthStats) clone() *MonthStats {
	if m == nil {
		return nil
	}
	out := &MonthStats{InitialBalance: m.InitialBalance}
	out.Trades = append([]TradeRecord(nil), m.Trades...)
	return out
}

// State is the full durable ledger layout: the active month plus an archive
// of prior months keyed by their month string. Archived months are never
// overwritten.
type State struct {
	CurrentMonth string                 `json:"current_month"`
	MonthStats   *MonthStats            `json:"month_stats"`
	Archive      map[string]*MonthStats `json:"archive,omitempty"`
}

// NewState returns an empty ledger state.
func NewState() *State {
	return &State{Archive: make(map[string]*MonthStats)}
}

func (s *State) clone() *State {
	out := &State{
		CurrentMonth: s.CurrentMonth,
		MonthStats:   s.MonthStats.clone(),
		Archive:      make(map[string]*MonthStats, len(s.Archive)),
	}
	for k, v := range s.Archive {
		out.Archive[k] = v.clone()
	}
	return out
}

// MonthKey formats t as the ledger's month key, e.g. "2025-10".
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
