// Package journal mirrors ledger trade records into SQLite for ad-hoc
// queries and reporting. The JSON state file remains the authority; a
// journal write failure is logged by the ledger, never fatal.
package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rmorriss/tradegate/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	order_id TEXT,
	month TEXT NOT NULL,
	instrument TEXT NOT NULL,
	direction TEXT NOT NULL,
	entry_price REAL NOT NULL,
	quantity REAL NOT NULL,
	leverage INTEGER NOT NULL,
	stop_price REAL NOT NULL,
	target_price REAL NOT NULL,
	risk_usd REAL NOT NULL,
	confidence REAL NOT NULL,
	status TEXT NOT NULL,
	opened_at DATETIME NOT NULL,
	exit_price REAL,
	realized_pl REAL,
	pl_percent REAL,
	closed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_trades_month ON trades(month);
CREATE INDEX IF NOT EXISTS idx_trades_instrument ON trades(instrument);
`

// SQLite is a ledger.Mirror backed by a SQLite database file.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// TradeOpened inserts a newly opened trade. Replays overwrite in place so
// the mirror stays idempotent.
func (j *SQLite) TradeOpened(rec ledger.TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO trades
		(trade_id, order_id, month, instrument, direction, entry_price, quantity,
		 leverage, stop_price, target_price, risk_usd, confidence, status, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OrderID, ledger.MonthKey(rec.Timestamp), rec.Instrument, rec.Direction,
		rec.EntryPrice, rec.Quantity, rec.Leverage, rec.StopPrice, rec.TargetPrice,
		rec.RiskUSD, rec.Confidence, rec.Status, rec.Timestamp,
	)
	return err
}

// TradeClosed records the exit fields of a closed trade.
func (j *SQLite) TradeClosed(rec ledger.TradeRecord) error {
	_, err := j.db.Exec(`
		UPDATE trades
		SET status = ?, exit_price = ?, realized_pl = ?, pl_percent = ?, closed_at = ?
		WHERE trade_id = ?`,
		rec.Status, rec.ExitPrice, rec.RealizedPL, rec.PLPercent, rec.ClosedAt, rec.ID,
	)
	return err
}

// Trade returns one mirrored record by trade id.
func (j *SQLite) Trade(tradeID string) (ledger.TradeRecord, error) {
	row := j.db.QueryRow(`
		SELECT trade_id, order_id, month, instrument, direction, entry_price, quantity,
		       leverage, stop_price, target_price, risk_usd, confidence, status, opened_at,
		       exit_price, realized_pl, pl_percent, closed_at
		FROM trades WHERE trade_id = ?`, tradeID)

	rec, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return ledger.TradeRecord{}, fmt.Errorf("journal: trade %q not found", tradeID)
	}
	return rec, err
}

// TradesForMonth lists a month's mirrored trades in open order.
func (j *SQLite) TradesForMonth(month string) ([]ledger.TradeRecord, error) {
	rows, err := j.db.Query(`
		SELECT trade_id, order_id, month, instrument, direction, entry_price, quantity,
		       leverage, stop_price, target_price, risk_usd, confidence, status, opened_at,
		       exit_price, realized_pl, pl_percent, closed_at
		FROM trades WHERE month = ? ORDER BY opened_at ASC`, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (ledger.TradeRecord, error) {
	var (
		rec      ledger.TradeRecord
		month    string
		exit     sql.NullFloat64
		pl       sql.NullFloat64
		plPct    sql.NullFloat64
		closedAt sql.NullTime
	)

	err := s.Scan(
		&rec.ID, &rec.OrderID, &month, &rec.Instrument, &rec.Direction,
		&rec.EntryPrice, &rec.Quantity, &rec.Leverage, &rec.StopPrice, &rec.TargetPrice,
		&rec.RiskUSD, &rec.Confidence, &rec.Status, &rec.Timestamp,
		&exit, &pl, &plPct, &closedAt,
	)
	if err != nil {
		return ledger.TradeRecord{}, err
	}

	rec.ExitPrice = exit.Float64
	rec.RealizedPL = pl.Float64
	rec.PLPercent = plPct.Float64
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		rec.ClosedAt = &t
	}
	return rec, nil
}

func (j *SQLite) Close() error { return j.db.Close() }

var _ ledger.Mirror = (*SQLite)(nil)
