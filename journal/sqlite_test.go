package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmorriss/tradegate/ledger"
)

func newTestJournal(t *testing.T) *SQLite {
	t.Helper()

	j, err := NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func openRecord() ledger.TradeRecord {
	return ledger.TradeRecord{
		ID:          "01TESTTRADE0000000000000001",
		OrderID:     "ord-1",
		Timestamp:   time.Date(2025, 10, 10, 14, 0, 0, 0, time.UTC),
		Instrument:  "BTC",
		Direction:   "buy",
		EntryPrice:  42500,
		Quantity:    0.214286,
		Leverage:    5,
		StopPrice:   41800,
		TargetPrice: 43100,
		RiskUSD:     150,
		Confidence:  0.8,
		Status:      ledger.StatusOpen,
	}
}

func TestMirrorOpenThenClose(t *testing.T) {
	t.Parallel()

	j := newTestJournal(t)
	rec := openRecord()
	require.NoError(t, j.TradeOpened(rec))

	got, err := j.Trade(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOpen, got.Status)
	assert.InDelta(t, 42500.0, got.EntryPrice, 1e-9)
	assert.Nil(t, got.ClosedAt)

	closedAt := rec.Timestamp.Add(6 * time.Hour)
	rec.Status = ledger.StatusClosed
	rec.ExitPrice = 43100
	rec.RealizedPL = 128.57
	rec.PLPercent = 85.71
	rec.ClosedAt = &closedAt
	require.NoError(t, j.TradeClosed(rec))

	got, err = j.Trade(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusClosed, got.Status)
	assert.InDelta(t, 43100.0, got.ExitPrice, 1e-9)
	assert.InDelta(t, 128.57, got.RealizedPL, 1e-6)
	require.NotNil(t, got.ClosedAt)
	assert.True(t, got.ClosedAt.Equal(closedAt))
}

func TestMirrorReplayDoesNotDuplicate(t *testing.T) {
	t.Parallel()

	j := newTestJournal(t)
	rec := openRecord()
	require.NoError(t, j.TradeOpened(rec))
	require.NoError(t, j.TradeOpened(rec))

	trades, err := j.TradesForMonth("2025-10")
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestTradesForMonth(t *testing.T) {
	t.Parallel()

	j := newTestJournal(t)

	first := openRecord()
	second := openRecord()
	second.ID = "01TESTTRADE0000000000000002"
	second.Instrument = "ETH"
	second.Timestamp = first.Timestamp.Add(time.Hour)

	november := openRecord()
	november.ID = "01TESTTRADE0000000000000003"
	november.Timestamp = time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, j.TradeOpened(first))
	require.NoError(t, j.TradeOpened(second))
	require.NoError(t, j.TradeOpened(november))

	trades, err := j.TradesForMonth("2025-10")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "BTC", trades[0].Instrument)
	assert.Equal(t, "ETH", trades[1].Instrument)
}

func TestTradeNotFound(t *testing.T) {
	t.Parallel()

	j := newTestJournal(t)
	_, err := j.Trade("missing")
	require.Error(t, err)
}
