package ledger

import "sort"

// Summary aggregates one month's outcomes for reporting.
type Summary struct {
	Month          string
	InitialBalance float64
	TotalTrades    int
	OpenTrades     int
	ClosedTrades   int
	Wins           int
	Losses         int
	TotalPL        float64
	WinRate        float64 // percent of closed trades
	CumulativeLoss float64
}

func summarize(key string, month *MonthStats) Summary {
	s := Summary{Month: key}
	if month == nil {
		return s
	}

	s.InitialBalance = month.InitialBalance
	s.TotalTrades = len(month.Trades)
	for _, t := range month.Trades {
		if t.Open() {
			s.OpenTrades++
			continue
		}
		s.ClosedTrades++
		s.TotalPL += t.RealizedPL
		switch {
		case t.RealizedPL > 0:
			s.Wins++
		case t.RealizedPL < 0:
			s.Losses++
			s.CumulativeLoss += -t.RealizedPL
		}
	}
	if s.ClosedTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.ClosedTrades) * 100
	}
	return s
}

// Stats summarizes the active month.
func (l *Ledger) Stats() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return summarize(l.state.CurrentMonth, l.state.MonthStats)
}

// ArchivedStats summarizes a prior month; ok is false when the month was
// never traded.
func (l *Ledger) ArchivedStats(key string) (Summary, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	month, ok := l.state.Archive[key]
	if !ok {
		return Summary{}, false
	}
	return summarize(key, month), true
}

// ArchivedMonths lists archived month keys in ascending order.
func (l *Ledger) ArchivedMonths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]string, 0, len(l.state.Archive))
	for k := range l.state.Archive {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HardStopBreached reports whether the account balance has fallen to or
// below the month's drawdown floor, initial balance x (1 - fraction). Once
// breached, the coordinator opens no further positions this month.
func (l *Ledger) HardStopBreached(balance, drawdownFraction float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.MonthStats == nil || l.state.MonthStats.InitialBalance <= 0 {
		return false
	}
	floor := l.state.MonthStats.InitialBalance * (1 - drawdownFraction)
	return balance <= floor
}
