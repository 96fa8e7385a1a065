// Package risk enforces the two hard capital-loss bounds of the system: the
// per-trade risk cap and the rolling monthly drawdown cap. It also converts
// approved signals into sized position requests.
package risk

// Policy carries the configurable risk fractions. The stock limits are 2%
// per trade and 6% monthly drawdown; they are configuration so operators
// can tighten them without a rebuild.
type Policy struct {
	// PerTradeFraction caps a single trade's currency risk as a fraction
	// of the current account balance.
	PerTradeFraction float64

	// MonthlyDrawdownFraction caps cumulative realized losses within a
	// calendar month as a fraction of that month's opening balance.
	MonthlyDrawdownFraction float64

	// MarginHeadroom is the fraction of free margin a new position may
	// consume. Keeping a sliver unreserved avoids rejections from fees
	// and slippage on the fill.
	MarginHeadroom float64

	// Leverage bounds accepted from the signal source.
	MinLeverage int
	MaxLeverage int
}

// DefaultPolicy returns the stock limits.
func DefaultPolicy() Policy {
	return Policy{
		PerTradeFraction:        0.02,
		MonthlyDrawdownFraction: 0.06,
		MarginHeadroom:          0.98,
		MinLeverage:             1,
		MaxLeverage:             20,
	}
}

// ClampLeverage bounds lev to the policy's leverage range.
func (p Policy) ClampLeverage(lev int) int {
	if lev < p.MinLeverage {
		return p.MinLeverage
	}
	if lev > p.MaxLeverage {
		return p.MaxLeverage
	}
	return lev
}

// AccountSnapshot is the read-only account state the gate evaluates against,
// refreshed from the exchange at cycle start.
type AccountSnapshot struct {
	Balance    float64
	FreeMargin float64
}

// MonthView is the gate's frozen view of the current monthly ledger: the
// opening balance, realized losses so far, and which instruments already
// hold an open position.
type MonthView struct {
	MonthKey        string
	InitialBalance  float64
	CumulativeLoss  float64 // sum of |negative realized P&L| of closed trades
	OpenInstruments map[string]bool
}
