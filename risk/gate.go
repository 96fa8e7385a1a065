package risk

import (
	"fmt"
	"math"

	"github.com/rmorriss/tradegate/signal"
)

// Kind classifies why the gate refused a signal.
type Kind string

const (
	PerTradeExceeded     Kind = "PER_TRADE_EXCEEDED"
	MonthlyLimitExceeded Kind = "MONTHLY_LIMIT_EXCEEDED"
	InsufficientMargin   Kind = "INSUFFICIENT_MARGIN"
	PositionAlreadyOpen  Kind = "POSITION_ALREADY_OPEN"
)

// Rejection is a refused signal. Rejections are expected operating behavior,
// not faults: the caller logs the reason and continues the cycle.
type Rejection struct {
	Kind Kind
	Msg  string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("risk rejected (%s): %s", r.Kind, r.Msg)
}

// Decision is the gate's transient verdict for one signal. MaxRisk records
// the per-trade currency cap as computed at evaluation time, so rejections
// carry an actionable bound for the signal source.
type Decision struct {
	Approved  bool
	Rejection *Rejection
	MaxRisk   float64
}

// Evaluate checks one normalized signal against the policy limits. The
// checks short-circuit in a fixed order: an instrument with a position
// already in flight is refused first, then the per-trade cap, then the
// prospective monthly cap, then margin sufficiency for the sized position.
// Per-trade is deliberately checked before monthly so a signal failing both
// reports the cheaper, more actionable violation.
//
// The caller must hold acct and month fixed for the span of evaluate ->
// size -> dispatch -> record; the gate itself takes no locks.
func Evaluate(p Policy, sig signal.TradeSignal, entry float64, acct AccountSnapshot, month MonthView) Decision {
	d := Decision{MaxRisk: acct.Balance * p.PerTradeFraction}

	if month.OpenInstruments[sig.Instrument] {
		d.Rejection = &Rejection{
			Kind: PositionAlreadyOpen,
			Msg:  fmt.Sprintf("%s already has an open position", sig.Instrument),
		}
		return d
	}

	if sig.RiskUSD > d.MaxRisk {
		d.Rejection = &Rejection{
			Kind: PerTradeExceeded,
			Msg: fmt.Sprintf("risk $%.2f exceeds per-trade limit $%.2f (%.1f%% of $%.2f)",
				sig.RiskUSD, d.MaxRisk, 100*p.PerTradeFraction, acct.Balance),
		}
		return d
	}

	// Prospective monthly check: refuse any trade that could push realized
	// losses past the month's budget, rather than halting after the fact.
	monthlyLimit := month.InitialBalance * p.MonthlyDrawdownFraction
	if month.CumulativeLoss+sig.RiskUSD > monthlyLimit {
		d.Rejection = &Rejection{
			Kind: MonthlyLimitExceeded,
			Msg: fmt.Sprintf("cumulative loss $%.2f + risk $%.2f exceeds monthly limit $%.2f",
				month.CumulativeLoss, sig.RiskUSD, monthlyLimit),
		}
		return d
	}

	// Margin for the position once sized. When the stop distance is zero
	// the sizer rejects immediately after the gate, so skip the check here
	// instead of dividing by zero.
	if dist := math.Abs(entry - sig.StopPrice); dist > 0 {
		quantity := sig.RiskUSD / dist
		margin := entry * quantity / float64(p.ClampLeverage(sig.Leverage))
		if margin > acct.FreeMargin*p.MarginHeadroom {
			d.Rejection = &Rejection{
				Kind: InsufficientMargin,
				Msg: fmt.Sprintf("margin $%.2f required, $%.2f free",
					margin, acct.FreeMargin),
			}
			return d
		}
	}

	d.Approved = true
	return d
}
