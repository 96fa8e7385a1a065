package risk

import (
	"fmt"
	"math"

	"github.com/rmorriss/tradegate/signal"
)

// Position is a sized order request ready for dispatch.
type Position struct {
	Instrument  string
	Direction   signal.Direction
	Quantity    float64
	Leverage    int
	StopPrice   float64
	TargetPrice float64
	RiskUSD     float64
}

// StopDistanceError means the signal cannot be sized: the stop sits on the
// entry price or the resulting quantity is unusable.
type StopDistanceError struct {
	Instrument string
	Entry      float64
	Stop       float64
}

func (e *StopDistanceError) Error() string {
	return fmt.Sprintf("%s: cannot size position with entry %.8g and stop %.8g",
		e.Instrument, e.Entry, e.Stop)
}

// Size converts an approved signal and the current entry price into a
// concrete quantity: the currency risk budget divided by the price distance
// to the stop. Leverage comes from the signal, clamped to the policy range.
func Size(p Policy, sig signal.TradeSignal, entry float64) (Position, error) {
	dist := math.Abs(entry - sig.StopPrice)
	if dist == 0 {
		return Position{}, &StopDistanceError{Instrument: sig.Instrument, Entry: entry, Stop: sig.StopPrice}
	}

	quantity := sig.RiskUSD / dist
	if quantity <= 0 || math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return Position{}, &StopDistanceError{Instrument: sig.Instrument, Entry: entry, Stop: sig.StopPrice}
	}

	return Position{
		Instrument:  sig.Instrument,
		Direction:   sig.Direction,
		Quantity:    quantity,
		Leverage:    p.ClampLeverage(sig.Leverage),
		StopPrice:   sig.StopPrice,
		TargetPrice: sig.TargetPrice,
		RiskUSD:     sig.RiskUSD,
	}, nil
}
