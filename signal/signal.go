// Package signal defines the trade signal produced by the decision layer and
// the ingestion boundary that validates raw payloads before they reach the
// risk gate.
package signal

// Direction is the action requested by a signal.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
	Hold Direction = "hold"
)

// Sign returns +1 for long exposure, -1 for short, 0 for hold. Realized P&L
// is (exit - entry) * quantity * Sign().
func (d Direction) Sign() float64 {
	switch d {
	case Buy:
		return 1
	case Sell:
		return -1
	default:
		return 0
	}
}

// Raw is the wire shape emitted by the signal source, one object per
// instrument. Field tags drive both JSON decoding and validation; nothing
// downstream ever touches a Raw directly.
type Raw struct {
	Instrument    string  `json:"coin" validate:"required"`
	Signal        string  `json:"signal" validate:"required,oneof=buy sell hold"`
	Confidence    float64 `json:"confidence" validate:"gte=0,lte=1"`
	RiskUSD       float64 `json:"risk_usd" validate:"gte=0"`
	Leverage      int     `json:"leverage" validate:"gte=1,lte=20"`
	ProfitTarget  float64 `json:"profit_target"`
	StopLoss      float64 `json:"stop_loss"`
	Justification string  `json:"justification"`
}

// TradeSignal is the normalized, immutable form of one Raw payload. It is
// produced once by the Ingestor and consumed once by the coordinator.
type TradeSignal struct {
	Instrument  string
	Direction   Direction
	Confidence  float64
	RiskUSD     float64
	Leverage    int
	TargetPrice float64
	StopPrice   float64
	Rationale   string
}

// Actionable reports whether the signal requests an order (buy or sell) as
// opposed to hold.
func (s TradeSignal) Actionable() bool {
	return s.Direction == Buy || s.Direction == Sell
}
