package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError reports a malformed raw signal. Malformed signals are
// cycle-local: the caller skips the instrument and moves on.
type ValidationError struct {
	Instrument string
	Field      string
	Msg        string
}

func (e *ValidationError) Error() string {
	if e.Instrument == "" {
		return fmt.Sprintf("invalid signal: %s: %s", e.Field, e.Msg)
	}
	return fmt.Sprintf("invalid signal for %s: %s: %s", e.Instrument, e.Field, e.Msg)
}

// Ingestor validates raw signal payloads into TradeSignals. It holds no
// state beyond the validator instance and performs no I/O.
type Ingestor struct {
	validate *validator.Validate
}

func NewIngestor() *Ingestor {
	return &Ingestor{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Normalize validates raw and returns the normalized TradeSignal. Hold
// signals skip the price-field checks since no order will be sized from them.
func (in *Ingestor) Normalize(raw Raw) (TradeSignal, error) {
	if err := in.validate.Struct(raw); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return TradeSignal{}, &ValidationError{
				Instrument: raw.Instrument,
				Field:      strings.ToLower(fe.Field()),
				Msg:        fmt.Sprintf("failed %q check (value %v)", fe.Tag(), fe.Value()),
			}
		}
		return TradeSignal{}, &ValidationError{Instrument: raw.Instrument, Field: "payload", Msg: err.Error()}
	}

	for field, v := range map[string]float64{
		"confidence":    raw.Confidence,
		"risk_usd":      raw.RiskUSD,
		"profit_target": raw.ProfitTarget,
		"stop_loss":     raw.StopLoss,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return TradeSignal{}, &ValidationError{Instrument: raw.Instrument, Field: field, Msg: "must be finite"}
		}
	}

	dir := Direction(raw.Signal)
	if dir != Hold {
		if raw.StopLoss <= 0 {
			return TradeSignal{}, &ValidationError{Instrument: raw.Instrument, Field: "stop_loss", Msg: "must be positive for buy/sell"}
		}
		if raw.ProfitTarget <= 0 {
			return TradeSignal{}, &ValidationError{Instrument: raw.Instrument, Field: "profit_target", Msg: "must be positive for buy/sell"}
		}
	}

	return TradeSignal{
		Instrument:  raw.Instrument,
		Direction:   dir,
		Confidence:  raw.Confidence,
		RiskUSD:     raw.RiskUSD,
		Leverage:    raw.Leverage,
		TargetPrice: raw.ProfitTarget,
		StopPrice:   raw.StopLoss,
		Rationale:   raw.Justification,
	}, nil
}

// DecodeBatch parses the decision layer's batch shape: a single JSON object
// keyed by instrument, each value one raw signal. Entries missing the signal
// field are dropped rather than failing the whole batch.
func DecodeBatch(data []byte) ([]Raw, error) {
	var batch map[string]Raw
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, &ValidationError{Field: "batch", Msg: fmt.Sprintf("not a JSON object of signals: %v", err)}
	}

	out := make([]Raw, 0, len(batch))
	for instrument, raw := range batch {
		if raw.Signal == "" {
			continue
		}
		raw.Instrument = instrument
		out = append(out, raw)
	}
	return out, nil
}
