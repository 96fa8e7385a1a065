package okx

import (
	"context"
	"net/http"

	"github.com/rmorriss/tradegate/broker"
	"github.com/rmorriss/tradegate/signal"
)

// posSide maps a signal direction to the OKX long/short position side used
// in isolated margin mode.
func posSide(dir signal.Direction) string {
	if dir == signal.Sell {
		return "short"
	}
	return "long"
}

// entrySide maps a direction to the order side opening that exposure.
func entrySide(dir signal.Direction) string {
	if dir == signal.Sell {
		return "sell"
	}
	return "buy"
}

// SetLeverage configures isolated-margin leverage for the instrument before
// an entry order.
func (c *Client) SetLeverage(ctx context.Context, instrument string, leverage int) error {
	body := map[string]any{
		"instId":  InstID(instrument),
		"lever":   formatQty(float64(leverage)),
		"mgnMode": "isolated",
	}
	return c.do(ctx, "set leverage", http.MethodPost, "/api/v5/account/set-leverage", body, nil)
}

type orderAck struct {
	OrdID string `json:"ordId"`
	SCode string `json:"sCode"`
	SMsg  string `json:"sMsg"`
}

type orderDetail struct {
	AvgPx string `json:"avgPx"`
	State string `json:"state"`
	Sz    string `json:"sz"`
}

// PlaceOrder submits an isolated-margin market order and reads back the
// average fill price, which can differ from the price the position was
// sized at.
func (c *Client) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.Receipt, error) {
	const op = "place order"

	body := map[string]any{
		"instId":  InstID(req.Instrument),
		"tdMode":  "isolated",
		"side":    entrySide(req.Direction),
		"posSide": posSide(req.Direction),
		"ordType": "market",
		"sz":      formatQty(req.Quantity),
	}

	var acks []orderAck
	if err := c.do(ctx, op, http.MethodPost, "/api/v5/trade/order", body, &acks); err != nil {
		return broker.Receipt{}, err
	}
	if len(acks) == 0 || acks[0].OrdID == "" {
		msg := "order not acknowledged"
		if len(acks) > 0 {
			msg = acks[0].SMsg
		}
		return broker.Receipt{}, broker.Permanentf(op, "", "%s", msg)
	}

	return c.receipt(ctx, op, req.Instrument, acks[0].OrdID)
}

// receipt fetches the fill details for an acknowledged order id.
func (c *Client) receipt(ctx context.Context, op, instrument, ordID string) (broker.Receipt, error) {
	path := "/api/v5/trade/order?instId=" + InstID(instrument) + "&ordId=" + ordID

	var details []orderDetail
	if err := c.do(ctx, op, http.MethodGet, path, nil, &details); err != nil {
		return broker.Receipt{}, err
	}
	if len(details) == 0 {
		return broker.Receipt{}, broker.Transientf(op, "", "order %s not yet visible", ordID)
	}

	fill, err := parsePositive(details[0].AvgPx)
	if err != nil {
		return broker.Receipt{}, broker.Transientf(op, "", "order %s has no fill price yet", ordID)
	}
	qty, _ := parsePositive(details[0].Sz)

	return broker.Receipt{
		OrderID:    ordID,
		Instrument: instrument,
		FillPrice:  fill,
		Quantity:   qty,
		Time:       timeNow(),
	}, nil
}

// PlaceConditional places a reduce-only algo order triggering at the stop or
// target price.
func (c *Client) PlaceConditional(ctx context.Context, req broker.ConditionalRequest) (string, error) {
	const op = "place conditional"

	// The conditional closes the position, so its side is the opposite of
	// the protected exposure.
	closeSide := "sell"
	if req.Direction == signal.Sell {
		closeSide = "buy"
	}

	body := map[string]any{
		"instId":     InstID(req.Instrument),
		"tdMode":     "isolated",
		"side":       closeSide,
		"posSide":    posSide(req.Direction),
		"ordType":    "conditional",
		"sz":         formatQty(req.Quantity),
		"reduceOnly": true,
	}
	switch req.Kind {
	case broker.StopLoss:
		body["slTriggerPx"] = formatPrice(req.TriggerPrice)
		body["slOrdPx"] = "-1" // market execution on trigger
	case broker.TakeProfit:
		body["tpTriggerPx"] = formatPrice(req.TriggerPrice)
		body["tpOrdPx"] = "-1"
	default:
		return "", broker.Permanentf(op, "", "unknown conditional kind %q", req.Kind)
	}

	var acks []struct {
		AlgoID string `json:"algoId"`
		SMsg   string `json:"sMsg"`
	}
	if err := c.do(ctx, op, http.MethodPost, "/api/v5/trade/order-algo", body, &acks); err != nil {
		return "", err
	}
	if len(acks) == 0 || acks[0].AlgoID == "" {
		msg := "algo order not acknowledged"
		if len(acks) > 0 {
			msg = acks[0].SMsg
		}
		return "", broker.Permanentf(op, "", "%s", msg)
	}
	return acks[0].AlgoID, nil
}

type positionData struct {
	InstID  string `json:"instId"`
	PosSide string `json:"posSide"`
	Pos     string `json:"pos"`
}

// ClosePosition closes the instrument's open position reduce-only at
// market. The held side is looked up first so the closing order is placed on
// the correct side.
func (c *Client) ClosePosition(ctx context.Context, instrument string, quantity float64) (broker.Receipt, error) {
	const op = "close position"

	path := "/api/v5/account/positions?instId=" + InstID(instrument)
	var positions []positionData
	if err := c.do(ctx, op, http.MethodGet, path, nil, &positions); err != nil {
		return broker.Receipt{}, err
	}

	var held *positionData
	for i := range positions {
		if qty, err := parsePositive(positions[i].Pos); err == nil && qty > 0 {
			held = &positions[i]
			break
		}
	}
	if held == nil {
		return broker.Receipt{}, broker.Permanentf(op, "", "no open position for %s", instrument)
	}

	side := "sell"
	if held.PosSide == "short" {
		side = "buy"
	}

	body := map[string]any{
		"instId":     InstID(instrument),
		"tdMode":     "isolated",
		"side":       side,
		"posSide":    held.PosSide,
		"ordType":    "market",
		"sz":         formatQty(quantity),
		"reduceOnly": true,
	}

	var acks []orderAck
	if err := c.do(ctx, op, http.MethodPost, "/api/v5/trade/order", body, &acks); err != nil {
		return broker.Receipt{}, err
	}
	if len(acks) == 0 || acks[0].OrdID == "" {
		msg := "close not acknowledged"
		if len(acks) > 0 {
			msg = acks[0].SMsg
		}
		return broker.Receipt{}, broker.Permanentf(op, "", "%s", msg)
	}

	return c.receipt(ctx, op, instrument, acks[0].OrdID)
}

// CancelConditionals cancels every pending algo order on the instrument so
// no orphaned stop or target survives a close.
func (c *Client) CancelConditionals(ctx context.Context, instrument string) error {
	const op = "cancel conditionals"

	path := "/api/v5/trade/orders-algo-pending?ordType=conditional&instId=" + InstID(instrument)
	var pending []struct {
		AlgoID string `json:"algoId"`
	}
	if err := c.do(ctx, op, http.MethodGet, path, nil, &pending); err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	cancels := make([]map[string]string, 0, len(pending))
	for _, p := range pending {
		cancels = append(cancels, map[string]string{
			"algoId": p.AlgoID,
			"instId": InstID(instrument),
		})
	}
	return c.do(ctx, op, http.MethodPost, "/api/v5/trade/cancel-algos", cancels, nil)
}
