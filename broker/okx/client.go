// Package okx implements the exchange adapter against OKX USDT-margined
// perpetual swaps (v5 REST API). Requests are signed per the OKX scheme;
// demo trading is selected with the x-simulated-trading header.
package okx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rmorriss/tradegate/broker"
)

const baseURL = "https://www.okx.com"

// Client is an OKX v5 REST client scoped to the adapter capability set.
type Client struct {
	baseURL    string
	apiKey     string
	secret     string
	passphrase string
	demo       bool
	httpClient *http.Client
}

// Config carries the OKX credentials. Demo selects the simulated-trading
// environment. BaseURL overrides the production endpoint when set.
type Config struct {
	APIKey     string
	SecretKey  string
	Passphrase string
	Demo       bool
	BaseURL    string
}

func NewClient(cfg Config) *Client {
	url := cfg.BaseURL
	if url == "" {
		url = baseURL
	}
	return &Client{
		baseURL:    url,
		apiKey:     cfg.APIKey,
		secret:     cfg.SecretKey,
		passphrase: cfg.Passphrase,
		demo:       cfg.Demo,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// InstID maps a bare coin name to the OKX USDT perpetual instrument id,
// e.g. "BTC" -> "BTC-USDT-SWAP".
func InstID(instrument string) string {
	return instrument + "-USDT-SWAP"
}

// envelope is the uniform OKX response wrapper.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// sign produces the OK-ACCESS-SIGN header value: Base64(HMAC-SHA256(secret,
// timestamp + method + requestPath + body)).
func (c *Client) sign(timestamp, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(timestamp + method + path))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// do issues a signed request and decodes the data payload into out. Venue
// and transport failures are classified transient or permanent for the
// dispatcher's retry policy.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return broker.Permanentf(op, "", "encode request: %v", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return broker.Permanentf(op, "", "build request: %v", err)
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", c.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", c.sign(timestamp, method, path, payload))
	req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.passphrase)
	if c.demo {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures (timeouts, resets, DNS blips) are all worth a
		// retry from the dispatcher's point of view.
		return broker.Transientf(op, "", "request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return broker.Transientf(op, "", "read response: %v", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return broker.Transientf(op, strconv.Itoa(resp.StatusCode), "http %d: %s", resp.StatusCode, raw)
	}
	if resp.StatusCode != http.StatusOK {
		return broker.Permanentf(op, strconv.Itoa(resp.StatusCode), "http %d: %s", resp.StatusCode, raw)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return broker.Permanentf(op, "", "decode response: %v", err)
	}
	if env.Code != "0" {
		if transientCode(env.Code) {
			return broker.Transientf(op, env.Code, "%s", env.Msg)
		}
		return broker.Permanentf(op, env.Code, "%s", env.Msg)
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return broker.Permanentf(op, "", "decode data: %v", err)
		}
	}
	return nil
}

// transientCode reports OKX error codes worth retrying: rate limits and
// temporary system unavailability.
func transientCode(code string) bool {
	switch code {
	case "50011", "50013", "50026", "50061":
		return true
	}
	return false
}

type balanceDetail struct {
	Ccy     string `json:"ccy"`
	Eq      string `json:"eq"`
	AvailEq string `json:"availEq"`
}

type balanceData struct {
	Details []balanceDetail `json:"details"`
}

// FetchBalance returns the USDT equity and free margin of the trading
// account.
func (c *Client) FetchBalance(ctx context.Context) (broker.Balance, error) {
	const op = "fetch balance"

	var data []balanceData
	if err := c.do(ctx, op, http.MethodGet, "/api/v5/account/balance?ccy=USDT", nil, &data); err != nil {
		return broker.Balance{}, err
	}

	for _, acct := range data {
		for _, det := range acct.Details {
			if det.Ccy != "USDT" {
				continue
			}
			total, err := strconv.ParseFloat(det.Eq, 64)
			if err != nil {
				return broker.Balance{}, broker.Permanentf(op, "", "parse equity %q: %v", det.Eq, err)
			}
			free, err := strconv.ParseFloat(det.AvailEq, 64)
			if err != nil {
				return broker.Balance{}, broker.Permanentf(op, "", "parse available equity %q: %v", det.AvailEq, err)
			}
			return broker.Balance{Total: total, Free: free}, nil
		}
	}
	return broker.Balance{}, broker.Permanentf(op, "", "no USDT balance in response")
}

type tickerData struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
}

// LastPrice returns the last traded price of the instrument's perpetual.
func (c *Client) LastPrice(ctx context.Context, instrument string) (float64, error) {
	const op = "last price"

	path := "/api/v5/market/ticker?instId=" + InstID(instrument)
	var data []tickerData
	if err := c.do(ctx, op, http.MethodGet, path, nil, &data); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, broker.Permanentf(op, "", "no ticker for %s", instrument)
	}

	last, err := strconv.ParseFloat(data[0].Last, 64)
	if err != nil {
		return 0, broker.Permanentf(op, "", "parse last %q: %v", data[0].Last, err)
	}
	return last, nil
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// parsePositive parses a decimal string the venue may leave empty before a
// fill settles.
func parsePositive(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty numeric field")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return v, nil
}

// timeNow is stubbed in tests.
var timeNow = func() time.Time { return time.Now().UTC() }

var _ broker.Adapter = (*Client)(nil)
