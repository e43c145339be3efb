// Package restclient is a concrete ExchangeAdapter: an HTTP client
// for the derivatives exchange's position, balance, candle, and
// order-management endpoints, with exponential-backoff retry on
// transient failure.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/marginloopd/internal/margin/domain"
)

// RetryAlerter is told when the retry budget for a collaborator is
// exhausted, so the exhaustion reaches the user-visible alert surface
// rather than only the log.
type RetryAlerter interface {
	RetryExhaustion(collaborator string)
}

// Config holds the client's connection settings.
type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	MaxRetries int // default 3 when zero
	Timeout    time.Duration
}

// Client is an HTTP ExchangeAdapter.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
	alerter    RetryAlerter
	symbolMap  map[string]string // short -> full symbol override
}

// New builds a Client.
func New(cfg Config, symbolMap map[string]string, log zerolog.Logger) *Client {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With().Str("client", "restclient").Logger(),
		symbolMap:  symbolMap,
	}
}

// SetAlerter registers the channel notified when the exchange retry
// budget is exhausted. Optional; exhaustion is always logged and
// returned as an error regardless.
func (c *Client) SetAlerter(alerter RetryAlerter) {
	c.alerter = alerter
}

// serviceResponse is the exchange's standard response envelope.
type serviceResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
}

// doWithRetry issues an HTTP request, retrying transient failures
// with exponential backoff up to cfg.MaxRetries attempts.
func (c *Client) doWithRetry(ctx context.Context, method, endpoint string, body interface{}) (*serviceResponse, error) {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(b)
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+endpoint, payload)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-KEY", c.cfg.APIKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			c.backoff(attempt, endpoint, err)
			continue
		}

		parsed, err := c.parse(resp)
		if err != nil {
			lastErr = err
			c.backoff(attempt, endpoint, err)
			continue
		}
		return parsed, nil
	}

	if c.alerter != nil {
		c.alerter.RetryExhaustion("exchange")
	}
	return nil, fmt.Errorf("%s %s failed after %d attempts: %w", method, endpoint, c.cfg.MaxRetries, lastErr)
}

func (c *Client) backoff(attempt int, endpoint string, err error) {
	wait := time.Duration(1<<uint(attempt)) * time.Second
	c.log.Warn().Err(err).Str("endpoint", endpoint).Int("attempt", attempt+1).Dur("wait", wait).
		Msg("exchange request failed, retrying")
	time.Sleep(wait)
}

func (c *Client) parse(resp *http.Response) (*serviceResponse, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var result serviceResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if !result.Success {
		msg := "unknown error"
		if result.Error != nil {
			msg = *result.Error
		}
		return nil, fmt.Errorf("exchange error: %s", msg)
	}
	return &result, nil
}

type wirePosition struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      string  `json:"quantity"`
	EntryPrice    string  `json:"entry_price"`
	CurrentPrice  string  `json:"current_price"`
	Margin        string  `json:"margin"`
	Leverage      int     `json:"leverage"`
	UnrealizedPnL string  `json:"unrealized_pnl"`
}

// ListPositions returns only active holdings.
func (c *Client) ListPositions(ctx context.Context) ([]domain.Position, error) {
	resp, err := c.doWithRetry(ctx, http.MethodGet, "/api/positions", nil)
	if err != nil {
		return nil, err
	}

	var wire []wirePosition
	if err := json.Unmarshal(resp.Data, &wire); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(wire))
	for _, w := range wire {
		positions = append(positions, domain.Position{
			Symbol:        w.Symbol,
			Side:          domain.Side(w.Side),
			Quantity:      mustDecimal(w.Quantity),
			EntryPrice:    mustDecimal(w.EntryPrice),
			CurrentPrice:  mustDecimal(w.CurrentPrice),
			Margin:        mustDecimal(w.Margin),
			Leverage:      w.Leverage,
			UnrealizedPnL: mustDecimal(w.UnrealizedPnL),
		})
	}
	return positions, nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// AvailableDerivativesBalance returns the account's free derivatives
// collateral.
func (c *Client) AvailableDerivativesBalance(ctx context.Context) (decimal.Decimal, error) {
	resp, err := c.doWithRetry(ctx, http.MethodGet, "/api/balance/derivatives", nil)
	if err != nil {
		return decimal.Zero, err
	}

	var wire struct {
		Available string `json:"available"`
	}
	if err := json.Unmarshal(resp.Data, &wire); err != nil {
		return decimal.Zero, fmt.Errorf("parse balance: %w", err)
	}
	return mustDecimal(wire.Available), nil
}

// Candles returns up to limit closing prices, oldest first.
func (c *Client) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]float64, error) {
	endpoint := fmt.Sprintf("/api/candles?symbol=%s&timeframe=%s&limit=%d", symbol, timeframe, limit)
	resp, err := c.doWithRetry(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var wire struct {
		Closes []float64 `json:"closes"`
	}
	if err := json.Unmarshal(resp.Data, &wire); err != nil {
		return nil, fmt.Errorf("parse candles: %w", err)
	}
	return wire.Closes, nil
}

type adjustMarginRequest struct {
	FullSymbol string `json:"full_symbol"`
	Delta      string `json:"delta"`
}

// AdjustMargin sets a signed margin delta on the position's full
// symbol; positive adds collateral, negative withdraws it. Any failure,
// including an explicit rejection by the exchange, returns false
// together with the error once the retry budget is spent.
func (c *Client) AdjustMargin(ctx context.Context, fullSymbol string, delta decimal.Decimal) (bool, error) {
	req := adjustMarginRequest{FullSymbol: fullSymbol, Delta: delta.String()}
	_, err := c.doWithRetry(ctx, http.MethodPost, "/api/margin/adjust", req)
	if err != nil {
		return false, err
	}
	return true, nil
}

type closePositionRequest struct {
	FullSymbol string `json:"full_symbol"`
	Side       string `json:"side"`
	Quantity   string `json:"quantity"`
}

// ClosePosition issues a market order partially closing the position,
// signed opposite the position's side.
func (c *Client) ClosePosition(ctx context.Context, fullSymbol string, side domain.Side, quantity decimal.Decimal) (bool, error) {
	amount := quantity.Neg() // closing a long sells
	if side == domain.Short {
		amount = quantity // closing a short buys
	}
	req := closePositionRequest{FullSymbol: fullSymbol, Side: string(side), Quantity: amount.String()}
	_, err := c.doWithRetry(ctx, http.MethodPost, "/api/positions/close", req)
	if err != nil {
		return false, err
	}
	return true, nil
}

// FullSymbol maps a short symbol to the exchange's opaque full symbol
// through the configured symbol table (e.g. "BTC" -> "tBTCF0:USTF0").
// A symbol not listed in the table is returned unchanged.
func (c *Client) FullSymbol(symbol string) string {
	if full, ok := c.symbolMap[symbol]; ok {
		return full
	}
	return symbol
}
