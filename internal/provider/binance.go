package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"market-data-lab/internal/domain"
)

// Default configuration values.
const (
	DefaultBaseURL   = "https://api.binance.com"
	DefaultTimeout   = 30 * time.Second
	MaxKlinesPerPage = 1000
)

// BinanceClient implements KlineSource against the Binance REST API.
type BinanceClient struct {
	baseURL string
	client  *http.Client
}

// BinanceOption configures BinanceClient.
type BinanceOption func(*BinanceClient)

// WithBaseURL overrides the API base URL. Used by tests.
func WithBaseURL(u string) BinanceOption {
	return func(c *BinanceClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) BinanceOption {
	return func(c *BinanceClient) {
		c.client = client
	}
}

// NewBinanceClient creates a new Binance kline client.
func NewBinanceClient(opts ...BinanceOption) *BinanceClient {
	c := &BinanceClient{
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ KlineSource = (*BinanceClient)(nil)

// FetchKlines retrieves up to limit raw candles with open times in
// [from, to), oldest first. Binance caps pages at 1000 rows.
func (c *BinanceClient) FetchKlines(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time, limit int) ([]*domain.RawCandle, error) {
	if limit <= 0 || limit > MaxKlinesPerPage {
		limit = MaxKlinesPerPage
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", string(tf))
	params.Set("startTime", strconv.FormatInt(from.UTC().UnixMilli(), 10))
	// Binance treats endTime as inclusive, the range here is half-open.
	params.Set("endTime", strconv.FormatInt(to.UTC().UnixMilli()-1, 10))
	params.Set("limit", strconv.Itoa(limit))

	reqURL := fmt.Sprintf("%s/api/v3/klines?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &FetchError{Err: fmt.Errorf("build request: %w", err)}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{Transient: true, Err: fmt.Errorf("do request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Transient: true, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, &FetchError{
			Transient: transient,
			Err:       fmt.Errorf("klines request failed: status %d: %s", resp.StatusCode, truncate(body, 200)),
		}
	}

	return parseKlines(body)
}

// parseKlines decodes the Binance kline payload: a JSON array of arrays,
// each row [openTimeMs, open, high, low, close, volume, closeTimeMs, ...].
func parseKlines(body []byte) ([]*domain.RawCandle, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &FetchError{Err: fmt.Errorf("decode klines: %w", err)}
	}

	candles := make([]*domain.RawCandle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, &FetchError{Err: fmt.Errorf("kline row %d: want at least 6 fields, got %d", i, len(row))}
		}

		var openTimeMs int64
		if err := json.Unmarshal(row[0], &openTimeMs); err != nil {
			return nil, &FetchError{Err: fmt.Errorf("kline row %d: decode open time: %w", i, err)}
		}

		fields := make([]string, 5)
		for j := 1; j <= 5; j++ {
			if err := json.Unmarshal(row[j], &fields[j-1]); err != nil {
				return nil, &FetchError{Err: fmt.Errorf("kline row %d: decode field %d: %w", i, j, err)}
			}
		}

		candles = append(candles, &domain.RawCandle{
			OpenTimeMs: openTimeMs,
			Open:       fields[0],
			High:       fields[1],
			Low:        fields[2],
			Close:      fields[3],
			Volume:     fields[4],
		})
	}

	return candles, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
