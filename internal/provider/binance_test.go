package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-data-lab/internal/domain"
)

const klinesBody = `[
	[1772107200000, "100.5", "105.25", "99.75", "104.0", "1234.5", 1772110799999, "0", 0, "0", "0", "0"],
	[1772110800000, "104.0", "106.0", "103.0", "105.5", "987.6", 1772114399999, "0", 0, "0", "0", "0"]
]`

func TestBinanceClient_FetchKlines(t *testing.T) {
	from := time.UnixMilli(1772107200000).UTC()
	to := from.Add(2 * time.Hour)

	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/klines", r.URL.Path)
		q := r.URL.Query()
		gotQuery = map[string]string{
			"symbol":    q.Get("symbol"),
			"interval":  q.Get("interval"),
			"startTime": q.Get("startTime"),
			"endTime":   q.Get("endTime"),
			"limit":     q.Get("limit"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(klinesBody))
	}))
	defer srv.Close()

	c := NewBinanceClient(WithBaseURL(srv.URL))

	raws, err := c.FetchKlines(context.Background(), "BTCUSDT", domain.Timeframe1h, from, to, 500)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", gotQuery["symbol"])
	assert.Equal(t, "1h", gotQuery["interval"])
	assert.Equal(t, strconv.FormatInt(from.UnixMilli(), 10), gotQuery["startTime"])
	// endTime is inclusive upstream, so the half-open bound steps back 1ms.
	assert.Equal(t, strconv.FormatInt(to.UnixMilli()-1, 10), gotQuery["endTime"])
	assert.Equal(t, "500", gotQuery["limit"])

	require.Len(t, raws, 2)
	assert.Equal(t, int64(1772107200000), raws[0].OpenTimeMs)
	assert.Equal(t, "100.5", raws[0].Open)
	assert.Equal(t, "105.25", raws[0].High)
	assert.Equal(t, "99.75", raws[0].Low)
	assert.Equal(t, "104.0", raws[0].Close)
	assert.Equal(t, "1234.5", raws[0].Volume)
}

func TestBinanceClient_ClampsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, strconv.Itoa(MaxKlinesPerPage), r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewBinanceClient(WithBaseURL(srv.URL))
	_, err := c.FetchKlines(context.Background(), "BTCUSDT", domain.Timeframe1h, time.Now().Add(-time.Hour), time.Now(), 0)
	require.NoError(t, err)
}

func TestBinanceClient_StatusErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewBinanceClient(WithBaseURL(srv.URL))
			_, err := c.FetchKlines(context.Background(), "BTCUSDT", domain.Timeframe1h, time.Now().Add(-time.Hour), time.Now(), 10)
			require.Error(t, err)

			var fe *FetchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.transient, fe.Transient)
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestBinanceClient_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse connections

	c := NewBinanceClient(WithBaseURL(srv.URL))
	_, err := c.FetchKlines(context.Background(), "BTCUSDT", domain.Timeframe1h, time.Now().Add(-time.Hour), time.Now(), 10)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestParseKlines_MalformedPayloads(t *testing.T) {
	_, err := parseKlines([]byte(`{"not":"an array"}`))
	require.Error(t, err)
	assert.False(t, IsTransient(err))

	_, err = parseKlines([]byte(`[[1772107200000, "100"]]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 6 fields")
}
