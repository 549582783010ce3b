package fmp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/scorebt/pkg/config"
	"github.com/wonny/scorebt/pkg/httputil"
	"github.com/wonny/scorebt/pkg/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, lookback int) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	httpClient := httputil.New(logger.Nop()).WithRetry(1, time.Millisecond)
	return NewClient(httpClient, config.FMPConfig{
		APIKey:       "test-key",
		BaseURL:      server.URL,
		RateLimit:    100,
		LookbackDays: lookback,
	}, logger.Nop())
}

func TestClient_PriceExactDay(t *testing.T) {
	var gotPath, gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"symbol":"AAPL","historical":[{"date":"2024-01-02","close":185.64,"open":187.15}]}`))
	}, 0)

	price, ok, err := client.Price(context.Background(), "AAPL", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "185.64", price.String())

	assert.Equal(t, "/api/v3/historical-price-full/AAPL", gotPath)
	assert.Contains(t, gotQuery, "from=2024-01-02")
	assert.Contains(t, gotQuery, "to=2024-01-02")
	assert.Contains(t, gotQuery, "apikey=test-key")
}

func TestClient_PriceAbsent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}, 0)

	_, ok, err := client.Price(context.Background(), "DELISTED", time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_PriceLookback(t *testing.T) {
	var gotFrom string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotFrom = r.URL.Query().Get("from")
		_, _ = w.Write([]byte(`{"symbol":"AAPL","historical":[
			{"date":"2024-01-05","close":181.18},
			{"date":"2024-01-04","close":181.91}
		]}`))
	}, 3)

	// Saturday resolves to Friday's close
	price, ok, err := client.Price(context.Background(), "AAPL", time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "181.18", price.String())
	assert.Equal(t, "2024-01-03", gotFrom)
}

func TestClient_IndexSymbolEscaped(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{"symbol":"^GSPC","historical":[
			{"date":"2024-01-03","close":4704.81},
			{"date":"2024-01-02","close":4742.83}
		]}`))
	}, 0)

	series, err := client.Range(context.Background(), "^GSPC",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, "/api/v3/historical-price-full/%5EGSPC", gotPath)
	assert.Len(t, series, 2)
	assert.Equal(t, "4742.83", series["2024-01-02"].String())
}

func TestClient_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"Error Message":"Invalid API KEY."}`))
	}, 0)

	_, _, err := client.Price(context.Background(), "AAPL", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "Invalid API KEY")
}

func TestClient_ServerErrorAfterRetries(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, 0)

	_, _, err := client.Price(context.Background(), "AAPL", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}
