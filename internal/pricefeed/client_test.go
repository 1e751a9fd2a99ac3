package pricefeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFetchPrice_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		require.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"64123.45000000"}`))
	}))
	defer server.Close()

	client := NewClientWithHTTP(server.URL, server.Client())
	quote, err := client.FetchPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, "BTCUSDT", quote.Symbol)
	require.Equal(t, "64123.45000000", quote.Price)
	require.False(t, quote.FetchedAt.IsZero())
}

func TestFetchPrice_PreservesExistingQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "v3", r.URL.Query().Get("api"))
		require.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"ETHUSDT","price":"3000.1"}`))
	}))
	defer server.Close()

	client := NewClientWithHTTP(server.URL+"/ticker?api=v3", server.Client())
	_, err := client.FetchPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
}

func TestFetchPrice_NumericPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"BTCUSDT","price":1234.565}`))
	}))
	defer server.Close()

	quote, err := NewClientWithHTTP(server.URL, server.Client()).FetchPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, "1234.565", quote.Price)
}

func TestFetchPrice_MissingSymbolInBodyUsesRequested(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price":"1.5"}`))
	}))
	defer server.Close()

	quote, err := NewClientWithHTTP(server.URL, server.Client()).FetchPrice(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	require.Equal(t, "SOLUSDT", quote.Symbol)
}

func TestFetchPrice_Failures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{"server error", http.StatusBadGateway, "upstream down", http.StatusBadGateway},
		{"client error", http.StatusBadRequest, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest},
		{"not json", http.StatusOK, "<html>oops</html>", http.StatusOK},
		{"array body", http.StatusOK, `[1,2]`, http.StatusOK},
		{"missing price", http.StatusOK, `{"symbol":"BTCUSDT"}`, http.StatusOK},
		{"null price", http.StatusOK, `{"symbol":"BTCUSDT","price":null}`, http.StatusOK},
		{"non-decimal price", http.StatusOK, `{"symbol":"BTCUSDT","price":"n/a"}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClientWithHTTP(server.URL, server.Client()).FetchPrice(context.Background(), "BTCUSDT")
			require.Error(t, err)

			var fetchErr *FetchError
			require.True(t, errors.As(err, &fetchErr))
			require.Equal(t, "BTCUSDT", fetchErr.Symbol)
			require.Equal(t, tt.wantStatus, fetchErr.StatusCode)
		})
	}
}

func TestFetchPrice_ErrorMessagePreservesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := NewClientWithHTTP(server.URL, server.Client()).FetchPrice(context.Background(), "BTCUSDT")
	require.Error(t, err)
	require.Contains(t, err.Error(), "rate limited")
	require.Contains(t, err.Error(), "429")
}

func TestFetchPrice_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(url, time.Second).FetchPrice(context.Background(), "BTCUSDT")
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Zero(t, fetchErr.StatusCode)
}

func TestFetchPrice_EmptySymbolMakesNoRequest(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	_, err := NewClientWithHTTP(server.URL, server.Client()).FetchPrice(context.Background(), "")
	require.ErrorIs(t, err, ErrEmptySymbol)
	require.Zero(t, atomic.LoadInt32(&calls))
}

func TestFetchPrice_SingleRequestPerCall(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewClientWithHTTP(server.URL, server.Client()).FetchPrice(context.Background(), "BTCUSDT")
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNewClient_ZeroTimeoutUsesTransportDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"1.5"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 0)
	require.Zero(t, client.httpClient.Timeout)

	quote, err := client.FetchPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, "1.5", quote.Price)
}
