package price

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/simple/price", r.URL.Path)
		assert.Equal(t, "bitcoin,ethereum", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		assert.Equal(t, "true", r.URL.Query().Get("include_24hr_change"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":67000.5,"usd_24h_change":-1.25},"ethereum":{"usd":3500}}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL + "/api/v3/"})
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return fixed }

	quotes, err := client.Fetch(context.Background(), []string{"bitcoin", "ethereum"})
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, Quote{AssetID: "bitcoin", USD: 67000.5, USD24hChange: -1.25, FetchedAt: fixed}, quotes["bitcoin"])
	assert.Equal(t, 3500.0, quotes["ethereum"].USD)
	assert.Zero(t, quotes["ethereum"].USD24hChange)
}

func TestClientFetchErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(strings.Repeat("x", 2000)))
	}))
	defer server.Close()

	_, err := NewClient(Config{BaseURL: server.URL}).Fetch(context.Background(), []string{"bitcoin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Less(t, len(err.Error()), 700)
}

func TestClientFetchRequiresIDs(t *testing.T) {
	_, err := NewClient(Config{}).Fetch(context.Background(), nil)
	assert.Error(t, err)
}
