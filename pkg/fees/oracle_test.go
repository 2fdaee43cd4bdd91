package fees

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchConvertsGweiToWei(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"safeLow":{"maxFee":20.0,"maxPriorityFee":1.0},"fast":{"maxFee":35.5,"maxPriorityFee":2.25}}`))
	}))
	defer server.Close()

	oracle := NewOracle(server.URL, time.Second, 0)
	quote, err := oracle.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(35500000000), quote.MaxFeePerGas)
	assert.Equal(t, big.NewInt(2250000000), quote.MaxPriorityFeePerGas)
	assert.WithinDuration(t, time.Now(), quote.QuotedAt, time.Second)
}

func TestFetchFailsOnBadResponses(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non-2xx status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`not json`))
			},
		},
		{
			name: "missing fast tier",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"safeLow":{"maxFee":20.0,"maxPriorityFee":1.0}}`))
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(tc.handler)
			defer server.Close()

			oracle := NewOracle(server.URL, time.Second, 0)
			_, err := oracle.Fetch(context.Background())

			var fetchErr *FeeFetchError
			require.ErrorAs(t, err, &fetchErr)
		})
	}
}

func TestFetchFailsOnTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	oracle := NewOracle(server.URL, 20*time.Millisecond, 0)
	_, err := oracle.Fetch(context.Background())

	var fetchErr *FeeFetchError
	require.ErrorAs(t, err, &fetchErr)
}

func TestFetchReusesCachedQuoteWithinTTL(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"fast":{"maxFee":30.0,"maxPriorityFee":2.0}}`))
	}))
	defer server.Close()

	oracle := NewOracle(server.URL, time.Second, time.Minute)

	first, err := oracle.Fetch(context.Background())
	require.NoError(t, err)
	second, err := oracle.Fetch(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), hits.Load())
}
