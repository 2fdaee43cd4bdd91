// Package fees fetches recommended destination-chain fee parameters from a
// gas-station style HTTP endpoint.
package fees

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/params"
)

// FeeFetchError indicates the fee endpoint timed out or returned a bad
// response. Treated by the caller as a per-event transient failure.
type FeeFetchError struct {
	URL string
	Err error
}

func (e *FeeFetchError) Error() string {
	return fmt.Sprintf("failed to fetch fee quote from %s: %v", e.URL, e.Err)
}

func (e *FeeFetchError) Unwrap() error { return e.Err }

// Quote holds EIP-1559 style fee parameters in wei.
type Quote struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	QuotedAt             time.Time
}

// gasStationResponse mirrors the gas-station v2 JSON body. The fast tier is
// used so relayed mints land promptly.
type gasStationResponse struct {
	Fast struct {
		MaxFee         float64 `json:"maxFee"`
		MaxPriorityFee float64 `json:"maxPriorityFee"`
	} `json:"fast"`
}

// Oracle is a stateless client for the fee endpoint, with an optional short
// TTL cache to avoid hammering the API when a window carries many events.
type Oracle struct {
	url      string
	client   *http.Client
	cacheTTL time.Duration
	cached   *Quote
}

// NewOracle builds an oracle against url. timeout bounds each request;
// cacheTTL of zero disables caching.
func NewOracle(url string, timeout, cacheTTL time.Duration) *Oracle {
	return &Oracle{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		cacheTTL: cacheTTL,
	}
}

// Fetch returns a fee quote, reusing a cached one within the TTL.
func (o *Oracle) Fetch(ctx context.Context) (*Quote, error) {
	if o.cached != nil && o.cacheTTL > 0 && time.Since(o.cached.QuotedAt) < o.cacheTTL {
		return o.cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return nil, &FeeFetchError{URL: o.url, Err: err}
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &FeeFetchError{URL: o.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FeeFetchError{URL: o.url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var body gasStationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &FeeFetchError{URL: o.url, Err: fmt.Errorf("failed to decode body: %w", err)}
	}
	if body.Fast.MaxFee <= 0 || body.Fast.MaxPriorityFee <= 0 {
		return nil, &FeeFetchError{URL: o.url, Err: fmt.Errorf(
			"non-positive fee values: maxFee=%f maxPriorityFee=%f", body.Fast.MaxFee, body.Fast.MaxPriorityFee)}
	}

	quote := &Quote{
		MaxFeePerGas:         gweiToWei(body.Fast.MaxFee),
		MaxPriorityFeePerGas: gweiToWei(body.Fast.MaxPriorityFee),
		QuotedAt:             time.Now(),
	}
	o.cached = quote
	return quote, nil
}

func gweiToWei(gwei float64) *big.Int {
	wei, _ := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(params.GWei)).Int(nil)
	return wei
}
