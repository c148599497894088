// Package rates implements the exchange-rate cache: a durable mapping
// from currency code to rate, refreshed in batches on a schedule and
// read through without ever blocking on the external provider.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Provider fetches current rates for a set of currencies against the
// base currency. Implementations must treat the call as a read: it is
// safe to retry on failure.
type Provider interface {
	FetchRates(ctx context.Context, currencies []string) (map[string]float64, error)
}

// HTTPProvider talks to a currencyapi-style endpoint:
// GET {base}/latest?base_currency=IDR&currencies=USD,EUR with the API
// key in an apikey header. Responses look like
// {"data":{"USD":{"code":"USD","value":0.000065}}}.
type HTTPProvider struct {
	BaseURL      string
	APIKey       string
	BaseCurrency string
	Client       *http.Client
}

// NewHTTPProvider returns a provider with a bounded request timeout so
// a slow upstream cannot stall a whole refresh batch.
func NewHTTPProvider(baseURL, apiKey, baseCurrency string) *HTTPProvider {
	return &HTTPProvider{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		APIKey:       apiKey,
		BaseCurrency: baseCurrency,
		Client:       &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchRates requests one batch of currencies. Retries are the
// caller's concern; this method performs exactly one round trip.
func (p *HTTPProvider) FetchRates(ctx context.Context, currencies []string) (map[string]float64, error) {
	if len(currencies) == 0 {
		return map[string]float64{}, nil
	}
	q := url.Values{}
	q.Set("base_currency", p.BaseCurrency)
	q.Set("currencies", strings.Join(currencies, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/latest?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", p.APIKey)
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rate provider: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rate provider: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Data map[string]struct {
			Code  string  `json:"code"`
			Value float64 `json:"value"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("rate provider: decode: %w", err)
	}
	out := make(map[string]float64, len(payload.Data))
	for code, entry := range payload.Data {
		out[strings.ToUpper(code)] = entry.Value
	}
	return out, nil
}
