package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// PriceClient fetches spot prices from the Jupiter price API.
type PriceClient struct {
	priceHost  string
	batchSize  int
	httpClient *http.Client
}

// NewPriceClient creates a price client. priceHost is the API root, e.g.
// "https://api.jup.ag/price/v2". batchSize caps how many mints go into a
// single request; larger lookups are split into sequential batches.
func NewPriceClient(priceHost string, batchSize int, timeout time.Duration) *PriceClient {
	if batchSize <= 0 {
		batchSize = 100
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PriceClient{
		priceHost: priceHost,
		batchSize: batchSize,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchPrices returns the current price for each requested mint. Mints the
// API has no price for are omitted from the result rather than reported as
// errors, so callers must check membership before use.
func (c *PriceClient) FetchPrices(ctx context.Context, mints []string) (map[string]float64, error) {
	out := make(map[string]float64, len(mints))
	for start := 0; start < len(mints); start += c.batchSize {
		end := start + c.batchSize
		if end > len(mints) {
			end = len(mints)
		}
		if err := c.fetchBatch(ctx, mints[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *PriceClient) fetchBatch(ctx context.Context, mints []string, out map[string]float64) error {
	params := url.Values{}
	params.Set("ids", strings.Join(mints, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.priceHost+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("jupiter: build price request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("jupiter: fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jupiter: price API status %d", resp.StatusCode)
	}

	var parsed struct {
		Data map[string]*struct {
			Price string `json:"price"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("jupiter: decode price response: %w", err)
	}

	for mint, entry := range parsed.Data {
		// Unpriced mints come back as null entries; skip them.
		if entry == nil || entry.Price == "" {
			continue
		}
		p, err := strconv.ParseFloat(entry.Price, 64)
		if err != nil {
			continue
		}
		out[mint] = p
	}
	return nil
}
