// Package jito submits transaction bundles to Jito block-engine relays.
// A bundle is broadcast to every configured region concurrently and the
// first accepted submission wins; the remaining attempts are left to
// finish on their own so no goroutine is abandoned mid-request.
package jito

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

// tipAccounts are the block-engine validator tip wallets. One is chosen at
// random per bundle so tips spread across validators.
var tipAccounts = []string{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5",
	"HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe",
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
	"ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49",
	"DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh",
	"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt",
	"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL",
	"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT",
}

// RandomTipAccount picks a validator tip wallet for a bundle.
func RandomTipAccount() solana.PublicKey {
	return solana.MustPublicKeyFromBase58(tipAccounts[rand.Intn(len(tipAccounts))])
}

// Client broadcasts bundles to a set of block-engine endpoints.
type Client struct {
	endpoints  []string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a relay client over the given bundle endpoints.
func NewClient(endpoints []string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoints: endpoints,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With(slog.String("component", "jito")),
	}
}

// SubmitBundle sends the serialized transactions as one bundle to every
// endpoint and returns as soon as any relay accepts it. If every relay
// rejects the bundle the last error is returned wrapped in
// domain.ErrAllRelaysFailed.
func (c *Client) SubmitBundle(ctx context.Context, txs [][]byte) error {
	if len(txs) == 0 {
		return fmt.Errorf("jito: empty bundle")
	}

	encoded := make([]string, len(txs))
	for i, raw := range txs {
		encoded[i] = base58.Encode(raw)
	}

	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "sendBundle",
		"params":  []any{encoded},
	})
	if err != nil {
		return fmt.Errorf("jito: encode bundle request: %w", err)
	}

	// Buffered so late finishers never block after a winner is picked.
	results := make(chan error, len(c.endpoints))
	for _, endpoint := range c.endpoints {
		go func(endpoint string) {
			results <- c.sendOne(ctx, endpoint, payload)
		}(endpoint)
	}

	var lastErr error
	for range c.endpoints {
		select {
		case err := <-results:
			if err == nil {
				return nil
			}
			lastErr = err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrAllRelaysFailed, lastErr)
}

func (c *Client) sendOne(ctx context.Context, endpoint string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("jito: build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("relay submission failed", slog.String("endpoint", endpoint), slog.String("error", err.Error()))
		return fmt.Errorf("jito: %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("jito: %s: reading response: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jito: %s: status %d", endpoint, resp.StatusCode)
	}

	var parsed struct {
		Result string `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("jito: %s: decode response: %w", endpoint, err)
	}
	if parsed.Error != nil {
		return fmt.Errorf("jito: %s: rpc error %d: %s", endpoint, parsed.Error.Code, parsed.Error.Message)
	}

	c.logger.Debug("bundle accepted", slog.String("endpoint", endpoint), slog.String("bundle_id", parsed.Result))
	return nil
}
