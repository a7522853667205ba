// Package jupiter is the REST client for the Jupiter aggregator: swap
// route quoting, swap transaction assembly, and the batch price API.
package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Client is the REST client for the Jupiter swap API.
type Client struct {
	swapHost   string
	httpClient *http.Client
}

// NewClient creates a new Jupiter swap client. swapHost is the API root,
// e.g. "https://api.jup.ag/swap/v1".
func NewClient(swapHost string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		swapHost: swapHost,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// QuoteRequest describes a route lookup. Amount is in the input token's
// smallest unit.
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	SlippageBps int
}

// Quote is a route returned by the quote endpoint. Raw carries the full
// response body because the swap endpoint expects it echoed back verbatim.
type Quote struct {
	InAmount  uint64
	OutAmount uint64
	Raw       json.RawMessage
}

// GetQuote fetches the best route for an exact-in swap.
func (c *Client) GetQuote(ctx context.Context, req QuoteRequest) (Quote, error) {
	params := url.Values{}
	params.Set("inputMint", req.InputMint)
	params.Set("outputMint", req.OutputMint)
	params.Set("amount", strconv.FormatUint(req.Amount, 10))
	params.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	params.Set("swapMode", "ExactIn")

	body, err := c.get(ctx, c.swapHost+"/quote?"+params.Encode())
	if err != nil {
		return Quote{}, fmt.Errorf("jupiter: get quote: %w", err)
	}

	var resp struct {
		InAmount  string `json:"inAmount"`
		OutAmount string `json:"outAmount"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Quote{}, fmt.Errorf("jupiter: decode quote: %w", err)
	}
	inAmt, err := strconv.ParseUint(resp.InAmount, 10, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("jupiter: parse inAmount %q: %w", resp.InAmount, err)
	}
	outAmt, err := strconv.ParseUint(resp.OutAmount, 10, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("jupiter: parse outAmount %q: %w", resp.OutAmount, err)
	}

	return Quote{InAmount: inAmt, OutAmount: outAmt, Raw: json.RawMessage(body)}, nil
}

// SwapPlan is an unsigned swap transaction ready for blockhash stamping
// and signing.
type SwapPlan struct {
	Tx          *solana.Transaction
	ExpectedOut uint64
}

// BuildSwap asks the swap endpoint to assemble a transaction for the quoted
// route, payable by user. The returned transaction is unsigned.
func (c *Client) BuildSwap(ctx context.Context, quote Quote, user solana.PublicKey) (SwapPlan, error) {
	reqBody, err := json.Marshal(map[string]any{
		"quoteResponse":             quote.Raw,
		"userPublicKey":             user.String(),
		"wrapAndUnwrapSol":          true,
		"dynamicComputeUnitLimit":   true,
		"prioritizationFeeLamports": "auto",
	})
	if err != nil {
		return SwapPlan{}, fmt.Errorf("jupiter: encode swap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.swapHost+"/swap", bytes.NewReader(reqBody))
	if err != nil {
		return SwapPlan{}, fmt.Errorf("jupiter: build swap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	body, err := c.do(httpReq)
	if err != nil {
		return SwapPlan{}, fmt.Errorf("jupiter: build swap: %w", err)
	}

	var resp struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return SwapPlan{}, fmt.Errorf("jupiter: decode swap response: %w", err)
	}
	if resp.SwapTransaction == "" {
		return SwapPlan{}, fmt.Errorf("jupiter: swap response missing transaction")
	}

	raw, err := base64.StdEncoding.DecodeString(resp.SwapTransaction)
	if err != nil {
		return SwapPlan{}, fmt.Errorf("jupiter: decode swap transaction base64: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return SwapPlan{}, fmt.Errorf("jupiter: parse swap transaction: %w", err)
	}

	return SwapPlan{Tx: tx, ExpectedOut: quote.OutAmount}, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 256))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
