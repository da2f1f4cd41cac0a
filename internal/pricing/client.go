package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"launch-guard/internal/domain"
)

// Client supplies swap quotes and builds unsigned sell transactions. The
// engine only signs and submits what it is given; all curve math lives behind
// this interface.
type Client interface {
	// Quote prices a swap of amount raw input units.
	Quote(ctx context.Context, inputMint, outputMint string, amount uint64) (*Quote, error)

	// BuildSellTransaction returns a base64-encoded unsigned transaction
	// executing the quote for the given wallet. A fresh call produces a
	// transaction with a fresh blockhash, which is what retries need.
	BuildSellTransaction(ctx context.Context, q *Quote, userPublicKey string, priorityFeeLamports uint64) (string, error)
}

// Quote is a priced swap. The raw aggregator response is carried along
// because the swap endpoint wants it back verbatim.
type Quote struct {
	InputMint      string
	OutputMint     string
	InAmount       uint64
	OutAmount      uint64
	PriceImpactPct decimal.Decimal

	raw json.RawMessage
}

// HTTPClient talks to a Jupiter-style swap aggregator.
type HTTPClient struct {
	baseURL     string
	httpClient  *http.Client
	slippageBps int
	maxRetries  int
	retryDelay  time.Duration
}

var _ Client = (*HTTPClient)(nil)

// ClientOption configures the HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) { h.httpClient = c }
}

// WithSlippageBps sets the quoted slippage tolerance in basis points.
func WithSlippageBps(bps int) ClientOption {
	return func(h *HTTPClient) { h.slippageBps = bps }
}

// WithMaxRetries sets the per-request retry count.
func WithMaxRetries(n int) ClientOption {
	return func(h *HTTPClient) { h.maxRetries = n }
}

// WithRetryDelay sets the delay between request retries.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(h *HTTPClient) { h.retryDelay = d }
}

// NewHTTPClient creates a pricing client for the given aggregator base URL
// (e.g. https://api.jup.ag/swap/v1).
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		slippageBps: 300,
		maxRetries:  3,
		retryDelay:  50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type quoteFields struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	Error          string `json:"error"`
}

// Quote requests an ExactIn quote.
func (c *HTTPClient) Quote(ctx context.Context, inputMint, outputMint string, amount uint64) (*Quote, error) {
	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.Itoa(c.slippageBps))
	q.Set("swapMode", "ExactIn")

	raw, err := c.get(ctx, c.baseURL+"/quote?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("quote %s->%s: %w", inputMint, outputMint, err)
	}

	var fields quoteFields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	if fields.Error != "" {
		return nil, fmt.Errorf("quote error: %s", fields.Error)
	}

	in, err := strconv.ParseUint(fields.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse inAmount %q: %w", fields.InAmount, err)
	}
	out, err := strconv.ParseUint(fields.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse outAmount %q: %w", fields.OutAmount, err)
	}
	if in == 0 || out == 0 {
		return nil, fmt.Errorf("quote has zero amounts, no liquidity for %s", inputMint)
	}

	impact := decimal.Zero
	if fields.PriceImpactPct != "" {
		impact, err = decimal.NewFromString(fields.PriceImpactPct)
		if err != nil {
			return nil, fmt.Errorf("parse priceImpactPct %q: %w", fields.PriceImpactPct, err)
		}
	}

	return &Quote{
		InputMint:      fields.InputMint,
		OutputMint:     fields.OutputMint,
		InAmount:       in,
		OutAmount:      out,
		PriceImpactPct: impact,
		raw:            raw,
	}, nil
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
	Error           string `json:"error"`
}

// BuildSellTransaction exchanges a quote for an unsigned swap transaction.
func (c *HTTPClient) BuildSellTransaction(ctx context.Context, q *Quote, userPublicKey string, priorityFeeLamports uint64) (string, error) {
	if q == nil || len(q.raw) == 0 {
		return "", fmt.Errorf("%w: swap requires a quote", domain.ErrConfigInvalid)
	}

	body, err := json.Marshal(map[string]any{
		"quoteResponse":             json.RawMessage(q.raw),
		"userPublicKey":             userPublicKey,
		"wrapAndUnwrapSol":          true,
		"dynamicComputeUnitLimit":   true,
		"prioritizationFeeLamports": priorityFeeLamports,
	})
	if err != nil {
		return "", fmt.Errorf("marshal swap request: %w", err)
	}

	raw, err := c.post(ctx, c.baseURL+"/swap", body)
	if err != nil {
		return "", fmt.Errorf("swap for %s: %w", userPublicKey, err)
	}

	var resp swapResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode swap response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("swap error: %s", resp.Error)
	}
	if resp.SwapTransaction == "" {
		return "", fmt.Errorf("swap response missing transaction")
	}
	return resp.SwapTransaction, nil
}

// ValueOf estimates the output-side worth of amount raw input units at this
// quote's price, used for dust math on the projected remainder.
func (q *Quote) ValueOf(amount uint64) uint64 {
	if q.InAmount == 0 {
		return 0
	}
	v := decimal.NewFromUint64(amount).
		Mul(decimal.NewFromUint64(q.OutAmount)).
		Div(decimal.NewFromUint64(q.InAmount))
	return v.BigInt().Uint64()
}

func (c *HTTPClient) get(ctx context.Context, url string) (json.RawMessage, error) {
	return c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
}

func (c *HTTPClient) post(ctx context.Context, url string, body []byte) (json.RawMessage, error) {
	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

func (c *HTTPClient) do(ctx context.Context, build func() (*http.Request, error)) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		req, err := build()
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return data, nil
		}
		lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
		// Client errors other than rate limiting will not improve on retry.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			break
		}
	}
	return nil, fmt.Errorf("%w: %w", domain.ErrTransport, lastErr)
}
