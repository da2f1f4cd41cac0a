package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"launch-guard/internal/domain"
)

// HTTPRelay submits atomic bundles to a Jito-style block-engine endpoint over
// JSON-RPC.
type HTTPRelay struct {
	endpoint   string
	httpClient *http.Client
}

var _ Relay = (*HTTPRelay)(nil)

// RelayOption configures an HTTPRelay.
type RelayOption func(*HTTPRelay)

// WithRelayHTTPClient sets a custom HTTP client.
func WithRelayHTTPClient(c *http.Client) RelayOption {
	return func(r *HTTPRelay) { r.httpClient = c }
}

// NewHTTPRelay creates a relay client for the given bundle endpoint.
func NewHTTPRelay(endpoint string, opts ...RelayOption) *HTTPRelay {
	r := &HTTPRelay{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type relayRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type relayResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *relayError     `json:"error"`
}

type relayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SubmitBundle submits base64 transactions for all-or-nothing inclusion.
func (r *HTTPRelay) SubmitBundle(ctx context.Context, txs []string) (string, error) {
	if len(txs) == 0 {
		return "", fmt.Errorf("%w: empty bundle", domain.ErrConfigInvalid)
	}
	if len(txs) > MaxBundleSize {
		return "", fmt.Errorf("%w: bundle of %d exceeds limit %d", domain.ErrConfigInvalid, len(txs), MaxBundleSize)
	}

	body, err := json.Marshal(relayRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "sendBundle",
		Params:  []any{txs, map[string]string{"encoding": "base64"}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal bundle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create bundle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: submit bundle: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read bundle response: %w", domain.ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: relay status %d: %s", domain.ErrSubmissionFailed, resp.StatusCode, bytes.TrimSpace(data))
	}

	var rr relayResponse
	if err := json.Unmarshal(data, &rr); err != nil {
		return "", fmt.Errorf("decode bundle response: %w", err)
	}
	if rr.Error != nil {
		return "", fmt.Errorf("%w: relay error %d: %s", domain.ErrSubmissionFailed, rr.Error.Code, rr.Error.Message)
	}

	var bundleID string
	if err := json.Unmarshal(rr.Result, &bundleID); err != nil {
		return "", fmt.Errorf("decode bundle id: %w", err)
	}
	return bundleID, nil
}
