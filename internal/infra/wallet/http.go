package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vietddude/txpilot/internal/core/domain"
)

const (
	methodSubmit = "wallet_submitOperation"
	methodStatus = "wallet_getOperationStatus"
)

// HTTPClient implements Client over JSON-RPC 2.0 / HTTP.
type HTTPClient struct {
	name       string
	endpoint   string
	httpClient *http.Client
}

// NewHTTPClient creates a JSON-RPC wallet client.
func NewHTTPClient(name, endpoint string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		name:     name,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Name returns the client's configured name.
func (c *HTTPClient) Name() string {
	return c.name
}

// SubmitOperation sends the submit call and returns the external ref.
func (c *HTTPClient) SubmitOperation(ctx context.Context, params []any) (string, error) {
	result, err := c.call(ctx, methodSubmit, params)
	if err != nil {
		return "", err
	}

	var ref string
	if err := json.Unmarshal(result, &ref); err != nil {
		return "", fmt.Errorf("parse submit result: %w", err)
	}
	return ref, nil
}

// LookupStatus fetches the settlement state of ref.
func (c *HTTPClient) LookupStatus(ctx context.Context, ref string) (domain.RefStatus, error) {
	result, err := c.call(ctx, methodStatus, []any{ref})
	if err != nil {
		return domain.RefStatus{}, err
	}

	var payload statusPayload
	if err := json.Unmarshal(result, &payload); err != nil {
		return domain.RefStatus{}, fmt.Errorf("parse status result: %w", err)
	}
	return payload.toDomain(ref), nil
}

// Close is a no-op; the HTTP client keeps no dedicated connection.
func (c *HTTPClient) Close() error {
	return nil
}

// call makes a single JSON-RPC call. Error messages deliberately carry the
// upstream status codes and body text so the classifier can see them.
func (c *HTTPClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limited (429), retry after: %s", resp.Header.Get("Retry-After"))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	return rpcResp.Result, nil
}
