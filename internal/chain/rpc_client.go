package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DefaultTimeout bounds one HTTP round trip when the context has no deadline.
const DefaultTimeout = 3 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

// HTTPClient executes eth_call over JSON-RPC 2.0 against one endpoint.
// It makes exactly one attempt per call; failover belongs to Pool.
type HTTPClient struct {
	endpoint  string
	client    *http.Client
	blockTag  string
	requestID atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithBlockTag sets the block tag used for eth_call (default "latest").
func WithBlockTag(tag string) ClientOption {
	return func(c *HTTPClient) {
		c.blockTag = tag
	}
}

// NewHTTPClient creates a client for one endpoint.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
		blockTag: "latest",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the URL this client talks to.
func (c *HTTPClient) Endpoint() string {
	return c.endpoint
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// callObject is the eth_call transaction object.
type callObject struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

// RPCError is a JSON-RPC error answered by a node, typically a revert.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if reason := e.RevertReason(); reason != "" {
		return fmt.Sprintf("rpc error %d: %s: %s", e.Code, e.Message, reason)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// RevertReason decodes an Error(string) payload from Data, if present.
func (e *RPCError) RevertReason() string {
	var hex string
	if len(e.Data) == 0 || json.Unmarshal(e.Data, &hex) != nil {
		return ""
	}
	data, err := hexutil.Decode(hex)
	if err != nil {
		return ""
	}
	reason, err := abi.UnpackRevert(data)
	if err != nil {
		return ""
	}
	return reason
}

// StatusError is a non-200 HTTP response from an endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Call executes eth_call against the configured block tag.
func (c *HTTPClient) Call(ctx context.Context, msg CallMsg) ([]byte, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "eth_call",
		Params: []any{
			callObject{To: msg.To.Hex(), Data: hexutil.Encode(msg.Data)},
			c.blockTag,
		},
	}

	raw, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}

	var result string
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode call result: %w", err)
	}
	out, err := hexutil.Decode(result)
	if err != nil {
		return nil, fmt.Errorf("decode call result: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) roundTrip(ctx context.Context, req rpcRequest) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 256)}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	if rpcResp.ID != req.ID {
		return nil, fmt.Errorf("response id %d does not match request id %d", rpcResp.ID, req.ID)
	}
	if len(rpcResp.Result) == 0 {
		return nil, fmt.Errorf("empty result")
	}
	return rpcResp.Result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Caller = (*HTTPClient)(nil)
