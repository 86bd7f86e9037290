package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// maxResponseBytes caps how much of a node response is read
const maxResponseBytes = 4 << 20

// ErrEmptyResult is returned when a node answers with a null or missing result
var ErrEmptyResult = errors.New("empty result")

// RPCError is a JSON-RPC error object returned by a node
type RPCError struct {
	Method  string          `json:"-"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: rpc error %d: %s", e.Method, e.Code, e.Message)
}

// MethodNotFound reports whether the node does not implement the method
func (e *RPCError) MethodNotFound() bool {
	return e.Code == -32601
}

// HTTPStatusError is returned for non-2xx node responses
type HTTPStatusError struct {
	Method     string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s: http status %d: %s", e.Method, e.StatusCode, e.Body)
}

// Caller performs one JSON-RPC call against an endpoint and decodes the
// result into result
type Caller interface {
	Call(ctx context.Context, endpoint, method string, result interface{}, params ...interface{}) error
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCClient is the shared JSON-RPC 2.0 over HTTP primitive
type RPCClient struct {
	httpClient *retryablehttp.Client
	timeout    time.Duration
	nextID     atomic.Uint64
}

// NewRPCClient creates a JSON-RPC client with retrying transport
func NewRPCClient(opts ClientOptions) *RPCClient {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRPCTimeout
	}
	return &RPCClient{
		httpClient: newRetryClient(opts),
		timeout:    opts.Timeout,
	}
}

// Call posts a JSON-RPC envelope to endpoint. A non-2xx status, a JSON-RPC
// error object, or a null result all fail the call.
func (c *RPCClient) Call(ctx context.Context, endpoint, method string, result interface{}, params ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", method, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPStatusError{Method: method, StatusCode: resp.StatusCode, Body: truncate(string(raw), 256)}
	}

	var envelope rpcResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if envelope.Error != nil {
		envelope.Error.Method = method
		return envelope.Error
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return fmt.Errorf("%s: %w", method, ErrEmptyResult)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
