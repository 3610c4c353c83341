package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// SessionIDHeader carries the MCP session id on requests and on the SSE
// stream's response.
const SessionIDHeader = "Mcp-Session-Id"

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// RPCResponse is a JSON-RPC 2.0 response as seen by the client.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// MCPClient issues session-less JSON-RPC calls against the MCP endpoint.
type MCPClient struct {
	sdk         *SDKClient
	path        string
	accessToken string
	sessionID   string
	nextID      atomic.Int64
}

// MCP returns an MCP client authenticated with accessToken. path is the MCP
// endpoint path, usually "/mcp".
func (c *SDKClient) MCP(path, accessToken string) *MCPClient {
	return &MCPClient{sdk: c, path: path, accessToken: accessToken}
}

// WithSession binds subsequent calls to an existing session id. Responses
// for bound calls arrive on the session's event stream, not in Call's result.
func (m *MCPClient) WithSession(id string) *MCPClient {
	cp := &MCPClient{sdk: m.sdk, path: m.path, accessToken: m.accessToken, sessionID: id}
	cp.nextID.Store(m.nextID.Load())
	return cp
}

// Call sends a request and decodes its result into out when out is non-nil.
// A JSON-RPC error is returned as *RPCError.
func (m *MCPClient) Call(ctx context.Context, method string, params, out any) error {
	id := m.nextID.Add(1)
	resp, err := m.post(ctx, rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusAccepted:
		return nil
	default:
		return parseErrorResponse(resp, body)
	}

	var rpc RPCResponse
	if err := json.Unmarshal(body, &rpc); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if rpc.Error != nil {
		return rpc.Error
	}
	if out != nil {
		if err := json.Unmarshal(rpc.Result, out); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return nil
}

// Notify sends a notification. The broker answers 202 with no body.
func (m *MCPClient) Notify(ctx context.Context, method string, params any) error {
	resp, err := m.post(ctx, rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusAccepted)
}

// CloseSession ends the bound session with DELETE.
func (m *MCPClient) CloseSession(ctx context.Context) error {
	resp, err := m.sdk.doRequest(ctx, http.MethodDelete, m.path, nil, m.headers())
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

func (m *MCPClient) headers() map[string]string {
	h := map[string]string{
		"Authorization": "Bearer " + m.accessToken,
		"Content-Type":  "application/json",
		"Accept":        "application/json, text/event-stream",
	}
	if m.sessionID != "" {
		h[SessionIDHeader] = m.sessionID
	}
	return h
}

func (m *MCPClient) post(ctx context.Context, req rpcRequest) (*http.Response, error) {
	buf, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return m.sdk.doRequest(ctx, http.MethodPost, m.path, bytes.NewReader(buf), m.headers())
}
