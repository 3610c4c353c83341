package mcp

import (
	"bytes"
	"encoding/json"
)

const jsonrpcVersion = "2.0"

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeInsufficientScope is returned when the token lacks a tool's scope.
	CodeInsufficientScope = -32003
)

// Request is an inbound JSON-RPC request or notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether no response is expected.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// Response is an outbound JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is a server initiated message such as a progress update.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

var nullID = json.RawMessage("null")

func newResult(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: jsonrpcVersion, ID: idOrNull(id), Result: result}
}

func newError(id json.RawMessage, code int, message string) *Response {
	return &Response{JSONRPC: jsonrpcVersion, ID: idOrNull(id), Error: &Error{Code: code, Message: message}}
}

func idOrNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return nullID
	}
	return id
}

// Message is one decoded request, or the error response for an element
// that could not be decoded.
type Message struct {
	Request *Request
	Invalid *Response
}

// ParseMessages decodes a POST body. A body that is not JSON at all yields
// a parse error response and no messages; invalid elements of an otherwise
// well formed body are reported per element.
func ParseMessages(body []byte) (msgs []Message, batch bool, perr *Response) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || !json.Valid(body) {
		return nil, false, newError(nil, CodeParseError, "parse error")
	}

	if body[0] != '[' {
		return []Message{parseOne(body)}, false, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(body, &elems); err != nil {
		return nil, true, newError(nil, CodeParseError, "parse error")
	}
	if len(elems) == 0 {
		return nil, true, newError(nil, CodeInvalidRequest, "empty batch")
	}

	msgs = make([]Message, 0, len(elems))
	for _, e := range elems {
		msgs = append(msgs, parseOne(e))
	}
	return msgs, true, nil
}

func parseOne(raw json.RawMessage) Message {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Message{Invalid: newError(nil, CodeInvalidRequest, "invalid request")}
	}
	if req.JSONRPC != jsonrpcVersion {
		return Message{Invalid: newError(req.ID, CodeInvalidRequest, `jsonrpc must be "2.0"`)}
	}
	if req.Method == "" {
		return Message{Invalid: newError(req.ID, CodeInvalidRequest, "method is required")}
	}
	if len(req.ID) > 0 && !validID(req.ID) {
		return Message{Invalid: newError(nil, CodeInvalidRequest, "id must be a string, number or null")}
	}
	return Message{Request: &req}
}

func validID(id json.RawMessage) bool {
	switch id[0] {
	case '"', 'n', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return true
	}
	return false
}
