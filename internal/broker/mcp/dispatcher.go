// Package mcp implements the Model Context Protocol endpoint: JSON-RPC
// decoding, method dispatch, the tool catalog and the SSE transport.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/backend"
	"github.com/aussiebroadwan/mcpbroker/pkg/jwtx"
	"github.com/aussiebroadwan/mcpbroker/pkg/slogx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultToolTimeout = 2 * time.Minute

	// LatestProtocolVersion is offered when the client asks for an unknown one.
	LatestProtocolVersion = "2025-06-18"

	tracerName = "github.com/aussiebroadwan/mcpbroker/internal/broker/mcp"
)

var supportedProtocolVersions = []string{LatestProtocolVersion, "2025-03-26", "2024-11-05"}

// ServerInfo identifies the broker in the initialize result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Notifier delivers server initiated messages to the caller's session.
type Notifier func(ctx context.Context, n Notification) error

// Call is the authenticated context of one request.
type Call struct {
	Claims jwtx.Claims

	// Notify is nil for session-less requests.
	Notify Notifier
}

// Dispatcher routes JSON-RPC methods to their handlers.
type Dispatcher struct {
	Tools       *Catalog
	Info        ServerInfo
	ToolTimeout time.Duration

	tracer trace.Tracer
}

// NewDispatcher builds a dispatcher over catalog.
func NewDispatcher(catalog *Catalog, info ServerInfo, toolTimeout time.Duration) *Dispatcher {
	if toolTimeout <= 0 {
		toolTimeout = DefaultToolTimeout
	}
	return &Dispatcher{
		Tools:       catalog,
		Info:        info,
		ToolTimeout: toolTimeout,
		tracer:      otel.Tracer(tracerName),
	}
}

// Dispatch handles one request. It returns nil for notifications.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call, req *Request) *Response {
	ctx, span := d.tracer.Start(ctx, "mcp "+req.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", req.Method),
		),
	)
	defer span.End()

	if req.IsNotification() {
		d.notification(ctx, req)
		return nil
	}

	result, rpcErr := d.call(ctx, call, req)
	if rpcErr != nil {
		span.SetStatus(codes.Error, rpcErr.Message)
		span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", rpcErr.Code))
		return &Response{JSONRPC: jsonrpcVersion, ID: idOrNull(req.ID), Error: rpcErr}
	}
	return newResult(req.ID, result)
}

func (d *Dispatcher) notification(ctx context.Context, req *Request) {
	switch req.Method {
	case "notifications/initialized", "notifications/cancelled":
		slogx.FromContext(ctx).Debug("client notification", "method", req.Method)
	default:
		slogx.FromContext(ctx).Debug("ignored notification", "method", req.Method)
	}
}

func (d *Dispatcher) call(ctx context.Context, call Call, req *Request) (any, *Error) {
	switch req.Method {
	case "initialize":
		return d.initialize(req.Params)
	case "ping":
		return struct{}{}, nil
	case "tools/list":
		return d.listTools(call), nil
	case "tools/call":
		return d.callTool(ctx, call, req.Params)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}
	}
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

func (d *Dispatcher) initialize(raw json.RawMessage) (any, *Error) {
	var p initializeParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &Error{Code: CodeInvalidParams, Message: "invalid initialize params"}
		}
	}

	version := LatestProtocolVersion
	if slices.Contains(supportedProtocolVersions, p.ProtocolVersion) {
		version = p.ProtocolVersion
	}

	return initializeResult{
		ProtocolVersion: version,
		Capabilities: map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
		ServerInfo: d.Info,
	}, nil
}

func (d *Dispatcher) listTools(call Call) any {
	tools := d.Tools.List(call.Claims.Scopes())
	out := make([]toolInfo, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolInfo{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return map[string]any{"tools": out}
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Meta      struct {
		ProgressToken any `json:"progressToken"`
	} `json:"_meta"`
}

func (d *Dispatcher) callTool(ctx context.Context, call Call, raw json.RawMessage) (any, *Error) {
	var p callToolParams
	if len(raw) == 0 || json.Unmarshal(raw, &p) != nil || p.Name == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "tools/call needs a name and object arguments"}
	}
	if p.Arguments == nil {
		p.Arguments = map[string]any{}
	}

	tool, err := d.Tools.Get(p.Name)
	if err != nil {
		return nil, &Error{Code: CodeMethodNotFound, Message: "unknown tool: " + p.Name}
	}
	if tool.Scope != "" && !call.Claims.HasScope(tool.Scope) {
		return nil, &Error{Code: CodeInsufficientScope, Message: "token lacks scope " + tool.Scope}
	}
	if err := tool.validateArguments(p.Arguments); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "invalid arguments: " + err.Error()}
	}

	log := slogx.FromContext(ctx).With("tool", tool.Name)

	ctx, cancel := context.WithTimeout(ctx, d.ToolTimeout)
	defer cancel()

	started := time.Now()
	result, err := tool.Handler(ctx, Invocation{
		Caller: backend.Caller{
			ID:    call.Claims.Subject,
			Email: call.Claims.Email,
			Name:  call.Claims.Name,
		},
		Arguments: p.Arguments,
		Progress:  progressFunc(call.Notify, p.Meta.ProgressToken),
	})
	if err != nil {
		log.Warn("tool failed", "error", err, "duration", time.Since(started))
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("tool %s timed out", tool.Name)}
		}
		return nil, &Error{Code: CodeInternalError, Message: "tool failed: " + err.Error()}
	}

	log.Info("tool called", "duration", time.Since(started))
	return result, nil
}

func progressFunc(notify Notifier, token any) ProgressFunc {
	if notify == nil || token == nil {
		return func(context.Context, float64, float64, string) {}
	}
	return func(ctx context.Context, progress, total float64, message string) {
		_ = notify(ctx, Notification{
			JSONRPC: jsonrpcVersion,
			Method:  "notifications/progress",
			Params: map[string]any{
				"progressToken": token,
				"progress":      progress,
				"total":         total,
				"message":       message,
			},
		})
	}
}
