// Package backend talks to the resource API that owns projects, tasks and
// comments. Every request carries a short-lived service token.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/mcpbroker/pkg/slogx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTimeout = 30 * time.Second

	// maxResponseBytes caps how much of a backend reply is read.
	maxResponseBytes = 4 << 20

	tracerName = "github.com/aussiebroadwan/mcpbroker/internal/broker/backend"
)

var (
	// ErrUpstream wraps transport failures and non-2xx replies.
	ErrUpstream = errors.New("backend: upstream error")

	ErrNotFound = errors.New("backend: not found")
)

// TokenSource mints the tokens the backend accepts.
type TokenSource interface {
	ResolveResourceToken(userID, email, name string) (string, error)
	MintServiceAssertion() (string, error)
}

// Caller is the user a request is made on behalf of.
type Caller struct {
	ID    string
	Email string
	Name  string
}

// APIError is a non-2xx reply from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets callers match ErrUpstream, or ErrNotFound for 404.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return ErrUpstream
}

// Config configures NewClient.
type Config struct {
	BaseURL string

	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the traced default client.
	HTTPClient *http.Client
}

// Client is a JSON client for the backend resource API.
type Client struct {
	baseURL *url.URL
	timeout time.Duration
	http    *http.Client
	tokens  TokenSource
	tracer  trace.Tracer
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config, tokens TokenSource) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("backend: token source is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("backend: base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	return &Client{
		baseURL: base,
		timeout: cfg.Timeout,
		http:    hc,
		tokens:  tokens,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Request describes one backend call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Do performs req as caller and returns the raw JSON reply. An empty reply
// is returned as JSON null.
func (c *Client) Do(ctx context.Context, caller Caller, req Request) (json.RawMessage, error) {
	token, err := c.tokens.ResolveResourceToken(caller.ID, caller.Email, caller.Name)
	if err != nil {
		return nil, fmt.Errorf("resolve resource token: %w", err)
	}
	return c.do(ctx, token, req)
}

// DoAsService performs req with the broker's own identity.
func (c *Client) DoAsService(ctx context.Context, req Request) (json.RawMessage, error) {
	token, err := c.tokens.MintServiceAssertion()
	if err != nil {
		return nil, fmt.Errorf("mint service assertion: %w", err)
	}
	return c.do(ctx, token, req)
}

func (c *Client) do(ctx context.Context, token string, req Request) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "backend "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
		),
	)
	defer span.End()

	out, status, err := c.roundTrip(ctx, token, req)
	span.SetAttributes(attribute.Int("http.response.status_code", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slogx.FromContext(ctx).Warn("backend request failed",
			"method", req.Method,
			"path", req.Path,
			"status", status,
			"error", err,
		)
		return nil, err
	}
	return out, nil
}

func (c *Client) roundTrip(ctx context.Context, token string, req Request) (json.RawMessage, int, error) {
	// Path arrives already escaped from route template expansion.
	u, err := url.Parse(c.baseURL.String() + "/" + strings.TrimLeft(req.Path, "/"))
	if err != nil {
		return nil, 0, fmt.Errorf("build url: %w", err)
	}
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		buf, err := json.Marshal(req.Body)
		if err != nil {
			return nil, 0, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return json.RawMessage("null"), resp.StatusCode, nil
	}
	if !json.Valid(raw) {
		return nil, resp.StatusCode, fmt.Errorf("%w: reply is not JSON", ErrUpstream)
	}
	return json.RawMessage(raw), resp.StatusCode, nil
}

// errorMessage pulls a readable message out of an error reply.
func errorMessage(raw []byte, fallback string) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return fallback
}
