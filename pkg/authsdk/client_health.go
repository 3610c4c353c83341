package authsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrNotReady is returned by GetReadiness when the broker answers 503. The
// decoded HealthResponse is returned alongside it.
var ErrNotReady = errors.New("broker not ready")

// GetLiveness reports whether the broker process is serving.
func (c *SDKClient) GetLiveness(ctx context.Context) (*HealthResponse, error) {
	return c.getHealth(ctx, "/livez")
}

// GetReadiness reports the store check and the number of live MCP sessions.
// A degraded broker yields both its response and ErrNotReady so callers can
// see which check failed.
func (c *SDKClient) GetReadiness(ctx context.Context) (*HealthResponse, error) {
	return c.getHealth(ctx, "/readyz")
}

func (c *SDKClient) getHealth(ctx context.Context, path string) (*HealthResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode == http.StatusServiceUnavailable {
		if health.Checks != nil {
			return &health, fmt.Errorf("%w: store %s", ErrNotReady, health.Checks.Store)
		}
		return &health, ErrNotReady
	}
	return &health, nil
}

// Sessions is the live MCP session count of a readiness response, zero for
// a liveness response.
func (h *HealthResponse) Sessions() int {
	if h == nil || h.Checks == nil {
		return 0
	}
	return h.Checks.Sessions
}
