package authsdk

import (
	"net/http"
	"strings"
	"time"
)

// SDKClient is a client for the MCP broker's OAuth and MCP endpoints.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSDKClient creates a new broker client.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// noRedirect returns a copy of the HTTP client that stops at the first
// redirect so the Location header can be inspected.
func (c *SDKClient) noRedirect() *http.Client {
	cp := *c.HTTPClient
	cp.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &cp
}
