package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// url builds a complete URL by appending the path to the base URL.
func (c *SDKClient) url(path string) string {
	return c.BaseURL + path
}

// doRequest performs an HTTP request with the SDKClient's HTTP client.
func (c *SDKClient) doRequest(
	ctx context.Context,
	method, path string,
	body io.Reader,
	headers map[string]string,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	return resp, nil
}

// postForm sends an application/x-www-form-urlencoded POST.
func (c *SDKClient) postForm(ctx context.Context, path string, data url.Values) (*http.Response, error) {
	return c.doRequest(ctx, http.MethodPost, path, strings.NewReader(data.Encode()), map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	})
}

// postJSON sends a JSON POST, optionally with a bearer token.
func (c *SDKClient) postJSON(ctx context.Context, path, bearer string, body any) (*http.Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if bearer != "" {
		headers["Authorization"] = "Bearer " + bearer
	}
	return c.doRequest(ctx, http.MethodPost, path, bytes.NewReader(buf), headers)
}

// decodeJSON decodes a JSON response into the target interface.
// Returns a typed *OAuth2Error if the status is not expectedStatus.
func decodeJSON(resp *http.Response, target any, expectedStatus int) error {
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != expectedStatus {
		if err := parseErrorResponse(resp, bodyBytes); err != nil {
			return err
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(bodyBytes, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// checkStatus returns a typed error if the response status is not expected.
func checkStatus(resp *http.Response, expected int) error {
	defer resp.Body.Close()

	if resp.StatusCode != expected {
		bodyBytes, _ := io.ReadAll(resp.Body)
		if err := parseErrorResponse(resp, bodyBytes); err != nil {
			return err
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
