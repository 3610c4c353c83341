package authsdk

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ExchangeAuthorizationCode redeems a code from the browser flow.
func (c *SDKClient) ExchangeAuthorizationCode(
	ctx context.Context,
	clientID, redirectURI, code, verifier string,
) (*TokenResponse, error) {
	return c.requestToken(ctx, url.Values{
		"grant_type":    {GrantTypeAuthorizationCode},
		"code":          {code},
		"client_id":     {clientID},
		"redirect_uri":  {redirectURI},
		"code_verifier": {verifier},
	})
}

// ExchangeDeviceCode makes one polling attempt. While the user has not
// decided it returns an error matching ErrAuthorizationPending.
func (c *SDKClient) ExchangeDeviceCode(ctx context.Context, clientID, deviceCode string) (*TokenResponse, error) {
	return c.requestToken(ctx, url.Values{
		"grant_type":  {GrantTypeDeviceCode},
		"device_code": {deviceCode},
		"client_id":   {clientID},
	})
}

// PollDeviceToken polls until the device code is approved, denied or
// expired, or ctx is done. interval falls back to 5s.
func (c *SDKClient) PollDeviceToken(
	ctx context.Context,
	clientID string,
	device *DeviceAuthorizationResponse,
) (*TokenResponse, error) {
	interval := time.Duration(device.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		tok, err := c.ExchangeDeviceCode(ctx, clientID, device.DeviceCode)
		if !errors.Is(err, ErrAuthorizationPending) {
			return tok, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ExchangeAssertion trades a main application token for an MCP access token.
func (c *SDKClient) ExchangeAssertion(
	ctx context.Context,
	clientID, assertion string,
	scopes []string,
) (*TokenResponse, error) {
	data := url.Values{
		"grant_type": {GrantTypeJWTBearer},
		"assertion":  {assertion},
		"client_id":  {clientID},
	}
	if len(scopes) > 0 {
		data.Set("scope", strings.Join(scopes, " "))
	}
	return c.requestToken(ctx, data)
}

func (c *SDKClient) requestToken(ctx context.Context, data url.Values) (*TokenResponse, error) {
	resp, err := c.postForm(ctx, "/token", data)
	if err != nil {
		return nil, err
	}

	var tokenResp TokenResponse
	if err := decodeJSON(resp, &tokenResp, http.StatusOK); err != nil {
		return nil, err
	}
	return &tokenResp, nil
}
