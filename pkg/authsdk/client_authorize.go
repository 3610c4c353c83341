package authsdk

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/mcpbroker/pkg/cryptox"
)

// PKCEChallenge holds the PKCE verifier and challenge pair.
// The verifier is kept secret by the client, and the challenge is sent to the authorization endpoint.
type PKCEChallenge struct {
	// Verifier is the high-entropy cryptographic random string (kept secret)
	Verifier string

	// Challenge is the base64url-encoded SHA256 hash of the verifier (sent to server)
	Challenge string

	// Method is always "S256"; the broker rejects "plain"
	Method string
}

// GeneratePKCEChallenge creates a new PKCE code verifier and challenge pair
// with 256 bits of entropy per RFC 7636.
func GeneratePKCEChallenge() (*PKCEChallenge, error) {
	verifier, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}

	return &PKCEChallenge{
		Verifier:  verifier,
		Challenge: cryptox.S256Challenge(verifier),
		Method:    cryptox.PKCEMethodS256,
	}, nil
}

// AuthorizeRequest carries the /authorize query parameters.
type AuthorizeRequest struct {
	ClientID    string
	RedirectURI string
	State       string
	Scopes      []string
	PKCE        *PKCEChallenge
}

func (r AuthorizeRequest) values() url.Values {
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", r.ClientID)
	params.Set("redirect_uri", r.RedirectURI)

	if r.State != "" {
		params.Set("state", r.State)
	}
	if len(r.Scopes) > 0 {
		params.Set("scope", strings.Join(r.Scopes, " "))
	}
	if r.PKCE != nil {
		params.Set("code_challenge", r.PKCE.Challenge)
		params.Set("code_challenge_method", r.PKCE.Method)
	}
	return params
}

// BuildAuthorizeURL constructs the URL the user's browser should open to
// begin the authorization code flow.
//
// Example:
//
//	pkce, _ := authsdk.GeneratePKCEChallenge()
//	u := client.BuildAuthorizeURL(authsdk.AuthorizeRequest{
//		ClientID:    "cli-app",
//		RedirectURI: "http://127.0.0.1:8976/callback",
//		State:       state,
//		PKCE:        pkce,
//	})
//	// Keep pkce.Verifier for ExchangeAuthorizationCode.
func (c *SDKClient) BuildAuthorizeURL(req AuthorizeRequest) string {
	return c.url("/authorize?" + req.values().Encode())
}

// StartAuthorization performs GET /authorize without following the redirect
// and returns the pending authorization id taken from the consent URL.
func (c *SDKClient) StartAuthorization(ctx context.Context, req AuthorizeRequest) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BuildAuthorizeURL(req), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.noRedirect().Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		body, _ := io.ReadAll(resp.Body)
		return "", parseErrorResponse(resp, body)
	}

	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		return "", fmt.Errorf("failed to parse redirect URL: %w", err)
	}
	authID := loc.Query().Get("auth_id")
	if authID == "" {
		return "", fmt.Errorf("redirect missing auth_id")
	}
	return authID, nil
}

// GetPendingAuthorization fetches the non-secret view of a pending
// authorization. When userToken is set the broker binds that user to it.
func (c *SDKClient) GetPendingAuthorization(
	ctx context.Context,
	authID, userToken string,
) (*PendingAuthorizationResponse, error) {
	headers := map[string]string{}
	if userToken != "" {
		headers["Authorization"] = "Bearer " + userToken
	}

	resp, err := c.doRequest(ctx, http.MethodGet, "/pending/"+url.PathEscape(authID), nil, headers)
	if err != nil {
		return nil, err
	}

	var out PendingAuthorizationResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Consent approves or denies a pending authorization on behalf of the user
// identified by userToken, a main application session token. It returns the
// URL the browser should be sent to.
func (c *SDKClient) Consent(ctx context.Context, userToken, authID, action string) (string, error) {
	resp, err := c.postJSON(ctx, "/consent", userToken, ConsentRequest{AuthID: authID, Action: action})
	if err != nil {
		return "", err
	}

	var out ConsentResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return "", err
	}
	return out.RedirectURI, nil
}

// AuthorizeAndExchange drives the whole browser flow headlessly: authorize,
// consent as the given user, and exchange the code.
func (c *SDKClient) AuthorizeAndExchange(
	ctx context.Context,
	userToken string,
	req AuthorizeRequest,
) (*TokenResponse, error) {
	if req.PKCE == nil {
		pkce, err := GeneratePKCEChallenge()
		if err != nil {
			return nil, err
		}
		req.PKCE = pkce
	}

	authID, err := c.StartAuthorization(ctx, req)
	if err != nil {
		return nil, err
	}

	redirect, err := c.Consent(ctx, userToken, authID, ConsentApprove)
	if err != nil {
		return nil, err
	}

	code, state, err := ParseAuthorizationCallback(redirect)
	if err != nil {
		return nil, err
	}
	if state != req.State {
		return nil, fmt.Errorf("state mismatch")
	}

	return c.ExchangeAuthorizationCode(ctx, req.ClientID, req.RedirectURI, code, req.PKCE.Verifier)
}

// ParseAuthorizationCallback extracts code and state from the redirect URL.
// An error redirect is returned as *OAuth2Error.
func ParseAuthorizationCallback(callbackURL string) (code, state string, err error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse callback URL: %w", err)
	}

	q := u.Query()
	if errCode := q.Get("error"); errCode != "" {
		return "", q.Get("state"), &OAuth2Error{
			StatusCode:  http.StatusBadRequest,
			Code:        errCode,
			Description: q.Get("error_description"),
		}
	}

	code = q.Get("code")
	if code == "" {
		return "", "", fmt.Errorf("callback missing authorization code")
	}
	return code, q.Get("state"), nil
}
