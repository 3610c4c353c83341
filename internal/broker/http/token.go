package http

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/domain"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/service"
	"github.com/aussiebroadwan/mcpbroker/pkg/authsdk"
	"github.com/aussiebroadwan/mcpbroker/pkg/httpx"
)

// TokenHandler serves POST /token.
// Accepts application/x-www-form-urlencoded per the RFC 6749 framework.
type TokenHandler struct {
	GrantService *service.GrantService
}

// ServeHTTP godoc
//
//	@Summary		OAuth2 Token Endpoint
//	@Description	Issues MCP access tokens for the authorization_code, device_code and jwt-bearer grants.
//	@Tags			OAuth2
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			grant_type		formData	string					true	"Grant type"	Enums(authorization_code, urn:ietf:params:oauth:grant-type:device_code, urn:ietf:params:oauth:grant-type:jwt-bearer)
//	@Param			client_id		formData	string					true	"Client identifier"
//	@Param			code			formData	string					false	"Authorization code (authorization_code grant)"
//	@Param			redirect_uri	formData	string					false	"Redirect URI used at /authorize (authorization_code grant)"
//	@Param			code_verifier	formData	string					false	"PKCE code_verifier (authorization_code grant)"
//	@Param			device_code		formData	string					false	"Device code (device_code grant)"
//	@Param			assertion		formData	string					false	"Main application token (jwt-bearer grant)"
//	@Param			scope			formData	string					false	"Space-delimited scopes (jwt-bearer grant)"
//	@Success		200				{object}	authsdk.TokenResponse	"access_token, token_type, expires_in, scope"
//	@Failure		400				{object}	authsdk.ErrorResponse	"error, error_description"
//	@Failure		403				{object}	authsdk.ErrorResponse	"error, error_description"
//	@Failure		500				{object}	authsdk.ErrorResponse	"error, error_description"
//	@Header			200				{string}	Cache-Control			"no-store"
//	@Router			/token [post]
func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. Ensure the right content-type
	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		authsdk.ErrInvalidContentType.WriteError(w)
		return
	}

	// 2. Parse the form body
	if err := r.ParseForm(); err != nil {
		authsdk.ErrInvalidFormBody.WriteError(w)
		return
	}

	// 3. Handle the grant type
	switch r.PostForm.Get("grant_type") {
	case authsdk.GrantTypeAuthorizationCode:
		h.handleAuthorizationCodeGrant(w, r, r.PostForm)
	case authsdk.GrantTypeDeviceCode:
		h.handleDeviceCodeGrant(w, r, r.PostForm)
	case authsdk.GrantTypeJWTBearer:
		h.handleAssertionGrant(w, r, r.PostForm)
	case "":
		authsdk.ErrInvalidRequest.WithDescription("grant_type is required").WriteError(w)
	default:
		authsdk.ErrUnsupportedGrantType.WriteError(w)
	}
}

func (h *TokenHandler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request, form url.Values) {
	grant, err := h.GrantService.ExchangeAuthorizationCode(r.Context(),
		strings.TrimSpace(form.Get("code")),
		strings.TrimSpace(form.Get("client_id")),
		strings.TrimSpace(form.Get("redirect_uri")),
		strings.TrimSpace(form.Get("code_verifier")),
	)
	if err != nil {
		writeServiceError(w, r, "authorization_code grant", err)
		return
	}
	writeToken(w, grant)
}

func (h *TokenHandler) handleDeviceCodeGrant(w http.ResponseWriter, r *http.Request, form url.Values) {
	grant, err := h.GrantService.ExchangeDeviceCode(r.Context(),
		strings.TrimSpace(form.Get("device_code")),
		strings.TrimSpace(form.Get("client_id")),
	)
	if err != nil {
		writeServiceError(w, r, "device_code grant", err)
		return
	}
	writeToken(w, grant)
}

func (h *TokenHandler) handleAssertionGrant(w http.ResponseWriter, r *http.Request, form url.Values) {
	grant, err := h.GrantService.ExchangeAssertion(r.Context(),
		strings.TrimSpace(form.Get("assertion")),
		strings.TrimSpace(form.Get("client_id")),
		form.Get("scope"),
	)
	if err != nil {
		writeServiceError(w, r, "jwt-bearer grant", err)
		return
	}
	writeToken(w, grant)
}

func writeToken(w http.ResponseWriter, grant service.TokenGrant) {
	httpx.WriteJSON(w, http.StatusOK, authsdk.TokenResponse{
		AccessToken: grant.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(grant.ExpiresIn),
		Scope:       domain.JoinScopes(grant.Scopes),
	})
}
