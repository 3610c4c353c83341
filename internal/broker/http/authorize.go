package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/service"
	"github.com/aussiebroadwan/mcpbroker/pkg/authsdk"
	"github.com/aussiebroadwan/mcpbroker/pkg/httpx"
)

// AuthorizeHandler serves GET and POST /authorize. A valid request is parked
// as a pending authorization and the browser is sent to the consent page.
// Nothing has been stored when validation fails, so errors are answered
// directly instead of through the unverified redirect URI.
type AuthorizeHandler struct {
	AuthorizeService *service.AuthorizeService
}

// ServeHTTP godoc
//
//	@Summary		Authorization Endpoint
//	@Description	Validates an OAuth 2.1 authorization request with PKCE (S256 only), parks it as a pending authorization and redirects the browser to the consent page with auth_id.
//	@Description	Validation errors are answered as JSON because the redirect URI is not trusted yet.
//	@Tags			OAuth2
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			response_type			query		string					true	"Must be 'code'"	default(code)
//	@Param			client_id				query		string					true	"Client identifier"
//	@Param			redirect_uri			query		string					true	"Absolute https URI, or http on a loopback host"
//	@Param			scope					query		string					false	"Space-delimited scopes, empty requests all"	example("projects:read tasks:read")
//	@Param			state					query		string					false	"Opaque value returned to the client"
//	@Param			code_challenge			query		string					true	"PKCE code challenge"	example("E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM")
//	@Param			code_challenge_method	query		string					true	"PKCE method"	Enums(S256)
//	@Success		302						{string}	string					"Redirect to the consent page with auth_id"
//	@Failure		400						{object}	authsdk.ErrorResponse	"error, error_description"
//	@Failure		429						{object}	authsdk.ErrorResponse	"error, error_description"
//	@Router			/authorize [get]
//	@Router			/authorize [post]
func (h *AuthorizeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	if r.Method == http.MethodPost {
		form, err := httpx.ReadParams(r)
		if err != nil {
			authsdk.ErrInvalidFormBody.WriteError(w)
			return
		}
		params = form
	}

	req := service.AuthorizeRequest{
		ResponseType:        strings.TrimSpace(params.Get("response_type")),
		ClientID:            strings.TrimSpace(params.Get("client_id")),
		RedirectURI:         strings.TrimSpace(params.Get("redirect_uri")),
		Scope:               params.Get("scope"),
		State:               params.Get("state"),
		CodeChallenge:       strings.TrimSpace(params.Get("code_challenge")),
		CodeChallengeMethod: strings.TrimSpace(params.Get("code_challenge_method")),
	}

	authID, err := h.AuthorizeService.StartAuthorization(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, "authorize", err)
		return
	}

	httpx.NoCache(w)
	http.Redirect(w, r, h.AuthorizeService.ConsentRedirectURL(authID), http.StatusFound)
}
