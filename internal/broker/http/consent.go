package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/service"
	"github.com/aussiebroadwan/mcpbroker/pkg/authsdk"
	"github.com/aussiebroadwan/mcpbroker/pkg/httpx"
	"github.com/aussiebroadwan/mcpbroker/pkg/jwtx"
)

// ConsentHandler serves POST /consent. It runs behind Authenticate with the
// main application verifier, so the subject is the signed-in user.
type ConsentHandler struct {
	AuthorizeService *service.AuthorizeService
}

// ServeHTTP godoc
//
//	@Summary		Resolve Consent
//	@Description	Approves or denies a pending authorization as the signed-in main application user and returns where the browser goes next.
//	@Description	Once the pending authorization exists, denials and issuing failures are reported through the client's redirect URI.
//	@Tags			OAuth2
//	@Accept			json
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			request	body		authsdk.ConsentRequest		true	"auth_id and action (approve or deny)"
//	@Success		200		{object}	authsdk.ConsentResponse		"redirect_uri"
//	@Failure		400		{object}	authsdk.ErrorResponse		"error, error_description"
//	@Failure		401		{object}	authsdk.ErrorResponse		"error, error_description"
//	@Failure		403		{object}	authsdk.ErrorResponse		"error, error_description"
//	@Security		BearerAuth
//	@Router			/consent [post]
func (h *ConsentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params, err := httpx.ReadParams(r)
	if err != nil {
		authsdk.ErrInvalidFormBody.WriteError(w)
		return
	}

	authID := strings.TrimSpace(params.Get("auth_id"))
	action := strings.TrimSpace(params.Get("action"))
	if authID == "" {
		authsdk.ErrInvalidRequest.WithDescription("auth_id is required").WriteError(w)
		return
	}

	redirect, err := h.AuthorizeService.ResolveConsent(r.Context(), httpx.SubjectFromContext(r.Context()), authID, action)
	if err != nil {
		writeServiceError(w, r, "consent", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.ConsentResponse{RedirectURI: redirect})
}

// PendingHandler serves GET /pending/{authId}. The bearer token is optional:
// when it verifies as a main application token the user is attached to the
// pending authorization, otherwise the metadata is returned as is.
type PendingHandler struct {
	AuthorizeService *service.AuthorizeService
	Verifier         jwtx.Verifier
}

// ServeHTTP godoc
//
//	@Summary		Pending Authorization
//	@Description	Returns the non-secret view of a pending authorization for the consent page. A valid main application bearer binds that user to the request.
//	@Tags			OAuth2
//	@Produce		json
//	@Param			authId	path		string								true	"Pending authorization id"
//	@Success		200		{object}	authsdk.PendingAuthorizationResponse	"client, redirect and scopes"
//	@Failure		400		{object}	authsdk.ErrorResponse				"error, error_description"
//	@Failure		401		{object}	authsdk.ErrorResponse				"error, error_description"
//	@Router			/pending/{authId} [get]
func (h *PendingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	authID := r.PathValue("authId")
	if authID == "" {
		authsdk.ErrInvalidRequest.WithDescription("auth id is required").WriteError(w)
		return
	}

	var userID string
	if raw, ok := httpx.BearerToken(r); ok {
		claims, err := h.Verifier.Verify(raw)
		if err != nil {
			authsdk.ErrLoginRequired.WriteError(w)
			return
		}
		userID = claims.Subject
	}

	pending, err := h.AuthorizeService.PendingAuthorization(r.Context(), authID, userID)
	if err != nil {
		writeServiceError(w, r, "pending authorization", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.PendingAuthorizationResponse{
		AuthID:       pending.ID,
		ClientID:     pending.ClientID,
		RedirectURI:  pending.RedirectURI,
		Scopes:       pending.Scopes,
		UserAttached: pending.UserID != "",
		ExpiresAt:    pending.ExpiresAt.Unix(),
	})
}
