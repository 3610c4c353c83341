package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/service"
	"github.com/aussiebroadwan/mcpbroker/pkg/authsdk"
	"github.com/aussiebroadwan/mcpbroker/pkg/slogx"
)

// oauthErrors maps service sentinels onto wire errors. Order matters only
// for errors that wrap more than one sentinel.
var oauthErrors = []struct {
	target error
	wire   *authsdk.OAuth2Error
}{
	{service.ErrInvalidRequest, authsdk.ErrInvalidRequest},
	{service.ErrInvalidScope, authsdk.ErrInvalidScope},
	{service.ErrInvalidGrant, authsdk.ErrInvalidGrant},
	{service.ErrInvalidToken, authsdk.ErrInvalidToken},
	{service.ErrLoginRequired, authsdk.ErrLoginRequired},
	{service.ErrAccessDenied, authsdk.ErrAccessDenied},
	{service.ErrUnsupportedResponseType, authsdk.ErrUnsupportedResponseType},
	{service.ErrAuthorizationPending, authsdk.ErrAuthorizationPending},
	{service.ErrExpiredToken, authsdk.ErrExpiredToken},
}

// writeServiceError answers with the OAuth error err maps to. Anything
// unrecognised is logged and reported as server_error.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, service.ErrNotFound) {
		authsdk.NewOAuth2Error(http.StatusNotFound, authsdk.ErrorCodeInvalidRequest, describe(err, service.ErrNotFound)).
			WriteError(w)
		return
	}

	for _, m := range oauthErrors {
		if errors.Is(err, m.target) {
			oe := m.wire
			if desc := describe(err, m.target); desc != "" {
				oe = oe.WithDescription(desc)
			}
			oe.WriteError(w)
			return
		}
	}

	slogx.FromContext(r.Context()).Error(op+" failed", "err", err)
	authsdk.ErrServerError.WriteError(w)
}

// describe strips the sentinel prefix from a wrapped service error, leaving
// the human readable detail.
func describe(err, sentinel error) string {
	msg := err.Error()
	if msg == sentinel.Error() {
		return ""
	}
	return strings.TrimPrefix(msg, sentinel.Error()+": ")
}
