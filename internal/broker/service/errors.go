package service

import "errors"

// Errors are named after the OAuth error code the HTTP layer maps them to.
var (
	ErrInvalidRequest          = errors.New("invalid_request")
	ErrInvalidScope            = errors.New("invalid_scope")
	ErrInvalidGrant            = errors.New("invalid_grant")
	ErrInvalidToken            = errors.New("invalid_token")
	ErrLoginRequired           = errors.New("login_required")
	ErrAccessDenied            = errors.New("access_denied")
	ErrUnsupportedResponseType = errors.New("unsupported_response_type")
	ErrAuthorizationPending    = errors.New("authorization_pending")
	ErrExpiredToken            = errors.New("expired_token")
	ErrNotFound                = errors.New("not_found")

	// ErrUpstream wraps failures of the user directory or backend API.
	ErrUpstream = errors.New("upstream_error")

	// ErrMissingSecret is a startup error: the broker cannot run unsigned.
	ErrMissingSecret = errors.New("missing signing secret")
)
