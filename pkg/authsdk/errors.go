package authsdk

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/mcpbroker/pkg/httpx"
)

// ============================================================================
// OAuth2 Error Codes (RFC 6749, RFC 8628)
// ============================================================================

const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeServerError             = "server_error"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeInsufficientScope       = "insufficient_scope"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeLoginRequired           = "login_required"

	// Device authorization grant polling codes.
	ErrorCodeAuthorizationPending = "authorization_pending"
	ErrorCodeExpiredToken         = "expired_token"
)

// ============================================================================
// OAuth2Error - Standard OAuth2 error type
// ============================================================================

// OAuth2Error represents a standard OAuth2 error response per RFC 6749.
// It implements the error interface and can be used both by the server
// (to write HTTP responses) and by the SDK client (to represent errors).
type OAuth2Error struct {
	// StatusCode is the HTTP status code for this error
	StatusCode int `json:"-"`

	// Code is the OAuth2 error code (e.g., "invalid_request", "invalid_grant")
	Code string `json:"error"`

	// Description is a human-readable description of the error
	Description string `json:"error_description"`
}

// Error implements the error interface.
func (e *OAuth2Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches on the error code so callers can errors.Is against the
// predefined values regardless of description.
func (e *OAuth2Error) Is(target error) bool {
	t, ok := target.(*OAuth2Error)
	return ok && t.Code == e.Code
}

// WithDescription returns a copy of e with a different description.
func (e *OAuth2Error) WithDescription(desc string) *OAuth2Error {
	cp := *e
	cp.Description = desc
	return &cp
}

// WriteError writes this OAuth2Error to an HTTP response writer.
func (e *OAuth2Error) WriteError(w http.ResponseWriter) {
	httpx.NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            e.Code,
		ErrorDescription: e.Description,
	})
}

// ============================================================================
// Predefined OAuth2 Errors
// ============================================================================

var (
	// ErrInvalidRequest is returned when the request is missing a required parameter,
	// includes an invalid parameter value, or is otherwise malformed.
	ErrInvalidRequest = &OAuth2Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "the request is malformed or missing required parameters",
	}

	// ErrInvalidGrant is returned when the authorization code, device code or
	// assertion is invalid, expired, already used, or was issued to another client.
	ErrInvalidGrant = &OAuth2Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidGrant,
		Description: "the provided grant is invalid",
	}

	// ErrUnsupportedGrantType is returned when the authorization grant type
	// is not supported by the authorization server.
	ErrUnsupportedGrantType = &OAuth2Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeUnsupportedGrantType,
		Description: "grant type not supported",
	}

	// ErrInvalidScope is returned when the requested scope is invalid, unknown
	// or malformed.
	ErrInvalidScope = &OAuth2Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidScope,
		Description: "requested scope is invalid",
	}

	// ErrServerError is returned when the authorization server encountered an
	// unexpected condition, including an unreachable user directory.
	ErrServerError = &OAuth2Error{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeServerError,
		Description: "internal server error",
	}

	// ErrInvalidContentType is returned when the Content-Type header is not
	// application/x-www-form-urlencoded as required by RFC 6749.
	ErrInvalidContentType = &OAuth2Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "content-type must be application/x-www-form-urlencoded",
	}

	// ErrInvalidFormBody is returned when the form body cannot be parsed.
	ErrInvalidFormBody = &OAuth2Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "invalid form body",
	}

	// ErrInvalidToken is returned when the bearer token is missing, invalid or expired.
	ErrInvalidToken = &OAuth2Error{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidToken,
		Description: "the access token is missing, invalid or expired",
	}

	// ErrLoginRequired is returned by user-facing endpoints when no valid
	// main application session token was presented.
	ErrLoginRequired = &OAuth2Error{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeLoginRequired,
		Description: "a signed in user is required",
	}

	// ErrAccessDenied is returned when the resource owner denied the request.
	ErrAccessDenied = &OAuth2Error{
		StatusCode:  http.StatusForbidden,
		Code:        ErrorCodeAccessDenied,
		Description: "access denied",
	}

	// ErrUnsupportedResponseType is returned when response_type is not "code".
	ErrUnsupportedResponseType = &OAuth2Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeUnsupportedResponseType,
		Description: "response type not supported",
	}

	// ErrAuthorizationPending is returned while a device code waits for the user.
	ErrAuthorizationPending = &OAuth2Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeAuthorizationPending,
		Description: "the user has not yet approved the device",
	}

	// ErrExpiredToken is returned when a device code expired before approval.
	ErrExpiredToken = &OAuth2Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeExpiredToken,
		Description: "the device code has expired",
	}
)

// NewOAuth2Error creates a new OAuth2Error with the given status code, error code, and description.
func NewOAuth2Error(statusCode int, code, description string) *OAuth2Error {
	return &OAuth2Error{
		StatusCode:  statusCode,
		Code:        code,
		Description: description,
	}
}

// ============================================================================
// Error Parsing Helpers
// ============================================================================

// parseErrorResponse turns a non-2xx response into an *OAuth2Error.
// Returns nil if the response indicates success (2xx status code).
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &OAuth2Error{
			StatusCode:  resp.StatusCode,
			Code:        errResp.Error,
			Description: errResp.ErrorDescription,
		}
	}

	return &OAuth2Error{
		StatusCode:  resp.StatusCode,
		Code:        ErrorCodeServerError,
		Description: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
