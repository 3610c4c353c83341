package authsdk

// ============================================================================
// Error Types
// ============================================================================

// ErrorResponse represents a standard OAuth2 error response per RFC 6749.
// Client code should use the OAuth2Error type from errors.go instead.
type ErrorResponse struct {
	// Error is the OAuth2 error code (e.g., "invalid_request", "invalid_grant")
	Error string `json:"error"`

	// ErrorDescription is a human-readable description of the error
	ErrorDescription string `json:"error_description,omitempty"`
}

// ============================================================================
// Grant Types
// ============================================================================

const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantTypeJWTBearer         = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// ============================================================================
// Token Types
// ============================================================================

// TokenResponse is returned from POST /token for every grant type. The broker
// never issues refresh tokens; clients re-authorize when the token expires.
type TokenResponse struct {
	// AccessToken is the JWT used as the bearer credential on the MCP endpoint
	AccessToken string `json:"access_token"`

	// TokenType is always "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int `json:"expires_in"`

	// Scope is the space-delimited list of scopes granted to this token
	Scope string `json:"scope"`
}

// ============================================================================
// Browser Flow Types
// ============================================================================

// PendingAuthorizationResponse is the non-secret view of an in-flight
// authorization returned by GET /pending/{authId}. It deliberately omits
// state and the PKCE challenge.
type PendingAuthorizationResponse struct {
	AuthID      string   `json:"auth_id"`
	ClientID    string   `json:"client_id"`
	RedirectURI string   `json:"redirect_uri"`
	Scopes      []string `json:"scopes"`

	// UserAttached reports whether a signed-in user is bound to the request.
	UserAttached bool  `json:"user_attached"`
	ExpiresAt    int64 `json:"expires_at"`
}

// ConsentRequest is the body of POST /consent.
type ConsentRequest struct {
	AuthID string `json:"auth_id"`

	// Action is "approve" or "deny"
	Action string `json:"action"`
}

// ConsentResponse carries the URL the browser should navigate to next: the
// client's redirect_uri with either code and state or error and state.
type ConsentResponse struct {
	RedirectURI string `json:"redirect_uri"`
}

const (
	ConsentApprove = "approve"
	ConsentDeny    = "deny"
)

// ============================================================================
// Device Flow Types
// ============================================================================

// DeviceAuthorizationResponse is the RFC 8628 section 3.2 response.
type DeviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// DeviceVerificationResponse is returned from GET /device/verify so the
// approval page can show what the user is about to grant.
type DeviceVerificationResponse struct {
	UserCode  string   `json:"user_code"`
	ClientID  string   `json:"client_id"`
	Scopes    []string `json:"scopes"`
	Status    string   `json:"status"`
	ExpiresAt int64    `json:"expires_at"`
}

// DeviceApprovalRequest is the body of POST /device/approve.
type DeviceApprovalRequest struct {
	UserCode string `json:"user_code"`

	// Action is "approve" or "deny"
	Action string `json:"action"`
}

// DeviceApprovalResponse confirms the recorded decision.
type DeviceApprovalResponse struct {
	Status string `json:"status"`
}

// ============================================================================
// Discovery Types
// ============================================================================

// AuthorizationServerMetadata is the RFC 8414 document.
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	DeviceAuthorizationEndpoint       string   `json:"device_authorization_endpoint"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
}

// ProtectedResourceMetadata is the RFC 9728 document for the MCP endpoint.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
}

// ============================================================================
// Health Check Types
// ============================================================================

// HealthResponse represents the response from health check endpoints.
type HealthResponse struct {
	// Status is the overall health status ("ok" or "unhealthy")
	Status string `json:"status"`

	// Uptime is the service uptime in seconds
	Uptime float64 `json:"uptime"`

	// Version is the service version
	Version string `json:"version"`

	// Checks contains individual health check results (readiness only)
	Checks *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks contains individual health check results.
type HealthChecks struct {
	Store    string `json:"store"`
	Sessions int    `json:"sessions"`
}
