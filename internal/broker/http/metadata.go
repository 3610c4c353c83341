package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/domain"
	"github.com/aussiebroadwan/mcpbroker/pkg/authsdk"
	"github.com/aussiebroadwan/mcpbroker/pkg/cryptox"
	"github.com/aussiebroadwan/mcpbroker/pkg/httpx"
)

const (
	authorizationServerMetadataPath = "/.well-known/oauth-authorization-server"
	protectedResourceMetadataPath   = "/.well-known/oauth-protected-resource"
)

// AuthorizationServerMetadataHandler godoc
//
//	@Summary		Authorization Server Metadata
//	@Description	RFC 8414 discovery document for the broker.
//	@Tags			Discovery
//	@Produce		json
//	@Success		200	{object}	authsdk.AuthorizationServerMetadata	"endpoints, grant types and PKCE methods"
//	@Router			/.well-known/oauth-authorization-server [get]
func AuthorizationServerMetadataHandler(baseURL string) http.HandlerFunc {
	base := strings.TrimRight(baseURL, "/")
	doc := authsdk.AuthorizationServerMetadata{
		Issuer:                        base,
		AuthorizationEndpoint:         base + "/authorize",
		TokenEndpoint:                 base + "/token",
		DeviceAuthorizationEndpoint:   base + "/device/code",
		ScopesSupported:               domain.SupportedScopes,
		ResponseTypesSupported:        []string{"code"},
		CodeChallengeMethodsSupported: []string{cryptox.PKCEMethodS256},
		GrantTypesSupported: []string{
			authsdk.GrantTypeAuthorizationCode,
			authsdk.GrantTypeDeviceCode,
			authsdk.GrantTypeJWTBearer,
		},
		TokenEndpointAuthMethodsSupported: []string{"none"},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, doc)
	}
}

// ProtectedResourceMetadataHandler godoc
//
//	@Summary		Protected Resource Metadata
//	@Description	RFC 9728 document describing the MCP endpoint and the authorization server that protects it.
//	@Tags			Discovery
//	@Produce		json
//	@Success		200	{object}	authsdk.ProtectedResourceMetadata	"resource, authorization_servers, scopes"
//	@Router			/.well-known/oauth-protected-resource [get]
func ProtectedResourceMetadataHandler(baseURL, mcpPath string) http.HandlerFunc {
	base := strings.TrimRight(baseURL, "/")
	doc := authsdk.ProtectedResourceMetadata{
		Resource:               base + mcpPath,
		AuthorizationServers:   []string{base},
		ScopesSupported:        domain.SupportedScopes,
		BearerMethodsSupported: []string{"header"},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, doc)
	}
}
