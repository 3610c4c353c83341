//go:build e2e

package broker_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/aussiebroadwan/mcpbroker/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestHealthEndpoints verifies liveness and readiness on a fresh broker.
func TestHealthEndpoints(t *testing.T) {
	baseURL, cleanup := setupBrokerContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)

	health, err := client.GetLiveness(t.Context())
	assertHealthy(t, health, err)

	health, err = client.GetReadiness(t.Context())
	assertHealthy(t, health, err)
	require.NotNil(t, health.Checks)
	require.Equal(t, "ok", health.Checks.Store)
	require.Zero(t, health.Sessions())
}

// TestDiscoveryDocuments verifies the RFC 8414 and RFC 9728 documents.
func TestDiscoveryDocuments(t *testing.T) {
	baseURL, cleanup := setupBrokerContainer(t)
	defer cleanup()

	resp, err := http.Get(baseURL + "/.well-known/oauth-authorization-server")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var as authsdk.AuthorizationServerMetadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&as))
	require.Equal(t, []string{"S256"}, as.CodeChallengeMethodsSupported)
	require.ElementsMatch(t, []string{
		authsdk.GrantTypeAuthorizationCode,
		authsdk.GrantTypeDeviceCode,
		authsdk.GrantTypeJWTBearer,
	}, as.GrantTypesSupported)

	resp2, err := http.Get(baseURL + "/.well-known/oauth-protected-resource")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var pr authsdk.ProtectedResourceMetadata
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&pr))
	require.NotEmpty(t, pr.AuthorizationServers)
}
