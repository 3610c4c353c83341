package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/service"
	"github.com/aussiebroadwan/mcpbroker/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := defaultConfig()
	cfg.JWTSecret = validSecret
	cfg.LogLevel = "error"
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = ""

	_, err := New(context.Background(), cfg)
	require.ErrorIs(t, err, service.ErrMissingSecret)
}

func TestNewWithoutBackendServesOAuth(t *testing.T) {
	app, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	require.Zero(t, app.catalog.Len())
	require.Nil(t, app.grantService.Directory)

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	health, err := authsdk.NewSDKClient(srv.URL).GetReadiness(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ok", health.Status)

	resp, err := http.Get(srv.URL + "/.well-known/oauth-authorization-server")
	require.NoError(t, err)
	defer resp.Body.Close()

	var meta authsdk.AuthorizationServerMetadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&meta))
	require.Equal(t, "http://localhost:8080/device/code", meta.DeviceAuthorizationEndpoint)
}

func TestNewWithBackendRegistersTools(t *testing.T) {
	cfg := testConfig()
	cfg.BackendURL = "http://backend.invalid"

	app, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.Positive(t, app.catalog.Len())
	require.NotNil(t, app.grantService.Directory)
}

func TestNewAppliesStoreLifetimes(t *testing.T) {
	cfg := testConfig()
	cfg.DeviceTTL = 2 * time.Minute
	cfg.DevicePollInterval = 7 * time.Second

	app, err := New(context.Background(), cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	dev, err := authsdk.NewSDKClient(srv.URL).StartDeviceAuthorization(context.Background(), "cli", nil)
	require.NoError(t, err)
	require.Equal(t, 120, dev.ExpiresIn)
	require.Equal(t, 7, dev.Interval)
}

func TestRunStopsOnCancel(t *testing.T) {
	app, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	app.server.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	cancel()
	require.NoError(t, <-done)
}
