package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/domain"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/service"
	"github.com/stretchr/testify/require"
)

func TestStartDeviceAuthorization(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	dc, err := f.device.StartDeviceAuthorization(ctx, "cli", "")
	require.NoError(t, err)
	require.Equal(t, domain.SupportedScopes, dc.Scopes)
	require.Equal(t, 15*time.Minute, dc.ExpiresIn)
	require.Equal(t, 5*time.Second, dc.Interval)
	require.True(t, strings.HasPrefix(dc.VerificationURIComplete, "https://app.example.com/device?user_code="))

	_, err = f.device.StartDeviceAuthorization(ctx, "", "")
	require.ErrorIs(t, err, service.ErrInvalidRequest)

	_, err = f.device.StartDeviceAuthorization(ctx, "cli", "root")
	require.ErrorIs(t, err, service.ErrInvalidScope)
}

func TestLookupUserCodeNormalises(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	dc, err := f.device.StartDeviceAuthorization(ctx, "cli", "tasks:read")
	require.NoError(t, err)

	typed := strings.ToLower(strings.ReplaceAll(dc.UserCode, "-", ""))
	got, err := f.device.LookupUserCode(ctx, typed)
	require.NoError(t, err)
	require.Equal(t, dc.DeviceCode, got.DeviceCode)

	_, err = f.device.LookupUserCode(ctx, "BBBB-BBBB")
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestDecideLastActionWins(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	dc, err := f.device.StartDeviceAuthorization(ctx, "cli", "")
	require.NoError(t, err)

	status, err := f.device.Decide(ctx, "u1", dc.UserCode, service.ConsentDeny)
	require.NoError(t, err)
	require.Equal(t, domain.DeviceStatusDenied, status)

	status, err = f.device.Decide(ctx, "u1", dc.UserCode, service.ConsentApprove)
	require.NoError(t, err)
	require.Equal(t, domain.DeviceStatusApproved, status)

	report, err := f.store.DeviceCodes().DeviceCodeStatus(ctx, dc.DeviceCode)
	require.NoError(t, err)
	require.Equal(t, domain.DeviceStatusApproved, report.Status)
	require.Equal(t, "u1", report.UserID)
}

func TestDecideErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	dc, err := f.device.StartDeviceAuthorization(ctx, "cli", "")
	require.NoError(t, err)

	_, err = f.device.Decide(ctx, "", dc.UserCode, service.ConsentApprove)
	require.ErrorIs(t, err, service.ErrLoginRequired)

	_, err = f.device.Decide(ctx, "u1", dc.UserCode, "later")
	require.ErrorIs(t, err, service.ErrInvalidRequest)

	f.clock.Advance(16 * time.Minute)
	_, err = f.device.Decide(ctx, "u1", dc.UserCode, service.ConsentApprove)
	require.ErrorIs(t, err, service.ErrNotFound)
}
