package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/domain"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/store"
	"github.com/aussiebroadwan/mcpbroker/pkg/cryptox"
	"github.com/aussiebroadwan/mcpbroker/pkg/slogx"
)

// DeviceService is the user facing half of the RFC 8628 device flow. Polling
// lives in GrantService.
type DeviceService struct {
	Store store.Store

	// VerificationURI is the page where users type their code.
	VerificationURI string
}

// StartDeviceAuthorization issues a device code and user code for clientID.
func (s *DeviceService) StartDeviceAuthorization(ctx context.Context, clientID, scope string) (domain.DeviceCode, error) {
	if clientID == "" {
		return domain.DeviceCode{}, fmt.Errorf("%w: client_id is required", ErrInvalidRequest)
	}
	scopes, err := domain.NormalizeScopes(scope)
	if err != nil {
		return domain.DeviceCode{}, fmt.Errorf("%w: %v", ErrInvalidScope, err)
	}

	dc, err := s.Store.DeviceCodes().InitiateDeviceCode(ctx, store.DeviceCodeRequest{
		ClientID:        clientID,
		Scopes:          scopes,
		VerificationURI: s.VerificationURI,
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidRequest) {
			return domain.DeviceCode{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return domain.DeviceCode{}, err
	}

	slogx.FromContext(ctx).Info("device authorization started",
		"client_id", clientID,
		"device_code_fp", cryptox.FingerprintPrefix(dc.DeviceCode),
	)
	return dc, nil
}

// LookupUserCode returns the authorization a user code belongs to.
func (s *DeviceService) LookupUserCode(ctx context.Context, userCode string) (domain.DeviceCode, error) {
	dc, err := s.Store.DeviceCodes().GetDeviceCodeByUserCode(ctx, userCode)
	if errors.Is(err, store.ErrNotFound) {
		return domain.DeviceCode{}, fmt.Errorf("%w: unknown or expired user code", ErrNotFound)
	}
	return dc, err
}

// Decide approves or denies the authorization behind userCode as userID and
// returns the resulting status.
func (s *DeviceService) Decide(ctx context.Context, userID, userCode, action string) (domain.DeviceStatus, error) {
	if userID == "" {
		return "", ErrLoginRequired
	}
	if action != ConsentApprove && action != ConsentDeny {
		return "", fmt.Errorf("%w: action must be approve or deny", ErrInvalidRequest)
	}

	dc, err := s.LookupUserCode(ctx, userCode)
	if err != nil {
		return "", err
	}

	repo := s.Store.DeviceCodes()
	status := domain.DeviceStatusApproved
	if action == ConsentDeny {
		status = domain.DeviceStatusDenied
		err = repo.DenyDeviceCode(ctx, dc.DeviceCode)
	} else {
		err = repo.ApproveDeviceCode(ctx, dc.DeviceCode, userID)
	}
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: unknown or expired user code", ErrNotFound)
	}
	if err != nil {
		return "", err
	}

	slogx.FromContext(ctx).Info("device authorization decided",
		"client_id", dc.ClientID,
		"user_id", userID,
		"status", status,
	)
	return status, nil
}
