package store

import (
	"context"
	"errors"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrInvalidRequest wraps validation failures on create.
	ErrInvalidRequest = errors.New("store: invalid request")

	// ErrInvalidGrant wraps every ValidateAndConsume failure. The wrapped
	// message names the failed step; callers must not show it to clients.
	ErrInvalidGrant = errors.New("store: invalid grant")
)

// Store is the root data access interface. The broker only ships an
// in-memory driver: every record here is short lived and a restart simply
// makes clients re-authorize.
type Store interface {
	PendingAuthorizations() PendingAuthorizations
	AuthorizationCodes() AuthorizationCodes
	DeviceCodes() DeviceCodes

	// Ping verifies the store can serve requests.
	Ping(ctx context.Context) error

	// Close releases any underlying resources.
	Close() error
}

// PendingAuthorizationRequest is the validated input of CreatePendingAuthorization.
type PendingAuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	Scopes              []string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

type PendingAuthorizations interface {
	// CreatePendingAuthorization stores req under a new unguessable id.
	// The PKCE method must be S256.
	CreatePendingAuthorization(ctx context.Context, req PendingAuthorizationRequest) (string, error)

	// AttachUser binds the signed-in user. It is a no-op once a user is set.
	AttachUser(ctx context.Context, id, userID string) error

	// GetPendingAuthorization returns ErrNotFound for unknown or expired ids.
	GetPendingAuthorization(ctx context.Context, id string) (domain.PendingAuthorization, error)

	// DeletePendingAuthorization returns ErrNotFound if the id was already
	// gone, which lets concurrent consent submissions detect they lost.
	DeletePendingAuthorization(ctx context.Context, id string) error

	// DeleteExpiredPendingAuthorizations is housekeeping.
	DeleteExpiredPendingAuthorizations(ctx context.Context) (int, error)
}

type AuthorizationCodes interface {
	// IssueAuthorizationCode mints a code carrying the pending authorization's
	// client, redirect, scope and PKCE binding for userID.
	IssueAuthorizationCode(ctx context.Context, pending domain.PendingAuthorization, userID string) (string, error)

	// ValidateAndConsume redeems code at most once. All checks and the
	// consumption happen in one critical section. A client_id or
	// redirect_uri mismatch leaves the code redeemable; any later failure
	// spends it.
	ValidateAndConsume(ctx context.Context, code, clientID, redirectURI, verifier string) (domain.AuthorizationCode, error)

	// DeleteExpiredAuthorizationCodes is housekeeping.
	DeleteExpiredAuthorizationCodes(ctx context.Context) (int, error)
}

// DeviceCodeRequest is the input of InitiateDeviceCode.
type DeviceCodeRequest struct {
	ClientID        string
	Scopes          []string
	VerificationURI string
}

type DeviceCodes interface {
	InitiateDeviceCode(ctx context.Context, req DeviceCodeRequest) (domain.DeviceCode, error)

	GetDeviceCode(ctx context.Context, deviceCode string) (domain.DeviceCode, error)

	// GetDeviceCodeByUserCode accepts the code as typed: any case, dash optional.
	GetDeviceCodeByUserCode(ctx context.Context, userCode string) (domain.DeviceCode, error)

	// ApproveDeviceCode and DenyDeviceCode overwrite each other; the last
	// decision wins.
	ApproveDeviceCode(ctx context.Context, deviceCode, userID string) error
	DenyDeviceCode(ctx context.Context, deviceCode string) error

	// DeviceCodeStatus reports an expired code as DeviceStatusExpired once
	// and then forgets it.
	DeviceCodeStatus(ctx context.Context, deviceCode string) (domain.DeviceStatusReport, error)

	// ConsumeDeviceCode deletes the code unconditionally.
	ConsumeDeviceCode(ctx context.Context, deviceCode string) error

	// PollDeviceCode answers a token poll in one step: it checks the client,
	// reports the status and deletes the code when the status is approved,
	// denied or expired. A client mismatch is ErrInvalidGrant and leaves the
	// code untouched.
	PollDeviceCode(ctx context.Context, deviceCode, clientID string) (domain.DeviceStatusReport, error)

	DeleteExpiredDeviceCodes(ctx context.Context) (int, error)
}
