package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/domain"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/store"
	"github.com/aussiebroadwan/mcpbroker/pkg/slogx"
)

// UserDirectory resolves user ids to profiles. It is backed by the backend
// API in production.
type UserDirectory interface {
	LookupUser(ctx context.Context, id string) (domain.User, error)
}

// GrantService implements the token endpoint grants.
type GrantService struct {
	Store  store.Store
	Tokens *TokenService

	// Directory is optional; without it tokens carry the user id only.
	Directory UserDirectory
}

// TokenGrant is a minted access token and what it grants.
type TokenGrant struct {
	AccessToken string
	ExpiresIn   int64
	Scopes      []string
}

// ExchangeAuthorizationCode redeems a browser flow code.
func (s *GrantService) ExchangeAuthorizationCode(
	ctx context.Context,
	code, clientID, redirectURI, verifier string,
) (TokenGrant, error) {
	if code == "" || clientID == "" || redirectURI == "" || verifier == "" {
		return TokenGrant{}, fmt.Errorf("%w: code, client_id, redirect_uri and code_verifier are required", ErrInvalidRequest)
	}

	ac, err := s.Store.AuthorizationCodes().ValidateAndConsume(ctx, code, clientID, redirectURI, verifier)
	if err != nil {
		if errors.Is(err, store.ErrInvalidGrant) {
			slogx.FromContext(ctx).Info("authorization code rejected", "client_id", clientID, "reason", err)
			return TokenGrant{}, ErrInvalidGrant
		}
		return TokenGrant{}, err
	}

	return s.issue(ctx, ac.UserID, clientID, ac.Scopes)
}

// ExchangeDeviceCode answers one device flow poll.
func (s *GrantService) ExchangeDeviceCode(ctx context.Context, deviceCode, clientID string) (TokenGrant, error) {
	if deviceCode == "" || clientID == "" {
		return TokenGrant{}, fmt.Errorf("%w: device_code and client_id are required", ErrInvalidRequest)
	}

	// Concurrent polls and a late deny are serialised by the store; only
	// the poll that removes an approved code gets a token.
	report, err := s.Store.DeviceCodes().PollDeviceCode(ctx, deviceCode, clientID)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidGrant) {
		return TokenGrant{}, ErrInvalidGrant
	}
	if err != nil {
		return TokenGrant{}, err
	}

	switch report.Status {
	case domain.DeviceStatusPending:
		return TokenGrant{}, ErrAuthorizationPending
	case domain.DeviceStatusExpired:
		return TokenGrant{}, ErrExpiredToken
	case domain.DeviceStatusDenied:
		return TokenGrant{}, ErrAccessDenied
	}

	return s.issue(ctx, report.UserID, clientID, report.Scopes)
}

// ExchangeAssertion trades a main application token for an access token.
// Requested scopes must be supported; none means all.
func (s *GrantService) ExchangeAssertion(ctx context.Context, assertion, clientID, scope string) (TokenGrant, error) {
	if assertion == "" || clientID == "" {
		return TokenGrant{}, fmt.Errorf("%w: assertion and client_id are required", ErrInvalidRequest)
	}

	claims, err := s.Tokens.VerifyUserToken(assertion)
	if err != nil {
		return TokenGrant{}, fmt.Errorf("%w: %v", ErrInvalidGrant, err)
	}
	scopes, err := domain.NormalizeScopes(scope)
	if err != nil {
		return TokenGrant{}, fmt.Errorf("%w: %v", ErrInvalidScope, err)
	}

	user := domain.User{ID: claims.Subject, Email: claims.Email, Name: claims.Name}
	return s.mint(ctx, user, clientID, scopes)
}

func (s *GrantService) issue(ctx context.Context, userID, clientID string, scopes []string) (TokenGrant, error) {
	user, err := s.lookupUser(ctx, userID)
	if err != nil {
		return TokenGrant{}, err
	}
	return s.mint(ctx, user, clientID, scopes)
}

func (s *GrantService) mint(ctx context.Context, user domain.User, clientID string, scopes []string) (TokenGrant, error) {
	tok, err := s.Tokens.MintAccessToken(user, clientID, scopes)
	if err != nil {
		return TokenGrant{}, err
	}

	slogx.FromContext(ctx).Info("access token issued", "client_id", clientID, "user_id", user.ID)
	return TokenGrant{
		AccessToken: tok,
		ExpiresIn:   int64(s.Tokens.AccessTTL().Seconds()),
		Scopes:      slices.Clone(scopes),
	}, nil
}

func (s *GrantService) lookupUser(ctx context.Context, userID string) (domain.User, error) {
	if s.Directory == nil {
		return domain.User{ID: userID}, nil
	}
	u, err := s.Directory.LookupUser(ctx, userID)
	if err != nil {
		slogx.FromContext(ctx).Error("user lookup failed", "user_id", userID, "error", err)
		return domain.User{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return u, nil
}
