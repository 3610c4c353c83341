package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/domain"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/store"
	"github.com/aussiebroadwan/mcpbroker/pkg/cryptox"
	"github.com/aussiebroadwan/mcpbroker/pkg/slogx"
)

const (
	ConsentApprove = "approve"
	ConsentDeny    = "deny"
)

// AuthorizeService runs the browser half of the authorization code flow:
// it parks /authorize requests until the user decides on the consent page.
type AuthorizeService struct {
	Store store.Store

	// ConsentURL is the main application's consent page. The pending
	// authorization id is appended as auth_id.
	ConsentURL string
}

// AuthorizeRequest captures the raw /authorize parameters.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// StartAuthorization validates req and stores it as a pending authorization.
// It returns the pending id; callers redirect to ConsentRedirectURL(id).
func (s *AuthorizeService) StartAuthorization(ctx context.Context, req AuthorizeRequest) (string, error) {
	log := slogx.FromContext(ctx)

	if req.ResponseType != "code" {
		return "", fmt.Errorf("%w: response_type must be code", ErrUnsupportedResponseType)
	}
	if req.ClientID == "" {
		return "", fmt.Errorf("%w: client_id is required", ErrInvalidRequest)
	}
	if err := ValidateRedirectURI(req.RedirectURI); err != nil {
		return "", err
	}
	if req.CodeChallenge == "" {
		return "", fmt.Errorf("%w: code_challenge is required", ErrInvalidRequest)
	}
	if req.CodeChallengeMethod != cryptox.PKCEMethodS256 {
		return "", fmt.Errorf("%w: code_challenge_method must be S256", ErrInvalidRequest)
	}

	scopes, err := domain.NormalizeScopes(req.Scope)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidScope, err)
	}

	id, err := s.Store.PendingAuthorizations().CreatePendingAuthorization(ctx, store.PendingAuthorizationRequest{
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scopes:              scopes,
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidRequest) {
			return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return "", err
	}

	log.Info("authorization pending", "client_id", req.ClientID, "scope", domain.JoinScopes(scopes))
	return id, nil
}

// ConsentRedirectURL is where the browser is sent after StartAuthorization.
func (s *AuthorizeService) ConsentRedirectURL(authID string) string {
	return appendQuery(s.ConsentURL, url.Values{"auth_id": {authID}})
}

// PendingAuthorization returns the pending request for display on the
// consent page. A non-empty userID is attached to the request first.
func (s *AuthorizeService) PendingAuthorization(ctx context.Context, authID, userID string) (domain.PendingAuthorization, error) {
	repo := s.Store.PendingAuthorizations()

	if userID != "" {
		if err := repo.AttachUser(ctx, authID, userID); err != nil {
			return domain.PendingAuthorization{}, mapPendingErr(err)
		}
	}

	p, err := repo.GetPendingAuthorization(ctx, authID)
	if err != nil {
		return domain.PendingAuthorization{}, mapPendingErr(err)
	}
	return p, nil
}

// ResolveConsent records the user's decision and returns the URL the browser
// must be sent back to: the client's redirect URI carrying either a code or
// an error (access_denied, server_error), and the original state.
func (s *AuthorizeService) ResolveConsent(ctx context.Context, userID, authID, action string) (string, error) {
	log := slogx.FromContext(ctx)

	if userID == "" {
		return "", ErrLoginRequired
	}
	if action != ConsentApprove && action != ConsentDeny {
		return "", fmt.Errorf("%w: action must be approve or deny", ErrInvalidRequest)
	}

	repo := s.Store.PendingAuthorizations()
	pending, err := repo.GetPendingAuthorization(ctx, authID)
	if err != nil {
		return "", mapPendingErr(err)
	}
	if pending.UserID != "" && pending.UserID != userID {
		log.Warn("consent by a different user", "auth_id_fp", cryptox.FingerprintPrefix(authID))
		return "", fmt.Errorf("%w: authorization belongs to another user", ErrAccessDenied)
	}

	// Whoever deletes the record owns the decision.
	if err := repo.DeletePendingAuthorization(ctx, authID); err != nil {
		return "", mapPendingErr(err)
	}

	// From here on the pending record is gone, so failures are reported to
	// the client through its redirect URI rather than to the consent page.
	if action == ConsentDeny {
		log.Info("authorization denied", "client_id", pending.ClientID, "user_id", userID)
		return ErrorRedirectURL(pending.RedirectURI, pending.State, "access_denied", "the user denied the request"), nil
	}

	code, err := s.Store.AuthorizationCodes().IssueAuthorizationCode(ctx, pending, userID)
	if err != nil {
		log.Error("failed to issue authorization code", "client_id", pending.ClientID, "error", err)
		return ErrorRedirectURL(pending.RedirectURI, pending.State, "server_error", "the authorization code could not be issued"), nil
	}

	params := url.Values{"code": {code}}
	if pending.State != "" {
		params.Set("state", pending.State)
	}

	log.Info("authorization approved",
		"client_id", pending.ClientID,
		"user_id", userID,
		"code_fp", cryptox.FingerprintPrefix(code),
	)
	return appendQuery(pending.RedirectURI, params), nil
}

// ErrorRedirectURL reports an error to the client via its redirect URI.
func ErrorRedirectURL(redirectURI, state, code, description string) string {
	params := url.Values{"error": {code}}
	if description != "" {
		params.Set("error_description", description)
	}
	if state != "" {
		params.Set("state", state)
	}
	return appendQuery(redirectURI, params)
}

// ValidateRedirectURI accepts absolute https URIs, and http only on a
// loopback host for native clients. Fragments are never allowed.
func ValidateRedirectURI(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: redirect_uri is required", ErrInvalidRequest)
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: redirect_uri must be absolute", ErrInvalidRequest)
	}
	if u.Fragment != "" || strings.Contains(raw, "#") {
		return fmt.Errorf("%w: redirect_uri must not contain a fragment", ErrInvalidRequest)
	}

	switch strings.ToLower(u.Scheme) {
	case "https":
		return nil
	case "http":
		if isLoopback(u.Hostname()) {
			return nil
		}
		return fmt.Errorf("%w: http redirect_uri must use a loopback host", ErrInvalidRequest)
	default:
		return fmt.Errorf("%w: unsupported redirect_uri scheme %q", ErrInvalidRequest, u.Scheme)
	}
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// appendQuery adds params to base, keeping any query base already has.
func appendQuery(base string, params url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Unknown, expired and already resolved ids all look the same to clients.
func mapPendingErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: authorization not found or expired", ErrInvalidRequest)
	}
	return err
}
