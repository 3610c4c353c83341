package service

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/domain"
	"github.com/aussiebroadwan/mcpbroker/pkg/cryptox"
	"github.com/aussiebroadwan/mcpbroker/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultAccessTTL        = time.Hour
	DefaultResourceTTL      = 15 * time.Minute
	MaxResourceTTL          = time.Hour
	DefaultResourceAudience = "backend-api"

	// mcpKeyInfo is the HKDF info string for the MCP access token key.
	mcpKeyInfo = "mcp-access-token"
)

// TokenConfig configures NewTokenService.
type TokenConfig struct {
	// Secret is the master secret shared with the main application and the
	// backend API.
	Secret []byte

	// Issuer is set on every token the broker mints and required on MCP
	// access tokens.
	Issuer string

	// MainAppIssuer, when set, is required on main-app tokens.
	MainAppIssuer string

	AccessTTL        time.Duration
	ResourceTTL      time.Duration
	ResourceAudience string
	Leeway           time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// TokenService mints and verifies every JWT the broker deals with.
//
// MCP access tokens are signed with a key derived from the master secret so
// that the backend API, which holds the raw secret, cannot be handed one and
// nothing else can mint one. main-app and service tokens use the raw secret
// because the main application and backend must verify them too.
type TokenService struct {
	cfg TokenConfig

	rawSigner   *jwtx.HS256Signer
	mcpSigner   *jwtx.HS256Signer
	rawVerifier *jwtx.HS256Verifier
	mcpVerifier *jwtx.HS256Verifier
}

// NewTokenService validates cfg and prepares the signing keys.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrMissingSecret
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.ResourceTTL <= 0 {
		cfg.ResourceTTL = DefaultResourceTTL
	}
	cfg.ResourceTTL = min(cfg.ResourceTTL, MaxResourceTTL)
	if cfg.ResourceAudience == "" {
		cfg.ResourceAudience = DefaultResourceAudience
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mcpKey, err := cryptox.DeriveKey(cfg.Secret, mcpKeyInfo)
	if err != nil {
		return nil, fmt.Errorf("derive mcp key: %w", err)
	}

	s := &TokenService{cfg: cfg}
	if s.rawSigner, err = jwtx.NewSignerHS256("", cfg.Secret); err != nil {
		return nil, err
	}
	if s.mcpSigner, err = jwtx.NewSignerHS256("mcp", mcpKey); err != nil {
		return nil, err
	}
	if s.rawVerifier, err = jwtx.NewVerifierHS256(cfg.Secret, jwtx.VerifyOptions{
		Issuer: cfg.MainAppIssuer,
		Leeway: cfg.Leeway,
		Now:    cfg.Now,
	}); err != nil {
		return nil, err
	}
	if s.mcpVerifier, err = jwtx.NewVerifierHS256(mcpKey, jwtx.VerifyOptions{
		Issuer: cfg.Issuer,
		Leeway: cfg.Leeway,
		Now:    cfg.Now,
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// AccessTTL is the lifetime of tokens from MintAccessToken.
func (s *TokenService) AccessTTL() time.Duration { return s.cfg.AccessTTL }

// Mint signs claims valid for ttl from now. The key is chosen by the
// claims' token type.
func (s *TokenService) Mint(claims jwtx.Claims, ttl time.Duration) (string, error) {
	if !claims.TokenType.Valid() {
		return "", fmt.Errorf("mint: unknown token type %q", claims.TokenType)
	}
	if claims.TokenType == jwtx.TokenTypeMCP && claims.Scope == "" {
		return "", fmt.Errorf("mint: mcp tokens require a scope")
	}

	now := s.cfg.Now()
	fresh := jwtx.NewClaims(jwtx.ClaimsParams{
		Subject:   claims.Subject,
		Email:     claims.Email,
		Name:      claims.Name,
		TokenType: claims.TokenType,
		Scope:     claims.Scope,
		Audience:  []string(claims.Audience),
		Issuer:    claims.Issuer,
	}, ttl, now)
	if fresh.Issuer == "" {
		fresh.Issuer = s.cfg.Issuer
	}

	signer := s.rawSigner
	if claims.TokenType == jwtx.TokenTypeMCP {
		signer = s.mcpSigner
	}
	return signer.Sign(fresh)
}

// Verify checks signature, expiry and structure. Every failure wraps
// ErrInvalidToken.
func (s *TokenService) Verify(token string) (jwtx.Claims, error) {
	tt, err := jwtx.PeekTokenType(token)
	if err != nil {
		return jwtx.Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	v := s.rawVerifier
	if tt == jwtx.TokenTypeMCP {
		v = s.mcpVerifier
	}

	claims, err := v.Verify(token)
	if err != nil {
		return jwtx.Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.TokenType != tt {
		return jwtx.Claims{}, fmt.Errorf("%w: token type changed", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return jwtx.Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if claims.TokenType == jwtx.TokenTypeMCP && claims.Scope == "" {
		return jwtx.Claims{}, fmt.Errorf("%w: mcp token without scope", ErrInvalidToken)
	}
	return claims, nil
}

// VerifyAccessToken accepts only MCP access tokens.
func (s *TokenService) VerifyAccessToken(token string) (jwtx.Claims, error) {
	return s.verifyType(token, jwtx.TokenTypeMCP)
}

// VerifyUserToken accepts only main application session tokens.
func (s *TokenService) VerifyUserToken(token string) (jwtx.Claims, error) {
	return s.verifyType(token, jwtx.TokenTypeMainApp)
}

func (s *TokenService) verifyType(token string, want jwtx.TokenType) (jwtx.Claims, error) {
	claims, err := s.Verify(token)
	if err != nil {
		return jwtx.Claims{}, err
	}
	if claims.TokenType != want {
		return jwtx.Claims{}, fmt.Errorf("%w: expected %s token, got %s", ErrInvalidToken, want, claims.TokenType)
	}
	return claims, nil
}

// MintAccessToken issues the MCP access token returned by the token endpoint.
func (s *TokenService) MintAccessToken(user domain.User, clientID string, scopes []string) (string, error) {
	return s.Mint(jwtx.Claims{
		RegisteredClaims: registered(user.ID, clientID),
		Email:            user.Email,
		Name:             user.Name,
		TokenType:        jwtx.TokenTypeMCP,
		Scope:            domain.JoinScopes(scopes),
	}, s.cfg.AccessTTL)
}

// ResolveResourceToken mints the short-lived token tools use to call the
// backend API as the user. Only a fingerprint prefix is logged.
func (s *TokenService) ResolveResourceToken(userID, email, name string) (string, error) {
	tok, err := s.Mint(jwtx.Claims{
		RegisteredClaims: registered(userID, s.cfg.ResourceAudience),
		Email:            email,
		Name:             name,
		TokenType:        jwtx.TokenTypeService,
	}, s.cfg.ResourceTTL)
	if err != nil {
		return "", err
	}

	s.cfg.Logger.Debug("resource token minted",
		"user_id", userID,
		"token_fp", cryptox.FingerprintPrefix(tok),
		"ttl", s.cfg.ResourceTTL,
	)
	return tok, nil
}

// MintServiceAssertion mints a token identifying the broker itself, used
// for user directory lookups.
func (s *TokenService) MintServiceAssertion() (string, error) {
	subject := s.cfg.Issuer
	if subject == "" {
		subject = "mcp-broker"
	}
	return s.Mint(jwtx.Claims{
		RegisteredClaims: registered(subject, s.cfg.ResourceAudience),
		TokenType:        jwtx.TokenTypeService,
	}, s.cfg.ResourceTTL)
}

func registered(subject, audience string) jwt.RegisteredClaims {
	rc := jwt.RegisteredClaims{Subject: subject}
	if audience != "" {
		rc.Audience = jwt.ClaimStrings{audience}
	}
	return rc
}
