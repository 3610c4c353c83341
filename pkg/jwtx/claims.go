package jwtx

import (
	"slices"
	"strings"
	"time"

	"github.com/aussiebroadwan/mcpbroker/pkg/idx"
	"github.com/golang-jwt/jwt/v5"
)

// TokenType says who a token was minted for. It is part of the signed claims
// so a token minted for one party can't be replayed as another kind.
type TokenType string

const (
	// TokenTypeMainApp tokens are issued by the main application to its
	// logged-in users. We only ever verify them.
	TokenTypeMainApp TokenType = "main-app"

	// TokenTypeMCP tokens are the access tokens handed to MCP clients.
	TokenTypeMCP TokenType = "mcp"

	// TokenTypeService tokens are short-lived assertions we send to the
	// backend API, either on a user's behalf or as ourselves.
	TokenTypeService TokenType = "service"
)

// Valid reports whether t is one of the known token types.
func (t TokenType) Valid() bool {
	switch t {
	case TokenTypeMainApp, TokenTypeMCP, TokenTypeService:
		return true
	}
	return false
}

// Claims are the claims shared by every token the broker mints or accepts.
type Claims struct {
	jwt.RegisteredClaims

	// Email of the subject user, if known when the token was minted.
	Email string `json:"email,omitempty"`

	// Name is the display name of the subject user.
	Name string `json:"name,omitempty"`

	TokenType TokenType `json:"token_type"`

	// Scope is a space separated scope set, "tasks:read tasks:write".
	Scope string `json:"scope,omitempty"`
}

// ClaimsParams groups the inputs of NewClaims.
type ClaimsParams struct {
	Subject   string
	Email     string
	Name      string
	TokenType TokenType
	Scope     string
	Audience  []string
	Issuer    string
}

// NewClaims builds claims valid from now for ttl.
func NewClaims(p ClaimsParams, ttl time.Duration, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.Issuer,
			Subject:   p.Subject,
			Audience:  jwt.ClaimStrings(p.Audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Email:     p.Email,
		Name:      p.Name,
		TokenType: p.TokenType,
		Scope:     p.Scope,
	}
}

// NewJTI returns a unique, time sortable value for the "jti" claim.
func NewJTI() string {
	return idx.New().String()
}

// Scopes splits the scope claim into its members.
func (c *Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// HasScope reports whether scope is part of the token's scope set.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes(), scope)
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil
	}
	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}
	return ErrAudience
}

// ValidateExpiryAt checks exp and nbf against now, allowing leeway for clock
// skew in both directions.
func (c *Claims) ValidateExpiryAt(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt == nil {
		return ErrExpired
	}
	if now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}
	return nil
}
