package domain

import "time"

// AuthorizationCode is a single-use code bound to the client, redirect URI
// and PKCE challenge of the authorization that produced it.
type AuthorizationCode struct {
	// CodeHash is the SHA-256 fingerprint of the code. The raw code is only
	// ever held by the client.
	CodeHash            string
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	Scopes              []string
	State               string
	UserID              string
	IssuedAt            time.Time
	ExpiresAt           time.Time

	// Consumed is set by the first exchange attempt that got past lookup.
	// The record is kept until it expires so a replay can be told apart
	// from an unknown code in logs.
	Consumed bool
}

func (c AuthorizationCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
