package domain

import "time"

// PendingAuthorization is an /authorize request waiting for the user to sign
// in and decide. UserID stays empty until the consent page presents a main
// application session.
type PendingAuthorization struct {
	ID                  string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	UserID              string
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// Expired reports whether the record is past its TTL at now.
func (p PendingAuthorization) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
