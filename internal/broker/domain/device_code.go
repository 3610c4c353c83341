package domain

import "time"

// DeviceStatus is the state of a device authorization.
type DeviceStatus string

const (
	DeviceStatusPending  DeviceStatus = "pending"
	DeviceStatusApproved DeviceStatus = "approved"
	DeviceStatusDenied   DeviceStatus = "denied"
	DeviceStatusExpired  DeviceStatus = "expired"
)

// DeviceCode is an RFC 8628 device authorization. DeviceCode is the secret
// the polling client holds; UserCode is what the user types.
type DeviceCode struct {
	DeviceCode              string
	UserCode                string
	ClientID                string
	Scopes                  []string
	VerificationURI         string
	VerificationURIComplete string
	Status                  DeviceStatus
	UserID                  string
	CreatedAt               time.Time
	ExpiresIn               time.Duration
	Interval                time.Duration
}

// ExpiresAt is when the code stops being redeemable.
func (d DeviceCode) ExpiresAt() time.Time {
	return d.CreatedAt.Add(d.ExpiresIn)
}

func (d DeviceCode) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt())
}

// DeviceStatusReport is what the token endpoint needs to answer a poll.
type DeviceStatusReport struct {
	Status   DeviceStatus
	UserID   string
	ClientID string
	Scopes   []string
}
