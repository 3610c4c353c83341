// Package memory is the in-process store driver. Each repository guards its
// map with its own mutex and checks expiry lazily on every read, so the
// housekeeping sweep is only needed to bound memory.
package memory

import (
	"context"
	"time"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/store"
)

const (
	DefaultPendingTTL     = 10 * time.Minute
	DefaultCodeTTL        = 5 * time.Minute
	DefaultDeviceTTL      = 15 * time.Minute
	DefaultDeviceInterval = 5 * time.Second
)

type config struct {
	now            func() time.Time
	pendingTTL     time.Duration
	codeTTL        time.Duration
	deviceTTL      time.Duration
	deviceInterval time.Duration
}

// Option configures the store.
type Option func(*config)

// WithClock replaces time.Now. Tests use it to expire records.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

func WithPendingTTL(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.pendingTTL = d
		}
	}
}

func WithCodeTTL(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.codeTTL = d
		}
	}
}

func WithDeviceTTL(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.deviceTTL = d
		}
	}
}

// WithDeviceInterval sets the polling interval advertised to device clients.
func WithDeviceInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.deviceInterval = d
		}
	}
}

type Store struct {
	pending *pendingRepo
	codes   *codesRepo
	devices *devicesRepo
}

var _ store.Store = (*Store)(nil)

func NewStore(opts ...Option) *Store {
	cfg := config{
		now:            time.Now,
		pendingTTL:     DefaultPendingTTL,
		codeTTL:        DefaultCodeTTL,
		deviceTTL:      DefaultDeviceTTL,
		deviceInterval: DefaultDeviceInterval,
	}
	for _, o := range opts {
		o(&cfg)
	}

	return &Store{
		pending: newPendingRepo(cfg),
		codes:   newCodesRepo(cfg),
		devices: newDevicesRepo(cfg),
	}
}

func (s *Store) PendingAuthorizations() store.PendingAuthorizations { return s.pending }
func (s *Store) AuthorizationCodes() store.AuthorizationCodes       { return s.codes }
func (s *Store) DeviceCodes() store.DeviceCodes                     { return s.devices }

// Ping always succeeds unless ctx is already done.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }
