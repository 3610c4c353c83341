package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/domain"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/service"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/store/drivers/memory"
	"github.com/aussiebroadwan/mcpbroker/pkg/slogx"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "test-secret-that-is-long-enough-for-hs256"
	testVerifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock     *fakeClock
	store     *memory.Store
	tokens    *service.TokenService
	authorize *service.AuthorizeService
	device    *service.DeviceService
	grants    *service.GrantService
	directory *fakeDirectory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := newFakeClock()
	st := memory.NewStore(memory.WithClock(clock.Now))

	tokens, err := service.NewTokenService(service.TokenConfig{
		Secret: []byte(testSecret),
		Issuer: "mcp-broker",
		Now:    clock.Now,
		Logger: slogx.Discard(),
	})
	require.NoError(t, err)

	dir := &fakeDirectory{users: map[string]domain.User{
		"u1": {ID: "u1", Email: "u1@example.com", Name: "User One"},
		"u2": {ID: "u2", Email: "u2@example.com", Name: "User Two"},
	}}

	return &fixture{
		clock:     clock,
		store:     st,
		tokens:    tokens,
		authorize: &service.AuthorizeService{Store: st, ConsentURL: "https://app.example.com/consent"},
		device:    &service.DeviceService{Store: st, VerificationURI: "https://app.example.com/device"},
		grants:    &service.GrantService{Store: st, Tokens: tokens, Directory: dir},
		directory: dir,
	}
}

type fakeDirectory struct {
	users map[string]domain.User
	fail  atomic.Bool
	calls atomic.Int32
}

func (d *fakeDirectory) LookupUser(_ context.Context, id string) (domain.User, error) {
	d.calls.Add(1)
	if d.fail.Load() {
		return domain.User{}, errors.New("directory unavailable")
	}
	u, ok := d.users[id]
	if !ok {
		return domain.User{}, errors.New("user not found")
	}
	return u, nil
}
