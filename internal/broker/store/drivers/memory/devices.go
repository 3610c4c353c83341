package memory

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"sync"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/domain"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/store"
	"github.com/aussiebroadwan/mcpbroker/pkg/cryptox"
)

// maxUserCodeAttempts bounds the collision retry loop. With a 25^8 space a
// second attempt is already vanishingly rare.
const maxUserCodeAttempts = 10

type devicesRepo struct {
	cfg config

	mu      sync.Mutex
	entries map[string]domain.DeviceCode // keyed by device code
	byUser  map[string]string            // user code -> device code
}

func newDevicesRepo(cfg config) *devicesRepo {
	return &devicesRepo{
		cfg:     cfg,
		entries: make(map[string]domain.DeviceCode),
		byUser:  make(map[string]string),
	}
}

func (r *devicesRepo) InitiateDeviceCode(_ context.Context, req store.DeviceCodeRequest) (domain.DeviceCode, error) {
	if req.ClientID == "" {
		return domain.DeviceCode{}, fmt.Errorf("%w: client_id is required", store.ErrInvalidRequest)
	}
	verify, err := url.Parse(req.VerificationURI)
	if err != nil || !verify.IsAbs() {
		return domain.DeviceCode{}, fmt.Errorf("%w: verification uri must be absolute", store.ErrInvalidRequest)
	}

	deviceCode, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.DeviceCode{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	userCode, err := r.uniqueUserCodeLocked()
	if err != nil {
		return domain.DeviceCode{}, err
	}

	complete := *verify
	q := complete.Query()
	q.Set("user_code", userCode)
	complete.RawQuery = q.Encode()

	rec := domain.DeviceCode{
		DeviceCode:              deviceCode,
		UserCode:                userCode,
		ClientID:                req.ClientID,
		Scopes:                  slices.Clone(req.Scopes),
		VerificationURI:         req.VerificationURI,
		VerificationURIComplete: complete.String(),
		Status:                  domain.DeviceStatusPending,
		CreatedAt:               r.cfg.now(),
		ExpiresIn:               r.cfg.deviceTTL,
		Interval:                r.cfg.deviceInterval,
	}
	r.entries[deviceCode] = rec
	r.byUser[userCode] = deviceCode
	return cloneDevice(rec), nil
}

func (r *devicesRepo) uniqueUserCodeLocked() (string, error) {
	for range maxUserCodeAttempts {
		code, err := cryptox.GenerateUserCode()
		if err != nil {
			return "", err
		}
		if dc, taken := r.byUser[code]; taken {
			// A taken code that has expired can be reclaimed.
			if rec, ok := r.entries[dc]; ok && !rec.Expired(r.cfg.now()) {
				continue
			}
			r.evictLocked(dc)
		}
		return code, nil
	}
	return "", fmt.Errorf("%w: could not allocate a unique user code", store.ErrAlreadyExists)
}

func (r *devicesRepo) GetDeviceCode(_ context.Context, deviceCode string) (domain.DeviceCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.liveLocked(deviceCode)
	if err != nil {
		return domain.DeviceCode{}, err
	}
	return cloneDevice(rec), nil
}

func (r *devicesRepo) GetDeviceCodeByUserCode(_ context.Context, userCode string) (domain.DeviceCode, error) {
	norm := cryptox.NormalizeUserCode(userCode)
	if norm == "" {
		return domain.DeviceCode{}, store.ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dc, ok := r.byUser[norm]
	if !ok {
		return domain.DeviceCode{}, store.ErrNotFound
	}
	rec, err := r.liveLocked(dc)
	if err != nil {
		return domain.DeviceCode{}, err
	}
	return cloneDevice(rec), nil
}

func (r *devicesRepo) ApproveDeviceCode(_ context.Context, deviceCode, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user is required", store.ErrInvalidRequest)
	}
	return r.decide(deviceCode, domain.DeviceStatusApproved, userID)
}

func (r *devicesRepo) DenyDeviceCode(_ context.Context, deviceCode string) error {
	return r.decide(deviceCode, domain.DeviceStatusDenied, "")
}

func (r *devicesRepo) decide(deviceCode string, status domain.DeviceStatus, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.liveLocked(deviceCode)
	if err != nil {
		return err
	}
	rec.Status = status
	rec.UserID = userID
	r.entries[deviceCode] = rec
	return nil
}

func (r *devicesRepo) DeviceCodeStatus(_ context.Context, deviceCode string) (domain.DeviceStatusReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.entries[deviceCode]
	if !ok {
		return domain.DeviceStatusReport{}, store.ErrNotFound
	}

	report := domain.DeviceStatusReport{
		Status:   rec.Status,
		UserID:   rec.UserID,
		ClientID: rec.ClientID,
		Scopes:   slices.Clone(rec.Scopes),
	}
	if rec.Expired(r.cfg.now()) {
		r.evictLocked(deviceCode)
		report.Status = domain.DeviceStatusExpired
		report.UserID = ""
	}
	return report, nil
}

func (r *devicesRepo) ConsumeDeviceCode(_ context.Context, deviceCode string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[deviceCode]; !ok {
		return store.ErrNotFound
	}
	r.evictLocked(deviceCode)
	return nil
}

func (r *devicesRepo) PollDeviceCode(_ context.Context, deviceCode, clientID string) (domain.DeviceStatusReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.entries[deviceCode]
	if !ok {
		return domain.DeviceStatusReport{}, store.ErrNotFound
	}
	if rec.ClientID != clientID {
		return domain.DeviceStatusReport{}, fmt.Errorf("%w: client_id mismatch", store.ErrInvalidGrant)
	}

	report := domain.DeviceStatusReport{
		Status:   rec.Status,
		UserID:   rec.UserID,
		ClientID: rec.ClientID,
		Scopes:   slices.Clone(rec.Scopes),
	}
	if rec.Expired(r.cfg.now()) {
		report.Status = domain.DeviceStatusExpired
		report.UserID = ""
	}
	if report.Status != domain.DeviceStatusPending {
		r.evictLocked(deviceCode)
	}
	return report, nil
}

func (r *devicesRepo) DeleteExpiredDeviceCodes(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.cfg.now()
	n := 0
	for dc, rec := range r.entries {
		if rec.Expired(now) {
			r.evictLocked(dc)
			n++
		}
	}
	return n, nil
}

func (r *devicesRepo) liveLocked(deviceCode string) (domain.DeviceCode, error) {
	rec, ok := r.entries[deviceCode]
	if !ok {
		return domain.DeviceCode{}, store.ErrNotFound
	}
	if rec.Expired(r.cfg.now()) {
		r.evictLocked(deviceCode)
		return domain.DeviceCode{}, store.ErrNotFound
	}
	return rec, nil
}

func (r *devicesRepo) evictLocked(deviceCode string) {
	if rec, ok := r.entries[deviceCode]; ok {
		if r.byUser[rec.UserCode] == deviceCode {
			delete(r.byUser, rec.UserCode)
		}
		delete(r.entries, deviceCode)
	}
}

func cloneDevice(d domain.DeviceCode) domain.DeviceCode {
	d.Scopes = slices.Clone(d.Scopes)
	return d
}
