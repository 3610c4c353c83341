package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/domain"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/store"
	"github.com/aussiebroadwan/mcpbroker/pkg/cryptox"
)

type pendingRepo struct {
	cfg config

	mu      sync.Mutex
	entries map[string]domain.PendingAuthorization
}

func newPendingRepo(cfg config) *pendingRepo {
	return &pendingRepo{cfg: cfg, entries: make(map[string]domain.PendingAuthorization)}
}

func (r *pendingRepo) CreatePendingAuthorization(
	_ context.Context,
	req store.PendingAuthorizationRequest,
) (string, error) {
	switch {
	case req.CodeChallengeMethod != cryptox.PKCEMethodS256:
		return "", fmt.Errorf("%w: code_challenge_method must be S256", store.ErrInvalidRequest)
	case req.CodeChallenge == "":
		return "", fmt.Errorf("%w: code_challenge is required", store.ErrInvalidRequest)
	case req.ClientID == "":
		return "", fmt.Errorf("%w: client_id is required", store.ErrInvalidRequest)
	case req.RedirectURI == "":
		return "", fmt.Errorf("%w: redirect_uri is required", store.ErrInvalidRequest)
	}

	id, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}

	now := r.cfg.now()
	rec := domain.PendingAuthorization{
		ID:                  id,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scopes:              slices.Clone(req.Scopes),
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(r.cfg.pendingTTL),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return "", store.ErrAlreadyExists
	}
	r.entries[id] = rec
	return id, nil
}

func (r *pendingRepo) AttachUser(_ context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.liveLocked(id)
	if err != nil {
		return err
	}
	if rec.UserID != "" {
		return nil
	}
	rec.UserID = userID
	r.entries[id] = rec
	return nil
}

func (r *pendingRepo) GetPendingAuthorization(_ context.Context, id string) (domain.PendingAuthorization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.liveLocked(id)
	if err != nil {
		return domain.PendingAuthorization{}, err
	}
	rec.Scopes = slices.Clone(rec.Scopes)
	return rec, nil
}

func (r *pendingRepo) DeletePendingAuthorization(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.liveLocked(id); err != nil {
		return err
	}
	delete(r.entries, id)
	return nil
}

func (r *pendingRepo) DeleteExpiredPendingAuthorizations(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.cfg.now()
	n := 0
	for id, rec := range r.entries {
		if rec.Expired(now) {
			delete(r.entries, id)
			n++
		}
	}
	return n, nil
}

// liveLocked returns the record for id, evicting it if it has expired.
func (r *pendingRepo) liveLocked(id string) (domain.PendingAuthorization, error) {
	rec, ok := r.entries[id]
	if !ok {
		return domain.PendingAuthorization{}, store.ErrNotFound
	}
	if rec.Expired(r.cfg.now()) {
		delete(r.entries, id)
		return domain.PendingAuthorization{}, store.ErrNotFound
	}
	return rec, nil
}
