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

type codesRepo struct {
	cfg config

	mu      sync.Mutex
	entries map[string]domain.AuthorizationCode // keyed by CodeHash
}

func newCodesRepo(cfg config) *codesRepo {
	return &codesRepo{cfg: cfg, entries: make(map[string]domain.AuthorizationCode)}
}

func (r *codesRepo) IssueAuthorizationCode(
	_ context.Context,
	pending domain.PendingAuthorization,
	userID string,
) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user is required", store.ErrInvalidRequest)
	}

	code, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}
	hash := cryptox.FingerprintToken(code)

	now := r.cfg.now()
	rec := domain.AuthorizationCode{
		CodeHash:            hash,
		ClientID:            pending.ClientID,
		RedirectURI:         pending.RedirectURI,
		CodeChallenge:       pending.CodeChallenge,
		CodeChallengeMethod: pending.CodeChallengeMethod,
		Scopes:              slices.Clone(pending.Scopes),
		State:               pending.State,
		UserID:              userID,
		IssuedAt:            now,
		ExpiresAt:           now.Add(r.cfg.codeTTL),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[hash]; ok {
		return "", store.ErrAlreadyExists
	}
	r.entries[hash] = rec
	return code, nil
}

// ValidateAndConsume runs every check and the consumption under one lock
// hold so two concurrent exchanges of the same code cannot both pass. The
// code is spent once the client and redirect match, so a wrong verifier
// burns it but a mismatched client_id or redirect_uri does not.
func (r *codesRepo) ValidateAndConsume(
	_ context.Context,
	code, clientID, redirectURI, verifier string,
) (domain.AuthorizationCode, error) {
	hash := cryptox.FingerprintToken(code)

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.entries[hash]
	switch {
	case !ok:
		return domain.AuthorizationCode{}, fmt.Errorf("%w: unknown code", store.ErrInvalidGrant)
	case rec.Consumed:
		return domain.AuthorizationCode{}, fmt.Errorf("%w: code already used", store.ErrInvalidGrant)
	}

	if rec.Expired(r.cfg.now()) {
		delete(r.entries, hash)
		return domain.AuthorizationCode{}, fmt.Errorf("%w: code expired", store.ErrInvalidGrant)
	}

	// A caller that is not the bound client cannot spend the code for it.
	if rec.ClientID != clientID {
		return domain.AuthorizationCode{}, fmt.Errorf("%w: client_id mismatch", store.ErrInvalidGrant)
	}
	if rec.RedirectURI != redirectURI {
		return domain.AuthorizationCode{}, fmt.Errorf("%w: redirect_uri mismatch", store.ErrInvalidGrant)
	}

	rec.Consumed = true
	r.entries[hash] = rec

	if rec.CodeChallengeMethod != cryptox.PKCEMethodS256 || !cryptox.VerifyS256(rec.CodeChallenge, verifier) {
		return domain.AuthorizationCode{}, fmt.Errorf("%w: code_verifier mismatch", store.ErrInvalidGrant)
	}

	rec.Scopes = slices.Clone(rec.Scopes)
	return rec, nil
}

// DeleteExpiredAuthorizationCodes drops expired codes, consumed or not.
func (r *codesRepo) DeleteExpiredAuthorizationCodes(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.cfg.now()
	n := 0
	for hash, rec := range r.entries {
		if rec.Expired(now) {
			delete(r.entries, hash)
			n++
		}
	}
	return n, nil
}
