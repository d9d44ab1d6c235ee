package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"herald/internal/types"
)

type fakeKeyRepo struct {
	mu   sync.Mutex
	keys map[string]*types.APIKey
}

func newFakeKeyRepo() *fakeKeyRepo {
	return &fakeKeyRepo{keys: make(map[string]*types.APIKey)}
}

func (r *fakeKeyRepo) Create(_ context.Context, key *types.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *key
	r.keys[key.ID] = &cp
	return nil
}

func (r *fakeKeyRepo) GetByID(_ context.Context, id string) (*types.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundAPIKey, "API key not found", nil)
	}
	cp := *k
	return &cp, nil
}

func (r *fakeKeyRepo) FindByPrefix(_ context.Context, prefix string) ([]*types.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.APIKey
	for _, k := range r.keys {
		if k.KeyPrefix == prefix && k.RevokedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeKeyRepo) ListByApplication(_ context.Context, applicationID string) ([]*types.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.APIKey
	for _, k := range r.keys {
		if k.ApplicationID == applicationID {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeKeyRepo) Revoke(_ context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundAPIKey, "API key not found", nil)
	}
	if k.RevokedAt == nil {
		k.RevokedAt = &now
	}
	return nil
}

func (r *fakeKeyRepo) RevokeAllForApplication(_ context.Context, applicationID string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, k := range r.keys {
		if k.ApplicationID == applicationID && k.RevokedAt == nil {
			k.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (r *fakeKeyRepo) CountUsable(_ context.Context, applicationID string, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.keys {
		if k.ApplicationID == applicationID && k.IsUsable(now) {
			n++
		}
	}
	return n, nil
}

type fakeApps map[string]*types.Application

func (f fakeApps) GetByID(_ context.Context, id string) (*types.Application, error) {
	if a, ok := f[id]; ok {
		return a, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundApplication, "application not found", nil)
}

type recordingToucher struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingToucher) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func newTestService(clock types.Clock) (*KeyService, *fakeKeyRepo, *recordingToucher) {
	repo := newFakeKeyRepo()
	toucher := &recordingToucher{}
	svc := NewKeyService(KeyServiceConfig{
		Keys:         repo,
		Applications: fakeApps{"acme": {ID: "acme", Name: "Acme"}},
		Hasher:       NewBcryptHasher(bcrypt.MinCost),
		Toucher:      toucher,
		Clock:        clock,
	})
	return svc, repo, toucher
}
