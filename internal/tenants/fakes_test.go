package tenants

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"herald/internal/auth"
	"herald/internal/types"
)

type fakeAppRepo struct {
	mu         sync.Mutex
	apps       map[string]*types.Application
	tombstones map[string]bool
	seq        int64
	deleteErr error
	arnErr    error
}

func newFakeAppRepo() *fakeAppRepo {
	return &fakeAppRepo{apps: make(map[string]*types.Application), tombstones: make(map[string]bool)}
}

func (f *fakeAppRepo) Create(_ context.Context, app *types.Application) (*types.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.apps[app.ID]; ok || f.tombstones[app.ID] {
		return nil, types.NewAppError(types.ErrCodeConflictAppExists, "application already exists", nil)
	}
	f.seq++
	cp := *app
	cp.Seq = f.seq
	f.apps[app.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeAppRepo) GetByID(_ context.Context, id string) (*types.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundApplication, "application not found", nil)
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAppRepo) List(_ context.Context) ([]*types.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.Application, 0, len(f.apps))
	for _, a := range f.apps {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (f *fakeAppRepo) Update(_ context.Context, id string, patch types.ApplicationPatch, now time.Time) (*types.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundApplication, "application not found", nil)
	}
	if patch.Name != nil {
		a.Name = *patch.Name
	}
	if patch.Email != nil {
		a.Email = *patch.Email
	}
	if patch.Domain != nil {
		a.Domain = *patch.Domain
	}
	a.UpdatedAt = now
	cp := *a
	return &cp, nil
}

func (f *fakeAppRepo) SetResourceARNs(_ context.Context, id, ses, sns string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.arnErr != nil {
		return f.arnErr
	}
	a, ok := f.apps[id]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundApplication, "application not found", nil)
	}
	a.SESIdentityARN, a.SNSTopicARN = ses, sns
	return nil
}

func (f *fakeAppRepo) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.apps[id]; !ok {
		return types.NewAppError(types.ErrCodeNotFoundApplication, "application not found", nil)
	}
	delete(f.apps, id)
	f.tombstones[id] = true
	return nil
}

func (f *fakeAppRepo) Purge(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.apps[id]; !ok {
		return types.NewAppError(types.ErrCodeNotFoundApplication, "application not found", nil)
	}
	delete(f.apps, id)
	return nil
}

func (f *fakeAppRepo) ListOrphans(_ context.Context, cutoff time.Time, limit int) ([]*types.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Application
	for _, a := range f.apps {
		if a.CreatedAt.Before(cutoff) && a.Name == "orphan" {
			cp := *a
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeAppRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.apps)
}

type fakeCreds struct {
	mu       sync.Mutex
	issueErr error
	active   map[string]int
	revoked  map[string]int
}

func newFakeCreds() *fakeCreds {
	return &fakeCreds{active: map[string]int{}, revoked: map[string]int{}}
}

func (f *fakeCreds) IssueKey(_ context.Context, appID string, opts auth.IssueOptions) (*auth.IssuedKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	f.active[appID]++
	return &auth.IssuedKey{KeyID: "key_" + appID, ApplicationID: appID, Secret: "hk_live_secret", Name: opts.Label}, nil
}

func (f *fakeCreds) RevokeKey(context.Context, string) error { return nil }

func (f *fakeCreds) RevokeAllForApplication(_ context.Context, appID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.active[appID]
	f.revoked[appID] += n
	f.active[appID] = 0
	return int64(n), nil
}

type fakeJobs struct {
	mu      sync.Mutex
	pending map[string]int
	err     error
}

func (f *fakeJobs) PurgePending(_ context.Context, appID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	n := f.pending[appID]
	delete(f.pending, appID)
	return int64(n), nil
}

type fakeProvisioner struct {
	mu         sync.Mutex
	res        *types.ChannelResources
	err        error
	releaseErr error
	released   []*types.ChannelResources
	releaseCtx []error
}

func (f *fakeProvisioner) Provision(context.Context, *types.Application) (*types.ChannelResources, error) {
	return f.res, f.err
}

func (f *fakeProvisioner) Release(ctx context.Context, res *types.ChannelResources) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, res)
	f.releaseCtx = append(f.releaseCtx, ctx.Err())
	return f.releaseErr
}

var errBoom = errors.New("boom")
