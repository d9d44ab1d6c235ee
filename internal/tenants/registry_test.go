package tenants

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/types"
)

type fixture struct {
	apps  *fakeAppRepo
	creds *fakeCreds
	jobs  *fakeJobs
	prov  *fakeProvisioner
	clock *types.FixedClock
	reg   *Registry
}

func newFixture(withProvisioner bool) *fixture {
	f := &fixture{
		apps:  newFakeAppRepo(),
		creds: newFakeCreds(),
		jobs:  &fakeJobs{pending: map[string]int{}},
		clock: &types.FixedClock{T: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	cfg := RegistryConfig{
		Applications: f.apps,
		Credentials:  f.creds,
		Jobs:         f.jobs,
		Clock:        f.clock,
	}
	if withProvisioner {
		f.prov = &fakeProvisioner{res: &types.ChannelResources{
			EmailIdentity:  "mail.acme.io",
			SESIdentityARN: "arn:aws:ses:us-east-1:123:identity/mail.acme.io",
			TopicName:      "herald-acme",
			SNSTopicARN:    "arn:aws:sns:us-east-1:123:herald-acme",
		}}
		cfg.Provisioner = f.prov
	}
	f.reg = NewRegistry(cfg)
	return f
}

func validInput() RegisterInput {
	return RegisterInput{Name: "Acme", Identifier: "acme", Email: "ops@acme.io", Domain: "mail.acme.io"}
}

func TestRegisterApplication_Success(t *testing.T) {
	f := newFixture(true)

	app, key, err := f.reg.RegisterApplication(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, "acme", app.ID)
	assert.Equal(t, "acme", key.ApplicationID)
	assert.NotEmpty(t, app.SNSTopicARN)

	stored, err := f.apps.GetByID(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, app.SESIdentityARN, stored.SESIdentityARN)
}

func TestRegisterApplication_InvalidInput(t *testing.T) {
	f := newFixture(false)
	tests := []struct {
		name string
		mod  func(*RegisterInput)
		code types.ErrorCode
	}{
		{"bad identifier", func(in *RegisterInput) { in.Identifier = "Acme Corp" }, types.ErrCodeValidationInvalidID},
		{"bad email", func(in *RegisterInput) { in.Email = "nope" }, types.ErrCodeValidationInvalidEmail},
		{"bad domain", func(in *RegisterInput) { in.Domain = "localhost" }, types.ErrCodeValidationInvalidDomain},
		{"missing name", func(in *RegisterInput) { in.Name = "  " }, types.ErrCodeValidationMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mod(&in)
			_, _, err := f.reg.RegisterApplication(context.Background(), in)
			assert.True(t, types.HasCode(err, tt.code), "got %v", err)
		})
	}
	assert.Equal(t, 0, f.apps.count())
}

func TestRegisterApplication_DuplicateIsConflict(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()

	_, _, err := f.reg.RegisterApplication(ctx, validInput())
	require.NoError(t, err)

	_, _, err = f.reg.RegisterApplication(ctx, validInput())
	assert.True(t, types.HasCode(err, types.ErrCodeConflictAppExists))
	assert.Equal(t, 1, f.apps.count())
	assert.Equal(t, 1, f.creds.active["acme"])
}

func TestRegisterApplication_KeyFailureRollsBack(t *testing.T) {
	f := newFixture(true)
	f.creds.issueErr = errBoom

	_, _, err := f.reg.RegisterApplication(context.Background(), validInput())
	require.Error(t, err)

	appErr, ok := types.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrCodeProvisioningFailed, appErr.Code)
	assert.Equal(t, StepIssueKey, appErr.Details["failed_step"])
	assert.Equal(t, true, appErr.Details["compensated"])
	assert.Equal(t, []string{StepProvisionResources, StepInsertApplication}, appErr.Details["rolled_back"])
	assert.ErrorIs(t, err, errBoom)

	assert.Equal(t, 0, f.apps.count())
	require.Len(t, f.prov.released, 1)
}

func TestRegisterApplication_ProvisioningFailureReleasesPartial(t *testing.T) {
	f := newFixture(true)
	f.prov.res = &types.ChannelResources{EmailIdentity: "mail.acme.io", SESIdentityARN: "arn:ses"}
	f.prov.err = errBoom

	_, _, err := f.reg.RegisterApplication(context.Background(), validInput())
	appErr, ok := types.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, StepProvisionResources, appErr.Details["failed_step"])
	assert.Equal(t, 0, f.apps.count())
	require.Len(t, f.prov.released, 1)
	assert.Equal(t, "mail.acme.io", f.prov.released[0].EmailIdentity)
}

func TestRegisterApplication_FailedCompensationIsReported(t *testing.T) {
	f := newFixture(false)
	f.creds.issueErr = errBoom
	f.apps.deleteErr = errBoom

	_, _, err := f.reg.RegisterApplication(context.Background(), validInput())
	appErr, ok := types.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, false, appErr.Details["compensated"])
	errs, _ := appErr.Details["compensation_errors"].([]string)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], StepInsertApplication)
	// The orphan stays for the reconciliation sweep.
	assert.Equal(t, 1, f.apps.count())
}

func TestRegisterApplication_CompensatesAfterCancel(t *testing.T) {
	f := newFixture(true)
	ctx, cancel := context.WithCancel(context.Background())
	f.creds.issueErr = errBoom
	cancel()

	_, _, err := f.reg.RegisterApplication(ctx, validInput())
	require.Error(t, err)
	require.Len(t, f.prov.releaseCtx, 1)
	assert.NoError(t, f.prov.releaseCtx[0], "compensation must not inherit cancellation")
	assert.Equal(t, 0, f.apps.count())
}

func TestUpdateApplication(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()
	_, _, err := f.reg.RegisterApplication(ctx, validInput())
	require.NoError(t, err)

	name := "Acme Corp"
	app, err := f.reg.UpdateApplication(ctx, "acme", UpdateInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", app.Name)
	assert.Equal(t, "acme", app.ID)

	unchanged, err := f.reg.UpdateApplication(ctx, "acme", UpdateInput{})
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", unchanged.Name)

	bad := "nope"
	_, err = f.reg.UpdateApplication(ctx, "acme", UpdateInput{Email: &bad})
	assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidEmail))

	_, err = f.reg.UpdateApplication(ctx, "ghost", UpdateInput{Name: &name})
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundApplication))
}

func TestDeleteApplication_PurgesJobsAndRevokesKeys(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()
	_, _, err := f.reg.RegisterApplication(ctx, validInput())
	require.NoError(t, err)
	f.jobs.pending["acme"] = 2

	res, err := f.reg.DeleteApplication(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.PurgedJobs)
	assert.Equal(t, int64(1), res.RevokedKeys)
	assert.Zero(t, f.jobs.pending["acme"])
	assert.Zero(t, f.creds.active["acme"])

	apps, err := f.reg.ListApplications(ctx)
	require.NoError(t, err)
	assert.Empty(t, apps)

	require.Len(t, f.prov.released, 1)
	assert.Equal(t, "mail.acme.io", f.prov.released[0].EmailIdentity)

	_, err = f.reg.DeleteApplication(ctx, "acme")
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundApplication))
}

func TestDeleteApplication_IdentifierStaysReserved(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()
	_, _, err := f.reg.RegisterApplication(ctx, validInput())
	require.NoError(t, err)
	_, err = f.reg.DeleteApplication(ctx, "acme")
	require.NoError(t, err)

	_, _, err = f.reg.RegisterApplication(ctx, validInput())
	assert.True(t, types.HasCode(err, types.ErrCodeConflictAppExists))
	assert.Equal(t, 1, f.creds.revoked["acme"], "no key may be issued under a reused identifier")
	assert.Zero(t, f.creds.active["acme"])
}

func TestRegisterApplication_CompensationFreesIdentifier(t *testing.T) {
	f := newFixture(false)
	f.creds.issueErr = errBoom
	_, _, err := f.reg.RegisterApplication(context.Background(), validInput())
	require.Error(t, err)

	f.creds.issueErr = nil
	_, key, err := f.reg.RegisterApplication(context.Background(), validInput())
	require.NoError(t, err)
	assert.NotEmpty(t, key.Secret)
}

func TestDeleteApplication_PurgeFailureKeepsTenant(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()
	_, _, err := f.reg.RegisterApplication(ctx, validInput())
	require.NoError(t, err)
	f.jobs.err = errBoom

	_, err = f.reg.DeleteApplication(ctx, "acme")
	require.Error(t, err)
	assert.Equal(t, 1, f.apps.count())
}

func TestListApplications_CreationOrder(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()
	for _, id := range []string{"zeta", "alpha", "mid"} {
		in := validInput()
		in.Identifier = id
		_, _, err := f.reg.RegisterApplication(ctx, in)
		require.NoError(t, err)
	}

	apps, err := f.reg.ListApplications(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(apps))
	for _, a := range apps {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, ids)
}

func TestReconcileOrphans(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()
	old := f.clock.T.Add(-2 * time.Hour)
	_, err := f.apps.Create(ctx, &types.Application{ID: "stale", Name: "orphan", CreatedAt: old})
	require.NoError(t, err)
	_, err = f.apps.Create(ctx, &types.Application{ID: "fresh", Name: "orphan", CreatedAt: f.clock.T})
	require.NoError(t, err)

	res, err := f.reg.ReconcileOrphans(ctx, time.Hour, 100)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Found: 1, Deleted: 1}, res)

	_, err = f.apps.GetByID(ctx, "stale")
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundApplication))
	_, err = f.apps.GetByID(ctx, "fresh")
	assert.NoError(t, err)
}
