// Package tenants is the tenant registry: application records and the
// multi-step registration that creates a tenant with its first credential.
package tenants

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"herald/internal/auth"
	"herald/internal/types"
)

// Saga step names, reported in provisioning_failed details.
const (
	StepInsertApplication  = "insert_application"
	StepProvisionResources = "provision_resources"
	StepIssueKey           = "issue_key"
)

// ApplicationRepo is satisfied by *db.ApplicationRepository.
type ApplicationRepo interface {
	Create(ctx context.Context, app *types.Application) (*types.Application, error)
	GetByID(ctx context.Context, id string) (*types.Application, error)
	List(ctx context.Context) ([]*types.Application, error)
	Update(ctx context.Context, id string, patch types.ApplicationPatch, now time.Time) (*types.Application, error)
	SetResourceARNs(ctx context.Context, id, sesIdentityARN, snsTopicARN string) error
	Delete(ctx context.Context, id string) error
	Purge(ctx context.Context, id string) error
	ListOrphans(ctx context.Context, cutoff time.Time, limit int) ([]*types.Application, error)
}

// Credentials is the slice of the credential store the registry drives.
type Credentials interface {
	IssueKey(ctx context.Context, applicationID string, opts auth.IssueOptions) (*auth.IssuedKey, error)
	RevokeKey(ctx context.Context, keyID string) error
	RevokeAllForApplication(ctx context.Context, applicationID string) (int64, error)
}

// JobPurger cancels a tenant's not-yet-claimed jobs.
type JobPurger interface {
	PurgePending(ctx context.Context, applicationID string) (int64, error)
}

// Provisioner creates and releases per-tenant channel resources. Provision
// may return partially created resources alongside an error; the registry
// releases whatever it is handed.
type Provisioner interface {
	Provision(ctx context.Context, app *types.Application) (*types.ChannelResources, error)
	Release(ctx context.Context, res *types.ChannelResources) error
}

// RegisterInput is a registration request.
type RegisterInput struct {
	Name       string
	Identifier string
	Email      string
	Domain     string
	KeyLabel   string
}

// UpdateInput is a partial update; nil fields are left untouched.
type UpdateInput struct {
	Name   *string
	Email  *string
	Domain *string
}

// DeleteResult summarises what a tenant delete removed.
type DeleteResult struct {
	RevokedKeys int64 `json:"revoked_keys"`
	PurgedJobs  int64 `json:"purged_jobs"`
}

// ReconcileResult counts one orphan sweep.
type ReconcileResult struct {
	Found   int
	Deleted int
	Failed  int
}

// RegistryConfig holds the dependencies of a Registry.
type RegistryConfig struct {
	Applications ApplicationRepo
	Credentials  Credentials
	Jobs         JobPurger
	Provisioner  Provisioner
	Clock        types.Clock
	Logger       *slog.Logger
}

// Registry owns tenant lifecycle.
type Registry struct {
	apps        ApplicationRepo
	creds       Credentials
	jobs        JobPurger
	provisioner Provisioner
	clock       types.Clock
	logger      *slog.Logger
}

// NewRegistry creates a Registry. A nil Provisioner skips channel resource
// provisioning.
func NewRegistry(cfg RegistryConfig) *Registry {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		apps:        cfg.Applications,
		creds:       cfg.Credentials,
		jobs:        cfg.Jobs,
		provisioner: cfg.Provisioner,
		clock:       clock,
		logger:      logger,
	}
}

func validateRegister(in RegisterInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return types.NewFieldError(types.ErrCodeValidationMissingField, "name", "is required")
	}
	if len(in.Name) > types.MaxNameLength {
		return types.NewFieldError(types.ErrCodeValidationFieldTooLong, "name",
			fmt.Sprintf("must be at most %d characters", types.MaxNameLength))
	}
	if err := types.ValidateIdentifier(in.Identifier); err != nil {
		return err
	}
	if err := types.ValidateEmailAddress("email", in.Email); err != nil {
		return err
	}
	if err := types.ValidateDomain(in.Domain); err != nil {
		return err
	}
	return nil
}

// RegisterApplication creates a tenant and mints its first key as one unit.
// A failure after the tenant row exists undoes every completed step and
// returns provisioning_failed describing the outcome.
func (r *Registry) RegisterApplication(ctx context.Context, in RegisterInput) (*types.Application, *auth.IssuedKey, error) {
	if err := validateRegister(in); err != nil {
		return nil, nil, err
	}

	now := r.clock.Now()
	app, err := r.apps.Create(ctx, &types.Application{
		ID:        in.Identifier,
		Name:      strings.TrimSpace(in.Name),
		Email:     in.Email,
		Domain:    strings.ToLower(in.Domain),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, nil, err
	}

	s := newSaga("register_application", r.logger)
	// Nothing keyed by the identifier exists yet, so undoing the insert
	// frees it for a retry.
	s.completed(StepInsertApplication, func(ctx context.Context) error {
		return r.apps.Purge(ctx, app.ID)
	})

	if r.provisioner != nil {
		res, err := r.provisioner.Provision(ctx, app)
		if res == nil {
			res = &types.ChannelResources{}
		}
		if !res.IsEmpty() {
			s.completed(StepProvisionResources, func(ctx context.Context) error {
				return r.provisioner.Release(ctx, res)
			})
		}
		if err == nil {
			err = r.apps.SetResourceARNs(ctx, app.ID, res.SESIdentityARN, res.SNSTopicARN)
		}
		if err != nil {
			return nil, nil, r.fail(ctx, s, app.ID, StepProvisionResources, err)
		}
		app.SESIdentityARN = res.SESIdentityARN
		app.SNSTopicARN = res.SNSTopicARN
	}

	key, err := r.creds.IssueKey(ctx, app.ID, auth.IssueOptions{Label: in.KeyLabel})
	if err != nil {
		return nil, nil, r.fail(ctx, s, app.ID, StepIssueKey, err)
	}

	r.logger.InfoContext(ctx, "application registered",
		"application_id", app.ID,
		"key_id", key.KeyID,
	)
	return app, key, nil
}

func (r *Registry) fail(ctx context.Context, s *saga, applicationID, step string, cause error) error {
	report := s.rollback(ctx, step)
	r.logger.ErrorContext(ctx, "application registration failed",
		"application_id", applicationID,
		"failed_step", step,
		"compensated", report.ok(),
		"error", cause,
	)
	details := map[string]any{
		"failed_step": step,
		"compensated": report.ok(),
		"rolled_back": report.Compensated,
	}
	if !report.ok() {
		details["compensation_errors"] = report.Errors
	}
	return types.NewAppErrorWithDetails(types.ErrCodeProvisioningFailed,
		fmt.Sprintf("application registration failed at %s", step), cause, details)
}

// GetApplication returns one tenant.
func (r *Registry) GetApplication(ctx context.Context, id string) (*types.Application, error) {
	return r.apps.GetByID(ctx, id)
}

// ListApplications returns every tenant in creation order.
func (r *Registry) ListApplications(ctx context.Context) ([]*types.Application, error) {
	return r.apps.List(ctx)
}

// UpdateApplication applies a partial update. The identifier never changes.
func (r *Registry) UpdateApplication(ctx context.Context, id string, in UpdateInput) (*types.Application, error) {
	patch := types.ApplicationPatch{Name: in.Name, Email: in.Email, Domain: in.Domain}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, types.NewFieldError(types.ErrCodeValidationMissingField, "name", "must not be empty")
		}
		if len(name) > types.MaxNameLength {
			return nil, types.NewFieldError(types.ErrCodeValidationFieldTooLong, "name",
				fmt.Sprintf("must be at most %d characters", types.MaxNameLength))
		}
		patch.Name = &name
	}
	if patch.Email != nil {
		if err := types.ValidateEmailAddress("email", *patch.Email); err != nil {
			return nil, err
		}
	}
	if patch.Domain != nil {
		if err := types.ValidateDomain(*patch.Domain); err != nil {
			return nil, err
		}
		d := strings.ToLower(*patch.Domain)
		patch.Domain = &d
	}
	if patch.IsEmpty() {
		return r.apps.GetByID(ctx, id)
	}
	return r.apps.Update(ctx, id, patch, r.clock.Now())
}

// DeleteApplication revokes every key, purges pending jobs, tombstones the
// tenant row and then releases channel resources. The identifier stays
// reserved so a later registration can not inherit the old tenant's keys or
// job history. Keys go first so no new
// submission can authenticate while jobs are purged. Jobs already in flight
// finish their current attempt but can never enqueue a successor. A second
// delete is not_found_application.
func (r *Registry) DeleteApplication(ctx context.Context, id string) (*DeleteResult, error) {
	app, err := r.apps.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	revoked, err := r.creds.RevokeAllForApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	purged, err := r.jobs.PurgePending(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.apps.Delete(ctx, id); err != nil {
		return nil, err
	}

	if r.provisioner != nil && (app.SESIdentityARN != "" || app.SNSTopicARN != "") {
		res := &types.ChannelResources{SESIdentityARN: app.SESIdentityARN, SNSTopicARN: app.SNSTopicARN}
		if app.SESIdentityARN != "" {
			res.EmailIdentity = app.Domain
		}
		if err := r.provisioner.Release(ctx, res); err != nil {
			r.logger.WarnContext(ctx, "failed to release channel resources of deleted application",
				"application_id", id,
				"error", err,
			)
		}
	}

	r.logger.InfoContext(ctx, "application deleted",
		"application_id", id,
		"revoked_keys", revoked,
		"purged_jobs", purged,
	)
	return &DeleteResult{RevokedKeys: revoked, PurgedJobs: purged}, nil
}

// ListOrphans returns tenants older than olderThan that hold no keys at all,
// the residue of registrations whose compensation failed.
func (r *Registry) ListOrphans(ctx context.Context, olderThan time.Duration, limit int) ([]*types.Application, error) {
	return r.apps.ListOrphans(ctx, r.clock.Now().Add(-olderThan), limit)
}

// ReconcileOrphans deletes orphans past the grace period. Individual
// failures are counted and logged; the sweep continues.
func (r *Registry) ReconcileOrphans(ctx context.Context, grace time.Duration, limit int) (ReconcileResult, error) {
	orphans, err := r.ListOrphans(ctx, grace, limit)
	if err != nil {
		return ReconcileResult{}, err
	}
	res := ReconcileResult{Found: len(orphans)}
	for _, app := range orphans {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if _, err := r.DeleteApplication(ctx, app.ID); err != nil && !types.HasCode(err, types.ErrCodeNotFoundApplication) {
			res.Failed++
			r.logger.ErrorContext(ctx, "failed to delete orphaned application",
				"application_id", app.ID,
				"error", err,
			)
			continue
		}
		res.Deleted++
	}
	return res, nil
}
