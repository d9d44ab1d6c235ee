// Package intake accepts notification requests from authenticated tenants,
// validates them, resolves the first fire time and enqueues the first job.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"herald/internal/notifications/render"
	"herald/internal/recurrence"
	"herald/internal/types"
)

// KeyValidator resolves a presented secret to its tenant.
type KeyValidator interface {
	ValidateKey(ctx context.Context, secret string) (string, error)
}

// ApplicationLookup resolves tenants.
type ApplicationLookup interface {
	GetByID(ctx context.Context, id string) (*types.Application, error)
}

// JobQueue is the dispatch queue surface used by intake.
type JobQueue interface {
	Enqueue(ctx context.Context, job *types.ScheduledJob) error
	Get(ctx context.Context, jobID string) (*types.ScheduledJob, error)
	ListByRequest(ctx context.Context, applicationID, requestID string) ([]*types.ScheduledJob, error)
}

// AttemptLog reads a job's delivery attempts.
type AttemptLog interface {
	ListByJob(ctx context.Context, jobID string) ([]*types.DeliveryAttempt, error)
}

// PayloadRenderer builds the channel payload stored on each job.
type PayloadRenderer interface {
	Render(in render.Input) (types.Payload, error)
}

// StructValidator checks struct tags. *core.Validator satisfies it.
type StructValidator interface {
	ValidateStruct(s any) error
}

// SubmitRequest is the wire shape of a notification submission.
type SubmitRequest struct {
	ApplicationID string          `json:"application_id,omitempty"`
	Channel       types.Channel   `json:"channel" validate:"required,is_channel"`
	Recipient     types.Recipient `json:"recipient"`
	Subject       string          `json:"subject" validate:"max=998"`
	Message       string          `json:"message" validate:"required,max=65536"`
	Interval      types.Interval  `json:"interval"`
	Timezone      string          `json:"timezone,omitempty" validate:"is_timezone"`
}

// SubmitResult is returned once the first occurrence is durably enqueued.
type SubmitResult struct {
	RequestID string    `json:"request_id"`
	JobIDs    []string  `json:"job_ids"`
	FireAt    time.Time `json:"fire_at"`
}

// Config wires a Service.
type Config struct {
	Keys         KeyValidator
	Applications ApplicationLookup
	Queue        JobQueue
	Attempts     AttemptLog
	Renderer     PayloadRenderer
	Validator    StructValidator
	Clock        types.Clock
	Logger       *slog.Logger
}

// Service is the notification intake.
type Service struct {
	keys      KeyValidator
	apps      ApplicationLookup
	queue     JobQueue
	attempts  AttemptLog
	renderer  PayloadRenderer
	validator StructValidator
	clock     types.Clock
	logger    *slog.Logger
}

func NewService(cfg Config) *Service {
	s := &Service{
		keys:      cfg.Keys,
		apps:      cfg.Applications,
		queue:     cfg.Queue,
		attempts:  cfg.Attempts,
		renderer:  cfg.Renderer,
		validator: cfg.Validator,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
	if s.clock == nil {
		s.clock = types.RealClock{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// authenticate resolves the caller's tenant. Credential failures keep their
// auth_token_* code without saying which check failed.
func (s *Service) authenticate(ctx context.Context, secret string) (string, error) {
	appID, err := s.keys.ValidateKey(ctx, secret)
	if err != nil {
		if _, ok := types.AsAppError(err); ok {
			return "", err
		}
		return "", types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid API key", err)
	}
	return appID, nil
}

// Submit validates req, authenticates secret and enqueues the first
// occurrence. Delivery never happens synchronously.
func (s *Service) Submit(ctx context.Context, req SubmitRequest, secret string) (*SubmitResult, error) {
	appID, err := s.authenticate(ctx, secret)
	if err != nil {
		return nil, err
	}
	if req.ApplicationID != "" && req.ApplicationID != appID {
		return nil, types.NewAppError(types.ErrCodePermissionAppMismatch,
			"API key does not belong to the named application", nil)
	}

	app, err := s.apps.GetByID(ctx, appID)
	if err != nil {
		return nil, err
	}

	if s.validator != nil {
		if err := s.validator.ValidateStruct(req); err != nil {
			return nil, err
		}
	}
	if err := validateChannel(req); err != nil {
		return nil, err
	}
	spec, err := recurrence.FromInterval(req.Interval, req.Timezone)
	if err != nil {
		return nil, err
	}

	accepted := s.clock.Now()
	fireAt, ok := recurrence.First(spec.AnchoredAt(accepted), accepted)
	if !ok {
		return nil, types.NewFieldError(types.ErrCodeValidationInvalidInterval, "interval", "has no future occurrence")
	}

	payload, err := s.renderer.Render(render.Input{
		ApplicationName: app.Name,
		Channel:         req.Channel,
		Recipient:       req.Recipient,
		Subject:         req.Subject,
		Message:         req.Message,
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render notification", err)
	}

	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	job := &types.ScheduledJob{
		ID:            "job_" + uuid.NewString(),
		RequestID:     "req_" + uuid.NewString(),
		ApplicationID: appID,
		Channel:       req.Channel,
		Recipient:     req.Recipient,
		Subject:       req.Subject,
		Message:       req.Message,
		Interval:      normalizedInterval(req.Interval, spec),
		Timezone:      tz,
		Payload:       payload,
		FireAt:        fireAt,
		AnchorAt:      accepted,
		Occurrence:    1,
		Status:        types.JobStatusPending,
		CreatedAt:     accepted,
		UpdatedAt:     accepted,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "notification accepted",
		"request_id", job.RequestID,
		"job_id", job.ID,
		"application_id", appID,
		"channel", string(req.Channel),
		"recurrence", string(spec.Kind),
		"destinations", render.RedactAll(payload.Destinations),
		"fire_at", fireAt,
	)

	return &SubmitResult{
		RequestID: job.RequestID,
		JobIDs:    []string{job.ID},
		FireAt:    fireAt,
	}, nil
}

// GetJob returns one job of the caller's tenant. Jobs of other tenants are
// reported as not found.
func (s *Service) GetJob(ctx context.Context, secret, jobID string) (*types.ScheduledJob, error) {
	appID, err := s.authenticate(ctx, secret)
	if err != nil {
		return nil, err
	}
	job, err := s.queue.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.ApplicationID != appID {
		return nil, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
	}
	return job, nil
}

// ListJobAttempts returns the attempt log of one of the caller's jobs.
func (s *Service) ListJobAttempts(ctx context.Context, secret, jobID string) ([]*types.DeliveryAttempt, error) {
	job, err := s.GetJob(ctx, secret, jobID)
	if err != nil {
		return nil, err
	}
	if s.attempts == nil {
		return nil, nil
	}
	return s.attempts.ListByJob(ctx, job.ID)
}

// ListRequestJobs returns every occurrence of a request, oldest first.
func (s *Service) ListRequestJobs(ctx context.Context, secret, requestID string) ([]*types.ScheduledJob, error) {
	appID, err := s.authenticate(ctx, secret)
	if err != nil {
		return nil, err
	}
	jobs, err := s.queue.ListByRequest(ctx, appID, requestID)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, types.NewAppError(types.ErrCodeNotFoundJob, "no jobs for request", nil)
	}
	return jobs, nil
}

func validateChannel(req SubmitRequest) error {
	r := req.Recipient
	switch req.Channel {
	case types.ChannelEmail:
		if len(r.EmailAddresses) == 0 {
			return types.NewFieldError(types.ErrCodeValidationInvalidRecipient,
				"recipient.email_addresses", "at least one address is required for EMAIL")
		}
		if len(r.EmailAddresses) > types.MaxEmailRecipients {
			return types.NewFieldError(types.ErrCodeValidationInvalidRecipient,
				"recipient.email_addresses", fmt.Sprintf("at most %d addresses are allowed", types.MaxEmailRecipients))
		}
		for i, addr := range r.EmailAddresses {
			if err := types.ValidateEmailAddress(fmt.Sprintf("recipient.email_addresses[%d]", i), addr); err != nil {
				return err
			}
		}
		if req.Subject == "" {
			return types.NewFieldError(types.ErrCodeValidationMissingField, "subject", "is required for EMAIL")
		}
	case types.ChannelSMS:
		if err := types.ValidatePhoneNumber("recipient.phone_number", r.PhoneNumber); err != nil {
			return err
		}
		if len(req.Message) > types.MaxSMSMessageLength {
			return types.NewFieldError(types.ErrCodeValidationFieldTooLong, "message",
				fmt.Sprintf("exceeds %d characters for SMS", types.MaxSMSMessageLength))
		}
	case types.ChannelPush:
		if r.DeviceToken == "" {
			return types.NewFieldError(types.ErrCodeValidationInvalidRecipient,
				"recipient.device_token", "is required for PUSH")
		}
		if len(r.DeviceToken) > types.MaxPushTokenLength {
			return types.NewFieldError(types.ErrCodeValidationFieldTooLong, "recipient.device_token",
				fmt.Sprintf("exceeds %d characters", types.MaxPushTokenLength))
		}
	default:
		return types.NewFieldError(types.ErrCodeValidationInvalidChannel, "channel", "must be one of EMAIL, SMS, PUSH")
	}
	if req.Message == "" {
		return types.NewFieldError(types.ErrCodeValidationMissingField, "message", "is required")
	}
	if len(req.Message) > types.MaxMessageLength {
		return types.NewFieldError(types.ErrCodeValidationFieldTooLong, "message", "exceeds 64KB")
	}
	return nil
}

// normalizedInterval stores days sorted, as the engine sees them.
func normalizedInterval(iv types.Interval, spec recurrence.Spec) types.Interval {
	if spec.Kind == types.RecurrenceDaysOfMonth {
		iv.Days = spec.Days
	}
	return iv
}
