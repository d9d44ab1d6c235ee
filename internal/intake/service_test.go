package intake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/core"
	"herald/internal/notifications/render"
	"herald/internal/types"
)

type fakeKeys map[string]string

func (f fakeKeys) ValidateKey(_ context.Context, secret string) (string, error) {
	if secret == "" {
		return "", types.NewAppError(types.ErrCodeAuthTokenMissing, "missing", nil)
	}
	app, ok := f[secret]
	if !ok {
		return "", types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid", nil)
	}
	return app, nil
}

type fakeApps map[string]*types.Application

func (f fakeApps) GetByID(_ context.Context, id string) (*types.Application, error) {
	a, ok := f[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundApplication, "application not found", nil)
	}
	return a, nil
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []*types.ScheduledJob
}

func (q *fakeQueue) Enqueue(_ context.Context, job *types.ScheduledJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Get(_ context.Context, id string) (*types.ScheduledJob, error) {
	for _, j := range q.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
}

func (q *fakeQueue) ListByRequest(_ context.Context, appID, reqID string) ([]*types.ScheduledJob, error) {
	var out []*types.ScheduledJob
	for _, j := range q.jobs {
		if j.ApplicationID == appID && j.RequestID == reqID {
			out = append(out, j)
		}
	}
	return out, nil
}

var acceptedAt = time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *fakeQueue) {
	t.Helper()
	r, err := render.NewRenderer("Herald")
	require.NoError(t, err)
	q := &fakeQueue{}
	svc := NewService(Config{
		Keys: fakeKeys{"secret-acme": "acme", "secret-globex": "globex"},
		Applications: fakeApps{
			"acme":   {ID: "acme", Name: "Acme"},
			"globex": {ID: "globex", Name: "Globex"},
		},
		Queue:     q,
		Renderer:  r,
		Validator: core.NewValidator(nil),
		Clock:     &types.FixedClock{T: acceptedAt},
	})
	return svc, q
}

func emailRequest() SubmitRequest {
	return SubmitRequest{
		Channel:   types.ChannelEmail,
		Recipient: types.Recipient{EmailAddresses: []string{"a@example.com", "b@example.com"}},
		Subject:   "Hello",
		Message:   "World",
		Interval:  types.Interval{Once: true},
	}
}

func TestSubmit_OnceEmailTwoAddresses(t *testing.T) {
	svc, q := newTestService(t)

	res, err := svc.Submit(context.Background(), emailRequest(), "secret-acme")
	require.NoError(t, err)

	require.Len(t, res.JobIDs, 1)
	assert.Equal(t, acceptedAt, res.FireAt)
	require.Len(t, q.jobs, 1)
	job := q.jobs[0]
	assert.Equal(t, "acme", job.ApplicationID)
	assert.Equal(t, res.RequestID, job.RequestID)
	assert.Equal(t, 1, job.Occurrence)
	assert.Equal(t, types.JobStatusPending, job.Status)
	assert.Equal(t, "UTC", job.Timezone)
	assert.False(t, job.IsRecurring())
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, job.Payload.Destinations)
	assert.Contains(t, job.Payload.HTMLBody, "World")
}

func TestSubmit_DaysOfMonthFirstFire(t *testing.T) {
	svc, q := newTestService(t)

	req := SubmitRequest{
		Channel:   types.ChannelSMS,
		Recipient: types.Recipient{PhoneNumber: "+14155550123"},
		Message:   "rent due",
		Interval:  types.Interval{Days: []int{31, 1}},
		Timezone:  "UTC",
	}
	res, err := svc.Submit(context.Background(), req, "secret-acme")
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC), res.FireAt)
	assert.Equal(t, []int{1, 31}, q.jobs[0].Interval.Days)
}

func TestSubmit_Rejections(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*SubmitRequest)
		code types.ErrorCode
	}{
		{"no interval", func(r *SubmitRequest) { r.Interval = types.Interval{} }, types.ErrCodeValidationInvalidInterval},
		{"two kinds", func(r *SubmitRequest) { r.Interval = types.Interval{Daily: true, Weekly: true} }, types.ErrCodeValidationInvalidInterval},
		{"empty days", func(r *SubmitRequest) { r.Interval = types.Interval{Days: []int{}} }, types.ErrCodeValidationInvalidInterval},
		{"day 32", func(r *SubmitRequest) { r.Interval = types.Interval{Days: []int{32}} }, types.ErrCodeValidationInvalidInterval},
		{"bad channel", func(r *SubmitRequest) { r.Channel = "FAX" }, types.ErrCodeValidationInvalidChannel},
		{"no addresses", func(r *SubmitRequest) { r.Recipient.EmailAddresses = nil }, types.ErrCodeValidationInvalidRecipient},
		{"bad address", func(r *SubmitRequest) { r.Recipient.EmailAddresses = []string{"nope"} }, types.ErrCodeValidationInvalidEmail},
		{"no subject", func(r *SubmitRequest) { r.Subject = "" }, types.ErrCodeValidationMissingField},
		{"no message", func(r *SubmitRequest) { r.Message = "" }, types.ErrCodeValidationMissingField},
		{"bad timezone", func(r *SubmitRequest) { r.Timezone = "Mars/Base" }, types.ErrCodeValidationInvalidTimezone},
		{"sms without phone", func(r *SubmitRequest) { r.Channel = types.ChannelSMS }, types.ErrCodeValidationMissingField},
		{"push without token", func(r *SubmitRequest) { r.Channel = types.ChannelPush }, types.ErrCodeValidationInvalidRecipient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, q := newTestService(t)
			req := emailRequest()
			tc.mut(&req)

			_, err := svc.Submit(context.Background(), req, "secret-acme")
			require.Error(t, err)
			assert.True(t, types.HasCode(err, tc.code), "got %v", err)
			appErr, _ := types.AsAppError(err)
			assert.NotEmpty(t, appErr.Details["field"])
			assert.Empty(t, q.jobs)
		})
	}
}

func TestSubmit_TooManyAddresses(t *testing.T) {
	svc, _ := newTestService(t)
	req := emailRequest()
	req.Recipient.EmailAddresses = make([]string, types.MaxEmailRecipients+1)
	for i := range req.Recipient.EmailAddresses {
		req.Recipient.EmailAddresses[i] = "x@example.com"
	}
	_, err := svc.Submit(context.Background(), req, "secret-acme")
	assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidRecipient))
}

func TestSubmit_Auth(t *testing.T) {
	svc, q := newTestService(t)

	_, err := svc.Submit(context.Background(), emailRequest(), "")
	assert.True(t, types.HasCode(err, types.ErrCodeAuthTokenMissing))

	_, err = svc.Submit(context.Background(), emailRequest(), "forged")
	assert.True(t, types.HasCode(err, types.ErrCodeAuthTokenInvalid))

	req := emailRequest()
	req.ApplicationID = "globex"
	_, err = svc.Submit(context.Background(), req, "secret-acme")
	assert.True(t, types.HasCode(err, types.ErrCodePermissionAppMismatch))

	req.ApplicationID = "acme"
	_, err = svc.Submit(context.Background(), req, "secret-acme")
	assert.NoError(t, err)
	assert.Len(t, q.jobs, 1)
}

func TestGetJob_ScopedToTenant(t *testing.T) {
	svc, _ := newTestService(t)
	res, err := svc.Submit(context.Background(), emailRequest(), "secret-acme")
	require.NoError(t, err)

	job, err := svc.GetJob(context.Background(), "secret-acme", res.JobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, res.JobIDs[0], job.ID)

	_, err = svc.GetJob(context.Background(), "secret-globex", res.JobIDs[0])
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundJob))
}

func TestListRequestJobs(t *testing.T) {
	svc, _ := newTestService(t)
	res, err := svc.Submit(context.Background(), emailRequest(), "secret-acme")
	require.NoError(t, err)

	jobs, err := svc.ListRequestJobs(context.Background(), "secret-acme", res.RequestID)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = svc.ListRequestJobs(context.Background(), "secret-globex", res.RequestID)
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundJob))
}

type fakeAttemptLog map[string][]*types.DeliveryAttempt

func (f fakeAttemptLog) ListByJob(_ context.Context, jobID string) ([]*types.DeliveryAttempt, error) {
	return f[jobID], nil
}

func TestListJobAttempts_ScopedToTenant(t *testing.T) {
	svc, _ := newTestService(t)
	res, err := svc.Submit(context.Background(), emailRequest(), "secret-acme")
	require.NoError(t, err)
	jobID := res.JobIDs[0]
	svc.attempts = fakeAttemptLog{jobID: {{JobID: jobID, Attempt: 1, Status: types.AttemptSuccess}}}

	attempts, err := svc.ListJobAttempts(context.Background(), "secret-acme", jobID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, types.AttemptSuccess, attempts[0].Status)

	_, err = svc.ListJobAttempts(context.Background(), "secret-globex", jobID)
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundJob))
}
