package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"herald/internal/auth"
	"herald/internal/core"
	"herald/internal/intake"
	"herald/internal/tenants"
	"herald/internal/types"
)

const testAdminKey = "admin-key-0123456789"

type mockApplications struct {
	registerFn func(ctx context.Context, in tenants.RegisterInput) (*types.Application, *auth.IssuedKey, error)
	getFn      func(ctx context.Context, id string) (*types.Application, error)
	listFn     func(ctx context.Context) ([]*types.Application, error)
	updateFn   func(ctx context.Context, id string, in tenants.UpdateInput) (*types.Application, error)
	deleteFn   func(ctx context.Context, id string) (*tenants.DeleteResult, error)
}

func (m *mockApplications) RegisterApplication(ctx context.Context, in tenants.RegisterInput) (*types.Application, *auth.IssuedKey, error) {
	return m.registerFn(ctx, in)
}

func (m *mockApplications) GetApplication(ctx context.Context, id string) (*types.Application, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundApplication, "application not found", nil)
}

func (m *mockApplications) ListApplications(ctx context.Context) ([]*types.Application, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockApplications) UpdateApplication(ctx context.Context, id string, in tenants.UpdateInput) (*types.Application, error) {
	return m.updateFn(ctx, id, in)
}

func (m *mockApplications) DeleteApplication(ctx context.Context, id string) (*tenants.DeleteResult, error) {
	return m.deleteFn(ctx, id)
}

type mockKeys struct {
	issueFn  func(ctx context.Context, appID string, opts auth.IssueOptions) (*auth.IssuedKey, error)
	listFn   func(ctx context.Context, appID string) ([]auth.KeyMetadata, error)
	revokeFn func(ctx context.Context, appID, keyID string) error
	active   bool
}

func (m *mockKeys) IssueKey(ctx context.Context, appID string, opts auth.IssueOptions) (*auth.IssuedKey, error) {
	return m.issueFn(ctx, appID, opts)
}

func (m *mockKeys) ListKeys(ctx context.Context, appID string) ([]auth.KeyMetadata, error) {
	return m.listFn(ctx, appID)
}

func (m *mockKeys) RevokeApplicationKey(ctx context.Context, appID, keyID string) error {
	return m.revokeFn(ctx, appID, keyID)
}

func (m *mockKeys) IsApplicationActive(context.Context, string) (bool, error) {
	return m.active, nil
}

type mockNotifications struct {
	submitFn func(ctx context.Context, req intake.SubmitRequest, secret string) (*intake.SubmitResult, error)
	getFn      func(ctx context.Context, secret, jobID string) (*types.ScheduledJob, error)
	attemptsFn func(ctx context.Context, secret, jobID string) ([]*types.DeliveryAttempt, error)
	listFn     func(ctx context.Context, secret, requestID string) ([]*types.ScheduledJob, error)
}

func (m *mockNotifications) Submit(ctx context.Context, req intake.SubmitRequest, secret string) (*intake.SubmitResult, error) {
	return m.submitFn(ctx, req, secret)
}

func (m *mockNotifications) GetJob(ctx context.Context, secret, jobID string) (*types.ScheduledJob, error) {
	return m.getFn(ctx, secret, jobID)
}

func (m *mockNotifications) ListJobAttempts(ctx context.Context, secret, jobID string) ([]*types.DeliveryAttempt, error) {
	return m.attemptsFn(ctx, secret, jobID)
}

func (m *mockNotifications) ListRequestJobs(ctx context.Context, secret, requestID string) ([]*types.ScheduledJob, error) {
	return m.listFn(ctx, secret, requestID)
}

type mockDeadLetters struct {
	gotAppID string
	gotLimit int
	items    []*types.DeadLetter
}

func (m *mockDeadLetters) List(_ context.Context, appID string, limit int) ([]*types.DeadLetter, error) {
	m.gotAppID, m.gotLimit = appID, limit
	return m.items, nil
}

type testAPI struct {
	apps   *mockApplications
	keys   *mockKeys
	notifs *mockNotifications
	dls    *mockDeadLetters
	router chi.Router
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := core.NewValidator(logger)
	api := &testAPI{
		apps:   &mockApplications{},
		keys:   &mockKeys{},
		notifs: &mockNotifications{},
		dls:    &mockDeadLetters{},
	}
	r := chi.NewRouter()
	r.Route("/v1", Routes{
		AdminKey:      types.SecretString(testAdminKey),
		Logger:        logger,
		Applications:  NewApplicationHandler(api.apps, api.keys, v, logger),
		Keys:          NewKeyHandler(api.keys, v, logger),
		Notifications: NewNotificationHandler(api.notifs, logger),
		DeadLetters:   NewDeadLetterHandler(api.dls, logger),
	}.Register)
	api.router = r
	return api
}

func (a *testAPI) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) admin(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	return a.do(t, method, path, testAdminKey, body)
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error.Code
}

func testApplication() *types.Application {
	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	return &types.Application{
		ID:        "acme",
		Name:      "Acme",
		Email:     "ops@acme.com",
		Domain:    "mail.acme.com",
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}
