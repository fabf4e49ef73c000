package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strconv"
	"testing"

	"crm_server/adapter/out/memory"
	"crm_server/core/domain"
	"crm_server/core/service/communication"
	"crm_server/core/service/contact"
	"crm_server/infra/middleware"
	"crm_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUser(t *testing.T, role domain.Role, scopes ...string) *domain.ActingUser {
	t.Helper()
	u, err := domain.NewActingUser(uuid.New(), "me@mycorp.com", "", scopes, role)
	require.NoError(t, err)
	return u
}

// newTestApp mounts routes under /api/v1 with user injected in place of JWTAuth.
// A nil user leaves the request unauthenticated.
func newTestApp(user *domain.ActingUser, register func(fiber.Router)) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler()})
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		if user != nil {
			c.Locals(middleware.LocalUser, user)
		}
		return c.Next()
	})
	register(api)
	return app
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestCompanyEndpoints(t *testing.T) {
	store := memory.NewStore()
	svc := contact.NewService(store.Companies(), store.Contacts())
	consultant := testUser(t, domain.RoleConsultant)
	app := newTestApp(consultant, NewCompanyHandler(svc).Register)

	status, body := do(t, app, "POST", "/api/v1/companies", map[string]any{"name": "Acme", "domain": "acme.com"})
	require.Equal(t, fiber.StatusCreated, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, "Acme", data["name"])
	id := int64(data["id"].(float64))

	status, body = do(t, app, "POST", "/api/v1/companies", map[string]any{"name": "Acme"})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, false, body["success"])

	status, body = do(t, app, "GET", "/api/v1/companies?limit=10", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["data"], 1)
	assert.Equal(t, float64(1), body["meta"].(map[string]any)["total"])

	status, _ = do(t, app, "GET", "/api/v1/companies/"+itoa(id), nil)
	assert.Equal(t, fiber.StatusOK, status)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"bad id", "GET", "/api/v1/companies/abc", nil, fiber.StatusBadRequest},
		{"missing", "GET", "/api/v1/companies/9999", nil, fiber.StatusNotFound},
		{"update needs dept admin", "PUT", "/api/v1/companies/" + itoa(id), map[string]any{"industry": "Energy"}, fiber.StatusForbidden},
		{"archive needs sys admin", "DELETE", "/api/v1/companies/" + itoa(id), nil, fiber.StatusForbidden},
		{"status required", "PATCH", "/api/v1/companies/" + itoa(id) + "/status", map[string]any{}, fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, app, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, status)
			assert.NotEmpty(t, body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}

	admin := newTestApp(testUser(t, domain.RoleSysAdmin), NewCompanyHandler(svc).Register)
	status, body = do(t, admin, "DELETE", "/api/v1/companies/"+itoa(id), nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "archived", body["data"].(map[string]any)["status"])
}

func TestCompanyEndpointsRequireUser(t *testing.T) {
	store := memory.NewStore()
	app := newTestApp(nil, NewCompanyHandler(contact.NewService(store.Companies(), store.Contacts())).Register)
	status, body := do(t, app, "GET", "/api/v1/companies", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, apperr.CodeUnauthorized, body["error"])
}

func TestContactAndCommunicationEndpoints(t *testing.T) {
	store := memory.NewStore()
	crm := contact.NewService(store.Companies(), store.Contacts())
	comms := communication.NewService(store.Communications(), store.Contacts(), store.Companies())
	user := testUser(t, domain.RoleDeptAdmin)
	app := newTestApp(user, func(r fiber.Router) {
		NewCompanyHandler(crm).Register(r)
		NewContactHandler(crm).Register(r)
		NewCommunicationHandler(comms).Register(r)
	})

	_, body := do(t, app, "POST", "/api/v1/companies", map[string]any{"name": "Globex"})
	companyID := body["data"].(map[string]any)["id"].(float64)

	status, body := do(t, app, "POST", "/api/v1/contacts", map[string]any{
		"company_id": companyID, "email": "Hank@Globex.com", "first_name": "Hank", "last_name": "Scorpio",
	})
	require.Equal(t, fiber.StatusCreated, status, body)
	contactID := body["data"].(map[string]any)["id"].(float64)
	assert.Equal(t, "hank@globex.com", body["data"].(map[string]any)["email"])

	status, _ = do(t, app, "POST", "/api/v1/contacts", map[string]any{
		"company_id": 424242, "email": "x@globex.com", "first_name": "X",
	})
	assert.Equal(t, fiber.StatusNotFound, status, "unknown company reference")

	status, body = do(t, app, "GET", "/api/v1/contacts?company_id="+itoa(int64(companyID)), nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["data"], 1)

	status, _ = do(t, app, "GET", "/api/v1/contacts?company_id=abc", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = do(t, app, "PATCH", "/api/v1/contacts/"+itoa(int64(contactID))+"/assign", map[string]any{"user_id": user.ID.String()})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, user.ID.String(), body["data"].(map[string]any)["assigned_user_id"])

	status, _ = do(t, app, "PATCH", "/api/v1/contacts/"+itoa(int64(contactID))+"/assign", map[string]any{"user_id": "nope"})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = do(t, app, "POST", "/api/v1/communications", map[string]any{
		"type": "meeting", "subject": "Quarterly review", "contact_id": contactID, "status": "scheduled",
	})
	require.Equal(t, fiber.StatusCreated, status, body)
	comm := body["data"].(map[string]any)
	commID := int64(comm["id"].(float64))
	assert.Equal(t, "scheduled", comm["status"])

	status, body = do(t, app, "PATCH", "/api/v1/communications/"+itoa(commID)+"/status", map[string]any{"status": "completed"})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "completed", body["data"].(map[string]any)["status"])

	status, _ = do(t, app, "PATCH", "/api/v1/communications/"+itoa(commID)+"/status", map[string]any{"status": "scheduled"})
	assert.Equal(t, fiber.StatusConflict, status, "completed is terminal")

	status, body = do(t, app, "GET", "/api/v1/communications?type=meeting", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["data"], 1)
}

type stubSync struct {
	opts    domain.SyncOptions
	summary *domain.SyncSummary
	err     error
	runs    []*domain.SyncRun
	target  uuid.UUID
}

func (s *stubSync) RunSync(_ context.Context, opts domain.SyncOptions, _ *domain.ActingUser) (*domain.SyncSummary, error) {
	s.opts = opts
	return s.summary, s.err
}

func (s *stubSync) History(_ context.Context, _ *domain.ActingUser, target uuid.UUID, _ int) ([]*domain.SyncRun, error) {
	s.target = target
	return s.runs, nil
}

func (s *stubSync) HasEmailPermissions(u *domain.ActingUser) bool {
	return u.HasAnyScope(domain.EmailReadScopes...)
}

func (s *stubSync) HasMeetingPermissions(u *domain.ActingUser) bool {
	return u.HasAnyScope(domain.MeetingReadScopes...)
}

func TestSyncEndpoints(t *testing.T) {
	user := testUser(t, domain.RoleConsultant, "Mail.Read")
	svc := &stubSync{summary: &domain.SyncSummary{
		Emails: domain.CategorySummary{Processed: 10, Records: 9},
		Errors: []string{"email[4]: malformed participant"},
	}}
	app := newTestApp(user, NewSyncHandler(svc).Register)

	status, body := do(t, app, "POST", "/api/v1/sync", map[string]any{"syncMeetings": false, "limit": 25})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, domain.SyncOptions{SyncEmails: true, SyncMeetings: false, Limit: 25}, svc.opts)
	results := body["results"].(map[string]any)
	assert.Equal(t, float64(10), results["emails"].(map[string]any)["processed"])
	assert.Len(t, results["errors"], 1)
	assert.Contains(t, body["message"], "1 errors")

	status, _ = do(t, app, "POST", "/api/v1/sync", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.True(t, svc.opts.SyncEmails && svc.opts.SyncMeetings, "both categories by default")

	svc.err = apperr.PermissionDenied("Mail.Read", "/connect")
	status, body = do(t, app, "POST", "/api/v1/sync", nil)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, apperr.CodePermissionDenied, body["error"])

	status, body = do(t, app, "GET", "/api/v1/sync", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["hasEmailPermissions"])
	assert.Equal(t, false, body["hasMeetingPermissions"])
	assert.Equal(t, user.ID.String(), body["userId"])
	assert.Equal(t, []any{"Mail.Read"}, body["scopes"])

	other := uuid.New()
	status, body = do(t, app, "GET", "/api/v1/sync/history?user_id="+other.String(), nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, other, svc.target)
	assert.Equal(t, []any{}, body["data"])
}

type stubWebhook struct {
	token   string
	payload []byte
	outcome *domain.WebhookOutcome
}

func (s *stubWebhook) HandleIncomingMessage(_ context.Context, payload []byte, token string) (*domain.WebhookOutcome, error) {
	s.token = token
	s.payload = payload
	if token != "s3cret" {
		return nil, apperr.Unauthorized("invalid webhook token")
	}
	return s.outcome, nil
}

func TestWebhookEndpoint(t *testing.T) {
	svc := &stubWebhook{outcome: &domain.WebhookOutcome{Accepted: true, Status: domain.WebhookIgnored, Reason: "internal-only message"}}
	h := NewWebhookHandler(svc, nil)
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler()})
	h.Register(app)

	post := func(auth string) (int, map[string]any) {
		req := httptest.NewRequest("POST", webhookPath, bytes.NewReader([]byte(`{"messageId":"m-1"}`)))
		req.Header.Set("Authorization", auth)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		out := map[string]any{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp.StatusCode, out
	}

	status, body := post("Bearer s3cret")
	require.Equal(t, fiber.StatusOK, status, "internal-only traffic is acknowledged")
	assert.Equal(t, "ignored", body["status"])
	assert.Equal(t, false, body["processed"])
	assert.JSONEq(t, `{"messageId":"m-1"}`, string(svc.payload))

	status, body = post("Basic s3cret")
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "", svc.token)
	assert.Equal(t, apperr.CodeUnauthorized, body["error"])

	m := h.Metrics()
	assert.Equal(t, int64(2), m.Received)
	assert.Equal(t, int64(1), m.Ignored)
	assert.Equal(t, int64(1), m.Errors)

	status, body = do(t, app, "GET", webhookPath, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, webhookPath, body["endpoint"])
}

func TestReady(t *testing.T) {
	app := fiber.New()
	NewHealthHandler(map[string]HealthChecker{
		"postgres": PingFunc(func(context.Context) error { return nil }),
		"mongodb":  nil,
	}).Register(app)

	status, body := do(t, app, "GET", "/ready", nil)
	require.Equal(t, fiber.StatusOK, status)
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "healthy", checks["postgres"])
	assert.Equal(t, "not configured", checks["mongodb"])

	down := fiber.New()
	NewHealthHandler(map[string]HealthChecker{
		"redis": PingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}).Register(down)
	status, body = do(t, down, "GET", "/ready", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "not ready", body["status"])

	status, body = do(t, down, "GET", "/health", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
