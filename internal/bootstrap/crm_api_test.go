package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"crm_server/adapter/out/memory"
	"crm_server/config"
	"crm_server/core/domain"
	"crm_server/core/port/out"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMailbox struct {
	mu     sync.Mutex
	emails []*domain.EmailItem
	tops   []int
}

func (s *stubMailbox) Provider() domain.MailProvider { return domain.ProviderOutlook }

func (s *stubMailbox) ListEmailMetadata(_ context.Context, q out.MetadataQuery) ([]*domain.EmailItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tops = append(s.tops, q.Top)
	return s.emails, nil
}

func (s *stubMailbox) ListMeetingMetadata(context.Context, out.MetadataQuery) ([]*domain.MeetingItem, error) {
	return nil, nil
}

type stubConnector struct{ client out.MailboxClient }

func (s stubConnector) Connect(context.Context, *domain.ActingUser) (out.MailboxClient, error) {
	return s.client, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Environment:     "development",
		JWTSecret:       "test-secret",
		WebhookSecret:   "hook-secret",
		InternalDomains: []string{"mycorp.com"},
		SyncConcurrency: 2,
		SyncDefaultDays:  30,
		SyncDefaultLimit: 7,
		FetchMaxLimit:    100,
		FetchMaxRetries:  1,
		SyncLockTTL:      time.Minute,
		IdempotencyTTL:   time.Minute,
		WebhookTimeout:   5 * time.Second,
	}
}

func newTestRouter(t *testing.T, emails ...*domain.EmailItem) *fiber.App {
	t.Helper()
	app, _ := newTestRouterWithMailbox(t, emails...)
	return app
}

func newTestRouterWithMailbox(t *testing.T, emails ...*domain.EmailItem) (*fiber.App, *stubMailbox) {
	t.Helper()
	mailbox := &stubMailbox{emails: emails}
	store := memory.NewStore()
	cfg := testConfig()
	deps := &Dependencies{
		Config:      cfg,
		CompanyRepo: store.Companies(),
		ContactRepo: store.Contacts(),
		CommRepo:    store.Communications(),
		SyncRunRepo: &memory.SyncRuns{},
		Keys:        memory.NewKeys(),
	}
	require.NoError(t, wireServices(deps, stubConnector{client: mailbox}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRouter(ctx, cfg, deps, nil), mailbox
}

func call(t *testing.T, app *fiber.App, method, path, auth string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
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

func devLogin(t *testing.T, app *fiber.App, body map[string]any) string {
	t.Helper()
	status, resp := call(t, app, "POST", "/dev/token", "", body)
	require.Equal(t, fiber.StatusOK, status, resp)
	return resp["token"].(string)
}

func TestSyncEndToEnd(t *testing.T) {
	sent := time.Now().Add(-time.Hour).UTC()
	app := newTestRouter(t,
		&domain.EmailItem{MessageID: "m-1", Subject: "Pricing", SentAt: sent,
			From: domain.Participant{Name: "Alice Smith", Email: "alice@acme.com"},
			To:   []domain.Participant{{Email: "rep@mycorp.com"}}},
		&domain.EmailItem{MessageID: "m-2", Subject: "Re: Pricing", SentAt: sent,
			From: domain.Participant{Email: "bob@acme.com"},
			To:   []domain.Participant{{Email: "rep@mycorp.com"}}},
	)
	token := devLogin(t, app, map[string]any{"email": "rep@mycorp.com", "scopes": []string{"Mail.Read"}})

	status, body := call(t, app, "POST", "/api/v1/sync", token, map[string]any{"syncMeetings": false})
	require.Equal(t, fiber.StatusOK, status, body)
	emails := body["results"].(map[string]any)["emails"].(map[string]any)
	assert.Equal(t, float64(2), emails["processed"])
	assert.Equal(t, float64(2), emails["records"])

	status, body = call(t, app, "GET", "/api/v1/companies", token, nil)
	require.Equal(t, fiber.StatusOK, status)
	companies := body["data"].([]any)
	require.Len(t, companies, 1, "both senders share one company")
	assert.Equal(t, "Acme", companies[0].(map[string]any)["name"])

	status, body = call(t, app, "POST", "/api/v1/sync", token, map[string]any{"syncMeetings": false})
	require.Equal(t, fiber.StatusOK, status)
	emails = body["results"].(map[string]any)["emails"].(map[string]any)
	assert.Equal(t, float64(0), emails["records"], "replay creates nothing")

	status, body = call(t, app, "GET", "/api/v1/sync/history", token, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["data"], 2)
}

func TestAPIRequiresToken(t *testing.T) {
	app := newTestRouter(t)

	status, body := call(t, app, "GET", "/api/v1/companies", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body["error"])
	assert.NotEmpty(t, body["request_id"])

	status, _ = call(t, app, "GET", "/api/v1/companies", "not-a-jwt", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body = call(t, app, "GET", "/health", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestWebhookEndToEnd(t *testing.T) {
	app := newTestRouter(t)
	payload := func(id, from string) map[string]any {
		return map[string]any{
			"messageId": id,
			"from":      map[string]any{"name": "Sender", "email": from},
			"to":        []map[string]any{{"email": "rep@mycorp.com"}},
			"subject":   "Hello",
			"date":      time.Now().UTC().Format(time.RFC3339),
		}
	}

	tests := []struct {
		name    string
		auth    string
		body    map[string]any
		code    int
		outcome string
	}{
		{"internal only", "hook-secret", payload("w-1", "colleague@mycorp.com"), fiber.StatusOK, "ignored"},
		{"business", "hook-secret", payload("w-2", "carol@initech.com"), fiber.StatusOK, "processed"},
		{"redelivery", "hook-secret", payload("w-2", "carol@initech.com"), fiber.StatusOK, "duplicate"},
		{"bad secret", "nope", payload("w-3", "carol@initech.com"), fiber.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := call(t, app, "POST", "/api/webhooks/email", tt.auth, tt.body)
			assert.Equal(t, tt.code, status, body)
			if tt.outcome != "" {
				assert.Equal(t, tt.outcome, body["status"])
			}
		})
	}

	status, body := call(t, app, "GET", "/api/webhooks/email", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "active", body["status"])
}

func TestDevToken(t *testing.T) {
	id := uuid.New()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	signed, claims, err := devToken("secret", devTokenRequest{UserID: id.String(), Email: "a@mycorp.com", Role: "Dept_Admin"}, now)
	require.NoError(t, err)
	assert.Equal(t, id.String(), claims["sub"])
	assert.Equal(t, "dept_admin", claims["role"])
	assert.Equal(t, "Mail.Read Calendars.Read", claims["scope"])

	parsed, err := jwt.Parse(signed, func(*jwt.Token) (any, error) { return []byte("secret"), nil }, jwt.WithTimeFunc(func() time.Time { return now }))
	require.NoError(t, err)
	assert.True(t, parsed.Valid)

	_, _, err = devToken("secret", devTokenRequest{UserID: "bad"}, now)
	assert.Error(t, err)
	_, _, err = devToken("secret", devTokenRequest{Role: "owner"}, now)
	assert.Error(t, err)
}

func TestSyncUsesConfiguredDefaultLimit(t *testing.T) {
	app, mailbox := newTestRouterWithMailbox(t)
	token := devLogin(t, app, map[string]any{"email": "rep@mycorp.com", "scopes": []string{"Mail.Read"}})

	status, body := call(t, app, "POST", "/api/v1/sync", token, map[string]any{"syncMeetings": false})
	require.Equal(t, fiber.StatusOK, status, body)
	status, body = call(t, app, "POST", "/api/v1/sync", token, map[string]any{"syncMeetings": false, "limit": 500})
	require.Equal(t, fiber.StatusOK, status, body)

	assert.Equal(t, []int{7, 100}, mailbox.tops, "default from config, explicit limit clamped to the fetch maximum")
}
