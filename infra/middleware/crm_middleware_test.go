package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crm_server/core/domain"
	"crm_server/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newApp() *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Use(Recover(), RequestID(), RequestLogger())
	return app
}

func decodeError(t *testing.T, resp *http.Response) ErrorResponse {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out ErrorResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func TestErrorHandlerBody(t *testing.T) {
	app := newApp()
	app.Get("/app", func(c *fiber.Ctx) error {
		return apperr.PermissionDenied("Mail.Read", "/connect")
	})
	app.Get("/fiber", func(c *fiber.Ctx) error { return fiber.ErrNotFound })
	app.Get("/plain", func(c *fiber.Ctx) error { return errors.New("boom") })
	app.Get("/panic", func(c *fiber.Ctx) error { panic("bad") })

	tests := []struct {
		path   string
		status int
		code   string
	}{
		{"/app", http.StatusForbidden, apperr.CodePermissionDenied},
		{"/fiber", http.StatusNotFound, apperr.CodeNotFound},
		{"/plain", http.StatusInternalServerError, apperr.CodeInternalError},
		{"/panic", http.StatusInternalServerError, apperr.CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("X-Request-ID", "req-1")
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			body := decodeError(t, resp)
			assert.False(t, body.Success)
			assert.Equal(t, tt.code, body.Error)
			assert.NotEmpty(t, body.Message)
			assert.NotEmpty(t, body.Timestamp)
			if tt.path != "/panic" {
				assert.Equal(t, "req-1", body.RequestID)
			}
		})
	}
}

func TestPermissionDeniedDetails(t *testing.T) {
	app := newApp()
	app.Get("/", func(c *fiber.Ctx) error { return apperr.PermissionDenied("Mail.Read", "/connect") })
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	body := decodeError(t, resp)
	assert.Equal(t, "/connect", body.Details["connect_url"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestJWTAuth(t *testing.T) {
	userID := uuid.New()
	app := newApp()
	app.Use(JWTAuth(testSecret))
	app.Get("/me", func(c *fiber.Ctx) error {
		user, err := User(c)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"id":      user.ID,
			"role":    user.Role,
			"mailbox": user.MailboxAddress,
			"mail":    user.HasAnyScope("Mail.Read"),
			"cal":     user.HasAnyScope("Calendars.Read"),
		})
	})

	valid := signed(t, jwt.MapClaims{
		"sub":    userID.String(),
		"email":  "Ana@MyCorp.com",
		"role":   "dept_admin",
		"scopes": []string{"https://graph.microsoft.com/Mail.Read"},
		"scope":  "Calendars.Read offline_access",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"bad signature", "Bearer " + valid + "x", http.StatusUnauthorized},
		{"expired", "Bearer " + signed(t, jwt.MapClaims{"sub": userID.String(), "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized},
		{"bad subject", "Bearer " + signed(t, jwt.MapClaims{"sub": "user-1"}), http.StatusUnauthorized},
		{"unknown role", "Bearer " + signed(t, jwt.MapClaims{"sub": userID.String(), "role": "root"}), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.status != http.StatusOK {
				return
			}
			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, userID.String(), body["id"])
			assert.Equal(t, string(domain.RoleDeptAdmin), body["role"])
			assert.Equal(t, "ana@mycorp.com", body["mailbox"])
			assert.Equal(t, true, body["mail"])
			assert.Equal(t, true, body["cal"])
		})
	}
}

func TestJWTAuthDefaultsToConsultant(t *testing.T) {
	user, err := actingUserFromClaims(jwt.MapClaims{"sub": uuid.NewString()})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleConsultant, user.Role)
	assert.Empty(t, user.Scopes())
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	app := newApp()
	app.Use(rl.Handler())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(t, err)
		statuses = append(statuses, resp.StatusCode)
	}
	assert.Equal(t, []int{204, 204, 429}, statuses)

	now = now.Add(2 * time.Minute)
	rl.evict()
	assert.Empty(t, rl.requests)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, 204, resp.StatusCode)
}

func TestSecurityHeaders(t *testing.T) {
	app := newApp()
	app.Use(SecurityHeaders())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}
