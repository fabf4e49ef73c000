package bootstrap

import (
	"strings"
	"time"

	"crm_server/config"
	"crm_server/core/domain"
	"crm_server/pkg/apperr"
	"crm_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const devTokenTTL = 12 * time.Hour

type devTokenRequest struct {
	UserID  string   `json:"user_id"`
	Email   string   `json:"email"`
	Mailbox string   `json:"mailbox"`
	Role    string   `json:"role"`
	Scopes  []string `json:"scopes"`
}

// RegisterDevRoutes registers development-only helpers without authentication.
// WARNING: Only enable in development environment!
func RegisterDevRoutes(app *fiber.App, cfg *config.Config) {
	dev := app.Group("/dev")
	dev.Post("/token", func(c *fiber.Ctx) error {
		var req devTokenRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return apperr.BadRequest("invalid request body").WithError(err)
			}
		}
		token, claims, err := devToken(cfg.JWTSecret, req, time.Now())
		if err != nil {
			return err
		}
		logger.Info("[Dev] issued token for %s (%s)", claims["sub"], claims["role"])
		return c.JSON(fiber.Map{
			"token":      token,
			"expires_at": time.Unix(claims["exp"].(int64), 0).UTC(),
			"claims":     claims,
		})
	})
	logger.Info("Development routes enabled under /dev")
}

// devToken signs the claims JWTAuth reads. Missing fields get a random user
// with Mail.Read and Calendars.Read.
func devToken(secret string, req devTokenRequest, now time.Time) (string, jwt.MapClaims, error) {
	id := uuid.New()
	if req.UserID != "" {
		parsed, err := uuid.Parse(req.UserID)
		if err != nil {
			return "", nil, apperr.InvalidInput("user_id", "must be a uuid")
		}
		id = parsed
	}
	if req.Email == "" {
		req.Email = "dev@localhost.test"
	}
	if req.Role == "" {
		req.Role = string(domain.RoleConsultant)
	}
	if len(req.Scopes) == 0 {
		req.Scopes = []string{"Mail.Read", "Calendars.Read"}
	}
	if _, err := domain.NewActingUser(id, req.Email, req.Mailbox, req.Scopes, domain.Role(strings.ToLower(req.Role))); err != nil {
		return "", nil, apperr.ValidationFailed(err.Error())
	}

	claims := jwt.MapClaims{
		"sub":   id.String(),
		"email": req.Email,
		"role":  strings.ToLower(req.Role),
		"scope": strings.Join(req.Scopes, " "),
		"iat":   now.Unix(),
		"exp":   now.Add(devTokenTTL).Unix(),
	}
	if req.Mailbox != "" {
		claims["mailbox"] = req.Mailbox
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", nil, apperr.InternalWithError(err)
	}
	return signed, claims, nil
}
