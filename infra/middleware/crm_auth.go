package middleware

import (
	"fmt"
	"strings"
	"time"

	"crm_server/core/domain"
	"crm_server/pkg/apperr"
	"crm_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTAuth validates an HS256 bearer token and stores the ActingUser built
// from its claims: sub, email, mailbox, role and scopes (array) or scope
// (space separated). A token without a role acts as a consultant.
func JWTAuth(secret string) fiber.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(time.Minute),
	)
	key := []byte(secret)

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		tokenString := bearerToken(c.Get(fiber.HeaderAuthorization))
		if tokenString == "" {
			return apperr.Unauthorized("missing authorization")
		}

		claims := jwt.MapClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
			if len(key) == 0 {
				return nil, fmt.Errorf("JWT secret not configured")
			}
			return key, nil
		})
		if err != nil || !token.Valid {
			logger.WithError(err).Warn("JWT validation failed")
			return apperr.InvalidToken("invalid token")
		}

		user, err := actingUserFromClaims(claims)
		if err != nil {
			return apperr.InvalidToken(err.Error())
		}

		c.Locals(LocalUserID, user.ID)
		c.Locals(LocalUser, user)
		return c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func actingUserFromClaims(claims jwt.MapClaims) (*domain.ActingUser, error) {
	sub, _ := claims["sub"].(string)
	id, err := uuid.Parse(sub)
	if err != nil {
		return nil, fmt.Errorf("invalid subject")
	}
	email, _ := claims["email"].(string)
	mailbox, _ := claims["mailbox"].(string)

	role := domain.RoleConsultant
	if r, ok := claims["role"].(string); ok && r != "" {
		role = domain.Role(strings.ToLower(r))
	}

	var scopes []string
	switch v := claims["scopes"].(type) {
	case []any:
		for _, s := range v {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
	case string:
		scopes = strings.Fields(v)
	}
	if s, ok := claims["scope"].(string); ok {
		scopes = append(scopes, strings.Fields(s)...)
	}

	return domain.NewActingUser(id, email, mailbox, scopes, role)
}

// User returns the ActingUser stored by JWTAuth.
func User(c *fiber.Ctx) (*domain.ActingUser, error) {
	user, ok := c.Locals(LocalUser).(*domain.ActingUser)
	if !ok || user == nil {
		return nil, apperr.Unauthorized("")
	}
	return user, nil
}
