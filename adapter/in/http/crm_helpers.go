package http

import (
	"strconv"
	"strings"

	"crm_server/core/domain"
	"crm_server/infra/middleware"
	"crm_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// actingUser returns the identity JWTAuth placed on the request.
func actingUser(c *fiber.Ctx) (*domain.ActingUser, error) {
	return middleware.User(c)
}

func paramID(c *fiber.Ctx) (int64, error) {
	raw := c.Params("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidInput("id", "must be a positive integer")
	}
	return id, nil
}

// page reads limit/offset, clamping limit to [1, maxPageSize].
func page(c *fiber.Ctx) (limit, offset int) {
	limit = c.QueryInt("limit", defaultPageSize)
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset = c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func queryString(c *fiber.Ctx, key string) *string {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return nil
	}
	return &v
}

func queryInt64(c *fiber.Ctx, key string) (*int64, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, apperr.InvalidInput(key, "must be an integer")
	}
	return &v, nil
}

func queryUUID(c *fiber.Ctx, key string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	v, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.InvalidInput(key, "must be a uuid")
	}
	return &v, nil
}

func parseBody(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return apperr.BadRequest("invalid request body").WithError(err)
	}
	return nil
}

// assigneeRequest is shared by the assign endpoints. A null user_id clears
// the assignment.
type assigneeRequest struct {
	UserID *string `json:"user_id"`
}

func (r assigneeRequest) parse() (*uuid.UUID, error) {
	if r.UserID == nil || strings.TrimSpace(*r.UserID) == "" {
		return nil, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(*r.UserID))
	if err != nil {
		return nil, apperr.InvalidInput("user_id", "must be a uuid")
	}
	return &id, nil
}
