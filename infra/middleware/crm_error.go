// Package middleware holds the Fiber middleware shared by every route.
package middleware

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"crm_server/pkg/apperr"
	"crm_server/pkg/logger"
	"crm_server/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Locals keys.
const (
	LocalRequestID = "request_id"
	LocalUserID    = "user_id"
	LocalUser      = "acting_user"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success   bool           `json:"success"`
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp string         `json:"timestamp"`
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalRequestID).(string)
	return id
}

func errorBody(c *fiber.Ctx, code, message string, details map[string]any) ErrorResponse {
	return ErrorResponse{
		Success:   false,
		Error:     code,
		Message:   message,
		Details:   details,
		RequestID: requestID(c),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// ErrorHandler renders AppErrors, fiber errors and anything else as ErrorResponse.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var (
			appErr   *apperr.AppError
			fiberErr *fiber.Error
		)
		switch {
		case errors.As(err, &appErr):
			log := logger.WithField("request_id", requestID(c)).
				WithField("error_code", appErr.Code)
			if appErr.Err != nil {
				log = log.WithError(appErr.Err)
			}
			if appErr.Status >= 500 {
				log.Error("%s %s: %s", c.Method(), c.Path(), appErr.Message)
			} else {
				log.Warn("%s %s: %s", c.Method(), c.Path(), appErr.Message)
			}
			return c.Status(appErr.Status).JSON(errorBody(c, appErr.Code, appErr.Message, appErr.Details))

		case errors.As(err, &fiberErr):
			return c.Status(fiberErr.Code).JSON(errorBody(c, codeForStatus(fiberErr.Code), fiberErr.Message, nil))

		default:
			logger.WithField("request_id", requestID(c)).
				WithError(err).
				Error("unexpected error on %s %s", c.Method(), c.Path())
			return c.Status(fiber.StatusInternalServerError).
				JSON(errorBody(c, apperr.CodeInternalError, "an unexpected error occurred", nil))
		}
	}
}

// RequestID propagates X-Request-ID or generates one.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(fiber.HeaderXRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals(LocalRequestID, id)
		c.Set(fiber.HeaderXRequestID, id)
		return c.Next()
	}
}

// RequestLogger logs each request and records its latency under the route pattern.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		duration := time.Since(start)

		status := c.Response().StatusCode()
		if err != nil {
			// the error handler runs after this middleware returns
			if appErr := new(apperr.AppError); errors.As(err, &appErr) {
				status = appErr.Status
			} else if fe := new(fiber.Error); errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		route := c.Route().Path
		metrics.RecordLatency(c.Method()+" "+route, duration)

		log := logger.WithFields(map[string]any{
			"request_id": requestID(c),
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     status,
			"ip":         c.IP(),
		}).WithDuration(duration)
		if uid, ok := c.Locals(LocalUserID).(uuid.UUID); ok {
			log = log.WithField("user_id", uid.String())
		}

		switch {
		case status >= 500:
			log.Error("%s %s -> %d", c.Method(), c.Path(), status)
		case status >= 400:
			log.Warn("%s %s -> %d", c.Method(), c.Path(), status)
		default:
			log.Info("%s %s -> %d", c.Method(), c.Path(), status)
		}
		return err
	}
}

// Recover turns a panic into a 500 response.
func Recover() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]any{
					"request_id": requestID(c),
					"panic":      fmt.Sprintf("%v", r),
					"path":       c.Path(),
					"method":     c.Method(),
					"stack":      string(debug.Stack()),
				}).Error("panic recovered")
				err = apperr.Internal("")
			}
		}()
		return c.Next()
	}
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return apperr.CodeBadRequest
	case fiber.StatusUnauthorized:
		return apperr.CodeUnauthorized
	case fiber.StatusForbidden:
		return apperr.CodeForbidden
	case fiber.StatusNotFound:
		return apperr.CodeNotFound
	case fiber.StatusConflict:
		return apperr.CodeConflict
	case fiber.StatusTooManyRequests:
		return apperr.CodeRateLimited
	case fiber.StatusRequestEntityTooLarge:
		return apperr.CodeValidationFailed
	case fiber.StatusGatewayTimeout:
		return apperr.CodeTimeout
	}
	if status >= 500 {
		return apperr.CodeInternalError
	}
	return apperr.CodeBadRequest
}
