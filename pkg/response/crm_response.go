// Package response writes successful API responses. Errors go through the
// Fiber error handler instead.
package response

import (
	"github.com/gofiber/fiber/v2"
)

// Response is the envelope of every successful JSON response.
type Response struct {
	Success bool  `json:"success"`
	Data    any   `json:"data"`
	Meta    *Meta `json:"meta,omitempty"`
}

// Meta describes one page of a list.
type Meta struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

func OK(c *fiber.Ctx, data any) error {
	return c.JSON(Response{Success: true, Data: data})
}

func Created(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusCreated).JSON(Response{Success: true, Data: data})
}

// List writes items with paging metadata. A nil slice is written as [].
func List[T any](c *fiber.Ctx, items []T, total, limit, offset int) error {
	if items == nil {
		items = []T{}
	}
	return c.JSON(Response{
		Success: true,
		Data:    items,
		Meta: &Meta{
			Total:   total,
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
		},
	})
}
