package http

import (
	"fmt"
	"time"

	"crm_server/core/domain"
	"crm_server/core/port/in"
	"crm_server/pkg/metrics"
	"crm_server/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// SyncHandler triggers manual mailbox syncs for the calling user.
type SyncHandler struct {
	service in.SyncService
}

func NewSyncHandler(service in.SyncService) *SyncHandler {
	return &SyncHandler{service: service}
}

func (h *SyncHandler) Register(router fiber.Router) {
	sync := router.Group("/sync")
	sync.Post("/", h.RunSync)
	sync.Get("/", h.Status)
	sync.Get("/history", h.History)
}

// syncRequest leaves both categories on when omitted.
type syncRequest struct {
	SyncEmails   *bool `json:"syncEmails"`
	SyncMeetings *bool `json:"syncMeetings"`
	Limit        int   `json:"limit"`
	DaysBack     int   `json:"daysBack"`
}

func (r syncRequest) options() domain.SyncOptions {
	opts := domain.SyncOptions{
		SyncEmails:   true,
		SyncMeetings: true,
		Limit:        r.Limit,
		DaysBack:     r.DaysBack,
	}
	if r.SyncEmails != nil {
		opts.SyncEmails = *r.SyncEmails
	}
	if r.SyncMeetings != nil {
		opts.SyncMeetings = *r.SyncMeetings
	}
	return opts
}

type syncResponse struct {
	Success bool                `json:"success"`
	Results *domain.SyncSummary `json:"results"`
	Message string              `json:"message"`
}

func (h *SyncHandler) RunSync(c *fiber.Ctx) error {
	user, err := actingUser(c)
	if err != nil {
		return err
	}
	var req syncRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}

	start := time.Now()
	summary, err := h.service.RunSync(c.UserContext(), req.options(), user)
	metrics.Since("sync.run", start)
	if err != nil {
		return err
	}

	return c.JSON(syncResponse{
		Success: true,
		Results: summary,
		Message: syncMessage(summary),
	})
}

func syncMessage(s *domain.SyncSummary) string {
	msg := fmt.Sprintf("Synced %d emails and %d meetings, %d records created",
		s.Emails.Processed, s.Meetings.Processed, s.Emails.Records+s.Meetings.Records)
	if n := len(s.Errors); n > 0 {
		msg += fmt.Sprintf(" (%d errors)", n)
	}
	return msg
}

func (h *SyncHandler) Status(c *fiber.Ctx) error {
	user, err := actingUser(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"hasEmailPermissions":   h.service.HasEmailPermissions(user),
		"hasMeetingPermissions": h.service.HasMeetingPermissions(user),
		"userId":                user.ID,
		"scopes":                user.Scopes(),
	})
}

func (h *SyncHandler) History(c *fiber.Ctx) error {
	user, err := actingUser(c)
	if err != nil {
		return err
	}
	target, err := queryUUID(c, "user_id")
	if err != nil {
		return err
	}
	id := uuid.Nil
	if target != nil {
		id = *target
	}
	runs, err := h.service.History(c.UserContext(), user, id, c.QueryInt("limit", 20))
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []*domain.SyncRun{}
	}
	return response.OK(c, runs)
}
