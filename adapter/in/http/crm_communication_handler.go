package http

import (
	"crm_server/core/domain"
	"crm_server/core/port/in"
	"crm_server/pkg/apperr"
	"crm_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// CommunicationHandler serves /communications. Ingested records arrive
// through sync and webhooks; this surface covers manual entries and status.
type CommunicationHandler struct {
	service in.CommunicationService
}

func NewCommunicationHandler(service in.CommunicationService) *CommunicationHandler {
	return &CommunicationHandler{service: service}
}

func (h *CommunicationHandler) Register(router fiber.Router) {
	comms := router.Group("/communications")
	comms.Get("/", h.ListCommunications)
	comms.Post("/", h.CreateCommunication)
	comms.Get("/:id", h.GetCommunication)
	comms.Patch("/:id/status", h.UpdateStatus)
	comms.Patch("/:id/assign", h.AssignCommunication)
}

func (h *CommunicationHandler) ListCommunications(c *fiber.Ctx) error {
	user, err := actingUser(c)
	if err != nil {
		return err
	}
	limit, offset := page(c)
	contactID, err := queryInt64(c, "contact_id")
	if err != nil {
		return err
	}
	companyID, err := queryInt64(c, "company_id")
	if err != nil {
		return err
	}
	filter := &domain.CommunicationFilter{
		ContactID: contactID,
		CompanyID: companyID,
		Limit:     limit,
		Offset:    offset,
	}
	if t := queryString(c, "type"); t != nil {
		typ := domain.CommunicationType(*t)
		filter.Type = &typ
	}
	if s := queryString(c, "status"); s != nil {
		status := domain.CommunicationStatus(*s)
		filter.Status = &status
	}

	comms, total, err := h.service.ListCommunications(c.Context(), user, filter)
	if err != nil {
		return err
	}
	return response.List(c, comms, total, limit, offset)
}

func (h *CommunicationHandler) GetCommunication(c *fiber.Ctx) error {
	user, err := actingUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	comm, err := h.service.GetCommunication(c.Context(), user, id)
	if err != nil {
		return err
	}
	return response.OK(c, comm)
}

func (h *CommunicationHandler) CreateCommunication(c *fiber.Ctx) error {
	user, err := actingUser(c)
	if err != nil {
		return err
	}
	var req in.CreateCommunicationRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	comm, err := h.service.CreateCommunication(c.Context(), user, &req)
	if err != nil {
		return err
	}
	return response.Created(c, comm)
}

func (h *CommunicationHandler) UpdateStatus(c *fiber.Ctx) error {
	user, err := actingUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req struct {
		Status domain.CommunicationStatus `json:"status"`
	}
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Status == "" {
		return apperr.MissingField("status")
	}
	comm, err := h.service.UpdateCommunicationStatus(c.Context(), user, id, req.Status)
	if err != nil {
		return err
	}
	return response.OK(c, comm)
}

func (h *CommunicationHandler) AssignCommunication(c *fiber.Ctx) error {
	user, err := actingUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req assigneeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	assignee, err := req.parse()
	if err != nil {
		return err
	}
	comm, err := h.service.AssignCommunication(c.Context(), user, id, assignee)
	if err != nil {
		return err
	}
	return response.OK(c, comm)
}
