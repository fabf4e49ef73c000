package http

import (
	"crm_server/core/domain"
	"crm_server/core/port/in"
	"crm_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// ContactHandler serves /contacts.
type ContactHandler struct {
	service in.ContactService
}

func NewContactHandler(service in.ContactService) *ContactHandler {
	return &ContactHandler{service: service}
}

func (h *ContactHandler) Register(router fiber.Router) {
	contacts := router.Group("/contacts")
	contacts.Get("/", h.ListContacts)
	contacts.Post("/", h.CreateContact)
	contacts.Get("/:id", h.GetContact)
	contacts.Put("/:id", h.UpdateContact)
	contacts.Patch("/:id/assign", h.AssignContact)
	contacts.Delete("/:id", h.ArchiveContact)
}

func (h *ContactHandler) ListContacts(c *fiber.Ctx) error {
	user, err := actingUser(c)
	if err != nil {
		return err
	}
	limit, offset := page(c)
	companyID, err := queryInt64(c, "company_id")
	if err != nil {
		return err
	}
	assigned, err := queryUUID(c, "assigned_user_id")
	if err != nil {
		return err
	}
	filter := &domain.ContactFilter{
		CompanyID:      companyID,
		AssignedUserID: assigned,
		Search:         queryString(c, "search"),
		Limit:          limit,
		Offset:         offset,
	}
	if s := queryString(c, "status"); s != nil {
		status := domain.ContactStatus(*s)
		filter.Status = &status
	}

	contacts, total, err := h.service.ListContacts(c.Context(), user, filter)
	if err != nil {
		return err
	}
	return response.List(c, contacts, total, limit, offset)
}

func (h *ContactHandler) GetContact(c *fiber.Ctx) error {
	user, err := actingUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	contact, err := h.service.GetContact(c.Context(), user, id)
	if err != nil {
		return err
	}
	return response.OK(c, contact)
}

func (h *ContactHandler) CreateContact(c *fiber.Ctx) error {
	user, err := actingUser(c)
	if err != nil {
		return err
	}
	var req in.CreateContactRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	contact, err := h.service.CreateContact(c.Context(), user, &req)
	if err != nil {
		return err
	}
	return response.Created(c, contact)
}

func (h *ContactHandler) UpdateContact(c *fiber.Ctx) error {
	user, err := actingUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req in.UpdateContactRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	contact, err := h.service.UpdateContact(c.Context(), user, id, &req)
	if err != nil {
		return err
	}
	return response.OK(c, contact)
}

func (h *ContactHandler) AssignContact(c *fiber.Ctx) error {
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
	contact, err := h.service.AssignContact(c.Context(), user, id, assignee)
	if err != nil {
		return err
	}
	return response.OK(c, contact)
}

func (h *ContactHandler) ArchiveContact(c *fiber.Ctx) error {
	user, err := actingUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	contact, err := h.service.ArchiveContact(c.Context(), user, id)
	if err != nil {
		return err
	}
	return response.OK(c, contact)
}
