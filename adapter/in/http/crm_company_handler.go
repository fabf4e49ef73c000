package http

import (
	"crm_server/core/domain"
	"crm_server/core/port/in"
	"crm_server/pkg/apperr"
	"crm_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// CompanyHandler serves /companies.
type CompanyHandler struct {
	service in.CompanyService
}

func NewCompanyHandler(service in.CompanyService) *CompanyHandler {
	return &CompanyHandler{service: service}
}

func (h *CompanyHandler) Register(router fiber.Router) {
	companies := router.Group("/companies")
	companies.Get("/", h.ListCompanies)
	companies.Post("/", h.CreateCompany)
	companies.Get("/:id", h.GetCompany)
	companies.Put("/:id", h.UpdateCompany)
	companies.Patch("/:id/status", h.SetStatus)
	companies.Patch("/:id/department", h.AssignDepartment)
	companies.Delete("/:id", h.ArchiveCompany)
}

func (h *CompanyHandler) ListCompanies(c *fiber.Ctx) error {
	user, err := actingUser(c)
	if err != nil {
		return err
	}
	limit, offset := page(c)
	filter := &domain.CompanyFilter{
		Search:     queryString(c, "search"),
		Department: queryString(c, "department"),
		Limit:      limit,
		Offset:     offset,
	}
	if s := queryString(c, "status"); s != nil {
		status := domain.CompanyStatus(*s)
		filter.Status = &status
	}

	companies, total, err := h.service.ListCompanies(c.Context(), user, filter)
	if err != nil {
		return err
	}
	return response.List(c, companies, total, limit, offset)
}

func (h *CompanyHandler) GetCompany(c *fiber.Ctx) error {
	user, err := actingUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	company, err := h.service.GetCompany(c.Context(), user, id)
	if err != nil {
		return err
	}
	return response.OK(c, company)
}

func (h *CompanyHandler) CreateCompany(c *fiber.Ctx) error {
	user, err := actingUser(c)
	if err != nil {
		return err
	}
	var req in.CreateCompanyRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	company, err := h.service.CreateCompany(c.Context(), user, &req)
	if err != nil {
		return err
	}
	return response.Created(c, company)
}

func (h *CompanyHandler) UpdateCompany(c *fiber.Ctx) error {
	user, err := actingUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req in.UpdateCompanyRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	company, err := h.service.UpdateCompany(c.Context(), user, id, &req)
	if err != nil {
		return err
	}
	return response.OK(c, company)
}

func (h *CompanyHandler) SetStatus(c *fiber.Ctx) error {
	user, err := actingUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req struct {
		Status domain.CompanyStatus `json:"status"`
	}
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Status == "" {
		return apperr.MissingField("status")
	}
	company, err := h.service.SetCompanyStatus(c.Context(), user, id, req.Status)
	if err != nil {
		return err
	}
	return response.OK(c, company)
}

func (h *CompanyHandler) AssignDepartment(c *fiber.Ctx) error {
	user, err := actingUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req struct {
		Department string `json:"department"`
	}
	if err := parseBody(c, &req); err != nil {
		return err
	}
	company, err := h.service.AssignCompanyDepartment(c.Context(), user, id, req.Department)
	if err != nil {
		return err
	}
	return response.OK(c, company)
}

// ArchiveCompany is a soft delete: the row stays with status archived.
func (h *CompanyHandler) ArchiveCompany(c *fiber.Ctx) error {
	user, err := actingUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	company, err := h.service.ArchiveCompany(c.Context(), user, id)
	if err != nil {
		return err
	}
	return response.OK(c, company)
}
