// Package contact manages companies and their contacts under the role table.
package contact

import (
	"context"
	"strings"

	"crm_server/core/domain"
	"crm_server/core/port/in"
	"crm_server/core/port/out"
	"crm_server/core/service/common"
	"crm_server/pkg/apperr"

	"github.com/google/uuid"
)

type Service struct {
	companyRepo out.CompanyRepository
	contactRepo out.ContactRepository
}

var (
	_ in.CompanyService = (*Service)(nil)
	_ in.ContactService = (*Service)(nil)
)

func NewService(companyRepo out.CompanyRepository, contactRepo out.ContactRepository) *Service {
	return &Service{
		companyRepo: companyRepo,
		contactRepo: contactRepo,
	}
}

// =============================================================================
// Companies
// =============================================================================

func (s *Service) ListCompanies(ctx context.Context, user *domain.ActingUser, filter *domain.CompanyFilter) ([]*domain.Company, int, error) {
	if err := common.Authorize(user, domain.PermCompanyRead); err != nil {
		return nil, 0, err
	}
	companies, total, err := s.companyRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, common.StoreError("list companies", "company", err)
	}
	return companies, total, nil
}

func (s *Service) GetCompany(ctx context.Context, user *domain.ActingUser, companyID int64) (*domain.Company, error) {
	if err := common.Authorize(user, domain.PermCompanyRead); err != nil {
		return nil, err
	}
	company, err := s.companyRepo.GetByID(ctx, companyID)
	if err != nil {
		return nil, common.StoreError("get company", "company", err)
	}
	return company, nil
}

func (s *Service) CreateCompany(ctx context.Context, user *domain.ActingUser, req *in.CreateCompanyRequest) (*domain.Company, error) {
	if err := common.Authorize(user, domain.PermCompanyCreate); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.MissingField("name")
	}

	company := &domain.Company{
		Name:               name,
		Industry:           req.Industry,
		Size:               req.Size,
		Website:            req.Website,
		Description:        req.Description,
		Address:            req.Address,
		AssignedDepartment: req.AssignedDepartment,
		LeadSource:         domain.LeadSourceManual,
		Status:             domain.CompanyProspect,
		CreatedBy:          user.ID,
	}
	if req.Domain != nil {
		d, err := normalizeDomain(*req.Domain)
		if err != nil {
			return nil, err
		}
		company.Domain = d
	}
	if req.LeadSource != nil && strings.TrimSpace(*req.LeadSource) != "" {
		company.LeadSource = strings.TrimSpace(*req.LeadSource)
	}
	if req.Status != nil {
		if !req.Status.Valid() || *req.Status == domain.CompanyArchived {
			return nil, apperr.InvalidInput("status", "must be prospect, active or inactive")
		}
		company.Status = *req.Status
	}

	if err := s.companyRepo.Create(ctx, company); err != nil {
		return nil, common.StoreError("create company", "company", err)
	}
	return company, nil
}

func (s *Service) UpdateCompany(ctx context.Context, user *domain.ActingUser, companyID int64, req *in.UpdateCompanyRequest) (*domain.Company, error) {
	if err := common.Authorize(user, domain.PermCompanyUpdate); err != nil {
		return nil, err
	}
	company, err := s.companyRepo.GetByID(ctx, companyID)
	if err != nil {
		return nil, common.StoreError("get company", "company", err)
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperr.InvalidInput("name", "must not be empty")
		}
		company.Name = name
	}
	if req.Domain != nil {
		d, err := normalizeDomain(*req.Domain)
		if err != nil {
			return nil, err
		}
		company.Domain = d
	}
	if req.Industry != nil {
		company.Industry = req.Industry
	}
	if req.Size != nil {
		company.Size = req.Size
	}
	if req.Website != nil {
		company.Website = req.Website
	}
	if req.Description != nil {
		company.Description = req.Description
	}
	if req.Address != nil {
		company.Address = req.Address
	}

	if err := s.companyRepo.Update(ctx, company); err != nil {
		return nil, common.StoreError("update company", "company", err)
	}
	return company, nil
}

// SetCompanyStatus moves a company between statuses. Archiving and restoring
// an archived company need company:archive.
func (s *Service) SetCompanyStatus(ctx context.Context, user *domain.ActingUser, companyID int64, status domain.CompanyStatus) (*domain.Company, error) {
	if err := common.Authorize(user, domain.PermCompanyUpdate); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, apperr.InvalidInput("status", "unknown company status")
	}
	company, err := s.companyRepo.GetByID(ctx, companyID)
	if err != nil {
		return nil, common.StoreError("get company", "company", err)
	}
	if status == domain.CompanyArchived || company.Status == domain.CompanyArchived {
		if err := common.Authorize(user, domain.PermCompanyArchive); err != nil {
			return nil, err
		}
	}
	if company.Status == status {
		return company, nil
	}

	company.Status = status
	if err := s.companyRepo.Update(ctx, company); err != nil {
		return nil, common.StoreError("update company", "company", err)
	}
	return company, nil
}

func (s *Service) AssignCompanyDepartment(ctx context.Context, user *domain.ActingUser, companyID int64, department string) (*domain.Company, error) {
	if err := common.Authorize(user, domain.PermCompanyAssign); err != nil {
		return nil, err
	}
	company, err := s.companyRepo.GetByID(ctx, companyID)
	if err != nil {
		return nil, common.StoreError("get company", "company", err)
	}

	department = strings.TrimSpace(department)
	if department == "" {
		company.AssignedDepartment = nil
	} else {
		company.AssignedDepartment = &department
	}
	if err := s.companyRepo.Update(ctx, company); err != nil {
		return nil, common.StoreError("update company", "company", err)
	}
	return company, nil
}

func (s *Service) ArchiveCompany(ctx context.Context, user *domain.ActingUser, companyID int64) (*domain.Company, error) {
	return s.SetCompanyStatus(ctx, user, companyID, domain.CompanyArchived)
}

func normalizeDomain(raw string) (*string, error) {
	d := strings.ToLower(strings.TrimSpace(raw))
	d = strings.TrimPrefix(strings.TrimPrefix(d, "https://"), "http://")
	d = strings.TrimPrefix(strings.TrimSuffix(d, "/"), "www.")
	if d == "" {
		return nil, nil
	}
	if !domain.ValidAddress("x@" + d) {
		return nil, apperr.InvalidInput("domain", "not a valid domain")
	}
	return &d, nil
}

// =============================================================================
// Contacts
// =============================================================================

func (s *Service) ListContacts(ctx context.Context, user *domain.ActingUser, filter *domain.ContactFilter) ([]*domain.Contact, int, error) {
	if err := common.Authorize(user, domain.PermContactRead); err != nil {
		return nil, 0, err
	}
	contacts, total, err := s.contactRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, common.StoreError("list contacts", "contact", err)
	}
	return contacts, total, nil
}

func (s *Service) GetContact(ctx context.Context, user *domain.ActingUser, contactID int64) (*domain.Contact, error) {
	if err := common.Authorize(user, domain.PermContactRead); err != nil {
		return nil, err
	}
	contact, err := s.contactRepo.GetByID(ctx, contactID)
	if err != nil {
		return nil, common.StoreError("get contact", "contact", err)
	}
	return contact, nil
}

func (s *Service) CreateContact(ctx context.Context, user *domain.ActingUser, req *in.CreateContactRequest) (*domain.Contact, error) {
	if err := common.Authorize(user, domain.PermContactCreate); err != nil {
		return nil, err
	}
	email := domain.NormalizeEmail(req.Email)
	if email == "" {
		return nil, apperr.MissingField("email")
	}
	if !domain.ValidAddress(email) {
		return nil, apperr.InvalidInput("email", "not a valid address")
	}
	if req.CompanyID == 0 {
		return nil, apperr.MissingField("company_id")
	}
	if _, err := s.companyRepo.GetByID(ctx, req.CompanyID); err != nil {
		return nil, common.StoreError("get company", "company", err)
	}

	first, last := strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName)
	if first == "" && last == "" {
		first, last = domain.SplitDisplayName("", email)
	}
	owner := user.ID
	contact := &domain.Contact{
		CompanyID:      req.CompanyID,
		Email:          email,
		FirstName:      first,
		LastName:       last,
		Phone:          req.Phone,
		JobTitle:       req.JobTitle,
		Department:     req.Department,
		Notes:          req.Notes,
		SocialProfiles: req.SocialProfiles,
		LeadSource:     domain.LeadSourceManual,
		Status:         domain.ContactLead,
		AssignedUserID: &owner,
		CreatedBy:      user.ID,
	}
	if req.LeadSource != nil && strings.TrimSpace(*req.LeadSource) != "" {
		contact.LeadSource = strings.TrimSpace(*req.LeadSource)
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			return nil, apperr.InvalidInput("status", "unknown contact status")
		}
		contact.Status = *req.Status
	}

	if err := s.contactRepo.Create(ctx, contact); err != nil {
		return nil, common.StoreError("create contact", "contact", err)
	}
	return contact, nil
}

// UpdateContact needs contact:update, or contact:update_own for contacts the
// user created or is assigned to.
func (s *Service) UpdateContact(ctx context.Context, user *domain.ActingUser, contactID int64, req *in.UpdateContactRequest) (*domain.Contact, error) {
	if user == nil {
		return nil, apperr.Unauthorized("authentication required")
	}
	contact, err := s.contactRepo.GetByID(ctx, contactID)
	if err != nil {
		return nil, common.StoreError("get contact", "contact", err)
	}
	if !user.Can(domain.PermContactUpdate) {
		if err := common.Authorize(user, domain.PermContactUpdateOwn); err != nil {
			return nil, err
		}
		if !ownsContact(user, contact) {
			return nil, apperr.Forbidden("contact belongs to another user")
		}
	}

	if req.CompanyID != nil && *req.CompanyID != contact.CompanyID {
		if _, err := s.companyRepo.GetByID(ctx, *req.CompanyID); err != nil {
			return nil, common.StoreError("get company", "company", err)
		}
		contact.CompanyID = *req.CompanyID
	}
	if req.FirstName != nil {
		contact.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		contact.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Phone != nil {
		contact.Phone = req.Phone
	}
	if req.JobTitle != nil {
		contact.JobTitle = req.JobTitle
	}
	if req.Department != nil {
		contact.Department = req.Department
	}
	if req.Notes != nil {
		contact.Notes = req.Notes
	}
	if req.SocialProfiles != nil {
		contact.SocialProfiles = req.SocialProfiles
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			return nil, apperr.InvalidInput("status", "unknown contact status")
		}
		contact.Status = *req.Status
	}

	if err := s.contactRepo.Update(ctx, contact); err != nil {
		return nil, common.StoreError("update contact", "contact", err)
	}
	return contact, nil
}

func (s *Service) AssignContact(ctx context.Context, user *domain.ActingUser, contactID int64, assignee *uuid.UUID) (*domain.Contact, error) {
	if err := common.Authorize(user, domain.PermContactAssign); err != nil {
		return nil, err
	}
	contact, err := s.contactRepo.GetByID(ctx, contactID)
	if err != nil {
		return nil, common.StoreError("get contact", "contact", err)
	}
	if assignee != nil && *assignee == uuid.Nil {
		assignee = nil
	}
	contact.AssignedUserID = assignee
	if err := s.contactRepo.Update(ctx, contact); err != nil {
		return nil, common.StoreError("update contact", "contact", err)
	}
	return contact, nil
}

// ArchiveContact marks the contact inactive; contacts are never deleted.
func (s *Service) ArchiveContact(ctx context.Context, user *domain.ActingUser, contactID int64) (*domain.Contact, error) {
	if err := common.Authorize(user, domain.PermContactArchive); err != nil {
		return nil, err
	}
	contact, err := s.contactRepo.GetByID(ctx, contactID)
	if err != nil {
		return nil, common.StoreError("get contact", "contact", err)
	}
	if contact.Status == domain.ContactInactive {
		return contact, nil
	}
	contact.Status = domain.ContactInactive
	if err := s.contactRepo.Update(ctx, contact); err != nil {
		return nil, common.StoreError("update contact", "contact", err)
	}
	return contact, nil
}

func ownsContact(user *domain.ActingUser, c *domain.Contact) bool {
	if c.CreatedBy == user.ID {
		return true
	}
	return c.AssignedUserID != nil && *c.AssignedUserID == user.ID
}
