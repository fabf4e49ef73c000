package in

import (
	"context"
	"time"

	"crm_server/core/domain"

	"github.com/google/uuid"
)

type CompanyService interface {
	ListCompanies(ctx context.Context, user *domain.ActingUser, filter *domain.CompanyFilter) ([]*domain.Company, int, error)
	GetCompany(ctx context.Context, user *domain.ActingUser, companyID int64) (*domain.Company, error)
	CreateCompany(ctx context.Context, user *domain.ActingUser, req *CreateCompanyRequest) (*domain.Company, error)
	UpdateCompany(ctx context.Context, user *domain.ActingUser, companyID int64, req *UpdateCompanyRequest) (*domain.Company, error)
	SetCompanyStatus(ctx context.Context, user *domain.ActingUser, companyID int64, status domain.CompanyStatus) (*domain.Company, error)
	AssignCompanyDepartment(ctx context.Context, user *domain.ActingUser, companyID int64, department string) (*domain.Company, error)
	ArchiveCompany(ctx context.Context, user *domain.ActingUser, companyID int64) (*domain.Company, error)
}

type ContactService interface {
	ListContacts(ctx context.Context, user *domain.ActingUser, filter *domain.ContactFilter) ([]*domain.Contact, int, error)
	GetContact(ctx context.Context, user *domain.ActingUser, contactID int64) (*domain.Contact, error)
	CreateContact(ctx context.Context, user *domain.ActingUser, req *CreateContactRequest) (*domain.Contact, error)
	UpdateContact(ctx context.Context, user *domain.ActingUser, contactID int64, req *UpdateContactRequest) (*domain.Contact, error)
	AssignContact(ctx context.Context, user *domain.ActingUser, contactID int64, assignee *uuid.UUID) (*domain.Contact, error)
	ArchiveContact(ctx context.Context, user *domain.ActingUser, contactID int64) (*domain.Contact, error)
}

type CommunicationService interface {
	ListCommunications(ctx context.Context, user *domain.ActingUser, filter *domain.CommunicationFilter) ([]*domain.Communication, int, error)
	GetCommunication(ctx context.Context, user *domain.ActingUser, id int64) (*domain.Communication, error)
	CreateCommunication(ctx context.Context, user *domain.ActingUser, req *CreateCommunicationRequest) (*domain.Communication, error)
	UpdateCommunicationStatus(ctx context.Context, user *domain.ActingUser, id int64, status domain.CommunicationStatus) (*domain.Communication, error)
	AssignCommunication(ctx context.Context, user *domain.ActingUser, id int64, assignee *uuid.UUID) (*domain.Communication, error)
}

type CreateCompanyRequest struct {
	Name               string                `json:"name"`
	Domain             *string               `json:"domain,omitempty"`
	Industry           *string               `json:"industry,omitempty"`
	Size               *string               `json:"size,omitempty"`
	Website            *string               `json:"website,omitempty"`
	Description        *string               `json:"description,omitempty"`
	Address            *string               `json:"address,omitempty"`
	AssignedDepartment *string               `json:"assigned_department,omitempty"`
	Status             *domain.CompanyStatus `json:"status,omitempty"`
	LeadSource         *string               `json:"lead_source,omitempty"`
}

type UpdateCompanyRequest struct {
	Name        *string `json:"name,omitempty"`
	Domain      *string `json:"domain,omitempty"`
	Industry    *string `json:"industry,omitempty"`
	Size        *string `json:"size,omitempty"`
	Website     *string `json:"website,omitempty"`
	Description *string `json:"description,omitempty"`
	Address     *string `json:"address,omitempty"`
}

type CreateContactRequest struct {
	CompanyID      int64                 `json:"company_id"`
	Email          string                `json:"email"`
	FirstName      string                `json:"first_name"`
	LastName       string                `json:"last_name"`
	Phone          *string               `json:"phone,omitempty"`
	JobTitle       *string               `json:"job_title,omitempty"`
	Department     *string               `json:"department,omitempty"`
	Notes          *string               `json:"notes,omitempty"`
	Status         *domain.ContactStatus `json:"status,omitempty"`
	LeadSource     *string               `json:"lead_source,omitempty"`
	SocialProfiles map[string]string     `json:"social_profiles,omitempty"`
}

type UpdateContactRequest struct {
	CompanyID      *int64                `json:"company_id,omitempty"`
	FirstName      *string               `json:"first_name,omitempty"`
	LastName       *string               `json:"last_name,omitempty"`
	Phone          *string               `json:"phone,omitempty"`
	JobTitle       *string               `json:"job_title,omitempty"`
	Department     *string               `json:"department,omitempty"`
	Notes          *string               `json:"notes,omitempty"`
	Status         *domain.ContactStatus `json:"status,omitempty"`
	SocialProfiles map[string]string     `json:"social_profiles,omitempty"`
}

type CreateCommunicationRequest struct {
	Type              domain.CommunicationType    `json:"type"`
	Subject           string                      `json:"subject"`
	Content           string                      `json:"content"`
	Direction         *domain.Direction           `json:"direction,omitempty"`
	Status            *domain.CommunicationStatus `json:"status,omitempty"`
	ScheduledAt       *time.Time                  `json:"scheduled_at,omitempty"`
	ContactID         *int64                      `json:"contact_id,omitempty"`
	CompanyID         *int64                      `json:"company_id,omitempty"`
	ProjectTag        *string                     `json:"project_tag,omitempty"`
	ProviderMessageID *string                     `json:"provider_message_id,omitempty"`
	Participants      []string                    `json:"participants,omitempty"`
}
