package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type ContactStatus string

const (
	ContactLead     ContactStatus = "lead"
	ContactProspect ContactStatus = "prospect"
	ContactCustomer ContactStatus = "customer"
	ContactInactive ContactStatus = "inactive"
)

func (s ContactStatus) Valid() bool {
	switch s {
	case ContactLead, ContactProspect, ContactCustomer, ContactInactive:
		return true
	}
	return false
}

// Contact is keyed by lower-cased email and always belongs to one company.
type Contact struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	Email     string `json:"email"`

	FirstName  string  `json:"first_name"`
	LastName   string  `json:"last_name"`
	Phone      *string `json:"phone,omitempty"`
	JobTitle   *string `json:"job_title,omitempty"`
	Department *string `json:"department,omitempty"`

	LeadSource     string            `json:"lead_source"`
	Status         ContactStatus     `json:"status"`
	SocialProfiles map[string]string `json:"social_profiles,omitempty"`
	Notes          *string           `json:"notes,omitempty"`

	AssignedUserID *uuid.UUID `json:"assigned_user_id,omitempty"`
	CreatedBy      uuid.UUID  `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type ContactFilter struct {
	CompanyID      *int64
	AssignedUserID *uuid.UUID
	Status         *ContactStatus
	Search         *string
	Limit          int
	Offset         int
}

// NormalizeEmail lower-cases and trims an address for comparison and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SplitDisplayName splits "Jane Q. Doe" into first "Jane" and last "Q. Doe".
// An empty name falls back to the local part of email.
func SplitDisplayName(name, email string) (first, last string) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" || strings.EqualFold(name, email) {
		local, _, _ := strings.Cut(email, "@")
		return local, ""
	}
	first, last, _ = strings.Cut(name, " ")
	return first, last
}
