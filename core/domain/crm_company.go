package domain

import (
	"time"

	"github.com/google/uuid"
)

type CompanyStatus string

const (
	CompanyProspect CompanyStatus = "prospect"
	CompanyActive   CompanyStatus = "active"
	CompanyInactive CompanyStatus = "inactive"
	CompanyArchived CompanyStatus = "archived"
)

func (s CompanyStatus) Valid() bool {
	switch s {
	case CompanyProspect, CompanyActive, CompanyInactive, CompanyArchived:
		return true
	}
	return false
}

// Lead sources written by the system.
const (
	LeadSourceEmailSync = "email-sync"
	LeadSourceManual    = "manual"
)

// Company is keyed by its exact name; Domain is unique when set.
type Company struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Domain      *string `json:"domain,omitempty"`
	Industry    *string `json:"industry,omitempty"`
	Size        *string `json:"size,omitempty"`
	Website     *string `json:"website,omitempty"`
	Description *string `json:"description,omitempty"`
	Address     *string `json:"address,omitempty"`

	LeadSource         string        `json:"lead_source"`
	AssignedDepartment *string       `json:"assigned_department,omitempty"`
	Status             CompanyStatus `json:"status"`

	CreatedBy uuid.UUID `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CompanyFilter struct {
	Search     *string
	Status     *CompanyStatus
	Department *string
	Limit      int
	Offset     int
}
