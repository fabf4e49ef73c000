package domain

import (
	"time"

	"github.com/google/uuid"
)

type CommunicationType string

const (
	CommunicationEmail   CommunicationType = "email"
	CommunicationPhone   CommunicationType = "phone"
	CommunicationMeeting CommunicationType = "meeting"
	CommunicationNote    CommunicationType = "note"
	CommunicationTask    CommunicationType = "task"
)

func (t CommunicationType) Valid() bool {
	switch t {
	case CommunicationEmail, CommunicationPhone, CommunicationMeeting, CommunicationNote, CommunicationTask:
		return true
	}
	return false
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

type CommunicationStatus string

const (
	CommunicationScheduled CommunicationStatus = "scheduled"
	CommunicationCompleted CommunicationStatus = "completed"
	CommunicationCancelled CommunicationStatus = "cancelled"
)

func (s CommunicationStatus) Valid() bool {
	switch s {
	case CommunicationScheduled, CommunicationCompleted, CommunicationCancelled:
		return true
	}
	return false
}

// CanTransitionTo allows scheduled -> completed|cancelled only.
func (s CommunicationStatus) CanTransitionTo(next CommunicationStatus) bool {
	return s == CommunicationScheduled && (next == CommunicationCompleted || next == CommunicationCancelled)
}

type CommunicationSource string

const (
	SourceManual    CommunicationSource = "manual"
	SourceEmailSync CommunicationSource = "email-sync"
	SourceWebhook   CommunicationSource = "webhook"
)

// Communication is keyed by ProviderMessageID. Manual entries get a generated one.
type Communication struct {
	ID                int64               `json:"id"`
	ProviderMessageID string              `json:"provider_message_id"`
	ThreadID          *string             `json:"thread_id,omitempty"`
	Type              CommunicationType   `json:"type"`
	Subject           string              `json:"subject"`
	Content           string              `json:"content"`
	Direction         Direction           `json:"direction"`
	Status            CommunicationStatus `json:"status"`
	ScheduledAt       *time.Time          `json:"scheduled_at,omitempty"`
	CompletedAt       *time.Time          `json:"completed_at,omitempty"`

	ContactID  *int64  `json:"contact_id,omitempty"`
	CompanyID  *int64  `json:"company_id,omitempty"`
	ProjectTag *string `json:"project_tag,omitempty"`

	// Addresses that did not resolve to a contact (personal, unknown, extra business).
	Participants []string            `json:"participants,omitempty"`
	Source       CommunicationSource `json:"source"`

	CreatedBy      uuid.UUID  `json:"created_by"`
	AssignedUserID *uuid.UUID `json:"assigned_user_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type CommunicationFilter struct {
	ContactID *int64
	CompanyID *int64
	Type      *CommunicationType
	Status    *CommunicationStatus
	Limit     int
	Offset    int
}
