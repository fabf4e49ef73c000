package domain

import (
	"time"

	"github.com/google/uuid"
)

type DomainClass string

const (
	ClassInternal DomainClass = "internal"
	ClassPersonal DomainClass = "personal"
	ClassBusiness DomainClass = "business"
	ClassUnknown  DomainClass = "unknown"
)

// IndividualContactHint is the company-name hint for personal mailboxes.
const IndividualContactHint = "Individual Contact"

type Classification struct {
	Email           string      `json:"email"`
	Domain          string      `json:"domain"`
	IsPersonal      bool        `json:"isPersonal"`
	CompanyNameHint string      `json:"companyNameHint"`
	Class           DomainClass `json:"class"`
}

type SyncOptions struct {
	SyncEmails   bool `json:"syncEmails"`
	SyncMeetings bool `json:"syncMeetings"`
	Limit        int  `json:"limit"`
	DaysBack     int  `json:"daysBack"`
}

type CategorySummary struct {
	Processed int `json:"processed"`
	Records   int `json:"records"`
}

type SyncSummary struct {
	Emails   CategorySummary `json:"emails"`
	Meetings CategorySummary `json:"meetings"`
	Errors   []string        `json:"errors"`
	// Warnings name records created by items that later failed.
	Warnings []string        `json:"warnings,omitempty"`
}

type ReconcileOutcome string

const (
	OutcomeCreated          ReconcileOutcome = "created"
	OutcomeDuplicateSkipped ReconcileOutcome = "duplicate_skipped"
	OutcomeIgnored          ReconcileOutcome = "ignored"
)

type ReconcileResult struct {
	CompanyID        *int64           `json:"companyId,omitempty"`
	ContactID        *int64           `json:"contactId,omitempty"`
	CommunicationID  int64            `json:"communicationId,omitempty"`
	Created          bool             `json:"created"`
	Outcome          ReconcileOutcome `json:"outcome"`
	CompaniesCreated int              `json:"companiesCreated"`
	ContactsCreated  int              `json:"contactsCreated"`
	Warnings         []string         `json:"warnings,omitempty"`
}

type SyncTrigger string

const TriggerManual SyncTrigger = "manual"

// SyncRun is one orchestrator execution kept for history.
type SyncRun struct {
	ID         string      `json:"id"`
	UserID     uuid.UUID   `json:"user_id"`
	Trigger    SyncTrigger `json:"trigger"`
	Options    SyncOptions `json:"options"`
	Summary    SyncSummary `json:"summary"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

type WebhookStatus string

const (
	WebhookProcessed   WebhookStatus = "processed"
	WebhookDuplicate   WebhookStatus = "duplicate"
	WebhookIgnored     WebhookStatus = "ignored"
	WebhookErrorLogged WebhookStatus = "error_logged"
)

type WebhookOutcome struct {
	Accepted        bool          `json:"accepted"`
	Status          WebhookStatus `json:"status"`
	Processed       bool          `json:"processed"`
	Reason          string        `json:"reason,omitempty"`
	CommunicationID *int64        `json:"communicationId,omitempty"`
}
