package domain

import (
	"time"

	"github.com/google/uuid"
)

type MailProvider string

const (
	ProviderGoogle  MailProvider = "google"
	ProviderOutlook MailProvider = "outlook"
)

// MailboxConnection is a stored OAuth grant for one user's mailbox.
type MailboxConnection struct {
	ID           int64        `json:"id"`
	UserID       uuid.UUID    `json:"user_id"`
	Provider     MailProvider `json:"provider"`
	Email        string       `json:"email"`
	AccessToken  string       `json:"-"`
	RefreshToken string       `json:"-"`
	ExpiresAt    time.Time    `json:"expires_at"`
	Scopes       []string     `json:"scopes"`
	IsConnected  bool         `json:"is_connected"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
