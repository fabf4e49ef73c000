package out

import (
	"context"
	"errors"
	"time"

	"crm_server/core/domain"

	"github.com/google/uuid"
)

// Store errors returned by every repository implementation.
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate key")
)

// CompanyRepository persists companies. Names are unique; domains are unique when set.
type CompanyRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Company, error)
	// FindByName and FindByDomain return nil, nil when nothing matches.
	FindByName(ctx context.Context, name string) (*domain.Company, error)
	FindByDomain(ctx context.Context, domain string) (*domain.Company, error)
	// UpsertByName inserts c, or loads the row already holding c.Name into c.
	// It is a single atomic statement; created reports which happened.
	UpsertByName(ctx context.Context, c *domain.Company) (created bool, err error)
	// Create fails with ErrDuplicate on a name or domain conflict.
	Create(ctx context.Context, c *domain.Company) error
	Update(ctx context.Context, c *domain.Company) error
	List(ctx context.Context, filter *domain.CompanyFilter) ([]*domain.Company, int, error)
}

// ContactRepository persists contacts keyed by email.
type ContactRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Contact, error)
	FindByEmail(ctx context.Context, email string) (*domain.Contact, error)
	// UpsertByEmail inserts c, or loads the existing row for c.Email into c
	// without modifying it.
	UpsertByEmail(ctx context.Context, c *domain.Contact) (created bool, err error)
	Create(ctx context.Context, c *domain.Contact) error
	Update(ctx context.Context, c *domain.Contact) error
	List(ctx context.Context, filter *domain.ContactFilter) ([]*domain.Contact, int, error)
}

// CommunicationRepository persists communications keyed by provider message id.
type CommunicationRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Communication, error)
	FindByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Communication, error)
	// UpsertByProviderMessageID inserts c, or loads the existing row into c.
	UpsertByProviderMessageID(ctx context.Context, c *domain.Communication) (created bool, err error)
	Create(ctx context.Context, c *domain.Communication) error
	UpdateStatus(ctx context.Context, id int64, status domain.CommunicationStatus, completedAt *time.Time) error
	Assign(ctx context.Context, id int64, userID *uuid.UUID) error
	List(ctx context.Context, filter *domain.CommunicationFilter) ([]*domain.Communication, int, error)
}

// ConnectionRepository reads stored mailbox OAuth grants.
type ConnectionRepository interface {
	// GetActiveByUser returns the newest connected mailbox, or nil, nil.
	GetActiveByUser(ctx context.Context, userID uuid.UUID) (*domain.MailboxConnection, error)
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error
	// Disconnect flags a grant whose refresh token was revoked.
	Disconnect(ctx context.Context, id int64) error
}

// SyncRunRepository keeps the history of sync runs.
type SyncRunRepository interface {
	Save(ctx context.Context, run *domain.SyncRun) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.SyncRun, error)
}

// KeyClaimer provides short-lived exclusive keys (idempotency markers, locks).
type KeyClaimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
