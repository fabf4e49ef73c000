package in

import (
	"context"

	"crm_server/core/domain"

	"github.com/google/uuid"
)

// SyncService is the manual sync surface used by the HTTP layer.
type SyncService interface {
	RunSync(ctx context.Context, opts domain.SyncOptions, user *domain.ActingUser) (*domain.SyncSummary, error)
	History(ctx context.Context, user *domain.ActingUser, target uuid.UUID, limit int) ([]*domain.SyncRun, error)
	HasEmailPermissions(user *domain.ActingUser) bool
	HasMeetingPermissions(user *domain.ActingUser) bool
}

type WebhookService interface {
	HandleIncomingMessage(ctx context.Context, payload []byte, authToken string) (*domain.WebhookOutcome, error)
}
