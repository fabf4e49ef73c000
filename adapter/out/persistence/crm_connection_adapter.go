package persistence

import (
	"context"
	"errors"
	"time"

	"crm_server/core/domain"
	"crm_server/core/port/out"
	"crm_server/pkg/crypto"
	"crm_server/pkg/logger"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ConnectionAdapter implements out.ConnectionRepository over oauth_connections.
// Tokens are sealed with cipher when one is configured.
type ConnectionAdapter struct {
	db     *sqlx.DB
	cipher *crypto.TokenCipher
}

var _ out.ConnectionRepository = (*ConnectionAdapter)(nil)

func NewConnectionAdapter(db *sqlx.DB, cipher *crypto.TokenCipher) *ConnectionAdapter {
	if cipher == nil {
		logger.Warn("token encryption disabled: oauth tokens are stored in plain text")
	}
	return &ConnectionAdapter{db: db, cipher: cipher}
}

type connectionRow struct {
	ID           int64          `db:"id"`
	UserID       uuid.UUID      `db:"user_id"`
	Provider     string         `db:"provider"`
	Email        string         `db:"email"`
	AccessToken  string         `db:"access_token"`
	RefreshToken string         `db:"refresh_token"`
	ExpiresAt    time.Time      `db:"expires_at"`
	Scopes       pq.StringArray `db:"scopes"`
	IsConnected  bool           `db:"is_connected"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (a *ConnectionAdapter) seal(token string) (string, error) {
	if a.cipher == nil {
		return token, nil
	}
	return a.cipher.Seal(token)
}

func (a *ConnectionAdapter) GetActiveByUser(ctx context.Context, userID uuid.UUID) (*domain.MailboxConnection, error) {
	query := `
		SELECT id, user_id, provider, email, access_token, refresh_token,
		       expires_at, scopes, is_connected, created_at, updated_at
		FROM oauth_connections
		WHERE user_id = $1 AND is_connected = true
		ORDER BY updated_at DESC
		LIMIT 1`

	var row connectionRow
	if err := a.db.GetContext(ctx, &row, query, userID); err != nil {
		err = mapError(err)
		if errors.Is(err, out.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &domain.MailboxConnection{
		ID:           row.ID,
		UserID:       row.UserID,
		Provider:     domain.MailProvider(row.Provider),
		Email:        row.Email,
		AccessToken:  a.cipher.OpenOrPlain(row.AccessToken),
		RefreshToken: a.cipher.OpenOrPlain(row.RefreshToken),
		ExpiresAt:    row.ExpiresAt,
		Scopes:       []string(row.Scopes),
		IsConnected:  row.IsConnected,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}, nil
}

// UpdateTokens stores a refreshed grant. An empty refreshToken keeps the stored one.
func (a *ConnectionAdapter) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error {
	access, err := a.seal(accessToken)
	if err != nil {
		return err
	}
	refresh, err := a.seal(refreshToken)
	if err != nil {
		return err
	}

	query := `
		UPDATE oauth_connections SET
			access_token = $1,
			refresh_token = COALESCE(NULLIF($2, ''), refresh_token),
			expires_at = $3,
			updated_at = NOW()
		WHERE id = $4`

	res, err := a.db.ExecContext(ctx, query, access, refresh, expiresAt, id)
	return notFoundIfNone(res, err)
}

// Disconnect marks a grant unusable without deleting it. The user has to
// reconnect the mailbox before the next sync.
func (a *ConnectionAdapter) Disconnect(ctx context.Context, id int64) error {
	res, err := a.db.ExecContext(ctx,
		`UPDATE oauth_connections SET is_connected = false, updated_at = NOW() WHERE id = $1`, id)
	return notFoundIfNone(res, err)
}
