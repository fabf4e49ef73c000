package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crm_server/core/domain"
	"crm_server/core/port/out"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// CommunicationAdapter implements out.CommunicationRepository.
type CommunicationAdapter struct {
	db *sqlx.DB
}

var _ out.CommunicationRepository = (*CommunicationAdapter)(nil)

func NewCommunicationAdapter(db *sqlx.DB) *CommunicationAdapter {
	return &CommunicationAdapter{db: db}
}

const communicationColumns = `id, provider_message_id, thread_id, type, subject, content, direction,
	status, scheduled_at, completed_at, contact_id, company_id, project_tag, participants,
	source, created_by, assigned_user_id, created_at, updated_at`

type communicationRow struct {
	ID                int64          `db:"id"`
	ProviderMessageID string         `db:"provider_message_id"`
	ThreadID          sql.NullString `db:"thread_id"`
	Type              string         `db:"type"`
	Subject           string         `db:"subject"`
	Content           string         `db:"content"`
	Direction         string         `db:"direction"`
	Status            string         `db:"status"`
	ScheduledAt       sql.NullTime   `db:"scheduled_at"`
	CompletedAt       sql.NullTime   `db:"completed_at"`
	ContactID         sql.NullInt64  `db:"contact_id"`
	CompanyID         sql.NullInt64  `db:"company_id"`
	ProjectTag        sql.NullString `db:"project_tag"`
	Participants      pq.StringArray `db:"participants"`
	Source            string         `db:"source"`
	CreatedBy         uuid.UUID      `db:"created_by"`
	AssignedUserID    uuid.NullUUID  `db:"assigned_user_id"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
	Inserted          bool           `db:"inserted"`
}

func (r *communicationRow) toDomain() *domain.Communication {
	c := &domain.Communication{
		ID:                r.ID,
		ProviderMessageID: r.ProviderMessageID,
		ThreadID:          stringPtr(r.ThreadID),
		Type:              domain.CommunicationType(r.Type),
		Subject:           r.Subject,
		Content:           r.Content,
		Direction:         domain.Direction(r.Direction),
		Status:            domain.CommunicationStatus(r.Status),
		ScheduledAt:       timePtr(r.ScheduledAt),
		CompletedAt:       timePtr(r.CompletedAt),
		ContactID:         int64Ptr(r.ContactID),
		CompanyID:         int64Ptr(r.CompanyID),
		ProjectTag:        stringPtr(r.ProjectTag),
		Source:            domain.CommunicationSource(r.Source),
		CreatedBy:         r.CreatedBy,
		AssignedUserID:    uuidPtr(r.AssignedUserID),
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if len(r.Participants) > 0 {
		c.Participants = []string(r.Participants)
	}
	return c
}

func communicationArgs(c *domain.Communication) []any {
	participants := c.Participants
	if participants == nil {
		participants = []string{}
	}
	return []any{
		c.ProviderMessageID, nullString(c.ThreadID), string(c.Type), c.Subject, c.Content,
		string(c.Direction), string(c.Status), nullTime(c.ScheduledAt), nullTime(c.CompletedAt),
		nullInt64(c.ContactID), nullInt64(c.CompanyID), nullString(c.ProjectTag),
		pq.Array(participants), string(c.Source), c.CreatedBy, nullUUID(c.AssignedUserID),
	}
}

const communicationInsert = `
	INSERT INTO communications (
		provider_message_id, thread_id, type, subject, content, direction, status,
		scheduled_at, completed_at, contact_id, company_id, project_tag, participants,
		source, created_by, assigned_user_id
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

func (a *CommunicationAdapter) get(ctx context.Context, where string, arg any) (*domain.Communication, error) {
	var row communicationRow
	query := `SELECT ` + communicationColumns + ` FROM communications WHERE ` + where
	if err := a.db.GetContext(ctx, &row, query, arg); err != nil {
		return nil, mapError(err)
	}
	return row.toDomain(), nil
}

func (a *CommunicationAdapter) GetByID(ctx context.Context, id int64) (*domain.Communication, error) {
	return a.get(ctx, "id = $1", id)
}

func (a *CommunicationAdapter) FindByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Communication, error) {
	c, err := a.get(ctx, "provider_message_id = $1", providerMessageID)
	if errors.Is(err, out.ErrNotFound) {
		return nil, nil
	}
	return c, err
}

// UpsertByProviderMessageID leaves an existing row untouched and loads it into c.
func (a *CommunicationAdapter) UpsertByProviderMessageID(ctx context.Context, c *domain.Communication) (bool, error) {
	query := communicationInsert + `
		ON CONFLICT (provider_message_id) DO UPDATE SET provider_message_id = EXCLUDED.provider_message_id
		RETURNING ` + communicationColumns + `, (xmax = 0) AS inserted`

	var row communicationRow
	if err := a.db.QueryRowxContext(ctx, query, communicationArgs(c)...).StructScan(&row); err != nil {
		return false, mapError(err)
	}
	*c = *row.toDomain()
	return row.Inserted, nil
}

func (a *CommunicationAdapter) Create(ctx context.Context, c *domain.Communication) error {
	query := communicationInsert + ` RETURNING id, created_at, updated_at`
	err := a.db.QueryRowxContext(ctx, query, communicationArgs(c)...).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	return mapError(err)
}

func (a *CommunicationAdapter) UpdateStatus(ctx context.Context, id int64, status domain.CommunicationStatus, completedAt *time.Time) error {
	res, err := a.db.ExecContext(ctx,
		`UPDATE communications SET status = $1, completed_at = $2, updated_at = NOW() WHERE id = $3`,
		string(status), nullTime(completedAt), id)
	return notFoundIfNone(res, err)
}

func (a *CommunicationAdapter) Assign(ctx context.Context, id int64, userID *uuid.UUID) error {
	res, err := a.db.ExecContext(ctx,
		`UPDATE communications SET assigned_user_id = $1, updated_at = NOW() WHERE id = $2`,
		nullUUID(userID), id)
	return notFoundIfNone(res, err)
}

func (a *CommunicationAdapter) List(ctx context.Context, filter *domain.CommunicationFilter) ([]*domain.Communication, int, error) {
	if filter == nil {
		filter = &domain.CommunicationFilter{}
	}
	base := ` FROM communications WHERE 1=1`
	var args []any
	argIdx := 1

	if filter.ContactID != nil {
		base += fmt.Sprintf(` AND contact_id = $%d`, argIdx)
		args = append(args, *filter.ContactID)
		argIdx++
	}
	if filter.CompanyID != nil {
		base += fmt.Sprintf(` AND company_id = $%d`, argIdx)
		args = append(args, *filter.CompanyID)
		argIdx++
	}
	if filter.Type != nil {
		base += fmt.Sprintf(` AND type = $%d`, argIdx)
		args = append(args, string(*filter.Type))
		argIdx++
	}
	if filter.Status != nil {
		base += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(*filter.Status))
		argIdx++
	}

	var total int
	if err := a.db.GetContext(ctx, &total, `SELECT COUNT(*)`+base, args...); err != nil {
		return nil, 0, mapError(err)
	}

	limit, offset := page(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s%s ORDER BY COALESCE(completed_at, scheduled_at, created_at) DESC, id DESC LIMIT $%d OFFSET $%d`,
		communicationColumns, base, argIdx, argIdx+1)
	args = append(args, limit, offset)

	var rows []communicationRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, mapError(err)
	}
	comms := make([]*domain.Communication, 0, len(rows))
	for i := range rows {
		comms = append(comms, rows[i].toDomain())
	}
	return comms, total, nil
}
