package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crm_server/core/domain"
	"crm_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ContactAdapter implements out.ContactRepository.
type ContactAdapter struct {
	db *sqlx.DB
}

var _ out.ContactRepository = (*ContactAdapter)(nil)

func NewContactAdapter(db *sqlx.DB) *ContactAdapter {
	return &ContactAdapter{db: db}
}

const contactColumns = `id, company_id, email, first_name, last_name, phone, job_title, department,
	lead_source, status, social_profiles, notes, assigned_user_id, created_by, created_at, updated_at`

type contactRow struct {
	ID             int64          `db:"id"`
	CompanyID      int64          `db:"company_id"`
	Email          string         `db:"email"`
	FirstName      string         `db:"first_name"`
	LastName       string         `db:"last_name"`
	Phone          sql.NullString `db:"phone"`
	JobTitle       sql.NullString `db:"job_title"`
	Department     sql.NullString `db:"department"`
	LeadSource     string         `db:"lead_source"`
	Status         string         `db:"status"`
	SocialProfiles []byte         `db:"social_profiles"`
	Notes          sql.NullString `db:"notes"`
	AssignedUserID uuid.NullUUID  `db:"assigned_user_id"`
	CreatedBy      uuid.UUID      `db:"created_by"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	Inserted       bool           `db:"inserted"`
}

func (r *contactRow) toDomain() (*domain.Contact, error) {
	c := &domain.Contact{
		ID:             r.ID,
		CompanyID:      r.CompanyID,
		Email:          r.Email,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		Phone:          stringPtr(r.Phone),
		JobTitle:       stringPtr(r.JobTitle),
		Department:     stringPtr(r.Department),
		LeadSource:     r.LeadSource,
		Status:         domain.ContactStatus(r.Status),
		Notes:          stringPtr(r.Notes),
		AssignedUserID: uuidPtr(r.AssignedUserID),
		CreatedBy:      r.CreatedBy,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if len(r.SocialProfiles) > 0 {
		if err := json.Unmarshal(r.SocialProfiles, &c.SocialProfiles); err != nil {
			return nil, fmt.Errorf("decode social_profiles for contact %d: %w", r.ID, err)
		}
		if len(c.SocialProfiles) == 0 {
			c.SocialProfiles = nil
		}
	}
	return c, nil
}

func contactArgs(c *domain.Contact) ([]any, error) {
	profiles := c.SocialProfiles
	if profiles == nil {
		profiles = map[string]string{}
	}
	raw, err := json.Marshal(profiles)
	if err != nil {
		return nil, fmt.Errorf("encode social_profiles: %w", err)
	}
	return []any{
		c.CompanyID, domain.NormalizeEmail(c.Email), c.FirstName, c.LastName,
		nullString(c.Phone), nullString(c.JobTitle), nullString(c.Department),
		c.LeadSource, string(c.Status), string(raw), nullString(c.Notes),
		nullUUID(c.AssignedUserID), c.CreatedBy,
	}, nil
}

const contactInsert = `
	INSERT INTO contacts (
		company_id, email, first_name, last_name, phone, job_title, department,
		lead_source, status, social_profiles, notes, assigned_user_id, created_by
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12, $13)`

func (a *ContactAdapter) get(ctx context.Context, where string, arg any) (*domain.Contact, error) {
	var row contactRow
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE ` + where
	if err := a.db.GetContext(ctx, &row, query, arg); err != nil {
		return nil, mapError(err)
	}
	return row.toDomain()
}

func (a *ContactAdapter) GetByID(ctx context.Context, id int64) (*domain.Contact, error) {
	return a.get(ctx, "id = $1", id)
}

func (a *ContactAdapter) FindByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	c, err := a.get(ctx, "email = $1", domain.NormalizeEmail(email))
	if errors.Is(err, out.ErrNotFound) {
		return nil, nil
	}
	return c, err
}

// UpsertByEmail never modifies an existing contact; the DO UPDATE only
// rewrites email with its own value so RETURNING sees the row.
func (a *ContactAdapter) UpsertByEmail(ctx context.Context, c *domain.Contact) (bool, error) {
	args, err := contactArgs(c)
	if err != nil {
		return false, err
	}
	query := contactInsert + `
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING ` + contactColumns + `, (xmax = 0) AS inserted`

	var row contactRow
	if err := a.db.QueryRowxContext(ctx, query, args...).StructScan(&row); err != nil {
		return false, mapError(err)
	}
	stored, err := row.toDomain()
	if err != nil {
		return false, err
	}
	*c = *stored
	return row.Inserted, nil
}

func (a *ContactAdapter) Create(ctx context.Context, c *domain.Contact) error {
	args, err := contactArgs(c)
	if err != nil {
		return err
	}
	query := contactInsert + ` RETURNING id, email, created_at, updated_at`
	err = a.db.QueryRowxContext(ctx, query, args...).Scan(&c.ID, &c.Email, &c.CreatedAt, &c.UpdatedAt)
	return mapError(err)
}

func (a *ContactAdapter) Update(ctx context.Context, c *domain.Contact) error {
	args, err := contactArgs(c)
	if err != nil {
		return err
	}
	query := `
		UPDATE contacts SET
			company_id = $1, email = $2, first_name = $3, last_name = $4,
			phone = $5, job_title = $6, department = $7, lead_source = $8,
			status = $9, social_profiles = $10::jsonb, notes = $11,
			assigned_user_id = $12, updated_at = NOW()
		WHERE id = $13
		RETURNING updated_at`

	args = append(args[:12], c.ID)
	return mapError(a.db.QueryRowxContext(ctx, query, args...).Scan(&c.UpdatedAt))
}

func (a *ContactAdapter) List(ctx context.Context, filter *domain.ContactFilter) ([]*domain.Contact, int, error) {
	if filter == nil {
		filter = &domain.ContactFilter{}
	}
	base := ` FROM contacts WHERE 1=1`
	var args []any
	argIdx := 1

	if filter.CompanyID != nil {
		base += fmt.Sprintf(` AND company_id = $%d`, argIdx)
		args = append(args, *filter.CompanyID)
		argIdx++
	}
	if filter.AssignedUserID != nil {
		base += fmt.Sprintf(` AND assigned_user_id = $%d`, argIdx)
		args = append(args, *filter.AssignedUserID)
		argIdx++
	}
	if filter.Status != nil {
		base += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(*filter.Status))
		argIdx++
	}
	if filter.Search != nil && *filter.Search != "" {
		base += fmt.Sprintf(` AND (email ILIKE $%d OR first_name ILIKE $%d OR last_name ILIKE $%d)`, argIdx, argIdx, argIdx)
		args = append(args, "%"+*filter.Search+"%")
		argIdx++
	}

	var total int
	if err := a.db.GetContext(ctx, &total, `SELECT COUNT(*)`+base, args...); err != nil {
		return nil, 0, mapError(err)
	}

	limit, offset := page(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, contactColumns, base, argIdx, argIdx+1)
	args = append(args, limit, offset)

	var rows []contactRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, mapError(err)
	}
	contacts := make([]*domain.Contact, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toDomain()
		if err != nil {
			return nil, 0, err
		}
		contacts = append(contacts, c)
	}
	return contacts, total, nil
}
