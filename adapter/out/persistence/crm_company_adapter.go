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
)

// CompanyAdapter implements out.CompanyRepository.
type CompanyAdapter struct {
	db *sqlx.DB
}

var _ out.CompanyRepository = (*CompanyAdapter)(nil)

func NewCompanyAdapter(db *sqlx.DB) *CompanyAdapter {
	return &CompanyAdapter{db: db}
}

const companyColumns = `id, name, domain, industry, size, website, description, address,
	lead_source, assigned_department, status, created_by, created_at, updated_at`

type companyRow struct {
	ID                 int64          `db:"id"`
	Name               string         `db:"name"`
	Domain             sql.NullString `db:"domain"`
	Industry           sql.NullString `db:"industry"`
	Size               sql.NullString `db:"size"`
	Website            sql.NullString `db:"website"`
	Description        sql.NullString `db:"description"`
	Address            sql.NullString `db:"address"`
	LeadSource         string         `db:"lead_source"`
	AssignedDepartment sql.NullString `db:"assigned_department"`
	Status             string         `db:"status"`
	CreatedBy          uuid.UUID      `db:"created_by"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
	Inserted           bool           `db:"inserted"`
}

func (r *companyRow) toDomain() *domain.Company {
	return &domain.Company{
		ID:                 r.ID,
		Name:               r.Name,
		Domain:             stringPtr(r.Domain),
		Industry:           stringPtr(r.Industry),
		Size:               stringPtr(r.Size),
		Website:            stringPtr(r.Website),
		Description:        stringPtr(r.Description),
		Address:            stringPtr(r.Address),
		LeadSource:         r.LeadSource,
		AssignedDepartment: stringPtr(r.AssignedDepartment),
		Status:             domain.CompanyStatus(r.Status),
		CreatedBy:          r.CreatedBy,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func companyArgs(c *domain.Company) []any {
	return []any{
		c.Name, nullString(c.Domain), nullString(c.Industry), nullString(c.Size),
		nullString(c.Website), nullString(c.Description), nullString(c.Address),
		c.LeadSource, nullString(c.AssignedDepartment), string(c.Status), c.CreatedBy,
	}
}

func (a *CompanyAdapter) get(ctx context.Context, where string, arg any) (*domain.Company, error) {
	var row companyRow
	query := `SELECT ` + companyColumns + ` FROM companies WHERE ` + where
	if err := a.db.GetContext(ctx, &row, query, arg); err != nil {
		return nil, mapError(err)
	}
	return row.toDomain(), nil
}

func (a *CompanyAdapter) GetByID(ctx context.Context, id int64) (*domain.Company, error) {
	return a.get(ctx, "id = $1", id)
}

func (a *CompanyAdapter) FindByName(ctx context.Context, name string) (*domain.Company, error) {
	c, err := a.get(ctx, "name = $1", name)
	if errors.Is(err, out.ErrNotFound) {
		return nil, nil
	}
	return c, err
}

func (a *CompanyAdapter) FindByDomain(ctx context.Context, d string) (*domain.Company, error) {
	c, err := a.get(ctx, "domain = $1", d)
	if errors.Is(err, out.ErrNotFound) {
		return nil, nil
	}
	return c, err
}

// UpsertByName relies on the unique name index. The no-op DO UPDATE makes
// RETURNING yield the existing row; xmax = 0 only for fresh inserts.
func (a *CompanyAdapter) UpsertByName(ctx context.Context, c *domain.Company) (bool, error) {
	query := `
		INSERT INTO companies (
			name, domain, industry, size, website, description, address,
			lead_source, assigned_department, status, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING ` + companyColumns + `, (xmax = 0) AS inserted`

	var row companyRow
	if err := a.db.QueryRowxContext(ctx, query, companyArgs(c)...).StructScan(&row); err != nil {
		return false, mapError(err)
	}
	*c = *row.toDomain()
	return row.Inserted, nil
}

func (a *CompanyAdapter) Create(ctx context.Context, c *domain.Company) error {
	query := `
		INSERT INTO companies (
			name, domain, industry, size, website, description, address,
			lead_source, assigned_department, status, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	err := a.db.QueryRowxContext(ctx, query, companyArgs(c)...).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	return mapError(err)
}

func (a *CompanyAdapter) Update(ctx context.Context, c *domain.Company) error {
	query := `
		UPDATE companies SET
			name = $1, domain = $2, industry = $3, size = $4, website = $5,
			description = $6, address = $7, lead_source = $8,
			assigned_department = $9, status = $10, updated_at = NOW()
		WHERE id = $11
		RETURNING updated_at`

	args := companyArgs(c)[:10]
	args = append(args, c.ID)
	err := a.db.QueryRowxContext(ctx, query, args...).Scan(&c.UpdatedAt)
	return mapError(err)
}

func (a *CompanyAdapter) List(ctx context.Context, filter *domain.CompanyFilter) ([]*domain.Company, int, error) {
	if filter == nil {
		filter = &domain.CompanyFilter{}
	}
	base := ` FROM companies WHERE 1=1`
	var args []any
	argIdx := 1

	if filter.Search != nil && *filter.Search != "" {
		base += fmt.Sprintf(` AND (name ILIKE $%d OR domain ILIKE $%d)`, argIdx, argIdx)
		args = append(args, "%"+*filter.Search+"%")
		argIdx++
	}
	if filter.Status != nil {
		base += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(*filter.Status))
		argIdx++
	}
	if filter.Department != nil {
		base += fmt.Sprintf(` AND assigned_department = $%d`, argIdx)
		args = append(args, *filter.Department)
		argIdx++
	}

	var total int
	if err := a.db.GetContext(ctx, &total, `SELECT COUNT(*)`+base, args...); err != nil {
		return nil, 0, mapError(err)
	}

	limit, offset := page(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s%s ORDER BY name ASC LIMIT $%d OFFSET $%d`, companyColumns, base, argIdx, argIdx+1)
	args = append(args, limit, offset)

	var rows []companyRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, mapError(err)
	}
	companies := make([]*domain.Company, 0, len(rows))
	for i := range rows {
		companies = append(companies, rows[i].toDomain())
	}
	return companies, total, nil
}
