package masterdata

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cimcon/p2p/internal/platform/db"
	"github.com/cimcon/p2p/internal/shared"
)

// Repository persists reference entities.
type Repository interface {
	GetDivision(ctx context.Context, id int64) (Division, error)
	GetProject(ctx context.Context, code string) (Project, error)
	ListProjects(ctx context.Context, scope shared.Scope, page shared.Page) ([]Project, int, error)
	UpsertProject(ctx context.Context, p Project) (Project, error)
	GetVendor(ctx context.Context, code string) (Vendor, error)
	ListVendors(ctx context.Context, search string, page shared.Page) ([]Vendor, int, error)
	UpsertVendor(ctx context.Context, v Vendor) (Vendor, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const projectColumns = `code, client_name, bill_to, ship_to, requested_by, submitted_by, approved_by, division_id, created_at, updated_at`

func scanProject(row pgx.Row) (Project, error) {
	var p Project
	err := row.Scan(&p.Code, &p.ClientName, &p.BillTo, &p.ShipTo, &p.RequestedBy, &p.SubmittedBy, &p.ApprovedBy, &p.DivisionID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

const vendorColumns = `code, name, address, email, gstin, pan, state, state_code, contact_person, phone, payment_terms, created_at, updated_at`

func scanVendor(row pgx.Row) (Vendor, error) {
	var v Vendor
	err := row.Scan(&v.Code, &v.Name, &v.Address, &v.Email, &v.GSTIN, &v.PAN, &v.State, &v.StateCode, &v.ContactPerson, &v.Phone, &v.PaymentTerms, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

func (r *repository) GetDivision(ctx context.Context, id int64) (Division, error) {
	var d Division
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT id, name FROM divisions WHERE id = $1`, id).Scan(&d.ID, &d.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Division{}, ErrDivisionNotFound
	}
	return d, err
}

func (r *repository) GetProject(ctx context.Context, code string) (Project, error) {
	p, err := scanProject(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, ErrProjectNotFound
	}
	return p, err
}

func (r *repository) ListProjects(ctx context.Context, scope shared.Scope, page shared.Page) ([]Project, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if !scope.All {
		args = append(args, scope.DivisionID)
		where += ` AND division_id = $` + strconv.Itoa(len(args))
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM projects`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, page.Limit(), page.Offset())
	query := `SELECT ` + projectColumns + ` FROM projects` + where +
		` ORDER BY code LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var projects []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, err
		}
		projects = append(projects, p)
	}
	return projects, total, rows.Err()
}

func (r *repository) UpsertProject(ctx context.Context, p Project) (Project, error) {
	now := time.Now()
	query := `INSERT INTO projects (` + projectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (code) DO UPDATE SET client_name = EXCLUDED.client_name, bill_to = EXCLUDED.bill_to,
			ship_to = EXCLUDED.ship_to, requested_by = EXCLUDED.requested_by, submitted_by = EXCLUDED.submitted_by,
			approved_by = EXCLUDED.approved_by, division_id = EXCLUDED.division_id, updated_at = EXCLUDED.updated_at
		RETURNING ` + projectColumns
	return scanProject(db.Conn(ctx, r.pool).QueryRow(ctx, query, p.Code, p.ClientName, p.BillTo, p.ShipTo, p.RequestedBy, p.SubmittedBy, p.ApprovedBy, p.DivisionID, now))
}

func (r *repository) GetVendor(ctx context.Context, code string) (Vendor, error) {
	v, err := scanVendor(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+vendorColumns+` FROM vendors WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return Vendor{}, ErrVendorNotFound
	}
	return v, err
}

func (r *repository) ListVendors(ctx context.Context, search string, page shared.Page) ([]Vendor, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if search != "" {
		args = append(args, "%"+search+"%")
		where += ` AND (name ILIKE $1 OR code ILIKE $1)`
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM vendors`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, page.Limit(), page.Offset())
	query := `SELECT ` + vendorColumns + ` FROM vendors` + where +
		` ORDER BY name LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var vendors []Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, 0, err
		}
		vendors = append(vendors, v)
	}
	return vendors, total, rows.Err()
}

func (r *repository) UpsertVendor(ctx context.Context, v Vendor) (Vendor, error) {
	now := time.Now()
	query := `INSERT INTO vendors (` + vendorColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, address = EXCLUDED.address, email = EXCLUDED.email,
			gstin = EXCLUDED.gstin, pan = EXCLUDED.pan, state = EXCLUDED.state, state_code = EXCLUDED.state_code,
			contact_person = EXCLUDED.contact_person, phone = EXCLUDED.phone, payment_terms = EXCLUDED.payment_terms,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + vendorColumns
	return scanVendor(db.Conn(ctx, r.pool).QueryRow(ctx, query, v.Code, v.Name, v.Address, v.Email, v.GSTIN, v.PAN, v.State, v.StateCode, v.ContactPerson, v.Phone, v.PaymentTerms, now))
}
