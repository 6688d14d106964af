package master

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cimcon/p2p/internal/platform/db"
	"github.com/cimcon/p2p/internal/requisition"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	LockByRequisition(ctx context.Context, requisitionID int64) (Master, bool, error)
	Lock(ctx context.Context, id int64) (Master, error)
	Insert(ctx context.Context, m Master) (int64, error)
	RefreshSnapshot(ctx context.Context, m Master) error
	UpdateStatus(ctx context.Context, id int64, status OrderingStatus) error
	HasPOLines(ctx context.Context, id int64) (bool, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx joins the ambient transaction or opens a read-committed one.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const selectMaster = `SELECT m.id, m.requisition_id, m.indent_date, m.ordering_status, m.cimcon_part_number, m.mfg_part_number,
	m.material_description, m.make, m.material_group, m.required_quantity, m.unit, m.required_by_date, m.soh,
	m.ordering_qty, m.order_type, m.project_code, m.project_name, COALESCE(p.division_id, 0), m.remarks, m.created_at, m.updated_at
FROM masters m
LEFT JOIN projects p ON p.code = NULLIF(m.project_code, '')`

func scanMaster(row pgx.Row) (Master, error) {
	var (
		m      Master
		status string
		order  string
	)
	err := row.Scan(&m.ID, &m.RequisitionID, &m.IndentDate, &status, &m.CimconPartNumber, &m.MfgPartNumber,
		&m.MaterialDescription, &m.Make, &m.MaterialGroup, &m.RequiredQuantity, &m.Unit, &m.RequiredByDate, &m.SOH,
		&m.OrderingQty, &order, &m.ProjectCode, &m.ProjectName, &m.DivisionID, &m.Remarks, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return Master{}, err
	}
	m.OrderingStatus = OrderingStatus(status)
	m.OrderType = requisition.OrderType(order)
	return m, nil
}

// Get returns a master row by id.
func (r *Repository) Get(ctx context.Context, id int64) (Master, error) {
	m, err := scanMaster(db.Conn(ctx, r.pool).QueryRow(ctx, selectMaster+` WHERE m.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Master{}, ErrNotFound
	}
	return m, err
}

// List returns master rows in scope.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Master, int, error) {
	where := ` WHERE 1=1`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where += ` AND ` + clause + `$` + strconv.Itoa(len(args))
	}
	if !f.Scope.All {
		add(`p.division_id = `, f.Scope.DivisionID)
	}
	if f.ProjectCode != "" {
		add(`m.project_code = `, f.ProjectCode)
	}
	if f.Status != "" {
		add(`m.ordering_status = `, string(f.Status))
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM masters m LEFT JOIN projects p ON p.code = NULLIF(m.project_code, '')`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, f.Page.Limit(), f.Page.Offset())
	rows, err := r.pool.Query(ctx, selectMaster+where+` ORDER BY m.indent_date DESC, m.id DESC LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Master
	for rows.Next() {
		m, err := scanMaster(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

func (t *txRepo) LockByRequisition(ctx context.Context, requisitionID int64) (Master, bool, error) {
	m, err := scanMaster(t.tx.QueryRow(ctx, selectMaster+` WHERE m.requisition_id = $1 FOR UPDATE OF m`, requisitionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Master{}, false, nil
	}
	if err != nil {
		return Master{}, false, err
	}
	return m, true, nil
}

func (t *txRepo) Lock(ctx context.Context, id int64) (Master, error) {
	m, err := scanMaster(t.tx.QueryRow(ctx, selectMaster+` WHERE m.id = $1 FOR UPDATE OF m`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Master{}, ErrNotFound
	}
	return m, err
}

func (t *txRepo) Insert(ctx context.Context, m Master) (int64, error) {
	now := time.Now()
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO masters (requisition_id, indent_date, ordering_status, cimcon_part_number,
		mfg_part_number, material_description, make, material_group, required_quantity, unit, required_by_date, soh,
		ordering_qty, order_type, project_code, project_name, remarks, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
		ON CONFLICT (requisition_id) DO NOTHING
		RETURNING id`,
		m.RequisitionID, m.IndentDate, string(m.OrderingStatus), m.CimconPartNumber, m.MfgPartNumber,
		m.MaterialDescription, m.Make, m.MaterialGroup, m.RequiredQuantity, m.Unit, m.RequiredByDate, m.SOH,
		m.OrderingQty, string(m.OrderType), m.ProjectCode, m.ProjectName, m.Remarks, now).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// lost a race with a concurrent approval; the existing row wins
		err = t.tx.QueryRow(ctx, `SELECT id FROM masters WHERE requisition_id = $1`, m.RequisitionID).Scan(&id)
	}
	return id, err
}

func (t *txRepo) RefreshSnapshot(ctx context.Context, m Master) error {
	_, err := t.tx.Exec(ctx, `UPDATE masters SET cimcon_part_number = $2, mfg_part_number = $3, material_description = $4,
		make = $5, material_group = $6, required_quantity = $7, unit = $8, required_by_date = $9, order_type = $10,
		project_code = $11, project_name = $12, remarks = $13, ordering_qty = $14, updated_at = NOW() WHERE id = $1`,
		m.ID, m.CimconPartNumber, m.MfgPartNumber, m.MaterialDescription, m.Make, m.MaterialGroup, m.RequiredQuantity,
		m.Unit, m.RequiredByDate, string(m.OrderType), m.ProjectCode, m.ProjectName, m.Remarks, m.OrderingQty)
	return err
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status OrderingStatus) error {
	_, err := t.tx.Exec(ctx, `UPDATE masters SET ordering_status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	return err
}

func (t *txRepo) HasPOLines(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM po_line_items WHERE master_id = $1)`, id).Scan(&exists)
	return exists, err
}
