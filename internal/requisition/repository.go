package requisition

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cimcon/p2p/internal/platform/db"
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
	LockBatchKey(ctx context.Context, batchID string) error
	LockBatch(ctx context.Context, batchID string) ([]Requisition, error)
	Lock(ctx context.Context, id int64) (Requisition, error)
	MaxItemNo(ctx context.Context, batchID string) (int, error)
	Insert(ctx context.Context, r Requisition) (Requisition, error)
	Update(ctx context.Context, r Requisition) error
	UpdateStatus(ctx context.Context, id int64, status Status, rejectionRemarks string, verified bool) error
	MaxRevision(ctx context.Context, requisitionID int64) (int, error)
	InsertHistory(ctx context.Context, h History) error
	LockHistory(ctx context.Context, id int64) (History, error)
	ApproveHistory(ctx context.Context, h History) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a read-committed transaction, joining an
// enclosing one when present.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const selectRequisition = `SELECT r.id, COALESCE(r.project_code, ''), COALESCE(p.division_id, 0), r.batch_id, r.item_no,
	r.cimcon_part_number, r.mfg_part_number, r.material_description, r.make, r.material_group,
	r.req_qty, r.unit, r.required_by_date, r.remarks, r.status, r.verification_status,
	EXISTS (SELECT 1 FROM masters m WHERE m.requisition_id = r.id),
	r.order_type, r.rejection_remarks, r.created_by, r.created_at, r.updated_at
FROM requisitions r
LEFT JOIN projects p ON p.code = r.project_code`

func scanRequisition(row pgx.Row) (Requisition, error) {
	var (
		r      Requisition
		status string
		order  string
	)
	err := row.Scan(&r.ID, &r.ProjectCode, &r.DivisionID, &r.BatchID, &r.ItemNo,
		&r.CimconPartNumber, &r.MfgPartNumber, &r.MaterialDescription, &r.Make, &r.MaterialGroup,
		&r.ReqQty, &r.Unit, &r.RequiredByDate, &r.Remarks, &status, &r.VerificationStatus,
		&r.MasterEntryExists, &order, &r.RejectionRemarks, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Requisition{}, err
	}
	r.Status = Status(status)
	r.OrderType = OrderType(order)
	return r, nil
}

func collectRequisitions(rows pgx.Rows) ([]Requisition, error) {
	defer rows.Close()
	var out []Requisition
	for rows.Next() {
		r, err := scanRequisition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const selectHistory = `SELECT id, requisition_id, field_name, old_value, new_value, changed_by, changed_at,
	revision_number, approval_status, approved_by, approved_at, remarks FROM requisition_history`

func scanHistory(row pgx.Row) (History, error) {
	var h History
	err := row.Scan(&h.ID, &h.RequisitionID, &h.FieldName, &h.OldValue, &h.NewValue, &h.ChangedBy, &h.ChangedAt,
		&h.RevisionNumber, &h.ApprovalStatus, &h.ApprovedBy, &h.ApprovedAt, &h.Remarks)
	return h, err
}

// Get returns one requisition.
func (r *Repository) Get(ctx context.Context, id int64) (Requisition, error) {
	req, err := scanRequisition(r.pool.QueryRow(ctx, selectRequisition+` WHERE r.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Requisition{}, ErrNotFound
	}
	return req, err
}

// ListBatch returns every requisition of a batch ordered by item number.
func (r *Repository) ListBatch(ctx context.Context, batchID string) ([]Requisition, error) {
	rows, err := r.pool.Query(ctx, selectRequisition+` WHERE r.batch_id = $1 ORDER BY r.item_no`, batchID)
	if err != nil {
		return nil, err
	}
	return collectRequisitions(rows)
}

// List returns requisitions visible in the filter's scope.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Requisition, int, error) {
	where := ` WHERE 1=1`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where += ` AND ` + clause + `$` + strconv.Itoa(len(args))
	}
	if !f.Scope.All {
		add(`p.division_id = `, f.Scope.DivisionID)
	}
	if f.BatchID != "" {
		add(`r.batch_id = `, f.BatchID)
	}
	if f.ProjectCode != "" {
		add(`r.project_code = `, f.ProjectCode)
	}
	if f.Status != "" {
		add(`r.status = `, string(f.Status))
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM requisitions r LEFT JOIN projects p ON p.code = r.project_code`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, f.Page.Limit(), f.Page.Offset())
	query := selectRequisition + where + ` ORDER BY r.batch_id, r.item_no LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	out, err := collectRequisitions(rows)
	return out, total, err
}

// ListHistory returns history rows of a requisition oldest first.
func (r *Repository) ListHistory(ctx context.Context, requisitionID int64) ([]History, error) {
	rows, err := r.pool.Query(ctx, selectHistory+` WHERE requisition_id = $1 ORDER BY revision_number, id`, requisitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []History
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (t *txRepo) LockBatchKey(ctx context.Context, batchID string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('requisition_batch:' || $1))`, batchID)
	return err
}

func (t *txRepo) LockBatch(ctx context.Context, batchID string) ([]Requisition, error) {
	rows, err := t.tx.Query(ctx, selectRequisition+` WHERE r.batch_id = $1 ORDER BY r.item_no FOR UPDATE OF r`, batchID)
	if err != nil {
		return nil, err
	}
	return collectRequisitions(rows)
}

func (t *txRepo) Lock(ctx context.Context, id int64) (Requisition, error) {
	req, err := scanRequisition(t.tx.QueryRow(ctx, selectRequisition+` WHERE r.id = $1 FOR UPDATE OF r`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Requisition{}, ErrNotFound
	}
	return req, err
}

func (t *txRepo) MaxItemNo(ctx context.Context, batchID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(MAX(item_no), 0) FROM requisitions WHERE batch_id = $1`, batchID).Scan(&n)
	return n, err
}

func (t *txRepo) Insert(ctx context.Context, r Requisition) (Requisition, error) {
	now := time.Now()
	err := t.tx.QueryRow(ctx, `INSERT INTO requisitions (project_code, batch_id, item_no, cimcon_part_number, mfg_part_number,
		material_description, make, material_group, req_qty, unit, required_by_date, remarks, status,
		verification_status, order_type, rejection_remarks, created_by, created_at, updated_at)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
		RETURNING id`,
		r.ProjectCode, r.BatchID, r.ItemNo, r.CimconPartNumber, r.MfgPartNumber,
		r.MaterialDescription, r.Make, r.MaterialGroup, r.ReqQty, r.Unit, r.RequiredByDate, r.Remarks, string(r.Status),
		r.VerificationStatus, string(r.OrderType), r.RejectionRemarks, r.CreatedBy, now).Scan(&r.ID)
	if err != nil {
		return Requisition{}, err
	}
	r.CreatedAt, r.UpdatedAt = now, now
	return r, nil
}

func (t *txRepo) Update(ctx context.Context, r Requisition) error {
	_, err := t.tx.Exec(ctx, `UPDATE requisitions SET project_code = NULLIF($2, ''), cimcon_part_number = $3, mfg_part_number = $4,
		material_description = $5, make = $6, material_group = $7, req_qty = $8, unit = $9, required_by_date = $10,
		remarks = $11, status = $12, order_type = $13, rejection_remarks = $14, updated_at = NOW() WHERE id = $1`,
		r.ID, r.ProjectCode, r.CimconPartNumber, r.MfgPartNumber, r.MaterialDescription, r.Make, r.MaterialGroup,
		r.ReqQty, r.Unit, r.RequiredByDate, r.Remarks, string(r.Status), string(r.OrderType), r.RejectionRemarks)
	return err
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status Status, rejectionRemarks string, verified bool) error {
	_, err := t.tx.Exec(ctx, `UPDATE requisitions SET status = $2, rejection_remarks = $3, verification_status = $4, updated_at = NOW() WHERE id = $1`,
		id, string(status), rejectionRemarks, verified)
	return err
}

func (t *txRepo) MaxRevision(ctx context.Context, requisitionID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(MAX(revision_number), 0) FROM requisition_history WHERE requisition_id = $1`, requisitionID).Scan(&n)
	return n, err
}

func (t *txRepo) InsertHistory(ctx context.Context, h History) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO requisition_history (requisition_id, field_name, old_value, new_value, changed_by,
		changed_at, revision_number, approval_status, approved_by, approved_at, remarks)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		h.RequisitionID, h.FieldName, h.OldValue, h.NewValue, h.ChangedBy, h.ChangedAt, h.RevisionNumber,
		h.ApprovalStatus, h.ApprovedBy, h.ApprovedAt, h.Remarks)
	return err
}

func (t *txRepo) LockHistory(ctx context.Context, id int64) (History, error) {
	h, err := scanHistory(t.tx.QueryRow(ctx, selectHistory+` WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return History{}, ErrHistoryNotFound
	}
	return h, err
}

func (t *txRepo) ApproveHistory(ctx context.Context, h History) error {
	_, err := t.tx.Exec(ctx, `UPDATE requisition_history SET approval_status = TRUE, approved_by = $2, approved_at = $3, remarks = $4 WHERE id = $1`,
		h.ID, h.ApprovedBy, h.ApprovedAt, h.Remarks)
	return err
}
