package inventory

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cimcon/p2p/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	LockByItemNo(ctx context.Context, itemNo string) (Inventory, bool, error)
	Lock(ctx context.Context, id int64) (Inventory, error)
	EnsureItem(ctx context.Context, inv Inventory) error
	UpdateStock(ctx context.Context, inv Inventory) error
	ActiveAllocated(ctx context.Context, inventoryID int64, loc Location) (decimal.Decimal, error)
	FindActiveAllocation(ctx context.Context, inventoryID int64, loc Location, projectCode string) (Allocation, bool, error)
	LockAllocation(ctx context.Context, id int64) (Allocation, error)
	InsertAllocation(ctx context.Context, a Allocation) (int64, error)
	UpdateAllocation(ctx context.Context, id int64, qty decimal.Decimal, status AllocationStatus) error
	NextDocumentSequence(ctx context.Context, docType DocumentType, fy string) (int64, error)
	InsertOutward(ctx context.Context, o StockOutward) (int64, error)
	LockOutward(ctx context.Context, id int64) (StockOutward, error)
	UpdateOutwardReturn(ctx context.Context, id int64, returned decimal.Decimal, status OutwardStatus) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx joins the ambient transaction or opens a read-committed one.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const selectInventory = `SELECT id, item_no, material_group, material_description, make, times_sq_stock, i_sq_stock,
	sakar_stock, pirana_stock, other_stock, total_stock, allocated_stock, created_at, updated_at
FROM inventory`

func scanInventory(row pgx.Row) (Inventory, error) {
	var inv Inventory
	err := row.Scan(&inv.ID, &inv.ItemNo, &inv.MaterialGroup, &inv.MaterialDescription, &inv.Make,
		&inv.TimesSqStock, &inv.ISqStock, &inv.SakarStock, &inv.PiranaStock, &inv.OtherStock,
		&inv.TotalStock, &inv.AllocatedStock, &inv.CreatedAt, &inv.UpdatedAt)
	return inv, err
}

const selectAllocation = `SELECT id, inventory_id, location, project_code, quantity, status, created_at, updated_at FROM allocations`

func scanAllocation(row pgx.Row) (Allocation, error) {
	var (
		a      Allocation
		loc    string
		status string
	)
	if err := row.Scan(&a.ID, &a.InventoryID, &loc, &a.ProjectCode, &a.Quantity, &status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Allocation{}, err
	}
	a.Location = Location(loc)
	a.Status = AllocationStatus(status)
	return a, nil
}

const selectOutward = `SELECT o.id, o.inventory_id, i.item_no, o.location, o.quantity, o.returned_quantity, o.outward_date,
	o.document_type, o.document_number, o.project_code, o.outward_type, o.status, o.allocation_id,
	o.challan_reference, o.remarks, o.created_by
FROM stock_outwards o
JOIN inventory i ON i.id = o.inventory_id`

func scanOutward(row pgx.Row) (StockOutward, error) {
	var o StockOutward
	var loc, doc, kind, status string
	err := row.Scan(&o.ID, &o.InventoryID, &o.ItemNo, &loc, &o.Quantity, &o.ReturnedQuantity, &o.OutwardDate,
		&doc, &o.DocumentNumber, &o.ProjectCode, &kind, &status, &o.AllocationID,
		&o.ChallanReference, &o.Remarks, &o.CreatedBy)
	if err != nil {
		return StockOutward{}, err
	}
	o.Location = Location(loc)
	o.DocumentType = DocumentType(doc)
	o.OutwardType = OutwardType(kind)
	o.Status = OutwardStatus(status)
	return o, nil
}

// Get returns an inventory row by id.
func (r *Repository) Get(ctx context.Context, id int64) (Inventory, error) {
	inv, err := scanInventory(db.Conn(ctx, r.pool).QueryRow(ctx, selectInventory+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Inventory{}, ErrNotFound
	}
	return inv, err
}

// GetByItemNo returns the inventory row of an item.
func (r *Repository) GetByItemNo(ctx context.Context, itemNo string) (Inventory, error) {
	inv, err := scanInventory(db.Conn(ctx, r.pool).QueryRow(ctx, selectInventory+` WHERE item_no = $1`, itemNo))
	if errors.Is(err, pgx.ErrNoRows) {
		return Inventory{}, ErrNotFound
	}
	return inv, err
}

// List returns a page of inventory rows.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Inventory, int, error) {
	where := ` WHERE 1=1`
	var args []any
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (item_no ILIKE $` + n + ` OR material_description ILIKE $` + n + `)`
	}
	if f.MaterialGroup != "" {
		args = append(args, f.MaterialGroup)
		where += ` AND material_group = $` + strconv.Itoa(len(args))
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventory`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, f.Page.Limit(), f.Page.Offset())
	rows, err := r.pool.Query(ctx, selectInventory+where+` ORDER BY item_no LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	out, err := collectInventory(rows)
	return out, total, err
}

// All returns every inventory row ordered by item number.
func (r *Repository) All(ctx context.Context) ([]Inventory, error) {
	rows, err := r.pool.Query(ctx, selectInventory+` ORDER BY item_no`)
	if err != nil {
		return nil, err
	}
	return collectInventory(rows)
}

func collectInventory(rows pgx.Rows) ([]Inventory, error) {
	defer rows.Close()
	var out []Inventory
	for rows.Next() {
		inv, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// ActiveAllocationTotals sums active allocations per inventory row.
func (r *Repository) ActiveAllocationTotals(ctx context.Context) (map[int64]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx, `SELECT inventory_id, SUM(quantity) FROM allocations WHERE status = 'active' GROUP BY inventory_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var (
			id  int64
			sum decimal.Decimal
		)
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		out[id] = sum
	}
	return out, rows.Err()
}

// ListAllocations returns allocations of an inventory row.
func (r *Repository) ListAllocations(ctx context.Context, inventoryID int64) ([]Allocation, error) {
	rows, err := r.pool.Query(ctx, selectAllocation+` WHERE inventory_id = $1 ORDER BY id`, inventoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAllocation returns an allocation by id.
func (r *Repository) GetAllocation(ctx context.Context, id int64) (Allocation, error) {
	a, err := scanAllocation(db.Conn(ctx, r.pool).QueryRow(ctx, selectAllocation+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Allocation{}, ErrAllocationNotFound
	}
	return a, err
}

// GetOutward returns an outward by id.
func (r *Repository) GetOutward(ctx context.Context, id int64) (StockOutward, error) {
	o, err := scanOutward(db.Conn(ctx, r.pool).QueryRow(ctx, selectOutward+` WHERE o.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return StockOutward{}, ErrOutwardNotFound
	}
	return o, err
}

func (t *txRepository) LockByItemNo(ctx context.Context, itemNo string) (Inventory, bool, error) {
	inv, err := scanInventory(t.tx.QueryRow(ctx, selectInventory+` WHERE item_no = $1 FOR UPDATE`, itemNo))
	if errors.Is(err, pgx.ErrNoRows) {
		return Inventory{}, false, nil
	}
	if err != nil {
		return Inventory{}, false, err
	}
	return inv, true, nil
}

func (t *txRepository) Lock(ctx context.Context, id int64) (Inventory, error) {
	inv, err := scanInventory(t.tx.QueryRow(ctx, selectInventory+` WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Inventory{}, ErrNotFound
	}
	return inv, err
}

// EnsureItem creates an empty ledger row for a new item; concurrent creators
// converge on the same row.
func (t *txRepository) EnsureItem(ctx context.Context, inv Inventory) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO inventory (item_no, material_group, material_description, make, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (item_no) DO NOTHING`,
		inv.ItemNo, inv.MaterialGroup, inv.MaterialDescription, inv.Make)
	return err
}

func (t *txRepository) UpdateStock(ctx context.Context, inv Inventory) error {
	_, err := t.tx.Exec(ctx, `UPDATE inventory SET times_sq_stock = $2, i_sq_stock = $3, sakar_stock = $4,
		pirana_stock = $5, other_stock = $6, total_stock = $7, allocated_stock = $8, updated_at = NOW() WHERE id = $1`,
		inv.ID, inv.TimesSqStock, inv.ISqStock, inv.SakarStock, inv.PiranaStock, inv.OtherStock,
		inv.TotalStock, inv.AllocatedStock)
	return err
}

func (t *txRepository) ActiveAllocated(ctx context.Context, inventoryID int64, loc Location) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM allocations
		WHERE inventory_id = $1 AND location = $2 AND status = 'active'`, inventoryID, string(loc)).Scan(&sum)
	return sum, err
}

func (t *txRepository) FindActiveAllocation(ctx context.Context, inventoryID int64, loc Location, projectCode string) (Allocation, bool, error) {
	a, err := scanAllocation(t.tx.QueryRow(ctx, selectAllocation+` WHERE inventory_id = $1 AND location = $2
		AND project_code = $3 AND status = 'active' ORDER BY id LIMIT 1 FOR UPDATE`, inventoryID, string(loc), projectCode))
	if errors.Is(err, pgx.ErrNoRows) {
		return Allocation{}, false, nil
	}
	if err != nil {
		return Allocation{}, false, err
	}
	return a, true, nil
}

func (t *txRepository) LockAllocation(ctx context.Context, id int64) (Allocation, error) {
	a, err := scanAllocation(t.tx.QueryRow(ctx, selectAllocation+` WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Allocation{}, ErrAllocationNotFound
	}
	return a, err
}

func (t *txRepository) InsertAllocation(ctx context.Context, a Allocation) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO allocations (inventory_id, location, project_code, quantity, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW()) RETURNING id`,
		a.InventoryID, string(a.Location), a.ProjectCode, a.Quantity, string(a.Status)).Scan(&id)
	return id, err
}

func (t *txRepository) UpdateAllocation(ctx context.Context, id int64, qty decimal.Decimal, status AllocationStatus) error {
	_, err := t.tx.Exec(ctx, `UPDATE allocations SET quantity = $2, status = $3, updated_at = NOW() WHERE id = $1`, id, qty, string(status))
	return err
}

func (t *txRepository) NextDocumentSequence(ctx context.Context, docType DocumentType, fy string) (int64, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `INSERT INTO document_sequences (doc_type, fy, last_sequence) VALUES ($1, $2, 1)
		ON CONFLICT (doc_type, fy) DO UPDATE SET last_sequence = document_sequences.last_sequence + 1
		RETURNING last_sequence`, string(docType), fy).Scan(&seq)
	return seq, err
}

func (t *txRepository) InsertOutward(ctx context.Context, o StockOutward) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_outwards (inventory_id, location, quantity, returned_quantity, outward_date,
		document_type, document_number, project_code, outward_type, status, allocation_id, challan_reference, remarks, created_by)
		VALUES ($1, $2, $3, 0, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`,
		o.InventoryID, string(o.Location), o.Quantity, o.OutwardDate, string(o.DocumentType), o.DocumentNumber,
		o.ProjectCode, string(o.OutwardType), string(o.Status), o.AllocationID, o.ChallanReference, o.Remarks, o.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepository) LockOutward(ctx context.Context, id int64) (StockOutward, error) {
	o, err := scanOutward(t.tx.QueryRow(ctx, selectOutward+` WHERE o.id = $1 FOR UPDATE OF o`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return StockOutward{}, ErrOutwardNotFound
	}
	return o, err
}

func (t *txRepository) UpdateOutwardReturn(ctx context.Context, id int64, returned decimal.Decimal, status OutwardStatus) error {
	_, err := t.tx.Exec(ctx, `UPDATE stock_outwards SET returned_quantity = $2, status = $3 WHERE id = $1`, id, returned, string(status))
	return err
}
