package procurement

import (
	"context"
	"errors"
	"strconv"
	"strings"
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
	NextSequence(ctx context.Context, fy string) (int64, error)
	InsertPO(ctx context.Context, po PurchaseOrder) (int64, error)
	LockPO(ctx context.Context, id int64) (PurchaseOrder, error)
	UpdatePO(ctx context.Context, po PurchaseOrder) error
	Lines(ctx context.Context, poID int64) ([]LineItem, error)
	LockLine(ctx context.Context, poID, lineID int64) (LineItem, error)
	InsertLine(ctx context.Context, l LineItem) (int64, error)
	UpdateLine(ctx context.Context, l LineItem) error
	InsertHistory(ctx context.Context, h History) error
	InsertInward(ctx context.Context, e InwardEntry) (int64, error)
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

// headerColumns are the writable purchase_orders columns in argument order.
var headerColumns = []string{
	"po_number", "po_date", "project_code", "quote_ref_number",
	"vendor_code", "vendor_name", "vendor_address", "vendor_email", "vendor_gstin", "vendor_pan",
	"vendor_state", "vendor_state_code", "vendor_contact_person", "vendor_contact", "vendor_payment_terms",
	"consignee_name", "consignee_address", "consignee_gstin", "consignee_state", "consignee_contact_person", "consignee_mobile",
	"invoice_name", "invoice_address", "invoice_gstin", "invoice_state", "invoice_state_code",
	"payment_terms", "warranty_terms", "delivery_schedule", "freight_terms", "tpi_terms", "installation_terms", "commissioning_terms",
	"total_amount", "currency_code", "currency_symbol", "status", "approval_status", "rejection_status",
	"approved_by", "approval_date", "rejected_by", "rejection_date", "rejection_remarks",
	"inward_status", "total_inwarded_quantity", "version", "is_revised", "revision_number", "created_by",
}

func headerArgs(po PurchaseOrder) []any {
	return []any{
		po.PONumber, po.PODate, po.ProjectCode, po.QuoteRefNumber,
		po.VendorCode, po.VendorName, po.VendorAddress, po.VendorEmail, po.VendorGSTIN, po.VendorPAN,
		po.VendorState, po.VendorStateCode, po.VendorContactPerson, po.VendorContact, po.VendorPaymentTerms,
		po.ConsigneeName, po.ConsigneeAddress, po.ConsigneeGSTIN, po.ConsigneeState, po.ConsigneeContactPerson, po.ConsigneeMobile,
		po.InvoiceName, po.InvoiceAddress, po.InvoiceGSTIN, po.InvoiceState, po.InvoiceStateCode,
		po.PaymentTerms, po.WarrantyTerms, po.DeliverySchedule, po.FreightTerms, po.TPITerms, po.InstallationTerms, po.CommissioningTerms,
		po.TotalAmount, po.CurrencyCode, po.CurrencySymbol, string(po.Status), po.ApprovalStatus(), po.RejectionStatus(),
		po.ApprovedBy, po.ApprovalDate, po.RejectedBy, po.RejectionDate, po.RejectionRemarks,
		string(po.InwardStatus), po.TotalInwardedQuantity, po.Version, po.IsRevised, po.RevisionNumber, po.CreatedBy,
	}
}

var selectPO = `SELECT po.id, COALESCE(p.division_id, 0), po.created_at, po.updated_at, po.` +
	strings.Join(headerColumns, ", po.") + `
FROM purchase_orders po
LEFT JOIN projects p ON p.code = NULLIF(po.project_code, '')`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var status, inward string
	var approved, rejected bool
	err := row.Scan(&po.ID, &po.DivisionID, &po.CreatedAt, &po.UpdatedAt,
		&po.PONumber, &po.PODate, &po.ProjectCode, &po.QuoteRefNumber,
		&po.VendorCode, &po.VendorName, &po.VendorAddress, &po.VendorEmail, &po.VendorGSTIN, &po.VendorPAN,
		&po.VendorState, &po.VendorStateCode, &po.VendorContactPerson, &po.VendorContact, &po.VendorPaymentTerms,
		&po.ConsigneeName, &po.ConsigneeAddress, &po.ConsigneeGSTIN, &po.ConsigneeState, &po.ConsigneeContactPerson, &po.ConsigneeMobile,
		&po.InvoiceName, &po.InvoiceAddress, &po.InvoiceGSTIN, &po.InvoiceState, &po.InvoiceStateCode,
		&po.PaymentTerms, &po.WarrantyTerms, &po.DeliverySchedule, &po.FreightTerms, &po.TPITerms, &po.InstallationTerms, &po.CommissioningTerms,
		&po.TotalAmount, &po.CurrencyCode, &po.CurrencySymbol, &status, &approved, &rejected,
		&po.ApprovedBy, &po.ApprovalDate, &po.RejectedBy, &po.RejectionDate, &po.RejectionRemarks,
		&inward, &po.TotalInwardedQuantity, &po.Version, &po.IsRevised, &po.RevisionNumber, &po.CreatedBy)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Status = POStatus(status)
	po.InwardStatus = InwardStatus(inward)
	return po, nil
}

const selectLine = `SELECT id, po_id, master_id, item_no, cimcon_part_number, material_description, make, material_group,
	hsn_code, quantity, unit, unit_price, total_price, gst_rate, expected_delivery, inwarded_quantity, added_in_revision, is_revised
FROM po_line_items`

func scanLine(row pgx.Row) (LineItem, error) {
	var l LineItem
	err := row.Scan(&l.ID, &l.POID, &l.MasterID, &l.ItemNo, &l.CimconPartNumber, &l.MaterialDescription, &l.Make,
		&l.MaterialGroup, &l.HSNCode, &l.Quantity, &l.Unit, &l.UnitPrice, &l.TotalPrice, &l.GSTRate, &l.ExpectedDelivery,
		&l.InwardedQuantity, &l.AddedInRevision, &l.IsRevised)
	return l, err
}

func collectLines(rows pgx.Rows) ([]LineItem, error) {
	defer rows.Close()
	var out []LineItem
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Get returns an order with its line items.
func (r *Repository) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	conn := db.Conn(ctx, r.pool)
	po, err := scanPO(conn.QueryRow(ctx, selectPO+` WHERE po.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrNotFound
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	rows, err := conn.Query(ctx, selectLine+` WHERE po_id = $1 ORDER BY item_no`, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if po.Items, err = collectLines(rows); err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// List returns order headers in scope.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]PurchaseOrder, int, error) {
	where := ` WHERE 1=1`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where += ` AND ` + clause + `$` + strconv.Itoa(len(args))
	}
	if !f.Scope.All {
		add(`p.division_id = `, f.Scope.DivisionID)
	}
	if f.Status != "" {
		add(`po.status = `, string(f.Status))
	}
	if f.ProjectCode != "" {
		add(`po.project_code = `, f.ProjectCode)
	}
	if f.VendorCode != "" {
		add(`po.vendor_code = `, f.VendorCode)
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders po LEFT JOIN projects p ON p.code = NULLIF(po.project_code, '')`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, f.Page.Limit(), f.Page.Offset())
	rows, err := r.pool.Query(ctx, selectPO+where+` ORDER BY po.po_date DESC, po.id DESC LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, po)
	}
	return out, total, rows.Err()
}

// ListHistory returns the journal of an order, oldest first.
func (r *Repository) ListHistory(ctx context.Context, poID int64) ([]History, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, po_id, action, description, actor, created_at, previous_version, new_version
		FROM po_history WHERE po_id = $1 ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []History
	for rows.Next() {
		var (
			h      History
			action string
		)
		if err := rows.Scan(&h.ID, &h.POID, &action, &h.Description, &h.Actor, &h.At, &h.PreviousVersion, &h.NewVersion); err != nil {
			return nil, err
		}
		h.Action = HistoryAction(action)
		out = append(out, h)
	}
	return out, rows.Err()
}

// ListInward returns receipts posted against an order.
func (r *Repository) ListInward(ctx context.Context, poID int64) ([]InwardEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, po_id, line_id, received_quantity, received_date, location,
		invoice_number, challan_number, batch_number, reference, created_by
		FROM po_inward_entries WHERE po_id = $1 ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InwardEntry
	for rows.Next() {
		var e InwardEntry
		if err := rows.Scan(&e.ID, &e.POID, &e.LineID, &e.ReceivedQuantity, &e.ReceivedDate, &e.Location,
			&e.InvoiceNumber, &e.ChallanNumber, &e.BatchNumber, &e.Reference, &e.CreatedBy); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastSequence returns the last issued sequence of a financial year, zero if none.
func (r *Repository) LastSequence(ctx context.Context, fy string) (int64, error) {
	var last int64
	err := r.pool.QueryRow(ctx, `SELECT last_sequence FROM po_sequences WHERE fy = $1`, fy).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return last, err
}

func (t *txRepo) NextSequence(ctx context.Context, fy string) (int64, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `INSERT INTO po_sequences (fy, last_sequence) VALUES ($1, 1)
		ON CONFLICT (fy) DO UPDATE SET last_sequence = po_sequences.last_sequence + 1
		RETURNING last_sequence`, fy).Scan(&seq)
	return seq, err
}

func (t *txRepo) InsertPO(ctx context.Context, po PurchaseOrder) (int64, error) {
	args := headerArgs(po)
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_orders (`+strings.Join(headerColumns, ", ")+`, created_at, updated_at)
		VALUES (`+strings.Join(placeholders, ", ")+`, NOW(), NOW()) RETURNING id`, args...).Scan(&id)
	return id, err
}

func (t *txRepo) LockPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := scanPO(t.tx.QueryRow(ctx, selectPO+` WHERE po.id = $1 FOR UPDATE OF po`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrNotFound
	}
	return po, err
}

func (t *txRepo) UpdatePO(ctx context.Context, po PurchaseOrder) error {
	args := headerArgs(po)
	sets := make([]string, len(headerColumns))
	for i, col := range headerColumns {
		sets[i] = col + " = $" + strconv.Itoa(i+2)
	}
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET `+strings.Join(sets, ", ")+`, updated_at = NOW() WHERE id = $1`,
		append([]any{po.ID}, args...)...)
	return err
}

func (t *txRepo) Lines(ctx context.Context, poID int64) ([]LineItem, error) {
	rows, err := t.tx.Query(ctx, selectLine+` WHERE po_id = $1 ORDER BY item_no`, poID)
	if err != nil {
		return nil, err
	}
	return collectLines(rows)
}

func (t *txRepo) LockLine(ctx context.Context, poID, lineID int64) (LineItem, error) {
	l, err := scanLine(t.tx.QueryRow(ctx, selectLine+` WHERE po_id = $1 AND id = $2 FOR UPDATE`, poID, lineID))
	if errors.Is(err, pgx.ErrNoRows) {
		return LineItem{}, ErrLineNotFound
	}
	return l, err
}

func (t *txRepo) InsertLine(ctx context.Context, l LineItem) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO po_line_items (po_id, master_id, item_no, cimcon_part_number, material_description,
		make, material_group, hsn_code, quantity, unit, unit_price, total_price, gst_rate, expected_delivery,
		inwarded_quantity, added_in_revision, is_revised)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17) RETURNING id`,
		l.POID, l.MasterID, l.ItemNo, l.CimconPartNumber, l.MaterialDescription, l.Make, l.MaterialGroup, l.HSNCode,
		l.Quantity, l.Unit, l.UnitPrice, l.TotalPrice, l.GSTRate, l.ExpectedDelivery, l.InwardedQuantity,
		l.AddedInRevision, l.IsRevised).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateLine(ctx context.Context, l LineItem) error {
	_, err := t.tx.Exec(ctx, `UPDATE po_line_items SET master_id = $2, cimcon_part_number = $3, material_description = $4,
		make = $5, material_group = $6, hsn_code = $7, quantity = $8, unit = $9, unit_price = $10, total_price = $11,
		gst_rate = $12, expected_delivery = $13, inwarded_quantity = $14, is_revised = $15 WHERE id = $1`,
		l.ID, l.MasterID, l.CimconPartNumber, l.MaterialDescription, l.Make, l.MaterialGroup, l.HSNCode, l.Quantity,
		l.Unit, l.UnitPrice, l.TotalPrice, l.GSTRate, l.ExpectedDelivery, l.InwardedQuantity, l.IsRevised)
	return err
}

func (t *txRepo) InsertHistory(ctx context.Context, h History) error {
	at := h.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO po_history (po_id, action, description, actor, created_at, previous_version, new_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.POID, string(h.Action), h.Description, h.Actor, at, h.PreviousVersion, h.NewVersion)
	return err
}

func (t *txRepo) InsertInward(ctx context.Context, e InwardEntry) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO po_inward_entries (po_id, line_id, received_quantity, received_date, location,
		invoice_number, challan_number, batch_number, reference, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		e.POID, e.LineID, e.ReceivedQuantity, e.ReceivedDate, e.Location, e.InvoiceNumber, e.ChallanNumber,
		e.BatchNumber, e.Reference, e.CreatedBy).Scan(&id)
	return id, err
}
