package procurement

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cimcon/p2p/internal/shared"
)

// POStatus is the lifecycle state of a purchase order.
type POStatus string

const (
	StatusDraft              POStatus = "draft"
	StatusPendingApproval    POStatus = "pending_approval"
	StatusApproved           POStatus = "approved"
	StatusRejected           POStatus = "rejected"
	StatusOrdered            POStatus = "ordered"
	StatusPartiallyOrdered   POStatus = "partially_ordered"
	StatusDelivered          POStatus = "delivered"
	StatusPartiallyDelivered POStatus = "partially_delivered"
	StatusCancelled          POStatus = "cancelled"
	StatusOnHold             POStatus = "on_hold"
)

// Approved reports whether the order has passed approval and not been
// reopened since.
func (s POStatus) Approved() bool {
	switch s {
	case StatusApproved, StatusOrdered, StatusPartiallyOrdered, StatusDelivered, StatusPartiallyDelivered, StatusOnHold:
		return true
	}
	return false
}

// receivable reports whether inward may be posted in this state.
func (s POStatus) receivable() bool {
	switch s {
	case StatusApproved, StatusOrdered, StatusPartiallyOrdered, StatusPartiallyDelivered:
		return true
	}
	return false
}

// InwardStatus summarises receipts against the order.
type InwardStatus string

const (
	InwardOpen              InwardStatus = "open"
	InwardPartiallyInwarded InwardStatus = "partially_inwarded"
	InwardCompleted         InwardStatus = "completed"
)

// VendorSnapshot is copied from the vendor master when the order is created.
type VendorSnapshot struct {
	VendorCode          string `json:"vendor_code"`
	VendorName          string `json:"vendor_name"`
	VendorAddress       string `json:"vendor_address"`
	VendorEmail         string `json:"vendor_email"`
	VendorGSTIN         string `json:"vendor_gstin"`
	VendorPAN           string `json:"vendor_pan"`
	VendorState         string `json:"vendor_state"`
	VendorStateCode     string `json:"vendor_state_code"`
	VendorContactPerson string `json:"vendor_contact_person"`
	VendorContact       string `json:"vendor_contact"`
	VendorPaymentTerms  string `json:"vendor_payment_terms"`
}

// ConsigneeSnapshot is the delivery party.
type ConsigneeSnapshot struct {
	ConsigneeName          string `json:"consignee_name"`
	ConsigneeAddress       string `json:"consignee_address"`
	ConsigneeGSTIN         string `json:"consignee_gstin"`
	ConsigneeState         string `json:"consignee_state"`
	ConsigneeContactPerson string `json:"consignee_contact_person"`
	ConsigneeMobile        string `json:"consignee_mobile"`
}

// InvoiceSnapshot is the billing party.
type InvoiceSnapshot struct {
	InvoiceName      string `json:"invoice_name"`
	InvoiceAddress   string `json:"invoice_address"`
	InvoiceGSTIN     string `json:"invoice_gstin"`
	InvoiceState     string `json:"invoice_state"`
	InvoiceStateCode string `json:"invoice_state_code"`
}

// Terms are the commercial conditions printed on the order.
type Terms struct {
	PaymentTerms       string `json:"payment_terms"`
	WarrantyTerms      string `json:"warranty_terms"`
	DeliverySchedule   string `json:"delivery_schedule"`
	FreightTerms       string `json:"freight_terms"`
	TPITerms           string `json:"tpi_terms"`
	InstallationTerms  string `json:"installation_terms"`
	CommissioningTerms string `json:"commissioning_terms"`
}

// PurchaseOrder is an order issued to a vendor.
type PurchaseOrder struct {
	ID             int64     `json:"id"`
	PONumber       string    `json:"po_number"`
	PODate         time.Time `json:"po_date"`
	ProjectCode    string    `json:"project_code"`
	DivisionID     int64     `json:"division_id"`
	QuoteRefNumber string    `json:"quote_ref_number"`
	VendorSnapshot
	ConsigneeSnapshot
	InvoiceSnapshot
	Terms
	TotalAmount           decimal.Decimal `json:"total_amount"`
	CurrencyCode          string          `json:"currency_code"`
	CurrencySymbol        string          `json:"currency_symbol"`
	Status                POStatus        `json:"status"`
	ApprovedBy            string          `json:"approved_by,omitempty"`
	ApprovalDate          *time.Time      `json:"approval_date,omitempty"`
	RejectedBy            string          `json:"rejected_by,omitempty"`
	RejectionDate         *time.Time      `json:"rejection_date,omitempty"`
	RejectionRemarks      string          `json:"rejection_remarks,omitempty"`
	InwardStatus          InwardStatus    `json:"inward_status"`
	TotalInwardedQuantity decimal.Decimal `json:"total_inwarded_quantity"`
	Version               decimal.Decimal `json:"version"`
	IsRevised             bool            `json:"is_revised"`
	RevisionNumber        int             `json:"revision_number"`
	CreatedBy             string          `json:"created_by"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
	Items                 []LineItem      `json:"items"`
}

// ApprovalStatus mirrors Status for consumers of the boolean flag.
func (po PurchaseOrder) ApprovalStatus() bool { return po.Status.Approved() }

// RejectionStatus mirrors Status for consumers of the boolean flag.
func (po PurchaseOrder) RejectionStatus() bool { return po.Status == StatusRejected }

// MarshalJSON adds the derived approval flags.
func (po PurchaseOrder) MarshalJSON() ([]byte, error) {
	type plain PurchaseOrder
	return json.Marshal(struct {
		plain
		ApprovalStatus  bool `json:"approval_status"`
		RejectionStatus bool `json:"rejection_status"`
	}{plain(po), po.ApprovalStatus(), po.RejectionStatus()})
}

// LineItem is one ordered material.
type LineItem struct {
	ID                  int64           `json:"id"`
	POID                int64           `json:"po_id"`
	MasterID            int64           `json:"requisition_id"`
	ItemNo              int             `json:"item_no"`
	CimconPartNumber    string          `json:"cimcon_part_number"`
	MaterialDescription string          `json:"material_description"`
	Make                string          `json:"make"`
	MaterialGroup       string          `json:"material_group"`
	HSNCode             string          `json:"hsn_code"`
	Quantity            decimal.Decimal `json:"quantity"`
	Unit                string          `json:"unit"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	TotalPrice          decimal.Decimal `json:"total_price"`
	GSTRate             decimal.Decimal `json:"gst_rate"`
	ExpectedDelivery    *time.Time      `json:"expected_delivery,omitempty"`
	InwardedQuantity    decimal.Decimal `json:"inwarded_quantity"`
	AddedInRevision     decimal.Decimal `json:"added_in_revision"`
	IsRevised           bool            `json:"is_revised"`
}

// Tax is the GST amount of the line.
func (l LineItem) Tax() decimal.Decimal {
	return l.TotalPrice.Mul(l.GSTRate).Div(hundred)
}

// Pending is the quantity still to be received.
func (l LineItem) Pending() decimal.Decimal {
	return l.Quantity.Sub(l.InwardedQuantity)
}

// StockKey is the inventory item number receipts of this line are booked to.
func (l LineItem) StockKey() string {
	return l.CimconPartNumber
}

var hundred = decimal.NewFromInt(100)

// defaultGSTRate applies when an item carries no rate.
var defaultGSTRate = decimal.NewFromInt(18)

// priceLine maintains total_price = quantity × unit_price.
func priceLine(l *LineItem) {
	l.TotalPrice = l.Quantity.Mul(l.UnitPrice)
}

// OrderTotal is the sum of line totals including per-line GST.
func OrderTotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, l := range items {
		total = total.Add(l.TotalPrice).Add(l.Tax())
	}
	return total.Round(2)
}

// DeriveInward computes the inward status and total inwarded quantity.
func DeriveInward(items []LineItem) (InwardStatus, decimal.Decimal) {
	total := decimal.Zero
	complete := len(items) > 0
	for _, l := range items {
		total = total.Add(l.InwardedQuantity)
		if l.InwardedQuantity.LessThan(l.Quantity) {
			complete = false
		}
	}
	switch {
	case complete:
		return InwardCompleted, total
	case total.IsZero():
		return InwardOpen, total
	default:
		return InwardPartiallyInwarded, total
	}
}

// HistoryAction names a journal entry.
type HistoryAction string

const (
	ActionApproved        HistoryAction = "approved"
	ActionRejected        HistoryAction = "rejected"
	ActionResubmitted     HistoryAction = "resubmitted"
	ActionEditResubmitted HistoryAction = "edit_resubmitted"
	ActionRevision        HistoryAction = "revision"
	ActionOnHold          HistoryAction = "on_hold"
	ActionReleased        HistoryAction = "released"
	ActionCancelled       HistoryAction = "cancelled"
	ActionOrdered         HistoryAction = "ordered"
)

// History is an append-only journal row of a purchase order.
type History struct {
	ID              int64            `json:"id"`
	POID            int64            `json:"po_id"`
	Action          HistoryAction    `json:"action"`
	Description     string           `json:"description"`
	Actor           string           `json:"actor"`
	At              time.Time        `json:"at"`
	PreviousVersion *decimal.Decimal `json:"previous_version,omitempty"`
	NewVersion      *decimal.Decimal `json:"new_version,omitempty"`
}

// InwardEntry records one receipt against a line.
type InwardEntry struct {
	ID               int64           `json:"id"`
	POID             int64           `json:"po_id"`
	LineID           int64           `json:"line_id"`
	ReceivedQuantity decimal.Decimal `json:"received_quantity"`
	ReceivedDate     time.Time       `json:"received_date"`
	Location         string          `json:"location"`
	InvoiceNumber    string          `json:"invoice_number"`
	ChallanNumber    string          `json:"challan_number"`
	BatchNumber      string          `json:"batch_number"`
	Reference        string          `json:"reference"`
	CreatedBy        string          `json:"created_by"`
}

// ListFilter narrows order listings.
type ListFilter struct {
	Status      POStatus
	ProjectCode string
	VendorCode  string
	Scope       shared.Scope
	Page        shared.Page
}

var (
	// ErrNotFound indicates the purchase order does not exist.
	ErrNotFound = shared.NewError(shared.KindNotFound, "po_not_found", "procurement: purchase order not found")
	// ErrLineNotFound indicates the line is not on the order.
	ErrLineNotFound = shared.NewError(shared.KindNotFound, "po_line_not_found", "procurement: line item not found")
	// ErrInvalidState occurs when action violates status workflow.
	ErrInvalidState = shared.NewError(shared.KindState, "invalid_state", "procurement: invalid state transition")
	// ErrOverInward occurs when receipts would exceed the ordered quantity.
	ErrOverInward = shared.NewError(shared.KindState, "over_inward", "procurement: inwarded quantity exceeds ordered quantity")
	// ErrValidation indicates invalid input.
	ErrValidation = shared.NewError(shared.KindValidation, "invalid_input", "procurement: invalid input")
	// ErrRemarksRequired is returned when rejecting without remarks.
	ErrRemarksRequired = shared.NewError(shared.KindValidation, "rejection_remarks_required", "procurement: rejection remarks required")
	// ErrInvalidPONumber indicates a malformed purchase order number.
	ErrInvalidPONumber = shared.NewError(shared.KindValidation, "invalid_po_number", "procurement: invalid purchase order number")
)
