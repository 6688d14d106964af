package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cimcon/p2p/internal/shared"
)

// Location names a physical stock point.
type Location string

const (
	LocationTimesSquare Location = "times_sq"
	LocationISquare     Location = "i_sq"
	LocationSakar       Location = "sakar"
	LocationPirana      Location = "pirana"
	LocationOther       Location = "other"
)

// Locations lists stock points in statement order.
var Locations = []Location{LocationTimesSquare, LocationISquare, LocationSakar, LocationPirana, LocationOther}

// Valid reports whether l is a known location.
func (l Location) Valid() bool {
	for _, known := range Locations {
		if l == known {
			return true
		}
	}
	return false
}

// Inventory is the stock ledger row of one item.
type Inventory struct {
	ID                  int64           `json:"id"`
	ItemNo              string          `json:"item_no"`
	MaterialGroup       string          `json:"material_group"`
	MaterialDescription string          `json:"material_description"`
	Make                string          `json:"make"`
	TimesSqStock        decimal.Decimal `json:"times_sq_stock"`
	ISqStock            decimal.Decimal `json:"i_sq_stock"`
	SakarStock          decimal.Decimal `json:"sakar_stock"`
	PiranaStock         decimal.Decimal `json:"pirana_stock"`
	OtherStock          decimal.Decimal `json:"other_stock"`
	TotalStock          decimal.Decimal `json:"total_stock"`
	AllocatedStock      decimal.Decimal `json:"allocated_stock"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// LocationStock returns the counter of loc.
func (inv Inventory) LocationStock(loc Location) decimal.Decimal {
	switch loc {
	case LocationTimesSquare:
		return inv.TimesSqStock
	case LocationISquare:
		return inv.ISqStock
	case LocationSakar:
		return inv.SakarStock
	case LocationPirana:
		return inv.PiranaStock
	case LocationOther:
		return inv.OtherStock
	}
	return decimal.Zero
}

func (inv *Inventory) setLocationStock(loc Location, qty decimal.Decimal) {
	switch loc {
	case LocationTimesSquare:
		inv.TimesSqStock = qty
	case LocationISquare:
		inv.ISqStock = qty
	case LocationSakar:
		inv.SakarStock = qty
	case LocationPirana:
		inv.PiranaStock = qty
	case LocationOther:
		inv.OtherStock = qty
	}
}

// LocationsTotal sums the per-location counters.
func (inv Inventory) LocationsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, loc := range Locations {
		total = total.Add(inv.LocationStock(loc))
	}
	return total
}

// AvailableStock is total stock not reserved by live allocations.
func (inv Inventory) AvailableStock() decimal.Decimal {
	return inv.TotalStock.Sub(inv.AllocatedStock)
}

// adjust moves the counter of loc by delta and recomputes the total.
func (inv *Inventory) adjust(loc Location, delta decimal.Decimal) error {
	next := inv.LocationStock(loc).Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("%w: %s at %s would be %s", ErrNegativeStock, inv.ItemNo, loc, next)
	}
	inv.setLocationStock(loc, next)
	inv.TotalStock = inv.LocationsTotal()
	return nil
}

// AllocationStatus tracks the life of a reservation.
type AllocationStatus string

const (
	AllocationActive      AllocationStatus = "active"
	AllocationReallocated AllocationStatus = "reallocated"
	AllocationExhausted   AllocationStatus = "exhausted"
)

// Allocation reserves stock at a location for a project.
type Allocation struct {
	ID          int64            `json:"id"`
	InventoryID int64            `json:"inventory_id"`
	Location    Location         `json:"location"`
	ProjectCode string           `json:"project_code"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Status      AllocationStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// OutwardType classifies an issuance.
type OutwardType string

const (
	OutwardProjectIssue    OutwardType = "project_issue"
	OutwardGatePass        OutwardType = "gate_pass"
	OutwardRejectionReturn OutwardType = "rejection_return"
)

// DocumentType is the paper issued with an outward.
type DocumentType string

const (
	DocumentChallan         DocumentType = "challan"
	DocumentGatePass        DocumentType = "gate_pass"
	DocumentRejectionReturn DocumentType = "rejection_return"
)

// Prefix returns the document number prefix.
func (d DocumentType) Prefix() string {
	switch d {
	case DocumentGatePass:
		return "GP"
	case DocumentRejectionReturn:
		return "RR"
	default:
		return "DC"
	}
}

// FormatDocumentNumber renders e.g. DC-2425-00017.
func FormatDocumentNumber(d DocumentType, fy string, seq int64) string {
	return fmt.Sprintf("%s-%s-%05d", d.Prefix(), fy, seq)
}

// OutwardStatus tracks returnable outwards.
type OutwardStatus string

const (
	OutwardIssued   OutwardStatus = "issued"
	OutwardOpen     OutwardStatus = "open"
	OutwardReturned OutwardStatus = "returned"
)

// StockOutward is one issuance of material.
type StockOutward struct {
	ID               int64           `json:"id"`
	InventoryID      int64           `json:"inventory_id"`
	ItemNo           string          `json:"item_no"`
	Location         Location        `json:"location"`
	Quantity         decimal.Decimal `json:"quantity"`
	ReturnedQuantity decimal.Decimal `json:"returned_quantity"`
	OutwardDate      time.Time       `json:"outward_date"`
	DocumentType     DocumentType    `json:"document_type"`
	DocumentNumber   string          `json:"document_number"`
	ProjectCode      string          `json:"project_code"`
	OutwardType      OutwardType     `json:"outward_type"`
	Status           OutwardStatus   `json:"status"`
	AllocationID     *int64          `json:"allocation_id,omitempty"`
	ChallanReference string          `json:"challan_reference,omitempty"`
	Remarks          string          `json:"remarks"`
	CreatedBy        string          `json:"created_by"`
}

// Outstanding is the quantity of a gate pass not yet returned.
func (o StockOutward) Outstanding() decimal.Decimal {
	return o.Quantity.Sub(o.ReturnedQuantity)
}

// InwardInput adds received stock to a location.
type InwardInput struct {
	ItemNo              string          `json:"item_no" validate:"required"`
	MaterialGroup       string          `json:"material_group"`
	MaterialDescription string          `json:"material_description"`
	Make                string          `json:"make"`
	Location            Location        `json:"location" validate:"required"`
	Quantity            decimal.Decimal `json:"quantity"`
	Reference           string          `json:"reference"`
}

// AllocateInput reserves stock for a project.
type AllocateInput struct {
	InventoryID int64           `json:"inventory_id" validate:"required"`
	Location    Location        `json:"location" validate:"required"`
	ProjectCode string          `json:"project_code" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// ReallocateInput moves an allocation to another location or project.
type ReallocateInput struct {
	Location    Location `json:"location" validate:"required"`
	ProjectCode string   `json:"project_code" validate:"required"`
}

// OutwardInput issues stock against a challan or returnable gate pass.
type OutwardInput struct {
	InventoryID  int64           `json:"inventory_id" validate:"required"`
	Location     Location        `json:"location" validate:"required"`
	ProjectCode  string          `json:"project_code"`
	Quantity     decimal.Decimal `json:"quantity"`
	DocumentType DocumentType    `json:"document_type" validate:"required,oneof=challan gate_pass"`
	Remarks      string          `json:"remarks"`
}

// RejectionReturnInput sends rejected material back to the supplier.
type RejectionReturnInput struct {
	InventoryID      int64           `json:"inventory_id" validate:"required"`
	Location         Location        `json:"location" validate:"required"`
	Quantity         decimal.Decimal `json:"quantity"`
	ChallanReference string          `json:"challan_reference" validate:"required"`
	Remarks          string          `json:"remarks"`
}

// ListFilter narrows inventory listings.
type ListFilter struct {
	Search        string
	MaterialGroup string
	Page          shared.Page
}

// Drift describes an inventory row whose stored totals disagree with its parts.
type Drift struct {
	InventoryID     int64
	ItemNo          string
	StoredTotal     decimal.Decimal
	LocationsTotal  decimal.Decimal
	StoredAllocated decimal.Decimal
	ActiveAllocated decimal.Decimal
}

var (
	// ErrNotFound indicates the inventory row does not exist.
	ErrNotFound = shared.NewError(shared.KindNotFound, "inventory_not_found", "inventory: not found")
	// ErrAllocationNotFound indicates the allocation does not exist.
	ErrAllocationNotFound = shared.NewError(shared.KindNotFound, "allocation_not_found", "inventory: allocation not found")
	// ErrOutwardNotFound indicates the outward does not exist.
	ErrOutwardNotFound = shared.NewError(shared.KindNotFound, "outward_not_found", "inventory: outward not found")
	// ErrNegativeStock triggered when a movement would take a location below zero.
	ErrNegativeStock = shared.NewError(shared.KindInvariant, "negative_stock", "inventory: negative stock not allowed")
	// ErrAllocationExceeds triggered when a reservation exceeds free stock.
	ErrAllocationExceeds = shared.NewError(shared.KindInvariant, "allocation_exceeds_available", "inventory: allocation exceeds available stock")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = shared.NewError(shared.KindValidation, "invalid_quantity", "inventory: quantity must be positive")
	// ErrItemRequired indicates an inward without an item number.
	ErrItemRequired = shared.NewError(shared.KindValidation, "item_no_required", "inventory: item_no required")
	// ErrProjectRequired indicates an allocation without a project.
	ErrProjectRequired = shared.NewError(shared.KindValidation, "project_code_required", "inventory: project_code required")
	// ErrInvalidLocation indicates an unknown location.
	ErrInvalidLocation = shared.NewError(shared.KindValidation, "invalid_location", "inventory: unknown location")
	// ErrInvalidState occurs when an allocation or outward cannot make the transition.
	ErrInvalidState = shared.NewError(shared.KindState, "invalid_state", "inventory: invalid state transition")
)
