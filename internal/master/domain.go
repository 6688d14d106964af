package master

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cimcon/p2p/internal/requisition"
	"github.com/cimcon/p2p/internal/shared"
)

// OrderingStatus tracks procurement progress of a verified line.
type OrderingStatus string

const (
	StatusInProgress         OrderingStatus = "In Progress"
	StatusPartiallyOrdered   OrderingStatus = "Partially Ordered"
	StatusOrdered            OrderingStatus = "Ordered"
	StatusPartiallyDelivered OrderingStatus = "Partially Delivered"
	StatusDelivered          OrderingStatus = "Delivered"
	StatusCancelled          OrderingStatus = "Cancelled"
)

// Master is the verification row created when a requisition is approved.
type Master struct {
	ID                  int64                 `json:"id"`
	RequisitionID       int64                 `json:"requisition_id"`
	IndentDate          time.Time             `json:"indent_date"`
	OrderingStatus      OrderingStatus        `json:"ordering_status"`
	CimconPartNumber    string                `json:"cimcon_part_number"`
	MfgPartNumber       string                `json:"mfg_part_number"`
	MaterialDescription string                `json:"material_description"`
	Make                string                `json:"make"`
	MaterialGroup       string                `json:"material_group"`
	RequiredQuantity    decimal.Decimal       `json:"required_quantity"`
	Unit                string                `json:"unit"`
	RequiredByDate      *time.Time            `json:"required_by_date,omitempty"`
	SOH                 decimal.Decimal       `json:"soh"`
	OrderingQty         decimal.Decimal       `json:"ordering_qty"`
	OrderType           requisition.OrderType `json:"order_type"`
	ProjectCode         string                `json:"project_code"`
	ProjectName         string                `json:"project_name"`
	DivisionID          int64                 `json:"division_id"`
	Remarks             string                `json:"remarks"`
	CreatedAt           time.Time             `json:"created_at"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

// BalanceQuantity is required quantity less stock on hand. It is negative
// when stock on hand already covers the requirement.
func (m Master) BalanceQuantity() decimal.Decimal {
	return m.RequiredQuantity.Sub(m.SOH)
}

// defaultOrderingQty is the balance, floored at zero.
func (m Master) defaultOrderingQty() decimal.Decimal {
	return decimal.Max(m.BalanceQuantity(), decimal.Zero)
}

// ListFilter narrows master listings.
type ListFilter struct {
	ProjectCode string
	Status      OrderingStatus
	Scope       shared.Scope
	Page        shared.Page
}

var (
	// ErrNotFound indicates the master row does not exist.
	ErrNotFound = shared.NewError(shared.KindNotFound, "master_not_found", "master: not found")
	// ErrInvalidState occurs when an ordering transition is not allowed.
	ErrInvalidState = shared.NewError(shared.KindState, "invalid_state", "master: invalid state transition")
)
