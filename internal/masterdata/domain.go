package masterdata

import (
	"time"

	"github.com/cimcon/p2p/internal/shared"
)

// Division is an organisational unit owning projects.
type Division struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Project groups requisitions for one client engagement.
type Project struct {
	Code        string    `json:"code" validate:"required,alphanum,max=32"`
	ClientName  string    `json:"client_name" validate:"required"`
	BillTo      string    `json:"bill_to"`
	ShipTo      string    `json:"ship_to"`
	RequestedBy string    `json:"requested_by"`
	SubmittedBy string    `json:"submitted_by"`
	ApprovedBy  string    `json:"approved_by"`
	DivisionID  int64     `json:"division_id" validate:"required,gt=0"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Vendor is a supplier whose details are copied onto purchase orders.
type Vendor struct {
	Code          string    `json:"code" validate:"required,max=32"`
	Name          string    `json:"name" validate:"required"`
	Address       string    `json:"address"`
	Email         string    `json:"email" validate:"omitempty,email"`
	GSTIN         string    `json:"gstin" validate:"omitempty,len=15,alphanum"`
	PAN           string    `json:"pan" validate:"omitempty,len=10,alphanum"`
	State         string    `json:"state"`
	StateCode     string    `json:"state_code" validate:"omitempty,len=2,numeric"`
	ContactPerson string    `json:"contact_person"`
	Phone         string    `json:"phone"`
	PaymentTerms  string    `json:"payment_terms"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

var (
	// ErrProjectNotFound is returned for unknown project codes.
	ErrProjectNotFound = shared.NewError(shared.KindNotFound, "project_not_found", "masterdata: project not found")
	// ErrVendorNotFound is returned for unknown vendor codes.
	ErrVendorNotFound = shared.NewError(shared.KindNotFound, "vendor_not_found", "masterdata: vendor not found")
	// ErrDivisionNotFound is returned for unknown division ids.
	ErrDivisionNotFound = shared.NewError(shared.KindNotFound, "division_not_found", "masterdata: division not found")
)
