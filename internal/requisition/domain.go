package requisition

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cimcon/p2p/internal/shared"
)

// Status is the approval state of a requisition.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// OrderType classifies how a requisitioned item is procured.
type OrderType string

const (
	OrderSupply     OrderType = "SUP"
	OrderITC        OrderType = "ITC"
	OrderOnM        OrderType = "ONM"
	OrderConsumable OrderType = "CON"
	OrderFreight    OrderType = "FRE"
	OrderService    OrderType = "SER"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case OrderSupply, OrderITC, OrderOnM, OrderConsumable, OrderFreight, OrderService:
		return true
	}
	return false
}

// Requisition is one requested material line inside a batch.
type Requisition struct {
	ID                  int64           `json:"id"`
	ProjectCode         string          `json:"project_code,omitempty"`
	DivisionID          int64           `json:"division_id,omitempty"`
	BatchID             string          `json:"batch_id"`
	ItemNo              int             `json:"item_no"`
	CimconPartNumber    string          `json:"cimcon_part_number"`
	MfgPartNumber       string          `json:"mfg_part_number"`
	MaterialDescription string          `json:"material_description"`
	Make                string          `json:"make"`
	MaterialGroup       string          `json:"material_group"`
	ReqQty              decimal.Decimal `json:"req_qty"`
	Unit                string          `json:"unit"`
	RequiredByDate      *time.Time      `json:"required_by_date,omitempty"`
	Remarks             string          `json:"remarks"`
	Status              Status          `json:"status"`
	VerificationStatus  bool            `json:"verification_status"`
	MasterEntryExists   bool            `json:"master_entry_exists"`
	OrderType           OrderType       `json:"order_type"`
	RejectionRemarks    string          `json:"rejection_remarks,omitempty"`
	CreatedBy           string          `json:"created_by"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// ApprovalStatus mirrors status for consumers that expect the legacy flag.
func (r Requisition) ApprovalStatus() bool {
	return r.Status == StatusApproved
}

// MarshalJSON adds the derived approved_status flag.
func (r Requisition) MarshalJSON() ([]byte, error) {
	type plain Requisition
	return json.Marshal(struct {
		plain
		ApprovedStatus bool `json:"approved_status"`
	}{plain(r), r.ApprovalStatus()})
}

// History records one field change of a requisition.
type History struct {
	ID             int64      `json:"id"`
	RequisitionID  int64      `json:"requisition_id"`
	FieldName      string     `json:"field_name"`
	OldValue       string     `json:"old_value"`
	NewValue       string     `json:"new_value"`
	ChangedBy      string     `json:"changed_by"`
	ChangedAt      time.Time  `json:"changed_at"`
	RevisionNumber int        `json:"revision_number"`
	ApprovalStatus bool       `json:"approval_status"`
	ApprovedBy     string     `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	Remarks        string     `json:"remarks,omitempty"`
}

// ListFilter narrows requisition listings.
type ListFilter struct {
	BatchID     string
	ProjectCode string
	Status      Status
	Scope       shared.Scope
	Page        shared.Page
}

var (
	// ErrNotFound indicates the requisition or batch does not exist.
	ErrNotFound = shared.NewError(shared.KindNotFound, "requisition_not_found", "requisition: not found")
	// ErrHistoryNotFound indicates the history row does not exist.
	ErrHistoryNotFound = shared.NewError(shared.KindNotFound, "requisition_history_not_found", "requisition: history not found")
	// ErrInvalidBatch indicates a malformed batch identifier.
	ErrInvalidBatch = shared.NewError(shared.KindValidation, "invalid_batch_format", "requisition: invalid batch id format")
	// ErrValidation indicates an invalid line.
	ErrValidation = shared.NewError(shared.KindValidation, "invalid_requisition", "requisition: invalid input")
	// ErrRemarksRequired is returned when rejecting without remarks.
	ErrRemarksRequired = shared.NewError(shared.KindValidation, "rejection_remarks_required", "requisition: rejection remarks required")
	// ErrInvalidState occurs when an approval transition is not allowed.
	ErrInvalidState = shared.NewError(shared.KindState, "invalid_state", "requisition: invalid state transition")
)

var batchPattern = regexp.MustCompile(`^([1-9][0-9]*)_([A-Za-z0-9-]+)$`)

// ParseBatchID splits "N_PROJECTCODE" into its sequence and project code.
func ParseBatchID(batchID string) (int, string, error) {
	m := batchPattern.FindStringSubmatch(strings.TrimSpace(batchID))
	if m == nil {
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidBatch, batchID)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidBatch, batchID)
	}
	return n, m[2], nil
}

// ValidateBatchID checks the format and, when projectCode is set, that the
// suffix matches it.
func ValidateBatchID(batchID, projectCode string) error {
	_, suffix, err := ParseBatchID(batchID)
	if err != nil {
		return err
	}
	if projectCode != "" && !strings.EqualFold(suffix, projectCode) {
		return fmt.Errorf("%w: %q does not belong to project %s", ErrInvalidBatch, batchID, projectCode)
	}
	return nil
}

// FieldChange is one differing tracked field between two snapshots.
type FieldChange struct {
	Field string
	Old   string
	New   string
}

type trackedField struct {
	name  string
	value func(Requisition) string
}

var trackedFields = []trackedField{
	{"cimcon_part_number", func(r Requisition) string { return r.CimconPartNumber }},
	{"mfg_part_number", func(r Requisition) string { return r.MfgPartNumber }},
	{"material_description", func(r Requisition) string { return r.MaterialDescription }},
	{"make", func(r Requisition) string { return r.Make }},
	{"material_group", func(r Requisition) string { return r.MaterialGroup }},
	{"req_qty", func(r Requisition) string { return formatQty(r.ReqQty) }},
	{"unit", func(r Requisition) string { return r.Unit }},
	{"required_by_date", func(r Requisition) string { return formatDate(r.RequiredByDate) }},
	{"remarks", func(r Requisition) string { return r.Remarks }},
	{"order_type", func(r Requisition) string { return string(r.OrderType) }},
	{"project_code", func(r Requisition) string { return r.ProjectCode }},
}

// Diff lists the tracked fields that differ between before and after.
func Diff(before, after Requisition) []FieldChange {
	var changes []FieldChange
	for _, f := range trackedFields {
		oldVal, newVal := f.value(before), f.value(after)
		if oldVal != newVal {
			changes = append(changes, FieldChange{Field: f.name, Old: oldVal, New: newVal})
		}
	}
	return changes
}

func formatQty(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}
