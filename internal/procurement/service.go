package procurement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cimcon/p2p/internal/inventory"
	"github.com/cimcon/p2p/internal/master"
	"github.com/cimcon/p2p/internal/masterdata"
	"github.com/cimcon/p2p/internal/platform/cache"
	"github.com/cimcon/p2p/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (PurchaseOrder, error)
	List(ctx context.Context, f ListFilter) ([]PurchaseOrder, int, error)
	ListHistory(ctx context.Context, poID int64) ([]History, error)
	ListInward(ctx context.Context, poID int64) ([]InwardEntry, error)
	LastSequence(ctx context.Context, fy string) (int64, error)
}

// MasterPort moves master rows along as orders reference and receive them.
type MasterPort interface {
	Lookup(ctx context.Context, id int64) (master.Master, error)
	MarkOrdered(ctx context.Context, id int64, qty decimal.Decimal) error
	RecordDelivery(ctx context.Context, id int64, complete bool) error
}

// InventoryPort books received material into stock.
type InventoryPort interface {
	PostInward(ctx context.Context, in inventory.InwardInput) (inventory.Inventory, error)
}

// ProjectPort resolves the owning division of an order.
type ProjectPort interface {
	Project(ctx context.Context, code string) (masterdata.Project, error)
}

// VendorPort resolves vendor master records for snapshots.
type VendorPort interface {
	Vendor(ctx context.Context, code string) (masterdata.Vendor, error)
}

// HSNLookup maps a material group to its HSN/SAC code.
type HSNLookup interface {
	LookupHSN(materialGroup string) (string, error)
}

// IdempotencyPort guards replayed inward postings.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
}

// PreviewCache holds advisory next-number previews.
type PreviewCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// MetricsPort counts issued numbers.
type MetricsPort interface {
	PONumberIssued()
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Dependencies groups the collaborators of Service. Only Masters is required.
type Dependencies struct {
	Masters     MasterPort
	Inventory   InventoryPort
	Projects    ProjectPort
	Vendors     VendorPort
	HSN         HSNLookup
	Idempotency IdempotencyPort
	Preview     PreviewCache
	Notifier    Notifier
	Metrics     MetricsPort
	Audit       AuditPort
	Logger      *slog.Logger
	AdminRole   string
}

// Service orchestrates purchase order flows.
type Service struct {
	repo        RepositoryPort
	masters     MasterPort
	inventory   InventoryPort
	projects    ProjectPort
	vendors     VendorPort
	hsn         HSNLookup
	idempotency IdempotencyPort
	preview     PreviewCache
	notifier    Notifier
	metrics     MetricsPort
	audit       AuditPort
	logger      *slog.Logger
	adminRole   string
	now         func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, deps Dependencies) *Service {
	s := &Service{
		repo:        repo,
		masters:     deps.Masters,
		inventory:   deps.Inventory,
		projects:    deps.Projects,
		vendors:     deps.Vendors,
		hsn:         deps.HSN,
		idempotency: deps.Idempotency,
		preview:     deps.Preview,
		notifier:    deps.Notifier,
		metrics:     deps.Metrics,
		audit:       deps.Audit,
		logger:      deps.Logger,
		adminRole:   deps.AdminRole,
		now:         time.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.preview == nil {
		s.preview = (*cache.TTLCache)(nil)
	}
	return s
}

var versionOne = decimal.NewFromInt(1)

// ItemInput describes one ordered line. The HSN code is accepted under
// hsn_code, hsnSac or hsn_sac.
type ItemInput struct {
	MasterID            int64            `json:"requisition_id" validate:"required"`
	ItemNo              int              `json:"item_no" validate:"gte=0"`
	CimconPartNumber    string           `json:"cimcon_part_number"`
	MaterialDescription string           `json:"material_description"`
	Make                string           `json:"make"`
	MaterialGroup       string           `json:"material_group"`
	HSNCode             string           `json:"hsn_code"`
	Quantity            decimal.Decimal  `json:"quantity"`
	Unit                string           `json:"unit"`
	UnitPrice           decimal.Decimal  `json:"unit_price"`
	TotalPrice          decimal.Decimal  `json:"total_price"`
	GSTRate             *decimal.Decimal `json:"gst_rate"`
	ExpectedDelivery    string           `json:"expected_delivery"`
}

// UnmarshalJSON folds the HSN aliases into HSNCode.
func (in *ItemInput) UnmarshalJSON(data []byte) error {
	type plain ItemInput
	var aux struct {
		plain
		HSNSac      string `json:"hsnSac"`
		HSNSacSnake string `json:"hsn_sac"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*in = ItemInput(aux.plain)
	if in.HSNCode == "" {
		in.HSNCode = aux.HSNSac
	}
	if in.HSNCode == "" {
		in.HSNCode = aux.HSNSacSnake
	}
	return nil
}

// SaveInput is the create and update payload. po_number is assigned by the
// sequencer and ignored when supplied.
type SaveInput struct {
	PONumber       string `json:"po_number"`
	PODate         string `json:"po_date"`
	ProjectCode    string `json:"project_code"`
	QuoteRefNumber string `json:"quote_ref_number"`
	VendorSnapshot
	ConsigneeSnapshot
	InvoiceSnapshot
	Terms
	CurrencyCode   string      `json:"currency_code"`
	CurrencySymbol string      `json:"currency_symbol"`
	Items          []ItemInput `json:"items" validate:"required,min=1,dive"`
}

func parseDate(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: date %q", ErrValidation, v)
}

// Create stores a draft order, numbers it and marks the referenced masters
// as ordered, all in one transaction.
func (s *Service) Create(ctx context.Context, caller shared.Caller, in SaveInput) (PurchaseOrder, error) {
	if len(in.Items) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: at least one item required", ErrValidation)
	}
	if err := s.checkProject(ctx, caller, in.ProjectCode); err != nil {
		return PurchaseOrder{}, err
	}
	now := s.now()
	po := PurchaseOrder{
		PODate:       now,
		Status:       StatusDraft,
		InwardStatus: InwardOpen,
		Version:      versionOne,
		CreatedBy:    caller.Name,
	}
	if err := s.applyHeader(ctx, &po, in); err != nil {
		return PurchaseOrder{}, err
	}
	items := make([]LineItem, 0, len(in.Items))
	for _, item := range in.Items {
		l, err := s.newLine(ctx, item, versionOne)
		if err != nil {
			return PurchaseOrder{}, err
		}
		items = append(items, l)
	}
	if err := numberLines(items); err != nil {
		return PurchaseOrder{}, err
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := nextPONumber(ctx, tx, now)
		if err != nil {
			return err
		}
		po.PONumber = number
		po.TotalAmount = OrderTotal(items)
		po.ID, err = tx.InsertPO(ctx, po)
		if err != nil {
			return err
		}
		for i := range items {
			items[i].POID = po.ID
			if items[i].ID, err = tx.InsertLine(ctx, items[i]); err != nil {
				return err
			}
			if err := s.masters.MarkOrdered(ctx, items[i].MasterID, items[i].Quantity); err != nil {
				return fmt.Errorf("item %d: %w", items[i].ItemNo, err)
			}
		}
		po.Items = items
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	if s.metrics != nil {
		s.metrics.PONumberIssued()
	}
	s.forgetPreview(ctx, now)
	s.logger.Info("purchase order created", slog.Int64("po_id", po.ID), slog.String("po_number", po.PONumber))
	s.recordAudit(ctx, "po:create", po.ID, map[string]any{"po_number": po.PONumber, "items": len(items)})
	return po, nil
}

// applyHeader copies header fields and snapshots from the payload. Vendor
// fields are taken from the vendor master when only the code is supplied.
func (s *Service) applyHeader(ctx context.Context, po *PurchaseOrder, in SaveInput) error {
	date, err := parseDate(in.PODate)
	if err != nil {
		return err
	}
	if date != nil {
		po.PODate = *date
	}
	po.ProjectCode = in.ProjectCode
	po.QuoteRefNumber = in.QuoteRefNumber
	po.VendorSnapshot = in.VendorSnapshot
	po.ConsigneeSnapshot = in.ConsigneeSnapshot
	po.InvoiceSnapshot = in.InvoiceSnapshot
	po.Terms = in.Terms
	po.CurrencyCode = in.CurrencyCode
	po.CurrencySymbol = in.CurrencySymbol
	if po.CurrencyCode == "" {
		po.CurrencyCode = "INR"
	}
	if po.CurrencySymbol == "" && po.CurrencyCode == "INR" {
		po.CurrencySymbol = "₹"
	}
	if po.VendorName == "" && po.VendorCode != "" && s.vendors != nil {
		v, err := s.vendors.Vendor(ctx, po.VendorCode)
		if err != nil {
			return err
		}
		po.VendorSnapshot = VendorSnapshot{
			VendorCode:          v.Code,
			VendorName:          v.Name,
			VendorAddress:       v.Address,
			VendorEmail:         v.Email,
			VendorGSTIN:         v.GSTIN,
			VendorPAN:           v.PAN,
			VendorState:         v.State,
			VendorStateCode:     v.StateCode,
			VendorContactPerson: v.ContactPerson,
			VendorContact:       v.Phone,
			VendorPaymentTerms:  v.PaymentTerms,
		}
	}
	if po.PaymentTerms == "" {
		po.PaymentTerms = po.VendorPaymentTerms
	}
	if po.VendorName == "" {
		return fmt.Errorf("%w: vendor_name or vendor_code required", ErrValidation)
	}
	return nil
}

// newLine builds a line from the payload, filling blanks from the master row.
func (s *Service) newLine(ctx context.Context, in ItemInput, version decimal.Decimal) (LineItem, error) {
	l := LineItem{ItemNo: in.ItemNo, AddedInRevision: version}
	if err := s.applyItem(ctx, &l, in); err != nil {
		return LineItem{}, err
	}
	return l, nil
}

func (s *Service) applyItem(ctx context.Context, l *LineItem, in ItemInput) error {
	if in.MasterID <= 0 {
		return fmt.Errorf("%w: requisition_id required", ErrValidation)
	}
	if !in.Quantity.IsPositive() {
		return fmt.Errorf("%w: item %d quantity must be positive", ErrValidation, in.ItemNo)
	}
	if in.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: item %d unit price must not be negative", ErrValidation, in.ItemNo)
	}
	expected, err := parseDate(in.ExpectedDelivery)
	if err != nil {
		return err
	}
	if in.MasterID != l.MasterID {
		m, err := s.masters.Lookup(ctx, in.MasterID)
		if err != nil {
			return err
		}
		if m.OrderingStatus == master.StatusCancelled {
			return fmt.Errorf("%w: master %d is cancelled", ErrInvalidState, m.ID)
		}
		l.MasterID = m.ID
		l.CimconPartNumber = m.CimconPartNumber
		l.MaterialDescription = m.MaterialDescription
		l.Make = m.Make
		l.MaterialGroup = m.MaterialGroup
		l.Unit = m.Unit
	}
	l.CimconPartNumber = firstNonEmpty(in.CimconPartNumber, l.CimconPartNumber)
	l.MaterialDescription = firstNonEmpty(in.MaterialDescription, l.MaterialDescription)
	l.Make = firstNonEmpty(in.Make, l.Make)
	l.MaterialGroup = firstNonEmpty(in.MaterialGroup, l.MaterialGroup)
	l.Unit = firstNonEmpty(in.Unit, l.Unit)
	l.HSNCode = firstNonEmpty(in.HSNCode, l.HSNCode)
	if l.HSNCode == "" {
		if s.hsn == nil {
			return fmt.Errorf("%w: item %d hsn_code required", ErrValidation, in.ItemNo)
		}
		code, err := s.hsn.LookupHSN(l.MaterialGroup)
		if err != nil {
			return fmt.Errorf("item %d: %w", in.ItemNo, err)
		}
		l.HSNCode = code
	}
	l.Quantity = in.Quantity
	l.UnitPrice = in.UnitPrice
	switch {
	case in.GSTRate != nil:
		l.GSTRate = *in.GSTRate
	case l.GSTRate.IsZero():
		l.GSTRate = defaultGSTRate
	}
	if expected != nil {
		l.ExpectedDelivery = expected
	}
	if l.Quantity.LessThan(l.InwardedQuantity) {
		return fmt.Errorf("%w: item %d quantity %s below inwarded %s", ErrOverInward, l.ItemNo, l.Quantity, l.InwardedQuantity)
	}
	priceLine(l)
	return nil
}

// numberLines assigns item numbers to lines without one and rejects duplicates.
func numberLines(items []LineItem) error {
	used := make(map[int]bool, len(items))
	highest := 0
	for _, l := range items {
		if l.ItemNo == 0 {
			continue
		}
		if used[l.ItemNo] {
			return fmt.Errorf("%w: duplicate item_no %d", ErrValidation, l.ItemNo)
		}
		used[l.ItemNo] = true
		highest = max(highest, l.ItemNo)
	}
	for i := range items {
		if items[i].ItemNo == 0 {
			highest++
			items[i].ItemNo = highest
		}
	}
	return nil
}

func sameLine(a, b LineItem) bool {
	sameDate := (a.ExpectedDelivery == nil) == (b.ExpectedDelivery == nil)
	if sameDate && a.ExpectedDelivery != nil {
		sameDate = a.ExpectedDelivery.Equal(*b.ExpectedDelivery)
	}
	return sameDate &&
		a.MasterID == b.MasterID &&
		a.Quantity.Equal(b.Quantity) &&
		a.UnitPrice.Equal(b.UnitPrice) &&
		a.GSTRate.Equal(b.GSTRate) &&
		a.HSNCode == b.HSNCode &&
		a.MaterialDescription == b.MaterialDescription &&
		a.Make == b.Make &&
		a.Unit == b.Unit
}

// Update edits an order. Draft, rejected and pending orders change in place;
// an approved order is revised: its version grows by one and approval reopens.
// Lines are matched on item_no; lines absent from the payload are kept.
func (s *Service) Update(ctx context.Context, caller shared.Caller, id int64, in SaveInput) (PurchaseOrder, error) {
	if len(in.Items) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: at least one item required", ErrValidation)
	}
	if err := s.checkProject(ctx, caller, in.ProjectCode); err != nil {
		return PurchaseOrder{}, err
	}
	var history History
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := s.lockScoped(ctx, tx, caller, id)
		if err != nil {
			return err
		}
		revision := false
		switch po.Status {
		case StatusDraft, StatusRejected, StatusPendingApproval:
		case StatusApproved:
			revision = true
		default:
			return fmt.Errorf("%w: cannot edit %s order %s", ErrInvalidState, po.Status, po.PONumber)
		}
		previous := po.Version
		if revision {
			po.Version = po.Version.Add(versionOne)
			po.IsRevised = true
			po.RevisionNumber++
		}
		if err := s.applyHeader(ctx, &po, in); err != nil {
			return err
		}
		clearDecision(&po)
		po.Status = StatusPendingApproval

		lines, err := tx.Lines(ctx, po.ID)
		if err != nil {
			return err
		}
		byNo := make(map[int]int, len(lines))
		highest := 0
		for i, l := range lines {
			byNo[l.ItemNo] = i
			highest = max(highest, l.ItemNo)
		}
		seen := make(map[int]bool, len(in.Items))
		for _, item := range in.Items {
			if item.ItemNo != 0 && seen[item.ItemNo] {
				return fmt.Errorf("%w: duplicate item_no %d", ErrValidation, item.ItemNo)
			}
			seen[item.ItemNo] = true
			if idx, ok := byNo[item.ItemNo]; ok && item.ItemNo != 0 {
				before := lines[idx]
				updated := before
				if err := s.applyItem(ctx, &updated, item); err != nil {
					return err
				}
				if sameLine(before, updated) {
					continue
				}
				if revision {
					updated.IsRevised = true
				}
				if err := tx.UpdateLine(ctx, updated); err != nil {
					return err
				}
				if updated.MasterID != before.MasterID || !updated.Quantity.Equal(before.Quantity) {
					if err := s.masters.MarkOrdered(ctx, updated.MasterID, updated.Quantity); err != nil {
						return fmt.Errorf("item %d: %w", updated.ItemNo, err)
					}
				}
				lines[idx] = updated
				continue
			}
			l, err := s.newLine(ctx, item, po.Version)
			if err != nil {
				return err
			}
			if l.ItemNo == 0 {
				highest++
				l.ItemNo = highest
			}
			highest = max(highest, l.ItemNo)
			l.POID = po.ID
			if l.ID, err = tx.InsertLine(ctx, l); err != nil {
				return err
			}
			if err := s.masters.MarkOrdered(ctx, l.MasterID, l.Quantity); err != nil {
				return fmt.Errorf("item %d: %w", l.ItemNo, err)
			}
			byNo[l.ItemNo] = len(lines)
			lines = append(lines, l)
		}
		slices.SortFunc(lines, func(a, b LineItem) int { return a.ItemNo - b.ItemNo })
		po.Items = lines
		po.TotalAmount = OrderTotal(lines)
		po.InwardStatus, po.TotalInwardedQuantity = DeriveInward(lines)
		if err := tx.UpdatePO(ctx, po); err != nil {
			return err
		}
		history = History{POID: po.ID, Action: ActionEditResubmitted, Actor: caller.Name, At: s.now(), Description: "Edited and resubmitted for approval"}
		if revision {
			prev, next := previous, po.Version
			history = History{
				POID:            po.ID,
				Action:          ActionRevision,
				Actor:           caller.Name,
				At:              s.now(),
				Description:     fmt.Sprintf("Revised from version %s to %s", prev.StringFixed(1), next.StringFixed(1)),
				PreviousVersion: &prev,
				NewVersion:      &next,
			}
		}
		return tx.InsertHistory(ctx, history)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "po:"+string(history.Action), id, map[string]any{"description": history.Description})
	return s.repo.Get(ctx, id)
}

func clearDecision(po *PurchaseOrder) {
	po.ApprovedBy = ""
	po.ApprovalDate = nil
	po.RejectedBy = ""
	po.RejectionDate = nil
	po.RejectionRemarks = ""
}

// change mutates a locked order. A zero History action means no journal row;
// changed=false means the call was a no-op.
type change func(po *PurchaseOrder) (h History, changed bool, err error)

func (s *Service) transition(ctx context.Context, caller shared.Caller, id int64, fn change) (PurchaseOrder, bool, error) {
	var (
		changed bool
		action  HistoryAction
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := s.lockScoped(ctx, tx, caller, id)
		if err != nil {
			return err
		}
		h, ok, err := fn(&po)
		if err != nil || !ok {
			return err
		}
		changed = true
		if err := tx.UpdatePO(ctx, po); err != nil {
			return err
		}
		if h.Action == "" {
			return nil
		}
		action = h.Action
		h.POID = po.ID
		h.Actor = caller.Name
		h.At = s.now()
		return tx.InsertHistory(ctx, h)
	})
	if err != nil {
		return PurchaseOrder{}, false, err
	}
	po, err := s.repo.Get(ctx, id)
	if err != nil {
		return PurchaseOrder{}, false, err
	}
	if changed {
		name := "po:" + string(po.Status)
		if action != "" {
			name = "po:" + string(action)
		}
		s.recordAudit(ctx, name, id, map[string]any{"po_number": po.PONumber, "status": po.Status})
	}
	return po, changed, nil
}

// Submit sends a draft for approval.
func (s *Service) Submit(ctx context.Context, caller shared.Caller, id int64) (PurchaseOrder, error) {
	po, _, err := s.transition(ctx, caller, id, func(po *PurchaseOrder) (History, bool, error) {
		switch po.Status {
		case StatusPendingApproval:
			return History{}, false, nil
		case StatusDraft:
			po.Status = StatusPendingApproval
			return History{}, true, nil
		}
		return History{}, false, fmt.Errorf("%w: cannot submit %s order", ErrInvalidState, po.Status)
	})
	return po, err
}

// Approve approves a pending (or legacy draft) order. Approving an approved
// order is a no-op.
func (s *Service) Approve(ctx context.Context, caller shared.Caller, id int64) (PurchaseOrder, error) {
	po, changed, err := s.transition(ctx, caller, id, func(po *PurchaseOrder) (History, bool, error) {
		switch po.Status {
		case StatusApproved:
			return History{}, false, nil
		case StatusPendingApproval, StatusDraft:
		default:
			return History{}, false, fmt.Errorf("%w: cannot approve %s order", ErrInvalidState, po.Status)
		}
		now := s.now()
		clearDecision(po)
		po.Status = StatusApproved
		po.ApprovedBy = caller.Name
		po.ApprovalDate = &now
		return History{Action: ActionApproved, Description: "Approved version " + po.Version.StringFixed(1)}, true, nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	if changed {
		s.notify(ctx, po, ActionApproved, caller, "")
	}
	return po, nil
}

// Reject rejects a pending order with mandatory remarks. Rejecting a rejected
// order is a no-op.
func (s *Service) Reject(ctx context.Context, caller shared.Caller, id int64, remarks string) (PurchaseOrder, error) {
	remarks = strings.TrimSpace(remarks)
	if remarks == "" {
		return PurchaseOrder{}, ErrRemarksRequired
	}
	po, changed, err := s.transition(ctx, caller, id, func(po *PurchaseOrder) (History, bool, error) {
		switch po.Status {
		case StatusRejected:
			return History{}, false, nil
		case StatusPendingApproval, StatusDraft:
		default:
			return History{}, false, fmt.Errorf("%w: cannot reject %s order", ErrInvalidState, po.Status)
		}
		now := s.now()
		clearDecision(po)
		po.Status = StatusRejected
		po.RejectedBy = caller.Name
		po.RejectionDate = &now
		po.RejectionRemarks = remarks
		return History{Action: ActionRejected, Description: remarks}, true, nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	if changed {
		s.notify(ctx, po, ActionRejected, caller, remarks)
	}
	return po, nil
}

// Resubmit reopens a rejected order for approval.
func (s *Service) Resubmit(ctx context.Context, caller shared.Caller, id int64) (PurchaseOrder, error) {
	po, _, err := s.transition(ctx, caller, id, func(po *PurchaseOrder) (History, bool, error) {
		if po.Status != StatusRejected {
			return History{}, false, fmt.Errorf("%w: cannot resubmit %s order", ErrInvalidState, po.Status)
		}
		clearDecision(po)
		po.Status = StatusPendingApproval
		return History{Action: ActionResubmitted, Description: "Resubmitted for approval"}, true, nil
	})
	return po, err
}

// Hold parks an approved order.
func (s *Service) Hold(ctx context.Context, caller shared.Caller, id int64, remarks string) (PurchaseOrder, error) {
	po, _, err := s.transition(ctx, caller, id, func(po *PurchaseOrder) (History, bool, error) {
		switch po.Status {
		case StatusOnHold:
			return History{}, false, nil
		case StatusApproved:
			po.Status = StatusOnHold
			return History{Action: ActionOnHold, Description: remarks}, true, nil
		}
		return History{}, false, fmt.Errorf("%w: cannot hold %s order", ErrInvalidState, po.Status)
	})
	return po, err
}

// Release returns a held order to approved.
func (s *Service) Release(ctx context.Context, caller shared.Caller, id int64) (PurchaseOrder, error) {
	po, _, err := s.transition(ctx, caller, id, func(po *PurchaseOrder) (History, bool, error) {
		if po.Status != StatusOnHold {
			return History{}, false, fmt.Errorf("%w: cannot release %s order", ErrInvalidState, po.Status)
		}
		po.Status = StatusApproved
		return History{Action: ActionReleased, Description: "Released from hold"}, true, nil
	})
	return po, err
}

// MarkOrdered records that an approved order was placed with the vendor.
func (s *Service) MarkOrdered(ctx context.Context, caller shared.Caller, id int64) (PurchaseOrder, error) {
	po, _, err := s.transition(ctx, caller, id, func(po *PurchaseOrder) (History, bool, error) {
		switch po.Status {
		case StatusOrdered:
			return History{}, false, nil
		case StatusApproved:
			po.Status = StatusOrdered
			return History{Action: ActionOrdered, Description: "Placed with vendor"}, true, nil
		}
		return History{}, false, fmt.Errorf("%w: cannot mark %s order as ordered", ErrInvalidState, po.Status)
	})
	return po, err
}

// Cancel withdraws an order that has received nothing.
func (s *Service) Cancel(ctx context.Context, caller shared.Caller, id int64, remarks string) (PurchaseOrder, error) {
	po, _, err := s.transition(ctx, caller, id, func(po *PurchaseOrder) (History, bool, error) {
		switch po.Status {
		case StatusCancelled:
			return History{}, false, nil
		case StatusDelivered, StatusPartiallyDelivered:
			return History{}, false, fmt.Errorf("%w: cannot cancel %s order", ErrInvalidState, po.Status)
		}
		if po.TotalInwardedQuantity.IsPositive() {
			return History{}, false, fmt.Errorf("%w: order %s has inwarded material", ErrInvalidState, po.PONumber)
		}
		po.Status = StatusCancelled
		return History{Action: ActionCancelled, Description: remarks}, true, nil
	})
	return po, err
}

// Get returns an order visible to the caller.
func (s *Service) Get(ctx context.Context, caller shared.Caller, id int64) (PurchaseOrder, error) {
	po, err := s.repo.Get(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if po.ProjectCode != "" && !shared.ScopeFor(caller, s.adminRole).Allows(po.DivisionID) {
		return PurchaseOrder{}, shared.ErrForbidden
	}
	return po, nil
}

// List returns orders in the caller's division.
func (s *Service) List(ctx context.Context, caller shared.Caller, f ListFilter) ([]PurchaseOrder, int, error) {
	f.Scope = shared.ScopeFor(caller, s.adminRole)
	return s.repo.List(ctx, f)
}

// History returns the journal of an order.
func (s *Service) History(ctx context.Context, caller shared.Caller, id int64) ([]History, error) {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, id)
}

// Inwards returns receipts of an order.
func (s *Service) Inwards(ctx context.Context, caller shared.Caller, id int64) ([]InwardEntry, error) {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return nil, err
	}
	return s.repo.ListInward(ctx, id)
}

func (s *Service) checkProject(ctx context.Context, caller shared.Caller, code string) error {
	if code == "" || s.projects == nil {
		return nil
	}
	p, err := s.projects.Project(ctx, code)
	if err != nil {
		return err
	}
	if !shared.ScopeFor(caller, s.adminRole).Allows(p.DivisionID) {
		return shared.ErrForbidden
	}
	return nil
}

func (s *Service) lockScoped(ctx context.Context, tx TxRepository, caller shared.Caller, id int64) (PurchaseOrder, error) {
	po, err := tx.LockPO(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if po.ProjectCode != "" && !shared.ScopeFor(caller, s.adminRole).Allows(po.DivisionID) {
		return PurchaseOrder{}, shared.ErrForbidden
	}
	return po, nil
}

func (s *Service) notify(ctx context.Context, po PurchaseOrder, action HistoryAction, caller shared.Caller, remarks string) {
	if s.notifier == nil {
		return
	}
	evt := DecisionEvent{
		POID:        po.ID,
		PONumber:    po.PONumber,
		Action:      action,
		Actor:       caller.Name,
		Remarks:     remarks,
		VendorName:  po.VendorName,
		VendorEmail: po.VendorEmail,
		CreatedBy:   po.CreatedBy,
		At:          s.now(),
	}
	if err := s.notifier.NotifyDecision(ctx, evt); err != nil {
		s.logger.Warn("po decision notification failed", slog.Int64("po_id", po.ID), slog.String("po_number", po.PONumber), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "purchase_order", EntityID: strconv.FormatInt(entityID, 10), Meta: meta})
	if err != nil {
		s.logger.Warn("po audit failed", slog.String("action", action), slog.Int64("po_id", entityID), slog.Any("error", err))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
