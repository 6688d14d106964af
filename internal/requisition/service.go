package requisition

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cimcon/p2p/internal/codes"
	"github.com/cimcon/p2p/internal/masterdata"
	"github.com/cimcon/p2p/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Requisition, error)
	ListBatch(ctx context.Context, batchID string) ([]Requisition, error)
	List(ctx context.Context, f ListFilter) ([]Requisition, int, error)
	ListHistory(ctx context.Context, requisitionID int64) ([]History, error)
}

// ProjectPort resolves the owning project of a batch.
type ProjectPort interface {
	Project(ctx context.Context, code string) (masterdata.Project, error)
}

// MasterPort keeps master verification rows in step with approved requisitions.
// It is called inside the requisition transaction.
type MasterPort interface {
	SyncFromRequisition(ctx context.Context, r Requisition) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates requisition flows.
type Service struct {
	repo      RepositoryPort
	projects  ProjectPort
	masters   MasterPort
	audit     AuditPort
	logger    *slog.Logger
	adminRole string
	now       func() time.Time
}

// NewService constructs requisition service.
func NewService(repo RepositoryPort, projects ProjectPort, masters MasterPort, audit AuditPort, logger *slog.Logger, adminRole string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, projects: projects, masters: masters, audit: audit, logger: logger, adminRole: adminRole, now: time.Now}
}

// ItemInput describes one requested line.
type ItemInput struct {
	CimconPartNumber    string          `json:"cimcon_part_number" validate:"cimcon"`
	MfgPartNumber       string          `json:"mfg_part_number"`
	MaterialDescription string          `json:"material_description" validate:"required"`
	Make                string          `json:"make"`
	MaterialGroup       string          `json:"material_group"`
	ReqQty              decimal.Decimal `json:"req_qty"`
	Unit                string          `json:"unit" validate:"required"`
	RequiredByDate      *time.Time      `json:"required_by_date"`
	Remarks             string          `json:"remarks"`
	OrderType           OrderType       `json:"order_type"`
}

// SaveBatchInput describes a batch creation payload.
type SaveBatchInput struct {
	BatchID     string      `json:"batch_id" validate:"required,batchid"`
	ProjectCode string      `json:"project_code"`
	Items       []ItemInput `json:"items" validate:"required,min=1,dive"`
}

// UpdateInput carries the fields to change; nil fields are left alone.
type UpdateInput struct {
	ProjectCode         *string          `json:"project_code"`
	CimconPartNumber    *string          `json:"cimcon_part_number"`
	MfgPartNumber       *string          `json:"mfg_part_number"`
	MaterialDescription *string          `json:"material_description"`
	Make                *string          `json:"make"`
	MaterialGroup       *string          `json:"material_group"`
	ReqQty              *decimal.Decimal `json:"req_qty"`
	Unit                *string          `json:"unit"`
	RequiredByDate      *time.Time       `json:"required_by_date"`
	Remarks             *string          `json:"remarks"`
	OrderType           *OrderType       `json:"order_type"`
}

// SaveBatch persists new lines under a batch, assigning item numbers after
// the batch's current maximum and journalling every populated field as
// revision 1.
func (s *Service) SaveBatch(ctx context.Context, caller shared.Caller, input SaveBatchInput) ([]Requisition, error) {
	input.BatchID = strings.TrimSpace(input.BatchID)
	input.ProjectCode = strings.TrimSpace(input.ProjectCode)
	if err := ValidateBatchID(input.BatchID, input.ProjectCode); err != nil {
		return nil, err
	}
	if len(input.Items) == 0 {
		return nil, fmt.Errorf("%w: batch has no items", ErrValidation)
	}
	var divisionID int64
	if input.ProjectCode != "" {
		project, err := s.projects.Project(ctx, input.ProjectCode)
		if err != nil {
			return nil, err
		}
		if !shared.ScopeFor(caller, s.adminRole).Allows(project.DivisionID) {
			return nil, shared.ErrForbidden
		}
		input.ProjectCode = project.Code
		divisionID = project.DivisionID
	}
	for i, item := range input.Items {
		if err := validateItem(item); err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
	}

	actor := actorOf(caller)
	now := s.now()
	var saved []Requisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockBatchKey(ctx, input.BatchID); err != nil {
			return err
		}
		next, err := tx.MaxItemNo(ctx, input.BatchID)
		if err != nil {
			return err
		}
		for _, item := range input.Items {
			next++
			req := Requisition{
				ProjectCode:         input.ProjectCode,
				DivisionID:          divisionID,
				BatchID:             input.BatchID,
				ItemNo:              next,
				CimconPartNumber:    codes.Normalize(item.CimconPartNumber),
				MfgPartNumber:       strings.TrimSpace(item.MfgPartNumber),
				MaterialDescription: strings.TrimSpace(item.MaterialDescription),
				Make:                strings.TrimSpace(item.Make),
				MaterialGroup:       strings.TrimSpace(item.MaterialGroup),
				ReqQty:              item.ReqQty,
				Unit:                strings.TrimSpace(item.Unit),
				RequiredByDate:      item.RequiredByDate,
				Remarks:             item.Remarks,
				Status:              StatusPending,
				OrderType:           item.OrderType,
				CreatedBy:           actor,
			}
			if req.OrderType == "" {
				req.OrderType = OrderSupply
			}
			created, err := tx.Insert(ctx, req)
			if err != nil {
				return err
			}
			created.DivisionID = divisionID
			for _, change := range Diff(Requisition{}, created) {
				if err := tx.InsertHistory(ctx, History{
					RequisitionID:  created.ID,
					FieldName:      change.Field,
					OldValue:       change.Old,
					NewValue:       change.New,
					ChangedBy:      actor,
					ChangedAt:      now,
					RevisionNumber: 1,
				}); err != nil {
					return err
				}
			}
			saved = append(saved, created)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor, "REQUISITION_BATCH_SAVE", input.BatchID, map[string]any{"items": len(saved), "project_code": input.ProjectCode})
	return saved, nil
}

// Update edits a requisition, journalling each changed field under one new
// revision number. Editing a rejected requisition re-opens it as pending; an
// approved requisition stays approved and refreshes its master row.
func (s *Service) Update(ctx context.Context, caller shared.Caller, id int64, input UpdateInput) (Requisition, error) {
	actor := actorOf(caller)
	var updated Requisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		before, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		if err := s.checkScope(caller, before); err != nil {
			return err
		}
		after := applyUpdate(before, input)
		if input.ProjectCode != nil && after.ProjectCode != before.ProjectCode {
			if err := ValidateBatchID(after.BatchID, after.ProjectCode); err != nil {
				return err
			}
			if after.ProjectCode != "" {
				project, err := s.projects.Project(ctx, after.ProjectCode)
				if err != nil {
					return err
				}
				if !shared.ScopeFor(caller, s.adminRole).Allows(project.DivisionID) {
					return shared.ErrForbidden
				}
				after.DivisionID = project.DivisionID
			}
		}
		if err := validateItem(itemOf(after)); err != nil {
			return err
		}
		changes := Diff(before, after)
		if before.Status == StatusRejected {
			after.Status = StatusPending
			after.RejectionRemarks = ""
			changes = append(changes, FieldChange{Field: "status", Old: string(StatusRejected), New: string(StatusPending)})
		}
		if len(changes) == 0 {
			updated = before
			return nil
		}
		revision, err := tx.MaxRevision(ctx, id)
		if err != nil {
			return err
		}
		revision++
		now := s.now()
		for _, change := range changes {
			if err := tx.InsertHistory(ctx, History{
				RequisitionID:  id,
				FieldName:      change.Field,
				OldValue:       change.Old,
				NewValue:       change.New,
				ChangedBy:      actor,
				ChangedAt:      now,
				RevisionNumber: revision,
			}); err != nil {
				return err
			}
		}
		if err := tx.Update(ctx, after); err != nil {
			return err
		}
		if after.ApprovalStatus() && s.masters != nil {
			if err := s.masters.SyncFromRequisition(ctx, after); err != nil {
				return err
			}
		}
		updated = after
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	s.recordAudit(ctx, actor, "REQUISITION_UPDATE", fmt.Sprintf("%d", id), map[string]any{"batch_id": updated.BatchID})
	return updated, nil
}

// ApproveBatch approves every pending requisition of a batch and creates
// their master rows in the same transaction. Already approved lines are
// left untouched; a rejected line blocks the whole batch.
func (s *Service) ApproveBatch(ctx context.Context, caller shared.Caller, batchID string) ([]Requisition, error) {
	if _, _, err := ParseBatchID(batchID); err != nil {
		return nil, err
	}
	actor := actorOf(caller)
	var result []Requisition
	approved := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		reqs, err := tx.LockBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if len(reqs) == 0 {
			return fmt.Errorf("%w: batch %s", ErrNotFound, batchID)
		}
		for _, r := range reqs {
			if err := s.checkScope(caller, r); err != nil {
				return err
			}
			if r.Status == StatusRejected {
				return fmt.Errorf("%w: item %d of %s is rejected", ErrInvalidState, r.ItemNo, batchID)
			}
		}
		for i, r := range reqs {
			if r.Status == StatusApproved {
				continue
			}
			r.Status = StatusApproved
			if s.masters != nil {
				if err := s.masters.SyncFromRequisition(ctx, r); err != nil {
					return err
				}
				r.VerificationStatus = true
				r.MasterEntryExists = true
			}
			if err := tx.UpdateStatus(ctx, r.ID, StatusApproved, "", r.VerificationStatus); err != nil {
				return err
			}
			reqs[i] = r
			approved++
		}
		result = reqs
		return nil
	})
	if err != nil {
		return nil, err
	}
	if approved > 0 {
		s.recordAudit(ctx, actor, "REQUISITION_BATCH_APPROVE", batchID, map[string]any{"approved": approved})
	}
	return result, nil
}

// RejectBatch rejects every pending requisition of a batch.
func (s *Service) RejectBatch(ctx context.Context, caller shared.Caller, batchID, remarks string) ([]Requisition, error) {
	remarks = strings.TrimSpace(remarks)
	if remarks == "" {
		return nil, ErrRemarksRequired
	}
	if _, _, err := ParseBatchID(batchID); err != nil {
		return nil, err
	}
	actor := actorOf(caller)
	var result []Requisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		reqs, err := tx.LockBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if len(reqs) == 0 {
			return fmt.Errorf("%w: batch %s", ErrNotFound, batchID)
		}
		for _, r := range reqs {
			if err := s.checkScope(caller, r); err != nil {
				return err
			}
			if r.Status == StatusApproved {
				return fmt.Errorf("%w: item %d of %s is approved", ErrInvalidState, r.ItemNo, batchID)
			}
		}
		for i, r := range reqs {
			if r.Status == StatusRejected {
				continue
			}
			if err := tx.UpdateStatus(ctx, r.ID, StatusRejected, remarks, false); err != nil {
				return err
			}
			r.Status = StatusRejected
			r.RejectionRemarks = remarks
			reqs[i] = r
		}
		result = reqs
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor, "REQUISITION_BATCH_REJECT", batchID, map[string]any{"remarks": remarks})
	return result, nil
}

// ApproveRevision marks a history row as approved. Approving twice is a no-op.
func (s *Service) ApproveRevision(ctx context.Context, caller shared.Caller, historyID int64, remarks string) (History, error) {
	actor := actorOf(caller)
	var out History
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		h, err := tx.LockHistory(ctx, historyID)
		if err != nil {
			return err
		}
		if h.ApprovalStatus {
			out = h
			return nil
		}
		req, err := tx.Lock(ctx, h.RequisitionID)
		if err != nil {
			return err
		}
		if err := s.checkScope(caller, req); err != nil {
			return err
		}
		now := s.now()
		h.ApprovalStatus = true
		h.ApprovedBy = actor
		h.ApprovedAt = &now
		h.Remarks = strings.TrimSpace(remarks)
		if err := tx.ApproveHistory(ctx, h); err != nil {
			return err
		}
		out = h
		return nil
	})
	return out, err
}

// Get returns a requisition visible to the caller.
func (s *Service) Get(ctx context.Context, caller shared.Caller, id int64) (Requisition, error) {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return Requisition{}, err
	}
	if err := s.checkScope(caller, r); err != nil {
		return Requisition{}, err
	}
	return r, nil
}

// Batch returns every line of a batch.
func (s *Service) Batch(ctx context.Context, caller shared.Caller, batchID string) ([]Requisition, error) {
	reqs, err := s.repo.ListBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: batch %s", ErrNotFound, batchID)
	}
	for _, r := range reqs {
		if err := s.checkScope(caller, r); err != nil {
			return nil, err
		}
	}
	return reqs, nil
}

// List returns requisitions whose project belongs to the caller's division;
// admins see everything.
func (s *Service) List(ctx context.Context, caller shared.Caller, f ListFilter) ([]Requisition, int, error) {
	f.Scope = shared.ScopeFor(caller, s.adminRole)
	return s.repo.List(ctx, f)
}

// History returns the change journal of a requisition.
func (s *Service) History(ctx context.Context, caller shared.Caller, id int64) ([]History, error) {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, id)
}

func (s *Service) checkScope(caller shared.Caller, r Requisition) error {
	if r.ProjectCode == "" {
		return nil
	}
	if !shared.ScopeFor(caller, s.adminRole).Allows(r.DivisionID) {
		return shared.ErrForbidden
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Actor: actor, Action: action, Entity: "requisition", EntityID: entityID, Meta: meta}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func validateItem(item ItemInput) error {
	if strings.TrimSpace(item.MaterialDescription) == "" {
		return fmt.Errorf("%w: material description required", ErrValidation)
	}
	if !item.ReqQty.IsPositive() {
		return fmt.Errorf("%w: req_qty must be positive", ErrValidation)
	}
	if strings.TrimSpace(item.Unit) == "" {
		return fmt.Errorf("%w: unit required", ErrValidation)
	}
	if item.OrderType != "" && !item.OrderType.Valid() {
		return fmt.Errorf("%w: order type %q", ErrValidation, item.OrderType)
	}
	if pn := strings.TrimSpace(item.CimconPartNumber); pn != "" {
		if err := codes.Validate(strings.ToUpper(pn)); err != nil {
			return err
		}
	}
	return nil
}

func itemOf(r Requisition) ItemInput {
	return ItemInput{
		CimconPartNumber:    r.CimconPartNumber,
		MaterialDescription: r.MaterialDescription,
		ReqQty:              r.ReqQty,
		Unit:                r.Unit,
		OrderType:           r.OrderType,
	}
}

func applyUpdate(r Requisition, in UpdateInput) Requisition {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setString(&r.ProjectCode, in.ProjectCode)
	setString(&r.CimconPartNumber, in.CimconPartNumber)
	r.CimconPartNumber = strings.ToUpper(r.CimconPartNumber)
	setString(&r.MfgPartNumber, in.MfgPartNumber)
	setString(&r.MaterialDescription, in.MaterialDescription)
	setString(&r.Make, in.Make)
	setString(&r.MaterialGroup, in.MaterialGroup)
	setString(&r.Unit, in.Unit)
	setString(&r.Remarks, in.Remarks)
	if in.ReqQty != nil {
		r.ReqQty = *in.ReqQty
	}
	if in.RequiredByDate != nil {
		d := *in.RequiredByDate
		r.RequiredByDate = &d
	}
	if in.OrderType != nil {
		r.OrderType = *in.OrderType
	}
	return r
}

func actorOf(c shared.Caller) string {
	if c.Name != "" {
		return c.Name
	}
	if c.UserID != "" {
		return c.UserID
	}
	return "system"
}
