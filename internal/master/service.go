package master

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cimcon/p2p/internal/masterdata"
	"github.com/cimcon/p2p/internal/requisition"
	"github.com/cimcon/p2p/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Master, error)
	List(ctx context.Context, f ListFilter) ([]Master, int, error)
}

// StockPort reports stock on hand for a part number.
type StockPort interface {
	StockOnHand(ctx context.Context, itemNo string) (decimal.Decimal, error)
}

// ProjectPort resolves project names for the snapshot.
type ProjectPort interface {
	Project(ctx context.Context, code string) (masterdata.Project, error)
}

// Service maintains master verification rows.
type Service struct {
	repo      RepositoryPort
	stock     StockPort
	projects  ProjectPort
	logger    *slog.Logger
	adminRole string
	now       func() time.Time
}

// NewService constructs master service.
func NewService(repo RepositoryPort, stock StockPort, projects ProjectPort, logger *slog.Logger, adminRole string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, stock: stock, projects: projects, logger: logger, adminRole: adminRole, now: time.Now}
}

// SyncFromRequisition creates the master row for a newly approved requisition
// or refreshes the snapshot of an existing one. Ordering status and SOH are
// only set on creation. Unapproved requisitions are ignored.
func (s *Service) SyncFromRequisition(ctx context.Context, r requisition.Requisition) error {
	if !r.ApprovalStatus() {
		return nil
	}
	projectName := ""
	if r.ProjectCode != "" && s.projects != nil {
		p, err := s.projects.Project(ctx, r.ProjectCode)
		if err != nil {
			return fmt.Errorf("master sync %d: %w", r.ID, err)
		}
		projectName = p.ClientName
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, found, err := tx.LockByRequisition(ctx, r.ID)
		if err != nil {
			return err
		}
		snapshot := Master{
			RequisitionID:       r.ID,
			CimconPartNumber:    r.CimconPartNumber,
			MfgPartNumber:       r.MfgPartNumber,
			MaterialDescription: r.MaterialDescription,
			Make:                r.Make,
			MaterialGroup:       r.MaterialGroup,
			RequiredQuantity:    r.ReqQty,
			Unit:                r.Unit,
			RequiredByDate:      r.RequiredByDate,
			OrderType:           r.OrderType,
			ProjectCode:         r.ProjectCode,
			ProjectName:         projectName,
			Remarks:             r.Remarks,
		}
		if found {
			snapshot.ID = existing.ID
			snapshot.SOH = existing.SOH
			snapshot.OrderingQty = snapshot.defaultOrderingQty()
			return tx.RefreshSnapshot(ctx, snapshot)
		}
		soh := decimal.Zero
		if s.stock != nil && r.CimconPartNumber != "" {
			soh, err = s.stock.StockOnHand(ctx, r.CimconPartNumber)
			if err != nil {
				return err
			}
		}
		snapshot.SOH = soh
		snapshot.OrderingQty = snapshot.defaultOrderingQty()
		snapshot.OrderingStatus = StatusInProgress
		snapshot.IndentDate = s.now()
		id, err := tx.Insert(ctx, snapshot)
		if err != nil {
			return err
		}
		s.logger.Info("master created", slog.Int64("master_id", id), slog.Int64("requisition_id", r.ID))
		return nil
	})
}

// Lookup returns a master row without caller scoping, for use by other services.
func (s *Service) Lookup(ctx context.Context, id int64) (Master, error) {
	return s.repo.Get(ctx, id)
}

// Get returns a master row visible to the caller.
func (s *Service) Get(ctx context.Context, caller shared.Caller, id int64) (Master, error) {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return Master{}, err
	}
	if m.ProjectCode != "" && !shared.ScopeFor(caller, s.adminRole).Allows(m.DivisionID) {
		return Master{}, shared.ErrForbidden
	}
	return m, nil
}

// List returns master rows in the caller's division.
func (s *Service) List(ctx context.Context, caller shared.Caller, f ListFilter) ([]Master, int, error) {
	f.Scope = shared.ScopeFor(caller, s.adminRole)
	return s.repo.List(ctx, f)
}

// MarkOrdered records that a PO line orders qty of the master. The master is
// Ordered once qty covers its ordering quantity, otherwise Partially Ordered.
// Rows already Ordered or further along are left alone.
func (s *Service) MarkOrdered(ctx context.Context, id int64, qty decimal.Decimal) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		switch m.OrderingStatus {
		case StatusCancelled:
			return fmt.Errorf("%w: master %d is cancelled", ErrInvalidState, id)
		case StatusInProgress, StatusPartiallyOrdered:
		default:
			return nil
		}
		next := StatusOrdered
		if qty.LessThan(m.OrderingQty) {
			next = StatusPartiallyOrdered
		}
		if next == m.OrderingStatus {
			return nil
		}
		return tx.UpdateStatus(ctx, id, next)
	})
}

// RecordDelivery reflects inward progress of the PO line referencing the master.
func (s *Service) RecordDelivery(ctx context.Context, id int64, complete bool) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		if m.OrderingStatus == StatusCancelled {
			return fmt.Errorf("%w: master %d is cancelled", ErrInvalidState, id)
		}
		next := StatusPartiallyDelivered
		if complete {
			next = StatusDelivered
		}
		if m.OrderingStatus == next {
			return nil
		}
		return tx.UpdateStatus(ctx, id, next)
	})
}

// Cancel withdraws a master that no purchase order references.
func (s *Service) Cancel(ctx context.Context, caller shared.Caller, id int64) (Master, error) {
	var out Master
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		if m.ProjectCode != "" && !shared.ScopeFor(caller, s.adminRole).Allows(m.DivisionID) {
			return shared.ErrForbidden
		}
		if m.OrderingStatus == StatusCancelled {
			out = m
			return nil
		}
		if m.OrderingStatus != StatusInProgress {
			return fmt.Errorf("%w: master %d is %s", ErrInvalidState, id, m.OrderingStatus)
		}
		referenced, err := tx.HasPOLines(ctx, id)
		if err != nil {
			return err
		}
		if referenced {
			return fmt.Errorf("%w: master %d is on a purchase order", ErrInvalidState, id)
		}
		if err := tx.UpdateStatus(ctx, id, StatusCancelled); err != nil {
			return err
		}
		m.OrderingStatus = StatusCancelled
		out = m
		return nil
	})
	return out, err
}
