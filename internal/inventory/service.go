package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cimcon/p2p/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Inventory, error)
	GetByItemNo(ctx context.Context, itemNo string) (Inventory, error)
	List(ctx context.Context, f ListFilter) ([]Inventory, int, error)
	All(ctx context.Context) ([]Inventory, error)
	ActiveAllocationTotals(ctx context.Context) (map[int64]decimal.Decimal, error)
	ListAllocations(ctx context.Context, inventoryID int64) ([]Allocation, error)
	GetAllocation(ctx context.Context, id int64) (Allocation, error)
	GetOutward(ctx context.Context, id int64) (StockOutward, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts stock movements.
type MetricsPort interface {
	StockMoved(kind string)
}

// Service coordinates inventory operations.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, metrics MetricsPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, metrics: metrics, logger: logger, now: time.Now}
}

func checkMovement(loc Location, qty decimal.Decimal) error {
	if !loc.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidLocation, loc)
	}
	if !qty.IsPositive() {
		return ErrInvalidQuantity
	}
	return nil
}

// PostInward adds received stock to a location, creating the ledger row on
// first receipt. It joins the caller's transaction when one is open.
func (s *Service) PostInward(ctx context.Context, in InwardInput) (Inventory, error) {
	if in.ItemNo == "" {
		return Inventory{}, ErrItemRequired
	}
	if err := checkMovement(in.Location, in.Quantity); err != nil {
		return Inventory{}, err
	}
	var out Inventory
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, found, err := tx.LockByItemNo(ctx, in.ItemNo)
		if err != nil {
			return err
		}
		if !found {
			seed := Inventory{ItemNo: in.ItemNo, MaterialGroup: in.MaterialGroup, MaterialDescription: in.MaterialDescription, Make: in.Make}
			if err := tx.EnsureItem(ctx, seed); err != nil {
				return err
			}
			if inv, found, err = tx.LockByItemNo(ctx, in.ItemNo); err != nil {
				return err
			}
			if !found {
				return ErrNotFound
			}
		}
		if err := inv.adjust(in.Location, in.Quantity); err != nil {
			return err
		}
		if err := tx.UpdateStock(ctx, inv); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return Inventory{}, err
	}
	s.moved("inward")
	s.record(ctx, "inventory:inward", out.ID, map[string]any{
		"item_no":   in.ItemNo,
		"location":  in.Location,
		"qty":       in.Quantity.String(),
		"reference": in.Reference,
	})
	return out, nil
}

// StockOnHand returns the total stock of an item; unknown items have none.
func (s *Service) StockOnHand(ctx context.Context, itemNo string) (decimal.Decimal, error) {
	inv, err := s.repo.GetByItemNo(ctx, itemNo)
	if errors.Is(err, ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return inv.TotalStock, nil
}

// freeAt is the stock at loc not reserved by active allocations.
func freeAt(ctx context.Context, tx TxRepository, inv Inventory, loc Location) (decimal.Decimal, error) {
	reserved, err := tx.ActiveAllocated(ctx, inv.ID, loc)
	if err != nil {
		return decimal.Zero, err
	}
	return inv.LocationStock(loc).Sub(reserved), nil
}

// Allocate reserves stock at a location for a project.
func (s *Service) Allocate(ctx context.Context, in AllocateInput) (Allocation, error) {
	if err := checkMovement(in.Location, in.Quantity); err != nil {
		return Allocation{}, err
	}
	if in.ProjectCode == "" {
		return Allocation{}, ErrProjectRequired
	}
	var out Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.Lock(ctx, in.InventoryID)
		if err != nil {
			return err
		}
		free, err := freeAt(ctx, tx, inv, in.Location)
		if err != nil {
			return err
		}
		if in.Quantity.GreaterThan(free) {
			return fmt.Errorf("%w: %s free at %s, requested %s", ErrAllocationExceeds, free, in.Location, in.Quantity)
		}
		a := Allocation{InventoryID: inv.ID, Location: in.Location, ProjectCode: in.ProjectCode, Quantity: in.Quantity, Status: AllocationActive}
		if a.ID, err = tx.InsertAllocation(ctx, a); err != nil {
			return err
		}
		inv.AllocatedStock = inv.AllocatedStock.Add(in.Quantity)
		if err := tx.UpdateStock(ctx, inv); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return Allocation{}, err
	}
	s.record(ctx, "inventory:allocate", out.InventoryID, map[string]any{
		"allocation_id": out.ID,
		"location":      out.Location,
		"project_code":  out.ProjectCode,
		"qty":           out.Quantity.String(),
	})
	return out, nil
}

// Reallocate moves the remaining quantity of an active allocation to another
// location or project. allocated_stock is unchanged.
func (s *Service) Reallocate(ctx context.Context, allocationID int64, in ReallocateInput) (Allocation, error) {
	if !in.Location.Valid() {
		return Allocation{}, fmt.Errorf("%w: %q", ErrInvalidLocation, in.Location)
	}
	current, err := s.repo.GetAllocation(ctx, allocationID)
	if err != nil {
		return Allocation{}, err
	}
	var out Allocation
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.Lock(ctx, current.InventoryID)
		if err != nil {
			return err
		}
		old, err := tx.LockAllocation(ctx, allocationID)
		if err != nil {
			return err
		}
		if old.Status != AllocationActive {
			return fmt.Errorf("%w: allocation %d is %s", ErrInvalidState, old.ID, old.Status)
		}
		if old.Location == in.Location && old.ProjectCode == in.ProjectCode {
			return fmt.Errorf("%w: allocation %d already at %s for %s", ErrInvalidState, old.ID, in.Location, in.ProjectCode)
		}
		free, err := freeAt(ctx, tx, inv, in.Location)
		if err != nil {
			return err
		}
		if old.Location == in.Location {
			free = free.Add(old.Quantity)
		}
		if old.Quantity.GreaterThan(free) {
			return fmt.Errorf("%w: %s free at %s, moving %s", ErrAllocationExceeds, free, in.Location, old.Quantity)
		}
		if err := tx.UpdateAllocation(ctx, old.ID, old.Quantity, AllocationReallocated); err != nil {
			return err
		}
		next := Allocation{InventoryID: inv.ID, Location: in.Location, ProjectCode: in.ProjectCode, Quantity: old.Quantity, Status: AllocationActive}
		if next.ID, err = tx.InsertAllocation(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return Allocation{}, err
	}
	s.record(ctx, "inventory:reallocate", out.InventoryID, map[string]any{
		"from_allocation_id": allocationID,
		"allocation_id":      out.ID,
		"location":           out.Location,
		"project_code":       out.ProjectCode,
	})
	return out, nil
}

// Outward issues stock from a location. An active allocation of the project at
// that location is consumed first; any remainder comes from free stock.
func (s *Service) Outward(ctx context.Context, caller shared.Caller, in OutwardInput) (StockOutward, error) {
	if err := checkMovement(in.Location, in.Quantity); err != nil {
		return StockOutward{}, err
	}
	kind, status := OutwardProjectIssue, OutwardIssued
	switch in.DocumentType {
	case DocumentChallan:
	case DocumentGatePass:
		kind, status = OutwardGatePass, OutwardOpen
	default:
		return StockOutward{}, fmt.Errorf("%w: document_type %q", ErrInvalidState, in.DocumentType)
	}
	var out StockOutward
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.Lock(ctx, in.InventoryID)
		if err != nil {
			return err
		}
		if inv.LocationStock(in.Location).LessThan(in.Quantity) {
			return fmt.Errorf("%w: %s at %s is %s, issuing %s", ErrNegativeStock, inv.ItemNo, in.Location, inv.LocationStock(in.Location), in.Quantity)
		}
		var allocationID *int64
		fromAllocation := decimal.Zero
		if in.ProjectCode != "" {
			alloc, found, err := tx.FindActiveAllocation(ctx, inv.ID, in.Location, in.ProjectCode)
			if err != nil {
				return err
			}
			if found {
				fromAllocation = decimal.Min(alloc.Quantity, in.Quantity)
				remaining := alloc.Quantity.Sub(fromAllocation)
				next := AllocationActive
				if remaining.IsZero() {
					next = AllocationExhausted
				}
				if err := tx.UpdateAllocation(ctx, alloc.ID, remaining, next); err != nil {
					return err
				}
				id := alloc.ID
				allocationID = &id
			}
		}
		// what is left at the location must still cover the remaining reservations
		free, err := freeAt(ctx, tx, inv, in.Location)
		if err != nil {
			return err
		}
		if in.Quantity.GreaterThan(free) {
			return fmt.Errorf("%w: %s free at %s, issuing %s unallocated", ErrAllocationExceeds, free.Sub(fromAllocation), in.Location, in.Quantity.Sub(fromAllocation))
		}
		inv.AllocatedStock = inv.AllocatedStock.Sub(fromAllocation)
		if err := inv.adjust(in.Location, in.Quantity.Neg()); err != nil {
			return err
		}
		if err := tx.UpdateStock(ctx, inv); err != nil {
			return err
		}
		o := StockOutward{
			InventoryID:  inv.ID,
			ItemNo:       inv.ItemNo,
			Location:     in.Location,
			Quantity:     in.Quantity,
			OutwardDate:  s.now(),
			DocumentType: in.DocumentType,
			ProjectCode:  in.ProjectCode,
			OutwardType:  kind,
			Status:       status,
			AllocationID: allocationID,
			Remarks:      in.Remarks,
			CreatedBy:    caller.Name,
		}
		if err := s.issue(ctx, tx, &o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return StockOutward{}, err
	}
	s.moved(string(kind))
	s.record(ctx, "inventory:outward", out.InventoryID, map[string]any{
		"outward_id":      out.ID,
		"document_number": out.DocumentNumber,
		"location":        out.Location,
		"project_code":    out.ProjectCode,
		"qty":             out.Quantity.String(),
	})
	return out, nil
}

// ReturnGatePass posts returned material of an open gate pass back into the
// location it left from. A zero quantity returns everything outstanding.
func (s *Service) ReturnGatePass(ctx context.Context, outwardID int64, qty decimal.Decimal) (StockOutward, error) {
	current, err := s.repo.GetOutward(ctx, outwardID)
	if err != nil {
		return StockOutward{}, err
	}
	if qty.IsNegative() {
		return StockOutward{}, ErrInvalidQuantity
	}
	var out StockOutward
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.Lock(ctx, current.InventoryID)
		if err != nil {
			return err
		}
		o, err := tx.LockOutward(ctx, outwardID)
		if err != nil {
			return err
		}
		if o.OutwardType != OutwardGatePass || o.Status != OutwardOpen {
			return fmt.Errorf("%w: outward %s is %s %s", ErrInvalidState, o.DocumentNumber, o.OutwardType, o.Status)
		}
		back := qty
		if back.IsZero() {
			back = o.Outstanding()
		}
		if back.GreaterThan(o.Outstanding()) {
			return fmt.Errorf("%w: returning %s of %s outstanding", ErrInvalidQuantity, back, o.Outstanding())
		}
		if err := inv.adjust(o.Location, back); err != nil {
			return err
		}
		if err := tx.UpdateStock(ctx, inv); err != nil {
			return err
		}
		o.ReturnedQuantity = o.ReturnedQuantity.Add(back)
		if !o.Outstanding().IsPositive() {
			o.Status = OutwardReturned
		}
		if err := tx.UpdateOutwardReturn(ctx, o.ID, o.ReturnedQuantity, o.Status); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return StockOutward{}, err
	}
	s.moved("gate_pass_return")
	s.record(ctx, "inventory:gate_pass_return", out.InventoryID, map[string]any{
		"outward_id":      out.ID,
		"document_number": out.DocumentNumber,
		"returned":        out.ReturnedQuantity.String(),
	})
	return out, nil
}

// RejectionReturn sends rejected material back against the supplier's
// delivery challan. Only unreserved stock can leave.
func (s *Service) RejectionReturn(ctx context.Context, caller shared.Caller, in RejectionReturnInput) (StockOutward, error) {
	if err := checkMovement(in.Location, in.Quantity); err != nil {
		return StockOutward{}, err
	}
	var out StockOutward
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.Lock(ctx, in.InventoryID)
		if err != nil {
			return err
		}
		free, err := freeAt(ctx, tx, inv, in.Location)
		if err != nil {
			return err
		}
		if in.Quantity.GreaterThan(free) {
			return fmt.Errorf("%w: %s free at %s, returning %s", ErrAllocationExceeds, free, in.Location, in.Quantity)
		}
		if err := inv.adjust(in.Location, in.Quantity.Neg()); err != nil {
			return err
		}
		if err := tx.UpdateStock(ctx, inv); err != nil {
			return err
		}
		o := StockOutward{
			InventoryID:      inv.ID,
			ItemNo:           inv.ItemNo,
			Location:         in.Location,
			Quantity:         in.Quantity,
			OutwardDate:      s.now(),
			DocumentType:     DocumentRejectionReturn,
			OutwardType:      OutwardRejectionReturn,
			Status:           OutwardIssued,
			ChallanReference: in.ChallanReference,
			Remarks:          in.Remarks,
			CreatedBy:        caller.Name,
		}
		if err := s.issue(ctx, tx, &o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return StockOutward{}, err
	}
	s.moved(string(OutwardRejectionReturn))
	s.record(ctx, "inventory:rejection_return", out.InventoryID, map[string]any{
		"outward_id":        out.ID,
		"document_number":   out.DocumentNumber,
		"challan_reference": out.ChallanReference,
		"qty":               out.Quantity.String(),
	})
	return out, nil
}

// issue numbers and stores an outward.
func (s *Service) issue(ctx context.Context, tx TxRepository, o *StockOutward) error {
	fy := shared.FinancialYear(o.OutwardDate)
	seq, err := tx.NextDocumentSequence(ctx, o.DocumentType, fy)
	if err != nil {
		return err
	}
	o.DocumentNumber = FormatDocumentNumber(o.DocumentType, fy, seq)
	o.ID, err = tx.InsertOutward(ctx, *o)
	return err
}

// Get returns an inventory row.
func (s *Service) Get(ctx context.Context, id int64) (Inventory, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of inventory rows.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Inventory, int, error) {
	return s.repo.List(ctx, f)
}

// Allocations lists allocations of an inventory row.
func (s *Service) Allocations(ctx context.Context, inventoryID int64) ([]Allocation, error) {
	if _, err := s.repo.Get(ctx, inventoryID); err != nil {
		return nil, err
	}
	return s.repo.ListAllocations(ctx, inventoryID)
}

// GetOutward returns an outward by id.
func (s *Service) GetOutward(ctx context.Context, id int64) (StockOutward, error) {
	return s.repo.GetOutward(ctx, id)
}

func (s *Service) moved(kind string) {
	if s.metrics != nil {
		s.metrics.StockMoved(kind)
	}
}

func (s *Service) record(ctx context.Context, action string, inventoryID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "inventory",
		EntityID: strconv.FormatInt(inventoryID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("inventory audit failed", slog.String("action", action), slog.Int64("inventory_id", inventoryID), slog.Any("error", err))
	}
}
