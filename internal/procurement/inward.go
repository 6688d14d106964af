package procurement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cimcon/p2p/internal/inventory"
	"github.com/cimcon/p2p/internal/shared"
)

// InwardLine is one received quantity. The line is addressed by id or item_no.
type InwardLine struct {
	LineID   int64           `json:"line_id"`
	ItemNo   int             `json:"item_no"`
	Quantity decimal.Decimal `json:"quantity"`
}

// InwardInput posts a goods receipt against an order.
type InwardInput struct {
	IdempotencyKey string       `json:"idempotency_key"`
	ReceivedDate   string       `json:"received_date"`
	Location       string       `json:"location" validate:"required"`
	InvoiceNumber  string       `json:"invoice_number"`
	ChallanNumber  string       `json:"challan_number"`
	BatchNumber    string       `json:"batch_number"`
	Reference      string       `json:"reference"`
	Lines          []InwardLine `json:"lines" validate:"required,min=1,dive"`
}

// stockKey falls back to the order line when no part number was captured.
func stockKey(po PurchaseOrder, l LineItem) string {
	if key := l.StockKey(); key != "" {
		return key
	}
	return fmt.Sprintf("%s/%d", po.PONumber, l.ItemNo)
}

// PostInward receives material against an approved order. Line quantities,
// stock, master delivery state and the order status move in one transaction.
func (s *Service) PostInward(ctx context.Context, caller shared.Caller, poID int64, in InwardInput) (PurchaseOrder, []InwardEntry, error) {
	if len(in.Lines) == 0 {
		return PurchaseOrder{}, nil, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	received := s.now()
	date, err := parseDate(in.ReceivedDate)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	if date != nil {
		received = *date
	}
	if in.Reference == "" {
		// one receipt id groups the entries of a single posting
		in.Reference = "GRN-" + uuid.NewString()
	}
	var entries []InwardEntry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.IdempotencyKey != "" && s.idempotency != nil {
			if err := s.idempotency.CheckAndInsert(ctx, "po-inward:"+in.IdempotencyKey, "procurement.inward"); err != nil {
				return err
			}
		}
		po, err := s.lockScoped(ctx, tx, caller, poID)
		if err != nil {
			return err
		}
		if !po.Status.receivable() {
			return fmt.Errorf("%w: cannot receive against %s order %s", ErrInvalidState, po.Status, po.PONumber)
		}
		lines, err := tx.Lines(ctx, po.ID)
		if err != nil {
			return err
		}
		for _, req := range in.Lines {
			if !req.Quantity.IsPositive() {
				return fmt.Errorf("%w: inward quantity must be positive", ErrValidation)
			}
			lineID := req.LineID
			if lineID == 0 {
				for _, l := range lines {
					if l.ItemNo == req.ItemNo {
						lineID = l.ID
						break
					}
				}
			}
			if lineID == 0 {
				return fmt.Errorf("%w: item %d", ErrLineNotFound, req.ItemNo)
			}
			line, err := tx.LockLine(ctx, po.ID, lineID)
			if err != nil {
				return err
			}
			next := line.InwardedQuantity.Add(req.Quantity)
			if next.GreaterThan(line.Quantity) {
				return fmt.Errorf("%w: item %d ordered %s, inwarded %s, received %s",
					ErrOverInward, line.ItemNo, line.Quantity, line.InwardedQuantity, req.Quantity)
			}
			line.InwardedQuantity = next
			if err := tx.UpdateLine(ctx, line); err != nil {
				return err
			}
			entry := InwardEntry{
				POID:             po.ID,
				LineID:           line.ID,
				ReceivedQuantity: req.Quantity,
				ReceivedDate:     received,
				Location:         in.Location,
				InvoiceNumber:    in.InvoiceNumber,
				ChallanNumber:    in.ChallanNumber,
				BatchNumber:      in.BatchNumber,
				Reference:        in.Reference,
				CreatedBy:        caller.Name,
			}
			if entry.ID, err = tx.InsertInward(ctx, entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			if s.inventory != nil {
				_, err := s.inventory.PostInward(ctx, inventory.InwardInput{
					ItemNo:              stockKey(po, line),
					MaterialGroup:       line.MaterialGroup,
					MaterialDescription: line.MaterialDescription,
					Make:                line.Make,
					Location:            inventory.Location(in.Location),
					Quantity:            req.Quantity,
					Reference:           po.PONumber,
				})
				if err != nil {
					return fmt.Errorf("item %d: %w", line.ItemNo, err)
				}
			}
			if err := s.masters.RecordDelivery(ctx, line.MasterID, !line.Pending().IsPositive()); err != nil {
				return fmt.Errorf("item %d: %w", line.ItemNo, err)
			}
		}
		lines, err = tx.Lines(ctx, po.ID)
		if err != nil {
			return err
		}
		po.InwardStatus, po.TotalInwardedQuantity = DeriveInward(lines)
		po.Status = StatusPartiallyDelivered
		if po.InwardStatus == InwardCompleted {
			po.Status = StatusDelivered
		}
		return tx.UpdatePO(ctx, po)
	})
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	po, err := s.repo.Get(ctx, poID)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	s.logger.Info("purchase order inward posted",
		slog.Int64("po_id", po.ID),
		slog.String("po_number", po.PONumber),
		slog.String("inward_status", string(po.InwardStatus)),
		slog.Int("lines", len(entries)))
	s.recordAudit(ctx, "po:inward", po.ID, map[string]any{"entries": len(entries), "location": in.Location})
	return po, entries, nil
}
