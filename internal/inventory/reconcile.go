package inventory

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Reconcile compares stored totals with the sum of location counters and
// active allocations. It reports drift and corrects nothing.
func (s *Service) Reconcile(ctx context.Context) ([]Drift, error) {
	var (
		items     []Inventory
		allocated map[int64]decimal.Decimal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.repo.All(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		allocated, err = s.repo.ActiveAllocationTotals(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var drifts []Drift
	for _, inv := range items {
		active := allocated[inv.ID]
		locations := inv.LocationsTotal()
		if locations.Equal(inv.TotalStock) && active.Equal(inv.AllocatedStock) && !inv.AvailableStock().IsNegative() {
			continue
		}
		d := Drift{
			InventoryID:     inv.ID,
			ItemNo:          inv.ItemNo,
			StoredTotal:     inv.TotalStock,
			LocationsTotal:  locations,
			StoredAllocated: inv.AllocatedStock,
			ActiveAllocated: active,
		}
		s.logger.Warn("inventory drift",
			slog.Int64("inventory_id", d.InventoryID),
			slog.String("item_no", d.ItemNo),
			slog.String("stored_total", d.StoredTotal.String()),
			slog.String("locations_total", d.LocationsTotal.String()),
			slog.String("stored_allocated", d.StoredAllocated.String()),
			slog.String("active_allocated", d.ActiveAllocated.String()),
		)
		drifts = append(drifts, d)
	}
	return drifts, nil
}
