package inventory

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/cimcon/p2p/internal/shared"
)

type memoryRepo struct {
	items       map[int64]Inventory
	allocations map[int64]Allocation
	outwards    map[int64]StockOutward
	sequences   map[string]int64
	nextID      int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		items:       make(map[int64]Inventory),
		allocations: make(map[int64]Allocation),
		outwards:    make(map[int64]StockOutward),
		sequences:   make(map[string]int64),
	}
}

func (r *memoryRepo) snapshot() *memoryRepo {
	c := newMemoryRepo()
	for k, v := range r.items {
		c.items[k] = v
	}
	for k, v := range r.allocations {
		c.allocations[k] = v
	}
	for k, v := range r.outwards {
		c.outwards[k] = v
	}
	for k, v := range r.sequences {
		c.sequences[k] = v
	}
	c.nextID = r.nextID
	return c
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	saved := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		*r = *saved
		return err
	}
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Inventory, error) {
	inv, ok := r.items[id]
	if !ok {
		return Inventory{}, ErrNotFound
	}
	return inv, nil
}

func (r *memoryRepo) GetByItemNo(ctx context.Context, itemNo string) (Inventory, error) {
	for _, inv := range r.items {
		if inv.ItemNo == itemNo {
			return inv, nil
		}
	}
	return Inventory{}, ErrNotFound
}

func (r *memoryRepo) List(ctx context.Context, f ListFilter) ([]Inventory, int, error) {
	items, _ := r.All(ctx)
	return items, len(items), nil
}

func (r *memoryRepo) All(ctx context.Context) ([]Inventory, error) {
	var out []Inventory
	for id := int64(1); id <= r.nextID; id++ {
		if inv, ok := r.items[id]; ok {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (r *memoryRepo) ActiveAllocationTotals(ctx context.Context) (map[int64]decimal.Decimal, error) {
	out := make(map[int64]decimal.Decimal)
	for _, a := range r.allocations {
		if a.Status == AllocationActive {
			out[a.InventoryID] = out[a.InventoryID].Add(a.Quantity)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListAllocations(ctx context.Context, inventoryID int64) ([]Allocation, error) {
	var out []Allocation
	for id := int64(1); id <= r.nextID; id++ {
		if a, ok := r.allocations[id]; ok && a.InventoryID == inventoryID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetAllocation(ctx context.Context, id int64) (Allocation, error) {
	a, ok := r.allocations[id]
	if !ok {
		return Allocation{}, ErrAllocationNotFound
	}
	return a, nil
}

func (r *memoryRepo) GetOutward(ctx context.Context, id int64) (StockOutward, error) {
	o, ok := r.outwards[id]
	if !ok {
		return StockOutward{}, ErrOutwardNotFound
	}
	return o, nil
}

func (tx *memoryTx) LockByItemNo(ctx context.Context, itemNo string) (Inventory, bool, error) {
	inv, err := tx.repo.GetByItemNo(ctx, itemNo)
	if err != nil {
		return Inventory{}, false, nil
	}
	return inv, true, nil
}

func (tx *memoryTx) Lock(ctx context.Context, id int64) (Inventory, error) {
	return tx.repo.Get(ctx, id)
}

func (tx *memoryTx) EnsureItem(ctx context.Context, inv Inventory) error {
	if _, err := tx.repo.GetByItemNo(ctx, inv.ItemNo); err == nil {
		return nil
	}
	tx.repo.nextID++
	inv.ID = tx.repo.nextID
	tx.repo.items[inv.ID] = inv
	return nil
}

func (tx *memoryTx) UpdateStock(ctx context.Context, inv Inventory) error {
	tx.repo.items[inv.ID] = inv
	return nil
}

func (tx *memoryTx) ActiveAllocated(ctx context.Context, inventoryID int64, loc Location) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, a := range tx.repo.allocations {
		if a.InventoryID == inventoryID && a.Location == loc && a.Status == AllocationActive {
			sum = sum.Add(a.Quantity)
		}
	}
	return sum, nil
}

func (tx *memoryTx) FindActiveAllocation(ctx context.Context, inventoryID int64, loc Location, projectCode string) (Allocation, bool, error) {
	for id := int64(1); id <= tx.repo.nextID; id++ {
		a, ok := tx.repo.allocations[id]
		if ok && a.InventoryID == inventoryID && a.Location == loc && a.ProjectCode == projectCode && a.Status == AllocationActive {
			return a, true, nil
		}
	}
	return Allocation{}, false, nil
}

func (tx *memoryTx) LockAllocation(ctx context.Context, id int64) (Allocation, error) {
	return tx.repo.GetAllocation(ctx, id)
}

func (tx *memoryTx) InsertAllocation(ctx context.Context, a Allocation) (int64, error) {
	tx.repo.nextID++
	a.ID = tx.repo.nextID
	tx.repo.allocations[a.ID] = a
	return a.ID, nil
}

func (tx *memoryTx) UpdateAllocation(ctx context.Context, id int64, qty decimal.Decimal, status AllocationStatus) error {
	a := tx.repo.allocations[id]
	a.Quantity = qty
	a.Status = status
	tx.repo.allocations[id] = a
	return nil
}

func (tx *memoryTx) NextDocumentSequence(ctx context.Context, docType DocumentType, fy string) (int64, error) {
	key := string(docType) + ":" + fy
	tx.repo.sequences[key]++
	return tx.repo.sequences[key], nil
}

func (tx *memoryTx) InsertOutward(ctx context.Context, o StockOutward) (int64, error) {
	tx.repo.nextID++
	o.ID = tx.repo.nextID
	tx.repo.outwards[o.ID] = o
	return o.ID, nil
}

func (tx *memoryTx) LockOutward(ctx context.Context, id int64) (StockOutward, error) {
	return tx.repo.GetOutward(ctx, id)
}

func (tx *memoryTx) UpdateOutwardReturn(ctx context.Context, id int64, returned decimal.Decimal, status OutwardStatus) error {
	o := tx.repo.outwards[id]
	o.ReturnedQuantity = returned
	o.Status = status
	tx.repo.outwards[id] = o
	return nil
}

func qty(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newTestService(t *testing.T) (*Service, *memoryRepo, int64) {
	t.Helper()
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	svc.now = func() time.Time { return time.Date(2024, time.July, 15, 10, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	inv, err := svc.PostInward(ctx, InwardInput{ItemNo: "ELED016SCMCB01", MaterialDescription: "MCB 16A", Location: LocationTimesSquare, Quantity: qty(10)})
	require.NoError(t, err)
	_, err = svc.PostInward(ctx, InwardInput{ItemNo: "ELED016SCMCB01", Location: LocationISquare, Quantity: qty(5)})
	require.NoError(t, err)
	return svc, repo, inv.ID
}

func requireLedger(t *testing.T, inv Inventory, total, allocated, available int64) {
	t.Helper()
	require.True(t, inv.TotalStock.Equal(qty(total)), "total %s", inv.TotalStock)
	require.True(t, inv.TotalStock.Equal(inv.LocationsTotal()))
	require.True(t, inv.AllocatedStock.Equal(qty(allocated)), "allocated %s", inv.AllocatedStock)
	require.True(t, inv.AvailableStock().Equal(qty(available)), "available %s", inv.AvailableStock())
}

func TestInwardCreatesAndAccumulates(t *testing.T) {
	svc, repo, id := newTestService(t)
	inv := repo.items[id]
	require.Len(t, repo.items, 1)
	require.Equal(t, "MCB 16A", inv.MaterialDescription)
	require.True(t, inv.TimesSqStock.Equal(qty(10)))
	require.True(t, inv.ISqStock.Equal(qty(5)))
	requireLedger(t, inv, 15, 0, 15)

	soh, err := svc.StockOnHand(context.Background(), "ELED016SCMCB01")
	require.NoError(t, err)
	require.True(t, soh.Equal(qty(15)))
	soh, err = svc.StockOnHand(context.Background(), "UNKNOWN")
	require.NoError(t, err)
	require.True(t, soh.IsZero())

	_, err = svc.PostInward(context.Background(), InwardInput{ItemNo: "X", Location: "roof", Quantity: qty(1)})
	require.ErrorIs(t, err, ErrInvalidLocation)
	_, err = svc.PostInward(context.Background(), InwardInput{ItemNo: "X", Location: LocationOther, Quantity: qty(0)})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestAllocationArithmetic(t *testing.T) {
	svc, repo, id := newTestService(t)
	ctx := context.Background()
	caller := shared.Caller{Name: "Stores"}

	p1, err := svc.Allocate(ctx, AllocateInput{InventoryID: id, Location: LocationTimesSquare, ProjectCode: "P1", Quantity: qty(8)})
	require.NoError(t, err)
	p2, err := svc.Allocate(ctx, AllocateInput{InventoryID: id, Location: LocationISquare, ProjectCode: "P2", Quantity: qty(5)})
	require.NoError(t, err)

	out, err := svc.Outward(ctx, caller, OutwardInput{InventoryID: id, Location: LocationTimesSquare, ProjectCode: "P1", Quantity: qty(3), DocumentType: DocumentChallan})
	require.NoError(t, err)
	require.Equal(t, "DC-2425-00001", out.DocumentNumber)
	require.Equal(t, OutwardProjectIssue, out.OutwardType)
	require.Equal(t, p1.ID, *out.AllocationID)

	requireLedger(t, repo.items[id], 12, 10, 2)
	require.True(t, repo.allocations[p1.ID].Quantity.Equal(qty(5)))
	require.True(t, repo.allocations[p2.ID].Quantity.Equal(qty(5)))
}

func TestAllocateBeyondFreeStock(t *testing.T) {
	svc, repo, id := newTestService(t)
	ctx := context.Background()

	_, err := svc.Allocate(ctx, AllocateInput{InventoryID: id, Location: LocationTimesSquare, ProjectCode: "P1", Quantity: qty(8)})
	require.NoError(t, err)
	_, err = svc.Allocate(ctx, AllocateInput{InventoryID: id, Location: LocationTimesSquare, ProjectCode: "P2", Quantity: qty(3)})
	require.ErrorIs(t, err, ErrAllocationExceeds)
	require.Equal(t, shared.KindInvariant, shared.KindOf(err))
	requireLedger(t, repo.items[id], 15, 8, 7)
}

func TestReallocateThenOutward(t *testing.T) {
	svc, repo, id := newTestService(t)
	ctx := context.Background()

	a, err := svc.Allocate(ctx, AllocateInput{InventoryID: id, Location: LocationTimesSquare, ProjectCode: "P1", Quantity: qty(4)})
	require.NoError(t, err)
	moved, err := svc.Reallocate(ctx, a.ID, ReallocateInput{Location: LocationISquare, ProjectCode: "P2"})
	require.NoError(t, err)
	require.Equal(t, AllocationReallocated, repo.allocations[a.ID].Status)
	require.Equal(t, AllocationActive, moved.Status)
	requireLedger(t, repo.items[id], 15, 4, 11)

	_, err = svc.Reallocate(ctx, a.ID, ReallocateInput{Location: LocationSakar, ProjectCode: "P3"})
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.Outward(ctx, shared.Caller{}, OutwardInput{InventoryID: id, Location: LocationISquare, ProjectCode: "P2", Quantity: qty(4), DocumentType: DocumentChallan})
	require.NoError(t, err)
	require.Equal(t, AllocationExhausted, repo.allocations[moved.ID].Status)
	requireLedger(t, repo.items[id], 11, 0, 11)
}

func TestOutwardGuards(t *testing.T) {
	svc, repo, id := newTestService(t)
	ctx := context.Background()

	_, err := svc.Outward(ctx, shared.Caller{}, OutwardInput{InventoryID: id, Location: LocationISquare, Quantity: qty(6), DocumentType: DocumentChallan})
	require.ErrorIs(t, err, ErrNegativeStock)

	a, err := svc.Allocate(ctx, AllocateInput{InventoryID: id, Location: LocationTimesSquare, ProjectCode: "P1", Quantity: qty(8)})
	require.NoError(t, err)
	// P2 has nothing reserved and only 2 are free
	_, err = svc.Outward(ctx, shared.Caller{}, OutwardInput{InventoryID: id, Location: LocationTimesSquare, ProjectCode: "P2", Quantity: qty(3), DocumentType: DocumentChallan})
	require.ErrorIs(t, err, ErrAllocationExceeds)
	// P1 may draw its reservation plus the free remainder
	_, err = svc.Outward(ctx, shared.Caller{}, OutwardInput{InventoryID: id, Location: LocationTimesSquare, ProjectCode: "P1", Quantity: qty(11), DocumentType: DocumentChallan})
	require.ErrorIs(t, err, ErrNegativeStock)
	require.True(t, repo.allocations[a.ID].Quantity.Equal(qty(8)))

	_, err = svc.Outward(ctx, shared.Caller{}, OutwardInput{InventoryID: id, Location: LocationTimesSquare, ProjectCode: "P1", Quantity: qty(10), DocumentType: DocumentChallan})
	require.NoError(t, err)
	require.Equal(t, AllocationExhausted, repo.allocations[a.ID].Status)
	requireLedger(t, repo.items[id], 5, 0, 5)
}

func TestGatePassRoundTrip(t *testing.T) {
	svc, repo, id := newTestService(t)
	ctx := context.Background()

	gp, err := svc.Outward(ctx, shared.Caller{Name: "Stores"}, OutwardInput{InventoryID: id, Location: LocationISquare, Quantity: qty(4), DocumentType: DocumentGatePass, Remarks: "site testing"})
	require.NoError(t, err)
	require.Equal(t, "GP-2425-00001", gp.DocumentNumber)
	require.Equal(t, OutwardOpen, gp.Status)
	requireLedger(t, repo.items[id], 11, 0, 11)

	partial, err := svc.ReturnGatePass(ctx, gp.ID, qty(1))
	require.NoError(t, err)
	require.Equal(t, OutwardOpen, partial.Status)
	_, err = svc.ReturnGatePass(ctx, gp.ID, qty(5))
	require.ErrorIs(t, err, ErrInvalidQuantity)

	closed, err := svc.ReturnGatePass(ctx, gp.ID, decimal.Zero)
	require.NoError(t, err)
	require.Equal(t, OutwardReturned, closed.Status)
	require.True(t, repo.items[id].ISqStock.Equal(qty(5)))
	requireLedger(t, repo.items[id], 15, 0, 15)

	_, err = svc.ReturnGatePass(ctx, gp.ID, qty(1))
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestRejectionReturn(t *testing.T) {
	svc, repo, id := newTestService(t)
	ctx := context.Background()

	rr, err := svc.RejectionReturn(ctx, shared.Caller{Name: "QC"}, RejectionReturnInput{InventoryID: id, Location: LocationTimesSquare, Quantity: qty(2), ChallanReference: "DC/ACME/88"})
	require.NoError(t, err)
	require.Equal(t, "RR-2425-00001", rr.DocumentNumber)
	require.Equal(t, OutwardRejectionReturn, rr.OutwardType)
	requireLedger(t, repo.items[id], 13, 0, 13)

	_, err = svc.Allocate(ctx, AllocateInput{InventoryID: id, Location: LocationTimesSquare, ProjectCode: "P1", Quantity: qty(8)})
	require.NoError(t, err)
	_, err = svc.RejectionReturn(ctx, shared.Caller{}, RejectionReturnInput{InventoryID: id, Location: LocationTimesSquare, Quantity: qty(1), ChallanReference: "DC/ACME/88"})
	require.ErrorIs(t, err, ErrAllocationExceeds)
}

func TestReconcileReportsDrift(t *testing.T) {
	svc, repo, id := newTestService(t)
	ctx := context.Background()

	drifts, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	require.Empty(t, drifts)

	inv := repo.items[id]
	inv.TotalStock = qty(20)
	repo.items[id] = inv
	drifts, err = svc.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	require.True(t, drifts[0].LocationsTotal.Equal(qty(15)))
	require.True(t, repo.items[id].TotalStock.Equal(qty(20)))
}

func TestExportStock(t *testing.T) {
	svc, _, _ := newTestService(t)
	var buf bytes.Buffer
	require.NoError(t, svc.ExportStock(context.Background(), &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(stockSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "Item No", rows[0][0])
	require.Equal(t, "ELED016SCMCB01", rows[1][0])
	require.Equal(t, "15", rows[1][9])
}
