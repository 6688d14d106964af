package procurement

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cimcon/p2p/internal/inventory"
	"github.com/cimcon/p2p/internal/master"
	"github.com/cimcon/p2p/internal/masterdata"
	"github.com/cimcon/p2p/internal/shared"
)

type memoryProcRepo struct {
	pos       map[int64]PurchaseOrder
	lines     map[int64]LineItem
	history   []History
	inward    []InwardEntry
	sequences map[string]int64
	nextID    int64
}

type memoryProcTx struct {
	repo *memoryProcRepo
}

func newMemoryProcRepo() *memoryProcRepo {
	return &memoryProcRepo{
		pos:       make(map[int64]PurchaseOrder),
		lines:     make(map[int64]LineItem),
		sequences: make(map[string]int64),
	}
}

func (r *memoryProcRepo) snapshot() *memoryProcRepo {
	c := newMemoryProcRepo()
	for k, v := range r.pos {
		c.pos[k] = v
	}
	for k, v := range r.lines {
		c.lines[k] = v
	}
	for k, v := range r.sequences {
		c.sequences[k] = v
	}
	c.history = slices.Clone(r.history)
	c.inward = slices.Clone(r.inward)
	c.nextID = r.nextID
	return c
}

func (r *memoryProcRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	saved := r.snapshot()
	if err := fn(ctx, &memoryProcTx{repo: r}); err != nil {
		*r = *saved
		return err
	}
	return nil
}

func (r *memoryProcRepo) linesOf(poID int64) []LineItem {
	var out []LineItem
	for _, l := range r.lines {
		if l.POID == poID {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b LineItem) int { return a.ItemNo - b.ItemNo })
	return out
}

func (r *memoryProcRepo) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, ok := r.pos[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	po.Items = r.linesOf(id)
	return po, nil
}

func (r *memoryProcRepo) List(ctx context.Context, f ListFilter) ([]PurchaseOrder, int, error) {
	var out []PurchaseOrder
	for _, po := range r.pos {
		if f.Scope.Allows(po.DivisionID) && (f.Status == "" || po.Status == f.Status) {
			out = append(out, po)
		}
	}
	return out, len(out), nil
}

func (r *memoryProcRepo) ListHistory(ctx context.Context, poID int64) ([]History, error) {
	var out []History
	for _, h := range r.history {
		if h.POID == poID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *memoryProcRepo) ListInward(ctx context.Context, poID int64) ([]InwardEntry, error) {
	var out []InwardEntry
	for _, e := range r.inward {
		if e.POID == poID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memoryProcRepo) LastSequence(ctx context.Context, fy string) (int64, error) {
	return r.sequences[fy], nil
}

func (t *memoryProcTx) NextSequence(ctx context.Context, fy string) (int64, error) {
	t.repo.sequences[fy]++
	return t.repo.sequences[fy], nil
}

func (t *memoryProcTx) InsertPO(ctx context.Context, po PurchaseOrder) (int64, error) {
	t.repo.nextID++
	po.ID = t.repo.nextID
	po.Items = nil
	if po.ProjectCode != "" {
		po.DivisionID = 1
	}
	t.repo.pos[po.ID] = po
	return po.ID, nil
}

func (t *memoryProcTx) LockPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, ok := t.repo.pos[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	return po, nil
}

func (t *memoryProcTx) UpdatePO(ctx context.Context, po PurchaseOrder) error {
	po.Items = nil
	t.repo.pos[po.ID] = po
	return nil
}

func (t *memoryProcTx) Lines(ctx context.Context, poID int64) ([]LineItem, error) {
	return t.repo.linesOf(poID), nil
}

func (t *memoryProcTx) LockLine(ctx context.Context, poID, lineID int64) (LineItem, error) {
	l, ok := t.repo.lines[lineID]
	if !ok || l.POID != poID {
		return LineItem{}, ErrLineNotFound
	}
	return l, nil
}

func (t *memoryProcTx) InsertLine(ctx context.Context, l LineItem) (int64, error) {
	t.repo.nextID++
	l.ID = t.repo.nextID
	t.repo.lines[l.ID] = l
	return l.ID, nil
}

func (t *memoryProcTx) UpdateLine(ctx context.Context, l LineItem) error {
	t.repo.lines[l.ID] = l
	return nil
}

func (t *memoryProcTx) InsertHistory(ctx context.Context, h History) error {
	t.repo.nextID++
	h.ID = t.repo.nextID
	t.repo.history = append(t.repo.history, h)
	return nil
}

func (t *memoryProcTx) InsertInward(ctx context.Context, e InwardEntry) (int64, error) {
	t.repo.nextID++
	e.ID = t.repo.nextID
	t.repo.inward = append(t.repo.inward, e)
	return e.ID, nil
}

type stubMasters struct {
	rows      map[int64]master.Master
	ordered   []int64
	delivered map[int64]bool
	failMark  bool
}

func newStubMasters() *stubMasters {
	m := &stubMasters{rows: make(map[int64]master.Master), delivered: make(map[int64]bool)}
	m.rows[1] = master.Master{ID: 1, CimconPartNumber: "ELED016SCMCB01", MaterialDescription: "LED driver 16W", Make: "Meanwell", MaterialGroup: "LED", Unit: "Nos", OrderingStatus: master.StatusInProgress}
	m.rows[2] = master.Master{ID: 2, CimconPartNumber: "ECAB002PVC", MaterialDescription: "PVC cable 2 core", Make: "Polycab", MaterialGroup: "CABLE", Unit: "Mtr", OrderingStatus: master.StatusInProgress}
	m.rows[3] = master.Master{ID: 3, OrderingStatus: master.StatusCancelled}
	return m
}

func (m *stubMasters) Lookup(ctx context.Context, id int64) (master.Master, error) {
	row, ok := m.rows[id]
	if !ok {
		return master.Master{}, master.ErrNotFound
	}
	return row, nil
}

func (m *stubMasters) MarkOrdered(ctx context.Context, id int64, qty decimal.Decimal) error {
	if m.failMark {
		return master.ErrInvalidState
	}
	m.ordered = append(m.ordered, id)
	return nil
}

func (m *stubMasters) RecordDelivery(ctx context.Context, id int64, complete bool) error {
	m.delivered[id] = complete
	return nil
}

type stubInventory struct {
	inputs []inventory.InwardInput
}

func (s *stubInventory) PostInward(ctx context.Context, in inventory.InwardInput) (inventory.Inventory, error) {
	s.inputs = append(s.inputs, in)
	return inventory.Inventory{ItemNo: in.ItemNo}, nil
}

type stubProjects struct{}

func (stubProjects) Project(ctx context.Context, code string) (masterdata.Project, error) {
	return masterdata.Project{Code: code, ClientName: "Surat Smart City", DivisionID: 1}, nil
}

type stubHSN map[string]string

func (s stubHSN) LookupHSN(group string) (string, error) {
	code, ok := s[group]
	if !ok {
		return "", errors.New("hsn not found")
	}
	return code, nil
}

type stubIdempotency map[string]bool

func (s stubIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if s[key] {
		return shared.ErrIdempotencyConflict
	}
	s[key] = true
	return nil
}

type recordingNotifier struct {
	events []DecisionEvent
}

func (n *recordingNotifier) NotifyDecision(ctx context.Context, evt DecisionEvent) error {
	n.events = append(n.events, evt)
	return nil
}

type fixture struct {
	svc       *Service
	repo      *memoryProcRepo
	masters   *stubMasters
	inventory *stubInventory
	notifier  *recordingNotifier
}

var (
	buyer    = shared.Caller{UserID: "u1", Name: "Priya", DivisionID: 1}
	approver = shared.Caller{UserID: "u2", Name: "Rakesh", DivisionID: 1, Roles: []string{"p2p_admin"}}
)

func newFixture() fixture {
	f := fixture{
		repo:      newMemoryProcRepo(),
		masters:   newStubMasters(),
		inventory: &stubInventory{},
		notifier:  &recordingNotifier{},
	}
	f.svc = NewService(f.repo, Dependencies{
		Masters:     f.masters,
		Inventory:   f.inventory,
		Projects:    stubProjects{},
		HSN:         stubHSN{"LED": "85414100", "CABLE": "85444999"},
		Idempotency: stubIdempotency{},
		Notifier:    f.notifier,
		AdminRole:   "p2p_admin",
	})
	f.svc.now = func() time.Time { return time.Date(2024, time.July, 15, 10, 0, 0, 0, time.UTC) }
	return f
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func orderInput(items ...ItemInput) SaveInput {
	return SaveInput{
		ProjectCode:    "SSC01",
		VendorSnapshot: VendorSnapshot{VendorCode: "V001", VendorName: "Meanwell India", VendorEmail: "sales@meanwell.example"},
		Items:          items,
	}
}

func ledItem(qty, price string) ItemInput {
	return ItemInput{MasterID: 1, Quantity: dec(qty), UnitPrice: dec(price)}
}

func TestCreateAssignsSequentialNumbers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.svc.Create(ctx, buyer, orderInput(ledItem("10", "100")))
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, buyer, orderInput(ledItem("5", "100")))
	require.NoError(t, err)

	require.Equal(t, "CIMPO-242500001", first.PONumber)
	require.Equal(t, "CIMPO-242500002", second.PONumber)
	require.Equal(t, StatusDraft, first.Status)
	require.True(t, first.Version.Equal(versionOne))
	require.Equal(t, InwardOpen, first.InwardStatus)
	require.Equal(t, "INR", first.CurrencyCode)

	line := first.Items[0]
	require.Equal(t, 1, line.ItemNo)
	require.Equal(t, "85414100", line.HSNCode)
	require.Equal(t, "ELED016SCMCB01", line.CimconPartNumber)
	require.True(t, line.GSTRate.Equal(dec("18")))
	require.True(t, line.TotalPrice.Equal(dec("1000")))
	require.True(t, first.TotalAmount.Equal(dec("1180")))
	require.Equal(t, []int64{1, 1}, f.masters.ordered)
}

func TestCreateFailureLeavesNoGap(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.masters.failMark = true
	_, err := f.svc.Create(ctx, buyer, orderInput(ledItem("10", "100")))
	require.ErrorIs(t, err, master.ErrInvalidState)
	require.Empty(t, f.repo.pos)

	f.masters.failMark = false
	po, err := f.svc.Create(ctx, buyer, orderInput(ledItem("10", "100")))
	require.NoError(t, err)
	require.Equal(t, "CIMPO-242500001", po.PONumber)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, buyer, orderInput())
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Create(ctx, buyer, orderInput(ledItem("0", "100")))
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Create(ctx, buyer, orderInput(ItemInput{MasterID: 3, Quantity: dec("1"), UnitPrice: dec("1")}))
	require.ErrorIs(t, err, ErrInvalidState)

	dup := orderInput(ItemInput{MasterID: 1, ItemNo: 1, Quantity: dec("1"), UnitPrice: dec("1")}, ItemInput{MasterID: 2, ItemNo: 1, Quantity: dec("1"), UnitPrice: dec("1")})
	_, err = f.svc.Create(ctx, buyer, dup)
	require.ErrorIs(t, err, ErrValidation)

	outsider := shared.Caller{Name: "Outsider", DivisionID: 7}
	_, err = f.svc.Create(ctx, outsider, orderInput(ledItem("1", "1")))
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestRejectResubmitApproveJournal(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	po, err := f.svc.Create(ctx, buyer, orderInput(ledItem("10", "100")))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, buyer, po.ID)
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, approver, po.ID, "  ")
	require.ErrorIs(t, err, ErrRemarksRequired)

	rejected, err := f.svc.Reject(ctx, approver, po.ID, "price too high")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Equal(t, "price too high", rejected.RejectionRemarks)
	require.Equal(t, "Rakesh", rejected.RejectedBy)

	_, err = f.svc.Reject(ctx, approver, po.ID, "again")
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, approver, po.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	pending, err := f.svc.Resubmit(ctx, buyer, po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, pending.Status)
	require.Empty(t, pending.RejectionRemarks)

	approved, err := f.svc.Approve(ctx, approver, po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovalDate)

	_, err = f.svc.Approve(ctx, approver, po.ID)
	require.NoError(t, err)

	history, err := f.svc.History(ctx, buyer, po.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, ActionRejected, history[0].Action)
	require.Equal(t, ActionResubmitted, history[1].Action)
	require.Equal(t, ActionApproved, history[2].Action)

	require.Len(t, f.notifier.events, 2)
	require.Equal(t, "sales@meanwell.example", f.notifier.events[0].VendorEmail)
}

func TestRevisionOfApprovedOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	po, err := f.svc.Create(ctx, buyer, orderInput(ledItem("10", "100")))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, approver, po.ID)
	require.NoError(t, err)

	edit := orderInput(
		ItemInput{MasterID: 1, ItemNo: 1, Quantity: dec("12"), UnitPrice: dec("100")},
		ItemInput{MasterID: 2, Quantity: dec("50"), UnitPrice: dec("20"), GSTRate: decPtr("12")},
	)
	revised, err := f.svc.Update(ctx, buyer, po.ID, edit)
	require.NoError(t, err)

	require.Equal(t, StatusPendingApproval, revised.Status)
	require.True(t, revised.Version.Equal(dec("2")))
	require.True(t, revised.IsRevised)
	require.Equal(t, 1, revised.RevisionNumber)
	require.Empty(t, revised.ApprovedBy)
	require.Nil(t, revised.ApprovalDate)

	require.Len(t, revised.Items, 2)
	require.True(t, revised.Items[0].IsRevised)
	require.True(t, revised.Items[0].AddedInRevision.Equal(versionOne))
	require.Equal(t, 2, revised.Items[1].ItemNo)
	require.True(t, revised.Items[1].AddedInRevision.Equal(dec("2")))
	require.False(t, revised.Items[1].IsRevised)
	// 1200 + 216 + 1000 + 120
	require.True(t, revised.TotalAmount.Equal(dec("2536")), revised.TotalAmount.String())

	history, err := f.svc.History(ctx, buyer, po.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	require.Equal(t, ActionRevision, last.Action)
	require.True(t, last.PreviousVersion.Equal(versionOne))
	require.True(t, last.NewVersion.Equal(dec("2")))
}

func TestEditRejectedOrderResubmits(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	po, err := f.svc.Create(ctx, buyer, orderInput(ledItem("10", "100")))
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, approver, po.ID, "wrong vendor")
	require.NoError(t, err)

	edited, err := f.svc.Update(ctx, buyer, po.ID, orderInput(ItemInput{MasterID: 1, ItemNo: 1, Quantity: dec("10"), UnitPrice: dec("90")}))
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, edited.Status)
	require.True(t, edited.Version.Equal(versionOne))
	require.False(t, edited.Items[0].IsRevised)
	require.Empty(t, edited.RejectionRemarks)

	history, err := f.svc.History(ctx, buyer, po.ID)
	require.NoError(t, err)
	require.Equal(t, ActionEditResubmitted, history[len(history)-1].Action)
}

func TestInwardMovesStatusStockAndMasters(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	po, err := f.svc.Create(ctx, buyer, orderInput(ledItem("10", "100")))
	require.NoError(t, err)

	_, _, err = f.svc.PostInward(ctx, buyer, po.ID, InwardInput{Location: "times_sq", Lines: []InwardLine{{ItemNo: 1, Quantity: dec("4")}}})
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.Approve(ctx, approver, po.ID)
	require.NoError(t, err)

	partial, entries, err := f.svc.PostInward(ctx, buyer, po.ID, InwardInput{
		IdempotencyKey: "grn-1",
		Location:       "times_sq",
		InvoiceNumber:  "INV-77",
		Lines:          []InwardLine{{ItemNo: 1, Quantity: dec("4")}},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, strings.HasPrefix(entries[0].Reference, "GRN-"), entries[0].Reference)
	require.Equal(t, StatusPartiallyDelivered, partial.Status)
	require.Equal(t, InwardPartiallyInwarded, partial.InwardStatus)
	require.True(t, partial.TotalInwardedQuantity.Equal(dec("4")))
	require.False(t, f.masters.delivered[1])
	require.Equal(t, "ELED016SCMCB01", f.inventory.inputs[0].ItemNo)
	require.Equal(t, inventory.LocationTimesSquare, f.inventory.inputs[0].Location)

	_, _, err = f.svc.PostInward(ctx, buyer, po.ID, InwardInput{IdempotencyKey: "grn-1", Location: "times_sq", Lines: []InwardLine{{ItemNo: 1, Quantity: dec("1")}}})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	_, _, err = f.svc.PostInward(ctx, buyer, po.ID, InwardInput{Location: "times_sq", Lines: []InwardLine{{ItemNo: 1, Quantity: dec("7")}}})
	require.ErrorIs(t, err, ErrOverInward)
	stockPosts := len(f.inventory.inputs)
	unchanged, err := f.svc.Get(ctx, buyer, po.ID)
	require.NoError(t, err)
	require.True(t, unchanged.Items[0].InwardedQuantity.Equal(dec("4")))
	require.Equal(t, InwardPartiallyInwarded, unchanged.InwardStatus)
	require.Equal(t, StatusPartiallyDelivered, unchanged.Status)
	require.True(t, unchanged.TotalInwardedQuantity.Equal(dec("4")))
	require.Equal(t, 1, stockPosts)

	done, _, err := f.svc.PostInward(ctx, buyer, po.ID, InwardInput{Location: "sakar", Lines: []InwardLine{{ItemNo: 1, Quantity: dec("6")}}})
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, done.Status)
	require.Equal(t, InwardCompleted, done.InwardStatus)
	require.True(t, done.Items[0].InwardedQuantity.Equal(dec("10")))
	require.True(t, f.masters.delivered[1])

	_, err = f.svc.Cancel(ctx, buyer, po.ID, "no longer needed")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestHoldReleaseCancel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	po, err := f.svc.Create(ctx, buyer, orderInput(ledItem("10", "100")))
	require.NoError(t, err)
	_, err = f.svc.Hold(ctx, approver, po.ID, "budget")
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.Approve(ctx, approver, po.ID)
	require.NoError(t, err)
	held, err := f.svc.Hold(ctx, approver, po.ID, "budget")
	require.NoError(t, err)
	require.Equal(t, StatusOnHold, held.Status)

	released, err := f.svc.Release(ctx, approver, po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, released.Status)

	cancelled, err := f.svc.Cancel(ctx, approver, po.ID, "vendor closed")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	_, err = f.svc.Cancel(ctx, approver, po.ID, "")
	require.NoError(t, err)
}

func TestPeekNextPONumber(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	at := time.Date(2024, time.July, 15, 0, 0, 0, 0, time.UTC)

	next, err := f.svc.PeekNextPONumber(ctx, at)
	require.NoError(t, err)
	require.Equal(t, "CIMPO-242500001", next)

	_, err = f.svc.Create(ctx, buyer, orderInput(ledItem("1", "1")))
	require.NoError(t, err)

	next, err = f.svc.PeekNextPONumber(ctx, at)
	require.NoError(t, err)
	require.Equal(t, "CIMPO-242500002", next)
}

func TestParsePONumber(t *testing.T) {
	fy, seq, err := ParsePONumber("CIMPO-242500042")
	require.NoError(t, err)
	require.Equal(t, "2425", fy)
	require.EqualValues(t, 42, seq)

	_, _, err = ParsePONumber("PO-2425-42")
	require.ErrorIs(t, err, ErrInvalidPONumber)
}

func TestItemInputAcceptsHSNAliases(t *testing.T) {
	for _, body := range []string{
		`{"requisition_id":1,"hsn_code":"8541"}`,
		`{"requisition_id":1,"hsnSac":"8541"}`,
		`{"requisition_id":1,"hsn_sac":"8541"}`,
	} {
		var in ItemInput
		require.NoError(t, json.Unmarshal([]byte(body), &in))
		require.Equal(t, "8541", in.HSNCode, body)
		require.EqualValues(t, 1, in.MasterID)
	}
}

func TestScopeHidesOtherDivisions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	po, err := f.svc.Create(ctx, buyer, orderInput(ledItem("1", "1")))
	require.NoError(t, err)

	outsider := shared.Caller{Name: "Outsider", DivisionID: 7}
	_, err = f.svc.Get(ctx, outsider, po.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = f.svc.Approve(ctx, outsider, po.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, total, err := f.svc.List(ctx, outsider, ListFilter{})
	require.NoError(t, err)
	require.Zero(t, total)

	_, total, err = f.svc.List(ctx, approver, ListFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}
