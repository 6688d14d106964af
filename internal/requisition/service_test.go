package requisition

import (
	"context"
	"errors"
	"maps"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cimcon/p2p/internal/masterdata"
	"github.com/cimcon/p2p/internal/shared"
)

type memoryReqRepo struct {
	reqs    map[int64]Requisition
	history map[int64]History
	nextID  int64
}

type memoryReqTx struct {
	repo *memoryReqRepo
}

func newMemoryReqRepo() *memoryReqRepo {
	return &memoryReqRepo{reqs: make(map[int64]Requisition), history: make(map[int64]History)}
}

// WithTx restores the previous state when fn fails.
func (r *memoryReqRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	reqs, history, nextID := maps.Clone(r.reqs), maps.Clone(r.history), r.nextID
	if err := fn(ctx, &memoryReqTx{repo: r}); err != nil {
		r.reqs, r.history, r.nextID = reqs, history, nextID
		return err
	}
	return nil
}

func (r *memoryReqRepo) Get(ctx context.Context, id int64) (Requisition, error) {
	req, ok := r.reqs[id]
	if !ok {
		return Requisition{}, ErrNotFound
	}
	return req, nil
}

func (r *memoryReqRepo) ListBatch(ctx context.Context, batchID string) ([]Requisition, error) {
	var out []Requisition
	for _, req := range r.reqs {
		if req.BatchID == batchID {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemNo < out[j].ItemNo })
	return out, nil
}

func (r *memoryReqRepo) List(ctx context.Context, f ListFilter) ([]Requisition, int, error) {
	var out []Requisition
	for _, req := range r.reqs {
		if !f.Scope.All && (req.ProjectCode == "" || req.DivisionID != f.Scope.DivisionID) {
			continue
		}
		if f.BatchID != "" && req.BatchID != f.BatchID {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r *memoryReqRepo) ListHistory(ctx context.Context, id int64) ([]History, error) {
	var out []History
	for _, h := range r.history {
		if h.RequisitionID == id {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryReqTx) next() int64 {
	tx.repo.nextID++
	return tx.repo.nextID
}

func (tx *memoryReqTx) LockBatchKey(ctx context.Context, batchID string) error { return nil }

func (tx *memoryReqTx) LockBatch(ctx context.Context, batchID string) ([]Requisition, error) {
	return tx.repo.ListBatch(ctx, batchID)
}

func (tx *memoryReqTx) Lock(ctx context.Context, id int64) (Requisition, error) {
	return tx.repo.Get(ctx, id)
}

func (tx *memoryReqTx) MaxItemNo(ctx context.Context, batchID string) (int, error) {
	highest := 0
	for _, r := range tx.repo.reqs {
		if r.BatchID == batchID && r.ItemNo > highest {
			highest = r.ItemNo
		}
	}
	return highest, nil
}

func (tx *memoryReqTx) Insert(ctx context.Context, r Requisition) (Requisition, error) {
	r.ID = tx.next()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	tx.repo.reqs[r.ID] = r
	return r, nil
}

func (tx *memoryReqTx) Update(ctx context.Context, r Requisition) error {
	tx.repo.reqs[r.ID] = r
	return nil
}

func (tx *memoryReqTx) UpdateStatus(ctx context.Context, id int64, status Status, remarks string, verified bool) error {
	r := tx.repo.reqs[id]
	r.Status = status
	r.RejectionRemarks = remarks
	r.VerificationStatus = verified
	tx.repo.reqs[id] = r
	return nil
}

func (tx *memoryReqTx) MaxRevision(ctx context.Context, id int64) (int, error) {
	highest := 0
	for _, h := range tx.repo.history {
		if h.RequisitionID == id && h.RevisionNumber > highest {
			highest = h.RevisionNumber
		}
	}
	return highest, nil
}

func (tx *memoryReqTx) InsertHistory(ctx context.Context, h History) error {
	h.ID = tx.next()
	tx.repo.history[h.ID] = h
	return nil
}

func (tx *memoryReqTx) LockHistory(ctx context.Context, id int64) (History, error) {
	h, ok := tx.repo.history[id]
	if !ok {
		return History{}, ErrHistoryNotFound
	}
	return h, nil
}

func (tx *memoryReqTx) ApproveHistory(ctx context.Context, h History) error {
	tx.repo.history[h.ID] = h
	return nil
}

type stubProjects map[string]masterdata.Project

func (s stubProjects) Project(ctx context.Context, code string) (masterdata.Project, error) {
	p, ok := s[code]
	if !ok {
		return masterdata.Project{}, masterdata.ErrProjectNotFound
	}
	return p, nil
}

type recordingMasters struct {
	synced []Requisition
	failOn int64
}

func (m *recordingMasters) SyncFromRequisition(ctx context.Context, r Requisition) error {
	if m.failOn != 0 && r.ID == m.failOn {
		return errors.New("master insert failed")
	}
	m.synced = append(m.synced, r)
	return nil
}

var (
	buyer = shared.Caller{UserID: "7", Name: "Priya", DivisionID: 1}
	admin = shared.Caller{UserID: "1", Name: "Admin", DivisionID: 9, Roles: []string{"admin"}}
)

func newTestService() (*Service, *memoryReqRepo, *recordingMasters) {
	repo := newMemoryReqRepo()
	masters := &recordingMasters{}
	projects := stubProjects{
		"PCODE": {Code: "PCODE", ClientName: "Surat Smart City", DivisionID: 1},
		"OTHER": {Code: "OTHER", ClientName: "Pune", DivisionID: 2},
	}
	svc := NewService(repo, projects, masters, nil, nil, "admin")
	svc.now = func() time.Time { return time.Date(2024, time.July, 15, 10, 0, 0, 0, time.UTC) }
	return svc, repo, masters
}

func items(n int) []ItemInput {
	out := make([]ItemInput, n)
	for i := range out {
		out[i] = ItemInput{
			CimconPartNumber:    "ELED016SCMCB01",
			MaterialDescription: "MCB 16A single pole",
			Make:                "Schneider",
			MaterialGroup:       "Electrical",
			ReqQty:              decimal.NewFromInt(int64(10 * (i + 1))),
			Unit:                "Nos",
		}
	}
	return out
}

func TestSaveBatchAssignsSequentialItemNumbers(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	first, err := svc.SaveBatch(ctx, buyer, SaveBatchInput{BatchID: "1_PCODE", ProjectCode: "PCODE", Items: items(3)})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, itemNos(first))

	more, err := svc.SaveBatch(ctx, buyer, SaveBatchInput{BatchID: "1_PCODE", ProjectCode: "PCODE", Items: items(2)})
	require.NoError(t, err)
	require.Equal(t, []int{4, 5}, itemNos(more))

	for _, r := range append(first, more...) {
		require.Equal(t, StatusPending, r.Status)
		require.Equal(t, OrderSupply, r.OrderType)
		require.False(t, r.VerificationStatus)
	}

	hist, err := repo.ListHistory(ctx, first[0].ID)
	require.NoError(t, err)
	require.NotEmpty(t, hist)
	for _, h := range hist {
		require.Equal(t, 1, h.RevisionNumber)
		require.Empty(t, h.OldValue)
		require.Equal(t, "Priya", h.ChangedBy)
	}
}

func TestSaveBatchRejectsMalformedBatch(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.SaveBatch(ctx, buyer, SaveBatchInput{BatchID: "PCODE_1", ProjectCode: "PCODE", Items: items(1)})
	require.ErrorIs(t, err, ErrInvalidBatch)
	require.Equal(t, shared.KindValidation, shared.KindOf(err))

	_, err = svc.SaveBatch(ctx, buyer, SaveBatchInput{BatchID: "2_OTHER", ProjectCode: "PCODE", Items: items(1)})
	require.ErrorIs(t, err, ErrInvalidBatch)

	bad := items(1)
	bad[0].CimconPartNumber = "SHORT"
	_, err = svc.SaveBatch(ctx, buyer, SaveBatchInput{BatchID: "2_PCODE", ProjectCode: "PCODE", Items: bad})
	require.Error(t, err)
	require.Equal(t, "invalid_part_number", shared.CodeOf(err))
}

func TestSaveBatchOutsideDivisionForbidden(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.SaveBatch(context.Background(), buyer, SaveBatchInput{BatchID: "1_OTHER", ProjectCode: "OTHER", Items: items(1)})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestApproveBatchPropagatesToMasters(t *testing.T) {
	svc, repo, masters := newTestService()
	ctx := context.Background()
	saved, err := svc.SaveBatch(ctx, buyer, SaveBatchInput{BatchID: "1_PCODE", ProjectCode: "PCODE", Items: items(3)})
	require.NoError(t, err)

	approved, err := svc.ApproveBatch(ctx, buyer, "1_PCODE")
	require.NoError(t, err)
	require.Len(t, approved, 3)
	require.Len(t, masters.synced, 3)
	for _, r := range approved {
		require.Equal(t, StatusApproved, r.Status)
		require.True(t, r.ApprovalStatus())
		stored, _ := repo.Get(ctx, r.ID)
		require.True(t, stored.VerificationStatus)
	}
	require.Equal(t, saved[2].ID, masters.synced[2].ID)

	// approving again is a no-op
	_, err = svc.ApproveBatch(ctx, buyer, "1_PCODE")
	require.NoError(t, err)
	require.Len(t, masters.synced, 3)

	_, err = svc.RejectBatch(ctx, buyer, "1_PCODE", "late")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestApproveBatchIsAtomic(t *testing.T) {
	svc, repo, masters := newTestService()
	ctx := context.Background()
	saved, err := svc.SaveBatch(ctx, buyer, SaveBatchInput{BatchID: "1_PCODE", ProjectCode: "PCODE", Items: items(3)})
	require.NoError(t, err)
	masters.failOn = saved[1].ID

	_, err = svc.ApproveBatch(ctx, buyer, "1_PCODE")
	require.Error(t, err)
	for _, r := range saved {
		stored, _ := repo.Get(ctx, r.ID)
		require.Equal(t, StatusPending, stored.Status)
	}
}

func TestRejectBatchRequiresRemarks(t *testing.T) {
	svc, _, masters := newTestService()
	ctx := context.Background()
	_, err := svc.SaveBatch(ctx, buyer, SaveBatchInput{BatchID: "1_PCODE", ProjectCode: "PCODE", Items: items(2)})
	require.NoError(t, err)

	_, err = svc.RejectBatch(ctx, buyer, "1_PCODE", "   ")
	require.ErrorIs(t, err, ErrRemarksRequired)

	rejected, err := svc.RejectBatch(ctx, buyer, "1_PCODE", "duplicate of batch 3")
	require.NoError(t, err)
	for _, r := range rejected {
		require.Equal(t, StatusRejected, r.Status)
		require.Equal(t, "duplicate of batch 3", r.RejectionRemarks)
	}
	require.Empty(t, masters.synced)

	_, err = svc.ApproveBatch(ctx, buyer, "1_PCODE")
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.ApproveBatch(ctx, buyer, "9_PCODE")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateJournalsChangesUnderOneRevision(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	saved, err := svc.SaveBatch(ctx, buyer, SaveBatchInput{BatchID: "1_PCODE", ProjectCode: "PCODE", Items: items(1)})
	require.NoError(t, err)
	id := saved[0].ID

	qty := decimal.NewFromInt(25)
	mk := "L&T"
	updated, err := svc.Update(ctx, buyer, id, UpdateInput{ReqQty: &qty, Make: &mk})
	require.NoError(t, err)
	require.True(t, updated.ReqQty.Equal(qty))

	hist, _ := repo.ListHistory(ctx, id)
	var rev2 []History
	for _, h := range hist {
		if h.RevisionNumber == 2 {
			rev2 = append(rev2, h)
		}
	}
	require.Len(t, rev2, 2)
	fields := map[string]History{}
	for _, h := range rev2 {
		fields[h.FieldName] = h
	}
	require.Equal(t, "10", fields["req_qty"].OldValue)
	require.Equal(t, "25", fields["req_qty"].NewValue)
	require.Equal(t, "Schneider", fields["make"].OldValue)

	// no-op update writes nothing
	_, err = svc.Update(ctx, buyer, id, UpdateInput{ReqQty: &qty})
	require.NoError(t, err)
	after, _ := repo.ListHistory(ctx, id)
	require.Len(t, after, len(hist))

	qty3 := decimal.NewFromInt(30)
	_, err = svc.Update(ctx, buyer, id, UpdateInput{ReqQty: &qty3})
	require.NoError(t, err)
	highest, _ := (&memoryReqTx{repo: repo}).MaxRevision(ctx, id)
	require.Equal(t, 3, highest)
}

func TestUpdateRejectedReopensAsPending(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	saved, _ := svc.SaveBatch(ctx, buyer, SaveBatchInput{BatchID: "1_PCODE", ProjectCode: "PCODE", Items: items(1)})
	_, err := svc.RejectBatch(ctx, buyer, "1_PCODE", "wrong make")
	require.NoError(t, err)

	mk := "ABB"
	updated, err := svc.Update(ctx, buyer, saved[0].ID, UpdateInput{Make: &mk})
	require.NoError(t, err)
	require.Equal(t, StatusPending, updated.Status)
	require.Empty(t, updated.RejectionRemarks)

	hist, _ := repo.ListHistory(ctx, saved[0].ID)
	var statusRow *History
	for i := range hist {
		if hist[i].FieldName == "status" {
			statusRow = &hist[i]
		}
	}
	require.NotNil(t, statusRow)
	require.Equal(t, "rejected", statusRow.OldValue)
	require.Equal(t, "pending", statusRow.NewValue)
}

func TestUpdateApprovedRefreshesMaster(t *testing.T) {
	svc, _, masters := newTestService()
	ctx := context.Background()
	saved, _ := svc.SaveBatch(ctx, buyer, SaveBatchInput{BatchID: "1_PCODE", ProjectCode: "PCODE", Items: items(1)})
	_, err := svc.ApproveBatch(ctx, buyer, "1_PCODE")
	require.NoError(t, err)

	desc := "MCB 16A double pole"
	updated, err := svc.Update(ctx, buyer, saved[0].ID, UpdateInput{MaterialDescription: &desc})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, updated.Status)
	require.Len(t, masters.synced, 2)
	require.Equal(t, desc, masters.synced[1].MaterialDescription)
}

func TestApproveRevisionIsIdempotent(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	saved, _ := svc.SaveBatch(ctx, buyer, SaveBatchInput{BatchID: "1_PCODE", ProjectCode: "PCODE", Items: items(1)})
	hist, _ := repo.ListHistory(ctx, saved[0].ID)

	first, err := svc.ApproveRevision(ctx, buyer, hist[0].ID, "ok")
	require.NoError(t, err)
	require.True(t, first.ApprovalStatus)
	require.Equal(t, "Priya", first.ApprovedBy)
	require.NotNil(t, first.ApprovedAt)

	second, err := svc.ApproveRevision(ctx, admin, hist[0].ID, "again")
	require.NoError(t, err)
	require.Equal(t, first, second)

	_, err = svc.ApproveRevision(ctx, buyer, 9999, "")
	require.ErrorIs(t, err, ErrHistoryNotFound)
}

func TestListScopedToCallerDivision(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	_, err := svc.SaveBatch(ctx, buyer, SaveBatchInput{BatchID: "1_PCODE", ProjectCode: "PCODE", Items: items(2)})
	require.NoError(t, err)
	_, err = svc.SaveBatch(ctx, admin, SaveBatchInput{BatchID: "1_OTHER", ProjectCode: "OTHER", Items: items(1)})
	require.NoError(t, err)

	own, _, err := svc.List(ctx, buyer, ListFilter{})
	require.NoError(t, err)
	require.Len(t, own, 2)

	all, _, err := svc.List(ctx, admin, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestParseBatchID(t *testing.T) {
	n, code, err := ParseBatchID("12_PCODE")
	require.NoError(t, err)
	require.Equal(t, 12, n)
	require.Equal(t, "PCODE", code)

	for _, bad := range []string{"", "PCODE", "0_PCODE", "1-PCODE", "1_", "_PCODE", "1_P CODE"} {
		_, _, err := ParseBatchID(bad)
		require.ErrorIs(t, err, ErrInvalidBatch, bad)
	}
}

func itemNos(reqs []Requisition) []int {
	out := make([]int, len(reqs))
	for i, r := range reqs {
		out[i] = r.ItemNo
	}
	return out
}
