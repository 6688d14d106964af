package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/cimcon/p2p/internal/inventory"
	jobmetrics "github.com/cimcon/p2p/internal/jobs"
)

const (
	// TaskStockReconcile triggers the nightly inventory reconciliation.
	TaskStockReconcile = "inventory:reconcile"
)

// StockReconcilePayload carries scheduling metadata.
type StockReconcilePayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewStockReconcileTask constructs an Asynq task for stock reconciliation.
func NewStockReconcileTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(StockReconcilePayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockReconcile, body, asynq.Queue(QueueDefault)), nil
}

// Reconciler reports inventory rows whose stored totals disagree with their
// locations or active allocations.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]inventory.Drift, error)
}

// StockReconcileJob reports drift; it never corrects stock.
type StockReconcileJob struct {
	Inventory Reconciler
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewStockReconcileJob initialises the reconcile handler.
func NewStockReconcileJob(inv Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockReconcileJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &StockReconcileJob{Inventory: inv, Logger: logger, Metrics: metrics}
}

// Handle executes the reconciliation.
func (j *StockReconcileJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Inventory == nil {
		return errors.New("stock reconcile: handler not configured")
	}
	var payload StockReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode reconcile payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskStockReconcile)
	defer func() { err = tracker.End(err) }()

	start := time.Now()
	drifts, err := j.Inventory.Reconcile(ctx)
	if err != nil {
		j.Logger.Error("stock reconcile failed", slog.Any("error", err))
		return err
	}
	totals, allocations := 0, 0
	for _, d := range drifts {
		if !d.StoredTotal.Equal(d.LocationsTotal) {
			totals++
		}
		if !d.StoredAllocated.Equal(d.ActiveAllocated) {
			allocations++
		}
	}
	j.Metrics.AddDrift("total", totals)
	j.Metrics.AddDrift("allocated", allocations)
	j.Logger.Info("stock reconcile completed",
		slog.Int("drifting_items", len(drifts)),
		slog.Int("total_drift", totals),
		slog.Int("allocated_drift", allocations),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
