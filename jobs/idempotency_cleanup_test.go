package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/cimcon/p2p/internal/jobs"
)

type recordingPurger struct {
	calls   []time.Duration
	removed int64
	err     error
}

func (p *recordingPurger) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	p.calls = append(p.calls, olderThan)
	return p.removed, p.err
}

func TestIdempotencyCleanupUsesConfiguredRetention(t *testing.T) {
	purger := &recordingPurger{removed: 12}
	job := NewIdempotencyCleanupJob(purger, 720*time.Hour, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, []time.Duration{720 * time.Hour}, purger.calls)
}

func TestIdempotencyCleanupPayloadOverridesRetention(t *testing.T) {
	purger := &recordingPurger{}
	job := NewIdempotencyCleanupJob(purger, 720*time.Hour, nil, nil)

	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, []time.Duration{48 * time.Hour}, purger.calls)
}

func TestIdempotencyCleanupRejectsMissingRetention(t *testing.T) {
	purger := &recordingPurger{}
	job := NewIdempotencyCleanupJob(purger, 0, nil, nil)

	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, purger.calls)
}

func TestIdempotencyCleanupPropagatesStoreError(t *testing.T) {
	purger := &recordingPurger{err: errors.New("connection reset")}
	job := NewIdempotencyCleanupJob(purger, time.Hour, nil, nil)

	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	assert.Error(t, job.Handle(context.Background(), task))
}
