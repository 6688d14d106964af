package jobs

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cimcon/p2p/internal/shared"
)

type stubInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	info, ok := s.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestInspectQueuesReportsUnseenQueuesAsEmpty(t *testing.T) {
	stats, err := InspectQueues(stubInspector{infos: map[string]*asynq.QueueInfo{
		QueueMail: {Queue: QueueMail, Pending: 2, Retry: 1},
	}})
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, QueueStats{Queue: QueueMail, Pending: 2, Retry: 1}, stats[0])
	assert.Equal(t, QueueStats{Queue: QueueDefault}, stats[1])
}

func TestInspectQueuesRedisFailure(t *testing.T) {
	_, err := InspectQueues(stubInspector{err: errors.New("dial tcp: refused")})
	require.ErrorIs(t, err, ErrQueueUnavailable)
	assert.Equal(t, shared.KindIntegration, shared.KindOf(err))
}

func TestStatsEndpoint(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(stubInspector{infos: map[string]*asynq.QueueInfo{
		QueueDefault: {Queue: QueueDefault, Scheduled: 1},
	}}, slog.Default()).MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []QueueStats `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Queues, 2)
	assert.Equal(t, 1, body.Queues[1].Scheduled)
}

func TestStatsEndpointWithoutRedis(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(stubInspector{err: errors.New("redis down")}, slog.Default()).MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/stats", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
