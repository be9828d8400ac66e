package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSweeper(t *testing.T, store Store, clock *fakeClock) *Sweeper {
	t.Helper()
	s, err := NewSweeper(store, 15*time.Minute, 10, nil, zerolog.Nop())
	require.NoError(t, err)
	s.now = clock.Now
	return s
}

func TestSweepFailsStuckJobs(t *testing.T) {
	clock := newFakeClock()
	store, _ := newTestStore(t, clock)
	sweeper := newTestSweeper(t, store, clock)
	ctx := context.Background()

	mustCreate(t, store, pendingJob("stuck", "u1", clock.Now()))
	mustCreate(t, store, pendingJob("fresh", "u1", clock.Now()))
	mustCreate(t, store, pendingJob("waiting", "u1", clock.Now()))

	_, err := store.CompareAndSetStatus(ctx, "stuck", StatusPending, StatusProcessing, Update{})
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)
	_, err = store.CompareAndSetStatus(ctx, "fresh", StatusPending, StatusProcessing, Update{})
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := store.Get(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, CategoryTimeout, job.ErrorDetail)

	job, err = store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, job.Status)

	// PENDING は掃除の対象外
	job, err = store.Get(ctx, "waiting")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)

	n, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepLosesRaceToWorker(t *testing.T) {
	clock := newFakeClock()
	store, _ := newTestStore(t, clock)
	ctx := context.Background()

	mustCreate(t, store, pendingJob("j1", "u1", clock.Now()))
	_, err := store.CompareAndSetStatus(ctx, "j1", StatusPending, StatusProcessing, Update{})
	require.NoError(t, err)
	clock.Advance(20 * time.Minute)

	// 一覧取得の直後にワーカーが完了させた状況
	racing := &racingStore{Store: store, beforeCAS: func() {
		_, err := store.CompareAndSetStatus(ctx, "j1", StatusProcessing, StatusCompleted, Update{ResultLocation: "local://r"})
		require.NoError(t, err)
	}}
	sweeper := newTestSweeper(t, racing, clock)

	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	job, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
}

func TestSweeperHandleTask(t *testing.T) {
	clock := newFakeClock()
	store, _ := newTestStore(t, clock)
	sweeper := newTestSweeper(t, store, clock)

	require.NoError(t, sweeper.HandleTask(context.Background(), asynq.NewTask(TaskTypeSweep, nil)))
}

func TestNewSweeperValidates(t *testing.T) {
	_, err := NewSweeper(nil, time.Minute, 1, nil, zerolog.Nop())
	assert.Error(t, err)

	clock := newFakeClock()
	store, _ := newTestStore(t, clock)
	_, err = NewSweeper(store, 0, 1, nil, zerolog.Nop())
	assert.Error(t, err)
}

type racingStore struct {
	Store
	beforeCAS func()
	once      bool
}

func (r *racingStore) CompareAndSetStatus(ctx context.Context, jobID string, from, to Status, u Update) (*Job, error) {
	if !r.once {
		r.once = true
		r.beforeCAS()
	}
	return r.Store.CompareAndSetStatus(ctx, jobID, from, to, u)
}
