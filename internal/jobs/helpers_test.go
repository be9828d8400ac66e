package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/dpeshrijal/pdf-summarizer-backend/internal/generation"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: baseTime}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(t *testing.T, clock *fakeClock) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := NewRedisStore(rdb)
	store.now = clock.Now
	return store, mr
}

func pendingJob(id, user string, createdAt time.Time) *Job {
	return &Job{
		JobID:          id,
		UserID:         user,
		SourceFileID:   "file-" + user,
		Status:         StatusPending,
		JobDescription: "Backend engineer",
		ModelParameters: generation.Parameters{
			Model:         "gemini-test",
			Temperature:   0.4,
			PromptVersion: generation.PromptVersion,
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
		ExpiresAt: createdAt.Add(24 * time.Hour),
	}
}

func mustCreate(t *testing.T, store Store, job *Job) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), job))
}
