package jobstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/inventory-etl/internal/models"
)

func newTestRecorder(t *testing.T) *RedisRecorder {
	t.Helper()
	addr := os.Getenv("INVENTORY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("INVENTORY_TEST_REDIS_ADDR not set")
	}
	r, err := NewRedisRecorder(context.Background(), &Config{Addr: addr, TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestKey(t *testing.T) {
	require.Equal(t, "etl_job:abc", Key("abc"))
}

func TestRecordAndLookup(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	job := &models.Job{
		ID:           uuid.NewString(),
		Status:       models.JobStatusCompleted,
		SourceFile:   "stock.xlsx",
		RowsInserted: 12,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, r.Record(ctx, job))

	got, err := r.Lookup(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, job.Status, got.Status)
	require.Equal(t, 12, got.RowsInserted)
	require.True(t, job.CreatedAt.Equal(got.CreatedAt))

	ttl, err := r.client.TTL(ctx, Key(job.ID)).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
}

func TestLookupMissing(t *testing.T) {
	r := newTestRecorder(t)
	_, err := r.Lookup(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, ErrNotFound)
}
