package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planscan-tech/planscan/internal/measure"
)

func newQueuedJob(id string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        id,
		Status:    StatusQueued,
		Filename:  "plan.pdf",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Create(ctx, newQueuedJob("j1")))

	job, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, "plan.pdf", job.Filename)

	// Duplicate IDs are rejected.
	var storageErr *StorageError
	require.ErrorAs(t, s.Create(ctx, newQueuedJob("j1")), &storageErr)

	// New jobs must be queued.
	bad := newQueuedJob("j2")
	bad.Status = StatusProcessing
	require.ErrorAs(t, s.Create(ctx, bad), &storageErr)
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "missing")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.JobID)
}

func TestMemoryStoreTransitionEnforced(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newQueuedJob("j1")))

	require.NoError(t, s.SetStatus(ctx, "j1", StatusProcessing, nil))
	// Re-asserting processing is idempotent.
	require.NoError(t, s.SetStatus(ctx, "j1", StatusProcessing, nil))
	require.NoError(t, s.SetStatus(ctx, "j1", StatusCompleted, Fields{"total_tendons": 5}))

	var transErr *InvalidTransitionError
	err := s.SetStatus(ctx, "j1", StatusCancelled, nil)
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, StatusCompleted, transErr.From)

	job, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 5, job.TotalTendons)
}

func TestMemoryStoreProgressNeverRegresses(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newQueuedJob("j1")))

	require.NoError(t, s.SetFields(ctx, "j1", Fields{"progress": 40, "message": "Page 1/2"}))
	require.NoError(t, s.SetFields(ctx, "j1", Fields{"progress": 20, "message": "stale"}))

	job, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 40, job.Progress)
	assert.Equal(t, "stale", job.Message)

	require.NoError(t, s.SetFields(ctx, "j1", Fields{"progress": 250}))
	job, err = s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 100, job.Progress)
}

func TestMemoryStoreResults(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newQueuedJob("j1")))

	results := []PageResult{
		{Page: 1, TendonCount: 2, Records: []measure.Record{{Page: 1, Tendon: "T1"}, {Page: 1, Tendon: "T2"}}},
		{Page: 2, TendonCount: 1, Records: []measure.Record{{Page: 2, Tendon: "T3"}}},
	}
	require.NoError(t, s.SaveResults(ctx, "j1", results))

	got, err := s.GetResults(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].TendonCount)
	assert.Equal(t, "T3", got[1].Records[0].Tendon)

	_, err = s.GetResults(ctx, "nope")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newQueuedJob("j1")))

	job, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	job.Status = StatusFailed

	fresh, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, fresh.Status)
}
