package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planscan-tech/planscan/internal/measure"
)

func newRedisTestStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ttl), mr
}

func seedRedisJob(t *testing.T, store *RedisStore, id string) *Job {
	t.Helper()
	now := time.Now().UTC()
	job := &Job{
		ID:        id,
		Status:    StatusQueued,
		Filename:  "plan.pdf",
		Message:   "Queued for processing",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.Create(context.Background(), job))
	return job
}

func TestRedisKeys(t *testing.T) {
	assert.Equal(t, "job:abc", jobKey("abc"))
	assert.Equal(t, "job:abc:results", resultsKey("abc"))
}

func TestParseJob(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw := map[string]string{
		"status":        "processing",
		"progress":      "47",
		"message":       "Page 1/2",
		"filename":      "plan.pdf",
		"total_pages":   "2",
		"current_page":  "1",
		"total_tendons": "0",
		"created_at":    created.Format(time.RFC3339Nano),
		"updated_at":    created.Add(time.Minute).Format(time.RFC3339Nano),
	}

	job, err := parseJob("abc", raw)
	require.NoError(t, err)
	assert.Equal(t, "abc", job.ID)
	assert.Equal(t, StatusProcessing, job.Status)
	assert.Equal(t, 47, job.Progress)
	assert.Equal(t, 2, job.TotalPages)
	assert.Equal(t, 1, job.CurrentPage)
	assert.True(t, job.CreatedAt.Equal(created))
}

func TestParseJobUnknownStatus(t *testing.T) {
	_, err := parseJob("abc", map[string]string{"status": "exploded"})
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
}

func TestRedisStoreCreateAndGet(t *testing.T) {
	store, _ := newRedisTestStore(t, time.Hour)
	seedRedisJob(t, store, "abc")

	job, err := store.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", job.ID)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, "plan.pdf", job.Filename)
	assert.Equal(t, 0, job.Progress)
}

func TestRedisStoreGetMissing(t *testing.T) {
	store, _ := newRedisTestStore(t, time.Hour)

	_, err := store.Get(context.Background(), "missing")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.JobID)
}

func TestRedisStoreCreateRejectsNonQueued(t *testing.T) {
	store, _ := newRedisTestStore(t, time.Hour)
	job := &Job{ID: "abc", Status: StatusProcessing, CreatedAt: time.Now().UTC()}

	var storageErr *StorageError
	require.ErrorAs(t, store.Create(context.Background(), job), &storageErr)
}

func TestRedisStoreTransitions(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisTestStore(t, time.Hour)
	seedRedisJob(t, store, "abc")

	require.NoError(t, store.SetStatus(ctx, "abc", StatusProcessing, Fields{"message": "Processing"}))
	// Re-entering processing is allowed for worker retries.
	require.NoError(t, store.SetStatus(ctx, "abc", StatusProcessing, nil))
	require.NoError(t, store.SetStatus(ctx, "abc", StatusCompleted, Fields{"progress": 100}))

	err := store.SetStatus(ctx, "abc", StatusProcessing, nil)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StatusCompleted, invalid.From)
	assert.Equal(t, StatusProcessing, invalid.To)

	job, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
}

func TestRedisStoreProgressNeverRegresses(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisTestStore(t, time.Hour)
	seedRedisJob(t, store, "abc")

	require.NoError(t, store.SetFields(ctx, "abc", Fields{"progress": 40}))
	require.NoError(t, store.SetFields(ctx, "abc", Fields{"progress": 20}))

	job, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 40, job.Progress)

	require.NoError(t, store.SetFields(ctx, "abc", Fields{"progress": 250}))
	job, err = store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 100, job.Progress)
}

func TestRedisStoreSetFieldsCannotChangeStatus(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisTestStore(t, time.Hour)
	seedRedisJob(t, store, "abc")

	require.NoError(t, store.SetFields(ctx, "abc", Fields{
		"status":  string(StatusCompleted),
		"message": "Page 1/2",
	}))

	job, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, "Page 1/2", job.Message)
}

func TestRedisStoreRefreshesTTLOnWrite(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisTestStore(t, time.Hour)
	seedRedisJob(t, store, "abc")

	assert.Equal(t, time.Hour, mr.TTL(jobKey("abc")))

	mr.FastForward(30 * time.Minute)
	assert.Equal(t, 30*time.Minute, mr.TTL(jobKey("abc")))

	require.NoError(t, store.SetFields(ctx, "abc", Fields{"progress": 10}))
	assert.Equal(t, time.Hour, mr.TTL(jobKey("abc")))
}

func TestRedisStoreResultsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisTestStore(t, time.Hour)
	seedRedisJob(t, store, "abc")

	// No results stored yet.
	results, err := store.GetResults(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, results)

	saved := []PageResult{
		{
			Page:        1,
			TendonCount: 2,
			OverlayFile: "page_1_overlay.png",
			Records: []measure.Record{
				{Tendon: "T1", Page: 1},
				{Tendon: "T2", Page: 1},
			},
		},
	}
	require.NoError(t, store.SaveResults(ctx, "abc", saved))
	assert.Equal(t, time.Hour, mr.TTL(resultsKey("abc")))

	results, err = store.GetResults(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].TendonCount)
	assert.Equal(t, "page_1_overlay.png", results[0].OverlayFile)
	assert.Equal(t, "T1", results[0].Records[0].Tendon)

	_, err = store.GetResults(ctx, "missing")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestNewRedisStoreDefaultTTL(t *testing.T) {
	s := NewRedisStore(nil, 0)
	assert.Equal(t, DefaultJobTTL, s.ttl)

	s = NewRedisStore(nil, time.Hour)
	assert.Equal(t, time.Hour, s.ttl)
}
