package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/redis/go-redis/v9"
)

// DefaultJobTTL is how long job state survives in Redis. The TTL is
// refreshed on every write, so it measures time since last activity.
const DefaultJobTTL = 7 * 24 * time.Hour

const redisWriteAttempts = 3

// RedisStore persists jobs as Redis hashes under job:{id}, with per-page
// results serialized as JSON under job:{id}:results. It is the backend for
// multi-instance deployments.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing Redis client. A non-positive ttl falls
// back to DefaultJobTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func jobKey(jobID string) string     { return "job:" + jobID }
func resultsKey(jobID string) string { return "job:" + jobID + ":results" }

func (s *RedisStore) write(ctx context.Context, op string, fn func() error) error {
	err := retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(redisWriteAttempts),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return &StorageError{Op: op, Err: err}
	}
	return nil
}

func (s *RedisStore) Create(ctx context.Context, job *Job) error {
	if job.Status != StatusQueued {
		return &StorageError{Op: "create", Err: fmt.Errorf("new job must be %s, got %s", StatusQueued, job.Status)}
	}
	fields := map[string]any{
		"status":     string(job.Status),
		"progress":   job.Progress,
		"message":    job.Message,
		"filename":   job.Filename,
		"created_at": job.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": job.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	key := jobKey(job.ID)
	return s.write(ctx, "create", func() error {
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, s.ttl)
		_, err := pipe.Exec(ctx)
		return err
	})
}

func (s *RedisStore) Get(ctx context.Context, jobID string) (*Job, error) {
	raw, err := s.client.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	if len(raw) == 0 {
		return nil, &NotFoundError{JobID: jobID}
	}
	return parseJob(jobID, raw)
}

func (s *RedisStore) SetStatus(ctx context.Context, jobID string, status Status, extra Fields) error {
	current, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !current.Status.CanTransition(status) {
		return &InvalidTransitionError{JobID: jobID, From: current.Status, To: status}
	}
	return s.writeFields(ctx, "set_status", current, status, extra)
}

func (s *RedisStore) SetFields(ctx context.Context, jobID string, fields Fields) error {
	current, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	return s.writeFields(ctx, "set_fields", current, "", fields)
}

// writeFields merges fields into the stored hash and refreshes the TTL.
// Progress is clamped against the current value so it never regresses.
// Status changes only happen through the status argument; a "status" key
// in fields is dropped so SetFields cannot bypass transition checks.
func (s *RedisStore) writeFields(ctx context.Context, op string, current *Job, status Status, fields Fields) error {
	hset := make(map[string]any, len(fields)+2)
	for key, value := range fields {
		switch key {
		case "status":
			continue
		case "progress":
			p, ok := toInt(value)
			if !ok || p <= current.Progress {
				continue
			}
			hset["progress"] = min(p, 100)
		default:
			hset[key] = fmt.Sprint(value)
		}
	}
	if status != "" {
		hset["status"] = string(status)
	}
	hset["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	key := jobKey(current.ID)
	return s.write(ctx, op, func() error {
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, key, hset)
		pipe.Expire(ctx, key, s.ttl)
		_, err := pipe.Exec(ctx)
		return err
	})
}

func (s *RedisStore) SaveResults(ctx context.Context, jobID string, results []PageResult) error {
	if _, err := s.Get(ctx, jobID); err != nil {
		return err
	}
	data, err := json.Marshal(results)
	if err != nil {
		return &StorageError{Op: "save_results", Err: err}
	}
	return s.write(ctx, "save_results", func() error {
		return s.client.Set(ctx, resultsKey(jobID), data, s.ttl).Err()
	})
}

func (s *RedisStore) GetResults(ctx context.Context, jobID string) ([]PageResult, error) {
	if _, err := s.Get(ctx, jobID); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, resultsKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "get_results", Err: err}
	}
	var results []PageResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, &StorageError{Op: "get_results", Err: err}
	}
	return results, nil
}

func parseJob(jobID string, raw map[string]string) (*Job, error) {
	job := &Job{
		ID:       jobID,
		Status:   Status(raw["status"]),
		Message:  raw["message"],
		Filename: raw["filename"],
		Error:    raw["error"],
	}
	if !job.Status.Valid() {
		return nil, &StorageError{Op: "get", Err: fmt.Errorf("job %s has unknown status %q", jobID, raw["status"])}
	}
	job.Progress = parseIntField(raw, "progress")
	job.TotalPages = parseIntField(raw, "total_pages")
	job.CurrentPage = parseIntField(raw, "current_page")
	job.TotalTendons = parseIntField(raw, "total_tendons")
	job.ExcelPath = raw["excel_path"]
	job.CreatedAt = parseTimeField(raw, "created_at")
	job.UpdatedAt = parseTimeField(raw, "updated_at")
	return job, nil
}

func parseIntField(raw map[string]string, key string) int {
	n, _ := strconv.Atoi(raw[key])
	return n
}

func parseTimeField(raw map[string]string, key string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, raw[key])
	return t
}
