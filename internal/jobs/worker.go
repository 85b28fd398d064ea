package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Queue dispatches queued job IDs to a fixed pool of workers. Each worker
// runs jobs to a terminal state through the controller.
type Queue struct {
	controller *Controller
	tasks      chan string
	workers    int
	logger     *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewQueue creates a queue with the given worker count and backlog size.
func NewQueue(controller *Controller, workers, backlog int, logger *slog.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if backlog <= 0 {
		backlog = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		controller: controller,
		tasks:      make(chan string, backlog),
		workers:    workers,
		logger:     logger,
	}
}

// Start launches the worker pool. Workers drain until Stop is called and
// the backlog is empty, or ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.worker(ctx, i)
		}
		q.logger.Info("job queue started", "workers", q.workers, "backlog", cap(q.tasks))
	})
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case jobID, ok := <-q.tasks:
			if !ok {
				return
			}
			if err := q.controller.Process(ctx, jobID); err != nil {
				q.logger.Error("job processing failed", "worker", id, "job_id", jobID, "error", err)
			}
		}
	}
}

// Enqueue hands a job to the pool without blocking. It fails when the
// backlog is full so the caller can reject the upload instead of stalling.
func (q *Queue) Enqueue(jobID string) error {
	select {
	case q.tasks <- jobID:
		return nil
	default:
		return fmt.Errorf("job backlog full")
	}
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.tasks)
		q.wg.Wait()
		q.logger.Info("job queue stopped")
	})
}
