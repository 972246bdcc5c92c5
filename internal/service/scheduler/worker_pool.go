package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/monitoring"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/report"
)

// sourceTask is one source's fetch+detect unit of work within a cycle.
type sourceTask struct {
	SourceID string
	Run      func(ctx context.Context) sourceResult
}

// sourceResult is a worker's outcome for one source.
type sourceResult struct {
	SourceID string
	Outcome  report.SourceOutcome
	Changes  []*monitoring.Change
	Err      error
	Duration time.Duration
}

// workerPool runs per-source tasks with bounded concurrency for the span of
// one cycle. Cancellation is honored at task boundaries: a task picked up
// after the context is done is reported as skipped, not executed.
type workerPool struct {
	workers int
	logger  *zap.Logger

	completed int64
	failed    int64
}

func newWorkerPool(workers int, logger *zap.Logger) *workerPool {
	if workers <= 0 {
		workers = 3
	}
	return &workerPool{workers: workers, logger: logger}
}

// Run executes all tasks and returns one result per task. Blocks until
// every worker drains or the context ends.
func (wp *workerPool) Run(ctx context.Context, tasks []sourceTask) []sourceResult {
	taskChan := make(chan sourceTask, len(tasks))
	resultChan := make(chan sourceResult, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go wp.worker(ctx, i, taskChan, resultChan, &wg)
	}

	for _, task := range tasks {
		taskChan <- task
	}
	close(taskChan)
	wg.Wait()
	close(resultChan)

	results := make([]sourceResult, 0, len(tasks))
	for result := range resultChan {
		results = append(results, result)
	}
	return results
}

func (wp *workerPool) worker(ctx context.Context, id int, tasks <-chan sourceTask, results chan<- sourceResult, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := wp.logger.With(zap.Int("worker_id", id))

	for task := range tasks {
		select {
		case <-ctx.Done():
			results <- sourceResult{
				SourceID: task.SourceID,
				Outcome:  report.SourceSkipped,
				Err:      ctx.Err(),
			}
			continue
		default:
		}

		start := time.Now()
		result := task.Run(ctx)
		result.Duration = time.Since(start)

		if result.Err != nil {
			atomic.AddInt64(&wp.failed, 1)
		} else {
			atomic.AddInt64(&wp.completed, 1)
		}

		logger.Debug("source task completed",
			zap.String("source_id", task.SourceID),
			zap.String("outcome", string(result.Outcome)),
			zap.Duration("duration", result.Duration),
			zap.Error(result.Err))

		results <- result
	}
}

// Stats returns the pool's lifetime completed and failed task counts.
func (wp *workerPool) Stats() (completed, failed int64) {
	return atomic.LoadInt64(&wp.completed), atomic.LoadInt64(&wp.failed)
}
