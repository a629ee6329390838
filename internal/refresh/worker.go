// ============================================================================
// Refresh Worker - Projection Execution Unit
// ============================================================================
//
// Package: internal/refresh
// File: worker.go
// Function: Each Worker runs in its own goroutine and computes projections
//
// How it works:
//   1. Receive task from taskCh (blocking wait)
//   2. Run the Projector with a per-task timeout
//   3. Send result to resultCh
//   4. Repeat until stopCh is closed
//
// Projections only read planner and tracker state, so any number of
// workers may run them concurrently.
//
// ============================================================================

package refresh

import (
	"context"
	"time"
)

// Worker represents a work execution unit
type Worker struct {
	id        int
	taskCh    <-chan Task
	resultCh  chan<- Result
	stopCh    <-chan struct{}
	projector Projector
}

func newWorker(id int, taskCh <-chan Task, resultCh chan<- Result, stopCh <-chan struct{}, projector Projector) *Worker {
	return &Worker{
		id:        id,
		taskCh:    taskCh,
		resultCh:  resultCh,
		stopCh:    stopCh,
		projector: projector,
	}
}

// Run is the main loop of Worker
func (w *Worker) Run() {
	for {
		select {
		case <-w.stopCh:
			return
		case task := <-w.taskCh:
			result := w.execute(task)
			select {
			case w.resultCh <- result:
			case <-w.stopCh:
				return
			}
		}
	}
}

// execute runs one projection, bounded by the task timeout
func (w *Worker) execute(task Task) Result {
	start := time.Now()

	ctx := context.Background()
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	projection, err := w.projector.Project(ctx, task.OrderID, task.AsOf)
	return Result{
		Run:        task.Run,
		OrderID:    task.OrderID,
		Projection: projection,
		Err:        err,
		Duration:   time.Since(start),
	}
}
