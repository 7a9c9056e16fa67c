package retrieval

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type TaskStatus string

const (
	TaskOK       TaskStatus = "ok"
	TaskTimedOut TaskStatus = "timed_out"
	TaskFailed   TaskStatus = "failed"
	// TaskAbandoned marks tasks whose result arrived after the overall wait
	// deadline, or never started.
	TaskAbandoned TaskStatus = "abandoned"
)

// TaskResult is the outcome of one fan-out task. Value is meaningful only
// when Status is TaskOK.
type TaskResult[T any] struct {
	Name   string
	Value  T
	Status TaskStatus
	Err    error
}

type Task[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

type FanoutOptions struct {
	// Limit bounds concurrently running tasks; <= 0 means len(tasks).
	Limit       int
	TaskTimeout time.Duration
	WaitTimeout time.Duration
}

// RunAll executes tasks on a bounded group and collects whatever finished.
// A failing task never cancels its siblings and never fails the call; its
// status is reported in the matching TaskResult instead. Results keep task
// order.
func RunAll[T any](ctx context.Context, tasks []Task[T], opts FanoutOptions) []TaskResult[T] {
	results := make([]TaskResult[T], len(tasks))
	for i, task := range tasks {
		results[i] = TaskResult[T]{Name: task.Name, Status: TaskAbandoned}
	}
	if len(tasks) == 0 {
		return results
	}

	limit := opts.Limit
	if limit <= 0 || limit > len(tasks) {
		limit = len(tasks)
	}

	waitCtx := ctx
	cancelWait := func() {}
	if opts.WaitTimeout > 0 {
		waitCtx, cancelWait = context.WithTimeout(ctx, opts.WaitTimeout)
	}
	defer cancelWait()

	// Workers publish into results under mu until the caller seals it.
	// Sealing on wait expiry keeps everything finished so far and drops
	// late arrivals.
	var (
		mu     sync.Mutex
		sealed bool
	)
	done := make(chan struct{})

	var group errgroup.Group
	group.SetLimit(limit)
	go func() {
		defer close(done)
		for i, task := range tasks {
			group.Go(func() error {
				res := runOne(waitCtx, task, opts.TaskTimeout)
				mu.Lock()
				if !sealed {
					results[i] = res
				}
				mu.Unlock()
				return nil
			})
		}
		_ = group.Wait()
	}()

	select {
	case <-done:
	case <-waitCtx.Done():
	}

	mu.Lock()
	sealed = true
	out := slices.Clone(results)
	mu.Unlock()
	return out
}

func runOne[T any](ctx context.Context, task Task[T], timeout time.Duration) TaskResult[T] {
	result := TaskResult[T]{Name: task.Name}
	if err := ctx.Err(); err != nil {
		result.Status = TaskAbandoned
		result.Err = err
		return result
	}

	taskCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	value, err := task.Run(taskCtx)
	switch {
	case err == nil:
		result.Value = value
		result.Status = TaskOK
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		result.Status = TaskTimedOut
		result.Err = err
	default:
		result.Status = TaskFailed
		result.Err = err
	}
	return result
}
