package ingest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// fileJob is one log file waiting to be processed.
type fileJob struct {
	Directory   string
	MachineType string
	File        string
}

// FileHandler processes one file. A non-nil error counts the file as failed.
type FileHandler func(ctx context.Context, job fileJob) error

// WorkerPool manages a pool of workers processing the files of one directory.
type WorkerPool struct {
	size   int
	jobs   chan fileJob
	handle FileHandler
	logger *slog.Logger
	wg     sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
}

// NewWorkerPool creates a new worker pool. Sizes below one mean one worker.
func NewWorkerPool(size int, handle FileHandler, logger *slog.Logger) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		size:   size,
		jobs:   make(chan fileJob, size), // Buffered channel
		handle: handle,
		logger: logger,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// worker drains the job channel until it is closed.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()
	for job := range wp.jobs {
		wp.logger.Debug("worker picked up file", "worker", id, "file", job.File)
		if err := wp.handle(ctx, job); err != nil {
			wp.failed.Add(1)
			continue
		}
		wp.processed.Add(1)
	}
}

// Dispatch queues a job. It gives up and returns false once ctx is done.
func (wp *WorkerPool) Dispatch(ctx context.Context, job fileJob) bool {
	select {
	case wp.jobs <- job:
		return true
	case <-ctx.Done():
		return false
	}
}

// Wait closes the queue, waits for the workers and returns the file counts.
func (wp *WorkerPool) Wait() (processed, failed int) {
	close(wp.jobs)
	wp.wg.Wait()
	return int(wp.processed.Load()), int(wp.failed.Load())
}
