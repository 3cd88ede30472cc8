package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"cu-log-sync/internal/logging"
)

func TestWorkerPool_Dispatch(t *testing.T) {
	wp := NewWorkerPool(1, func(context.Context, fileJob) error { return nil }, logging.Discard())

	// Dispatch a job without workers; it waits in the buffer.
	assert.True(t, wp.Dispatch(context.Background(), fileJob{File: "CU1.LOG"}))

	select {
	case job := <-wp.jobs:
		assert.Equal(t, "CU1.LOG", job.File)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for job to be dispatched")
	}
}

func TestWorkerPool_CountsResults(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var (
		mu   sync.Mutex
		seen []string
	)
	wp := NewWorkerPool(3, func(_ context.Context, job fileJob) error {
		mu.Lock()
		seen = append(seen, job.File)
		mu.Unlock()
		if job.File == "BAD.LOG" {
			return errors.New("boom")
		}
		return nil
	}, logging.Discard())

	wp.Start(context.Background())
	for i := 0; i < 9; i++ {
		assert.True(t, wp.Dispatch(context.Background(), fileJob{File: fmt.Sprintf("CU%d.LOG", i)}))
	}
	assert.True(t, wp.Dispatch(context.Background(), fileJob{File: "BAD.LOG"}))

	processed, failed := wp.Wait()
	assert.Equal(t, 9, processed)
	assert.Equal(t, 1, failed)
	assert.Len(t, seen, 10)
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var active, maxActive atomic.Int32
	wp := NewWorkerPool(2, func(context.Context, fileJob) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return nil
	}, logging.Discard())

	wp.Start(context.Background())
	for i := 0; i < 10; i++ {
		wp.Dispatch(context.Background(), fileJob{File: fmt.Sprintf("CU%d.LOG", i)})
	}
	processed, _ := wp.Wait()

	assert.Equal(t, 10, processed)
	assert.LessOrEqual(t, maxActive.Load(), int32(2))
}

func TestWorkerPool_DispatchStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	block := make(chan struct{})
	wp := NewWorkerPool(1, func(context.Context, fileJob) error {
		<-block
		return nil
	}, logging.Discard())
	wp.Start(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	assert.True(t, wp.Dispatch(ctx, fileJob{File: "A.LOG"})) // picked up by the worker, or buffered
	// Fill whatever room is left, then cancel.
	for wp.Dispatch(ctxWithTimeout(t, 20*time.Millisecond), fileJob{File: "B.LOG"}) {
	}
	cancel()
	assert.False(t, wp.Dispatch(ctx, fileJob{File: "C.LOG"}))

	close(block)
	processed, failed := wp.Wait()
	assert.GreaterOrEqual(t, processed, 1)
	assert.Zero(t, failed)
}

func ctxWithTimeout(t *testing.T, d time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

func TestWorkerPool_MinimumSize(t *testing.T) {
	wp := NewWorkerPool(0, func(context.Context, fileJob) error { return nil }, logging.Discard())
	assert.Equal(t, 1, wp.size)
}
