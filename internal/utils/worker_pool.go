package utils

import (
	"sync"
)

// WorkerPool runs submitted tasks on a fixed number of goroutines.
type WorkerPool struct {
	workers      int
	tasks        chan func()
	waitGroup    sync.WaitGroup
	shutdownOnce sync.Once
}

// NewWorkerPool starts a pool with the given number of workers, at least one.
func NewWorkerPool(workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	pool := &WorkerPool{
		workers: workers,
		tasks:   make(chan func(), workers),
	}

	pool.waitGroup.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.worker()
	}
	return pool
}

func (wp *WorkerPool) worker() {
	defer wp.waitGroup.Done()
	for task := range wp.tasks {
		task()
	}
}

// Submit queues task, blocking while all workers are busy and the queue is full.
// It must not be called after Shutdown.
func (wp *WorkerPool) Submit(task func()) {
	wp.tasks <- task
}

// Shutdown lets queued tasks finish and waits for the workers to exit.
func (wp *WorkerPool) Shutdown() {
	wp.shutdownOnce.Do(func() {
		close(wp.tasks)
	})
	wp.waitGroup.Wait()
}
