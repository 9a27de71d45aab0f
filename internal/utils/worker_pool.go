package utils

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var ErrPoolStopped = errors.New("worker pool stopped")

// WorkerPool runs submitted jobs on a fixed number of goroutines.
type WorkerPool struct {
	jobs      chan func()
	workerNum int
	logger    *zap.Logger

	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

// NewWorkerPool creates a pool; call Start before submitting.
func NewWorkerPool(workerNum, queueSize int, logger *zap.Logger) *WorkerPool {
	if workerNum < 1 {
		workerNum = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &WorkerPool{
		jobs:      make(chan func(), queueSize),
		workerNum: workerNum,
		logger:    logger,
	}
}

func (p *WorkerPool) Start() {
	for i := 0; i < p.workerNum; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			for job := range p.jobs {
				p.run(workerID, job)
			}
		}(i)
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.workerNum), zap.Int("queue", cap(p.jobs)))
}

// run keeps a panicking job from killing its worker.
func (p *WorkerPool) run(workerID int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker panic", zap.Int("worker", workerID), zap.Any("panic", r))
		}
	}()
	job()
}

// Submit queues job, waiting for a free slot while the queue is full. It gives
// up when ctx is done or the pool has been stopped.
func (p *WorkerPool) Submit(ctx context.Context, job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new jobs, lets queued ones finish and waits for the workers.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
