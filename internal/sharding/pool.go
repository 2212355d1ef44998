package sharding

import (
	"context"
	"errors"
	"sync"
)

var ErrPoolClosed = errors.New("worker pool closed")

// Pool runs tasks on a fixed set of workers. Tasks submitted with the same key
// always land on the same worker, so they run one at a time and in submission
// order; tasks with different keys run concurrently.
type Pool struct {
	queues []chan func()
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{queues: make([]chan func(), workers)}
	for i := range p.queues {
		queue := make(chan func(), queueSize)
		p.queues[i] = queue
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range queue {
				task()
			}
		}()
	}
	return p
}

// Workers reports the number of workers.
func (p *Pool) Workers() int {
	return len(p.queues)
}

// Submit queues task on the worker owning key. It blocks while that worker's
// queue is full.
func (p *Pool) Submit(ctx context.Context, key string, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	queue := p.queues[ShardFor(key, len(p.queues))]
	select {
	case queue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, queue := range p.queues {
		close(queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
