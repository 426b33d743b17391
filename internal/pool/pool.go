// Package pool runs queued tasks on a fixed set of workers.
// Submission never blocks: a full or closed queue rejects the task.
package pool

import (
	"context"
	"sync"
)

type Pool struct {
	q  chan func()
	wg sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New starts workers goroutines that drain a queue of qlen tasks.
func New(workers, qlen int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	p := &Pool{q: make(chan func(), qlen)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for f := range p.q {
				f()
			}
		}()
	}
	return p
}

// TrySubmit queues f. It returns false when the queue is full or the pool
// has been closed.
func (p *Pool) TrySubmit(f func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.q <- f:
		return true
	default:
		return false
	}
}

// Close stops accepting work and waits for queued tasks to finish or for ctx
// to end, whichever comes first. Workers left running after a context
// timeout finish in the background. Safe to call more than once.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.q)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
