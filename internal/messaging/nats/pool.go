package nats

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// handlerPool runs message handlers on their own goroutines with at most
// limit in flight.
type handlerPool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newHandlerPool(limit int) *handlerPool {
	return &handlerPool{sem: semaphore.NewWeighted(int64(max(limit, 1)))}
}

// Go blocks until a slot is free and then runs fn. It reports false without
// running fn when ctx ends first or the pool is closed.
func (p *handlerPool) Go(ctx context.Context, fn func()) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.wg.Done()
		return false
	}

	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		fn()
	}()
	return true
}

// Close rejects new work and waits for running handlers.
func (p *handlerPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
