package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("worker pool is shutting down")

// Pool runs jobs on goroutines with at most size of them executing at once.
// Go never blocks the caller; queued jobs wait for a slot on their own goroutine.
type Pool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	pending atomic.Int64
	running atomic.Int64
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Go schedules job. Once Wait has been called it returns ErrClosed and the
// job never runs.
func (p *Pool) Go(job func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.pending.Add(1)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		p.pending.Add(-1)
		p.running.Add(1)
		defer func() {
			p.running.Add(-1)
			<-p.sem
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("worker job panicked")
			}
		}()
		job()
	}()
	return nil
}

// Wait closes the pool to new jobs and blocks until every accepted job
// returned or ctx is done. On timeout the jobs keep running and the helper
// goroutine exits once the last of them returns.
func (p *Pool) Wait(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
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

func (p *Pool) Size() int { return cap(p.sem) }

func (p *Pool) Pending() int { return int(p.pending.Load()) }

func (p *Pool) Running() int { return int(p.running.Load()) }
