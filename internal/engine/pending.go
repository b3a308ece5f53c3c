package engine

import "sync"

type pendingResult struct {
	done func(any, error)
	res  any
	err  error
}

// PendingOps runs deferred work off the tick loop and delivers each
// completion callback back on a later tick boundary. The do func runs on
// its own goroutine; done runs on the scheduler goroutine during Drain.
type PendingOps struct {
	mu        sync.Mutex
	completed []pendingResult
	inflight  sync.WaitGroup
	closed    bool
}

// NewPendingOps constructs an empty deferred-operation list.
func NewPendingOps() *PendingOps {
	return &PendingOps{}
}

// Defer schedules do on a background goroutine. Its result is queued and
// handed to done on a later Drain. After Close, new work is dropped.
func (p *PendingOps) Defer(do func() (any, error), done func(any, error)) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.inflight.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.inflight.Done()
		res, err := do()
		p.mu.Lock()
		if !p.closed {
			p.completed = append(p.completed, pendingResult{done: done, res: res, err: err})
		}
		p.mu.Unlock()
	}()
}

// Drain runs every completion callback accumulated so far. Called once
// per tick by the owning scheduler; callbacks therefore never race the
// simulation.
func (p *PendingOps) Drain() {
	p.mu.Lock()
	completed := p.completed
	p.completed = nil
	p.mu.Unlock()
	for _, c := range completed {
		if c.done != nil {
			c.done(c.res, c.err)
		}
	}
}

// Close drops queued completions and blocks new work. In-flight do funcs
// are waited out so they cannot outlive the game instance's store.
func (p *PendingOps) Close() {
	p.mu.Lock()
	p.closed = true
	p.completed = nil
	p.mu.Unlock()
	p.inflight.Wait()
}
