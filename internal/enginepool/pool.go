// Package enginepool owns a fixed set of ready UCI engine processes of
// one kind, hands them out exclusively and queues callers when none are
// free.
package enginepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chessmate/backend/internal/uci"
)

var ErrShutdown = errors.New("enginepool: pool shut down")

// Stats is a point-in-time snapshot of pool state.
type Stats struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	Busy      int `json:"busy"`
	Waiting   int `json:"waiting"`
}

// waiter is a one-shot continuation for a blocked Acquire. The channel
// is buffered so a releasing goroutine never blocks on handoff.
type waiter struct {
	ch chan *uci.Engine
}

// Pool keeps N engines of one kind. Waiters are served in FIFO order;
// on release an engine is handed to the oldest waiter without ever
// lingering in a released state.
type Pool struct {
	kind uci.Kind
	log  *slog.Logger

	mu       sync.Mutex
	engines  []*uci.Engine
	waiters  []*waiter
	shutdown bool
}

// New starts size engines in parallel and waits for every handshake.
// A single failed start fails the whole pool; already-started engines
// are stopped.
func New(kind uci.Kind, size int, binaryDir string) (*Pool, error) {
	p := &Pool{
		kind: kind,
		log:  slog.With("component", "enginepool", "kind", kind.String()),
	}

	engines := make([]*uci.Engine, size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for i := 0; i < size; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := uci.New(i, kind, binaryDir)
			if err != nil {
				errs[i] = err
				return
			}
			if err := e.Start(); err != nil {
				errs[i] = err
				return
			}
			engines[i] = e
		}(i)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		for _, e := range engines {
			if e != nil {
				e.Stop()
			}
		}
		return nil, fmt.Errorf("enginepool: init %s pool: %w", kind, err)
	}

	p.engines = engines
	p.log.Info("pool initialized", "size", size)
	return p, nil
}

// NewFromEngines builds a pool around engines that are already started,
// for example ones attached to externally managed processes.
func NewFromEngines(kind uci.Kind, engines []*uci.Engine) *Pool {
	return &Pool{
		kind:    kind,
		log:     slog.With("component", "enginepool", "kind", kind.String()),
		engines: engines,
	}
}

// Acquire returns a ready, non-busy engine, suspending in FIFO order
// behind earlier callers when none is free. It fails once the pool shuts
// down or the context is cancelled.
func (p *Pool) Acquire(ctx context.Context) (*uci.Engine, error) {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil, ErrShutdown
	}
	if e := p.takeFreeLocked(); e != nil {
		p.mu.Unlock()
		return e, nil
	}
	w := &waiter{ch: make(chan *uci.Engine, 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	select {
	case e, ok := <-w.ch:
		if !ok {
			return nil, ErrShutdown
		}
		return e, nil
	case <-ctx.Done():
		p.abandon(w)
		return nil, ctx.Err()
	}
}

// takeFreeLocked picks any ready-not-busy engine and marks it busy.
func (p *Pool) takeFreeLocked() *uci.Engine {
	for _, e := range p.engines {
		if e.Ready() && !e.Busy() {
			e.SetBusy(true)
			return e
		}
	}
	return nil
}

// abandon removes a waiter after context cancellation. If a release has
// already handed it an engine, that engine is put back in circulation.
func (p *Pool) abandon(w *waiter) {
	p.mu.Lock()
	for i, q := range p.waiters {
		if q == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return
		}
	}
	p.mu.Unlock()
	// Not in the list anymore: a release or shutdown already claimed this
	// waiter, so either a handoff or a close is in flight. Wait for it;
	// dropping out early would strand a busy engine nobody holds.
	if e, ok := <-w.ch; ok {
		p.Release(e)
	}
}

// Release returns an engine to the pool. A dead engine is removed; a
// live one is handed straight to the oldest waiter, staying busy across
// the transfer.
func (p *Pool) Release(e *uci.Engine) {
	p.mu.Lock()

	if !e.Ready() {
		e.SetBusy(false)
		p.removeLocked(e)
		p.mu.Unlock()
		p.log.Warn("removed dead engine", "engine", e.ID)
		e.Stop()
		return
	}

	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		// Engine stays busy: ownership transfers atomically.
		w.ch <- e
		return
	}

	e.SetBusy(false)
	p.mu.Unlock()
}

func (p *Pool) removeLocked(e *uci.Engine) {
	for i, q := range p.engines {
		if q == e {
			p.engines = append(p.engines[:i], p.engines[i+1:]...)
			return
		}
	}
}

// Stats takes a best-effort snapshot.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Total: len(p.engines), Waiting: len(p.waiters)}
	for _, e := range p.engines {
		if e.Ready() && !e.Busy() {
			s.Available++
		} else if e.Busy() {
			s.Busy++
		}
	}
	return s
}

// Kind returns the engine kind this pool serves.
func (p *Pool) Kind() uci.Kind { return p.kind }

// Shutdown refuses all waiters and stops every engine. Engines still
// held by callers are stopped too; in-flight searches fail with an
// engine-dead error.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}
	p.shutdown = true
	waiters := p.waiters
	p.waiters = nil
	engines := p.engines
	p.mu.Unlock()

	for _, w := range waiters {
		close(w.ch)
	}
	for _, e := range engines {
		e.Stop()
	}
	p.log.Info("pool shut down", "engines", len(engines))
}
