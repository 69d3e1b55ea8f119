package requestqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chessmate/backend/internal/enginepool"
	"github.com/chessmate/backend/internal/uci"
)

// pollInterval is how long the dispatcher sleeps on an empty queue.
const pollInterval = 20 * time.Millisecond

// Observer receives dispatch outcomes for metrics.
type Observer interface {
	RequestDispatched(kind uci.Kind, outcome string, took time.Duration)
}

// Dispatcher is the background loop pairing one queue with one pool.
type Dispatcher struct {
	queue    *Queue
	pool     *enginepool.Pool
	log      *slog.Logger
	observer Observer
}

func NewDispatcher(q *Queue, p *enginepool.Pool, obs Observer) *Dispatcher {
	return &Dispatcher{
		queue:    q,
		pool:     p,
		log:      slog.With("component", "dispatcher", "kind", p.Kind().String()),
		observer: obs,
	}
}

// Run loops until the context is cancelled. Start it with go.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		req := d.queue.Dequeue()
		if req == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		d.dispatch(ctx, req)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, req *Request) {
	defer d.queue.FinishProcessing(req)
	start := time.Now()

	engine, err := d.pool.Acquire(ctx)
	if err != nil {
		d.observe("pool_unavailable", start)
		req.Callback(nil, err)
		return
	}

	if !d.queue.StillValid(req) {
		d.pool.Release(engine)
		d.observe("superseded", start)
		return
	}

	result, err := d.runProcess(ctx, req, engine)

	// The engine goes back before the callback runs so a slow client
	// write can never hold up the pool.
	d.pool.Release(engine)

	if !d.queue.StillValid(req) {
		d.observe("superseded", start)
		return
	}
	if err != nil {
		d.observe("error", start)
	} else {
		d.observe("ok", start)
	}
	req.Callback(result, err)
}

// runProcess converts a panicking process closure into an error.
func (d *Dispatcher) runProcess(ctx context.Context, req *Request, engine *uci.Engine) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("request processor panicked", "user", req.UserID, "request", req.ID, "panic", r)
			err = fmt.Errorf("requestqueue: processor panic: %v", r)
		}
	}()
	return req.Process(ctx, engine)
}

func (d *Dispatcher) observe(outcome string, start time.Time) {
	if d.observer != nil {
		d.observer.RequestDispatched(d.pool.Kind(), outcome, time.Since(start))
	}
}
