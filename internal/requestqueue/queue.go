// Package requestqueue serializes per-kind engine requests: newer
// requests supersede older pending ones from the same user, and
// dispatch is fair across users.
package requestqueue

import (
	"context"
	"sync"

	"github.com/chessmate/backend/internal/uci"
)

// ProcessFunc runs against an exclusively held engine.
type ProcessFunc func(ctx context.Context, e *uci.Engine) (any, error)

// CallbackFunc delivers the result (or error) to the requesting client.
// It is never invoked for superseded or cancelled requests.
type CallbackFunc func(result any, err error)

// Request is one unit of queued work.
type Request struct {
	ID       string
	UserID   string
	Process  ProcessFunc
	Callback CallbackFunc

	// seq orders enqueues per user; a request is stale once the user
	// has enqueued a newer one.
	seq uint64
}

// Stats is a point-in-time snapshot of queue state.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
}

// Queue holds pending requests in arrival order. Invariants: at most
// one pending and at most one processing request per user at any
// instant.
type Queue struct {
	mu         sync.Mutex
	pending    []*Request
	processing map[string]uint64 // user id -> seq being processed
	lastSeq    map[string]uint64 // user id -> newest enqueued seq
	seq        uint64
}

func New() *Queue {
	return &Queue{
		processing: make(map[string]uint64),
		lastSeq:    make(map[string]uint64),
	}
}

// Enqueue appends req, silently dropping any pending request from the
// same user. The superseded request's callback is never invoked.
func (q *Queue) Enqueue(req *Request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, p := range q.pending {
		if p.UserID == req.UserID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}

	q.seq++
	req.seq = q.seq
	q.lastSeq[req.UserID] = req.seq
	q.pending = append(q.pending, req)
}

// Dequeue returns the first pending request whose user is not currently
// processing; when every pending user is busy it falls back to the
// oldest request. Returns nil when the queue is empty. The returned
// request's user is marked processing.
func (q *Queue) Dequeue() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}

	idx := 0
	found := false
	for i, p := range q.pending {
		if _, busy := q.processing[p.UserID]; !busy {
			idx, found = i, true
			break
		}
	}
	if !found {
		idx = 0
	}

	req := q.pending[idx]
	q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
	q.processing[req.UserID] = req.seq
	return req
}

// StillValid reports whether no newer request from the same user has
// been enqueued since req was created. Checked immediately before the
// process closure runs and again before the callback fires.
func (q *Queue) StillValid(req *Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	last, ok := q.lastSeq[req.UserID]
	return ok && last == req.seq
}

// FinishProcessing clears the user's processing slot, but only for the
// request that claimed it. When the finishing request is also the
// user's newest, the sequence bookkeeping for that user is dropped
// entirely so idle users leave no residue behind.
func (q *Queue) FinishProcessing(req *Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if seq, ok := q.processing[req.UserID]; ok && seq == req.seq {
		delete(q.processing, req.UserID)
		if q.lastSeq[req.UserID] == req.seq {
			delete(q.lastSeq, req.UserID)
		}
	}
}

// CancelUser drops all pending requests for the user. A request already
// processing runs to completion, but dropping the user's sequence entry
// invalidates it so its callback never fires.
func (q *Queue) CancelUser(userID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.pending[:0]
	for _, p := range q.pending {
		if p.UserID != userID {
			kept = append(kept, p)
		}
	}
	q.pending = kept

	delete(q.lastSeq, userID)
}

// Stats takes a best-effort snapshot.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Pending: len(q.pending), Processing: len(q.processing)}
}
