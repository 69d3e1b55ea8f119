package requestqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func req(user, id string) *Request {
	return &Request{ID: id, UserID: user}
}

func TestEnqueueSupersedesSameUser(t *testing.T) {
	q := New()
	q.Enqueue(req("u", "r1"))
	q.Enqueue(req("u", "r2"))
	q.Enqueue(req("u", "r3"))

	assert.Equal(t, 1, q.Stats().Pending, "at most one pending request per user")

	got := q.Dequeue()
	require.NotNil(t, got)
	assert.Equal(t, "r3", got.ID, "only the newest request survives")
	assert.Nil(t, q.Dequeue())
}

func TestEnqueueKeepsOtherUsers(t *testing.T) {
	q := New()
	q.Enqueue(req("a", "a1"))
	q.Enqueue(req("b", "b1"))
	q.Enqueue(req("a", "a2"))

	assert.Equal(t, 2, q.Stats().Pending)

	// a1 was superseded, so b1 is now the oldest request.
	assert.Equal(t, "b1", q.Dequeue().ID)
	assert.Equal(t, "a2", q.Dequeue().ID)
}

func TestDequeueFairness(t *testing.T) {
	q := New()
	q.Enqueue(req("a", "a1"))
	q.Enqueue(req("b", "b1"))

	a1 := q.Dequeue()
	require.Equal(t, "a1", a1.ID)

	// a enqueues again while a1 is processing; b must go first even
	// though a2 is not behind b1 in any per-user sense.
	q.Enqueue(req("a", "a2"))

	next := q.Dequeue()
	require.NotNil(t, next)
	assert.Equal(t, "b1", next.ID, "a user with a running request does not block others")
}

func TestDequeueFallsBackToOldestWhenAllBusy(t *testing.T) {
	q := New()
	q.Enqueue(req("a", "a1"))
	a1 := q.Dequeue()
	require.Equal(t, "a1", a1.ID)

	q.Enqueue(req("a", "a2"))
	got := q.Dequeue()
	require.NotNil(t, got, "oldest pending is returned even when its user is processing")
	assert.Equal(t, "a2", got.ID)
}

func TestStillValid(t *testing.T) {
	q := New()
	q.Enqueue(req("u", "r1"))
	r1 := q.Dequeue()
	assert.True(t, q.StillValid(r1))

	q.Enqueue(req("u", "r2"))
	assert.False(t, q.StillValid(r1), "a newer enqueue invalidates the processing request")

	r2 := q.Dequeue()
	assert.True(t, q.StillValid(r2))
}

func TestFinishProcessingOnlyClearsOwnSlot(t *testing.T) {
	q := New()
	q.Enqueue(req("u", "r1"))
	r1 := q.Dequeue()

	q.Enqueue(req("u", "r2"))
	r2 := q.Dequeue() // all-busy fallback path
	assert.Equal(t, 1, q.Stats().Processing)

	// r1 finishing must not clear r2's claim on the slot.
	q.FinishProcessing(r1)
	assert.Equal(t, 1, q.Stats().Processing)

	q.FinishProcessing(r2)
	assert.Equal(t, 0, q.Stats().Processing)
}

func TestCancelUser(t *testing.T) {
	q := New()
	q.Enqueue(req("u", "r1"))
	r1 := q.Dequeue()
	q.Enqueue(req("u", "r2"))
	q.Enqueue(req("v", "v1"))

	q.CancelUser("u")

	assert.Equal(t, 1, q.Stats().Pending, "only v's request remains")
	assert.Equal(t, "v1", q.Dequeue().ID)

	// The processing request runs to completion but is no longer valid,
	// so its callback never fires.
	assert.False(t, q.StillValid(r1))
	q.FinishProcessing(r1)
	assert.Equal(t, 1, q.Stats().Processing) // v1 still processing
}

func lastSeqEntries(q *Queue) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lastSeq)
}

func TestFinishedUsersLeaveNoResidue(t *testing.T) {
	q := New()
	for _, user := range []string{"a", "b", "c"} {
		q.Enqueue(req(user, user+"1"))
		q.FinishProcessing(q.Dequeue())
	}
	assert.Equal(t, Stats{}, q.Stats())
	assert.Equal(t, 0, lastSeqEntries(q), "idle users keep no sequence entry")
}

func TestCancelledUsersLeaveNoResidue(t *testing.T) {
	q := New()
	q.Enqueue(req("u", "r1"))
	r1 := q.Dequeue()
	q.Enqueue(req("u", "r2")) // pending while r1 is processing

	q.CancelUser("u")
	q.FinishProcessing(r1)
	assert.Equal(t, 0, lastSeqEntries(q))
}
