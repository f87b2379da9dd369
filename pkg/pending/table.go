package pending

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/hookpay/clearnode-go/pkg/loop"
	"github.com/hookpay/clearnode-go/pkg/wire"
)

// ErrDuplicateID is returned when registering an id that is still outstanding.
var ErrDuplicateID = errors.New("duplicate request id")

// RequestTimeoutError reports a request that received no response in time.
type RequestTimeoutError struct {
	Method wire.Method
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("request timeout for %s", e.Method)
}

// SuccessFunc receives the response that settled a request.
type SuccessFunc func(resp *wire.Response)

// FailureFunc receives the reason a request failed.
type FailureFunc func(err error)

// Entry is one outstanding request.
type Entry struct {
	ID          uint64
	Method      wire.Method
	SubmittedAt time.Time
	Deadline    time.Time

	onSuccess SuccessFunc
	onFailure FailureFunc
	timer     loop.Timer
	settled   atomic.Bool
}

// Settled reports whether the entry has already been completed.
func (e *Entry) Settled() bool {
	return e.settled.Load()
}

func (e *Entry) succeed(resp *wire.Response) bool {
	if !e.settled.CompareAndSwap(false, true) {
		return false
	}
	e.stopTimer()
	if e.onSuccess != nil {
		e.onSuccess(resp)
	}
	return true
}

func (e *Entry) fail(err error) bool {
	if !e.settled.CompareAndSwap(false, true) {
		return false
	}
	e.stopTimer()
	if e.onFailure != nil {
		e.onFailure(err)
	}
	return true
}

func (e *Entry) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
	}
}

// Table maps request ids to outstanding entries.
type Table struct {
	sched   loop.Scheduler
	entries map[uint64]*Entry
}

// NewTable creates an empty table whose timeouts run on sched. Timer
// callbacks must execute on the same goroutine that drives the table.
func NewTable(sched loop.Scheduler) *Table {
	return &Table{
		sched:   sched,
		entries: make(map[uint64]*Entry),
	}
}

// Register records an outstanding request. A non-positive timeout disables
// the deadline. Exactly one of onSuccess and onFailure will be called.
func (t *Table) Register(id uint64, method wire.Method, timeout time.Duration, onSuccess SuccessFunc, onFailure FailureFunc) error {
	if _, exists := t.entries[id]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}

	now := t.sched.Now()
	e := &Entry{
		ID:          id,
		Method:      method,
		SubmittedAt: now,
		onSuccess:   onSuccess,
		onFailure:   onFailure,
	}
	if timeout > 0 {
		e.Deadline = now.Add(timeout)
		e.timer = t.sched.AfterFunc(timeout, func() {
			t.expire(e)
		})
	}
	t.entries[id] = e
	return nil
}

// Resolve settles the entry for resp.RequestID. Error responses settle the
// entry as a failure carrying the *wire.RPCError. It returns false when no
// entry is outstanding for the id.
func (t *Table) Resolve(resp *wire.Response) bool {
	e, ok := t.take(resp.RequestID)
	if !ok {
		return false
	}
	if resp.IsError() {
		return e.fail(resp.Err())
	}
	return e.succeed(resp)
}

// Reject fails a single outstanding entry.
func (t *Table) Reject(id uint64, err error) bool {
	e, ok := t.take(id)
	if !ok {
		return false
	}
	return e.fail(err)
}

// VoidAll fails every outstanding entry with err and empties the table. It
// returns the number of entries voided.
func (t *Table) VoidAll(err error) int {
	entries := t.entries
	t.entries = make(map[uint64]*Entry)

	ids := make([]uint64, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	n := 0
	for _, id := range ids {
		if entries[id].fail(err) {
			n++
		}
	}
	return n
}

// Len returns the number of outstanding entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// IDs returns the outstanding ids in ascending order.
func (t *Table) IDs() []uint64 {
	ids := make([]uint64, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Get returns the outstanding entry for id.
func (t *Table) Get(id uint64) (*Entry, bool) {
	e, ok := t.entries[id]
	return e, ok
}

func (t *Table) take(id uint64) (*Entry, bool) {
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return e, ok
}

func (t *Table) expire(e *Entry) {
	// The id may have been reused after this entry settled.
	if cur, ok := t.entries[e.ID]; ok && cur == e {
		delete(t.entries, e.ID)
	}
	e.fail(&RequestTimeoutError{Method: e.Method})
}
