// Package loop provides the single thread of control used by the ClearNode
// client.
//
// Every transport event, timer expiry and API call is turned into a task and
// run by one goroutine in submission order. Components that only ever run on
// the loop (the pending-request table, the authentication handshake) need no
// locking of their own.
//
// # Timers
//
// Loop.AfterFunc schedules a callback that is executed on the loop, not on
// the timer goroutine. Stopping a timer from the loop guarantees the callback
// will not run afterwards, even if the underlying time.Timer already fired
// and its task is still queued.
//
// Manual is a deterministic Scheduler for tests: time only moves when
// Advance is called, and due callbacks run synchronously on the caller.
package loop
