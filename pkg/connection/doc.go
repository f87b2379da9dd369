// Package connection manages the lifecycle of the ClearNode transport.
//
// A Lifecycle owns at most one live transport. Opening replaces any
// existing transport, and events from a replaced transport are dropped.
//
// # Reconnection Strategy
//
// When the transport closes without being asked to, the Lifecycle schedules
// a new attempt with exponential backoff:
//
//  1. Base interval: 3 seconds
//  2. Attempt n waits base * 2^(n-1): 3s, 6s, 12s, ...
//  3. At most MaxAttempts (default 2) consecutive attempts
//  4. Counter resets whenever a transport opens
//
// After the last attempt fails the Lifecycle reports ErrReconnectExhausted
// and stays disconnected until Open is called again.
//
// # Jitter
//
// Jitter is off by default. When enabled:
//
//	actual_delay = base_delay + random(0, base_delay * jitter)
//
// Lifecycle is not safe for concurrent use. All methods and all scheduled
// callbacks must run on one goroutine.
package connection
