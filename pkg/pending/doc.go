// Package pending correlates outstanding RPC requests with their responses.
//
// A Table is not safe for concurrent use. The ClearNode client drives it from
// its event loop, so registration, resolution, timer expiry and voiding are
// already serialized. Each entry settles exactly once: whichever of response,
// timeout, rejection or void happens first wins and the rest are no-ops.
package pending
