// Package transport carries ClearNode RPC text frames over WebSocket.
//
// A Dialer opens a Transport and reports everything that happens to it
// through a Handler: open, inbound messages, errors and the final close.
// Open never blocks; the handshake runs in the background. Every Transport
// delivers exactly one OnClose, after which no further callbacks arrive.
//
// # Keep-Alive
//
// WebSocketDialer pings the node periodically. A connection that misses
// MaxMissedPongs pongs in a row is closed with status 1006:
//   - Ping interval: 30 seconds
//   - Pong timeout: 5 seconds
//   - Max missed pongs: 3
//   - Maximum detection delay: 95 seconds
//
// Pipe is an in-memory Dialer for tests.
package transport
