// Package wire defines the ClearNode RPC envelope format and the message
// builders used by the client.
//
// All messages are JSON text frames. A request carries a positional payload
// and a list of signatures:
//
//	{"req": [requestId, method, params, timestamp], "sig": ["0x..."]}
//
// Responses and server pushes use the same payload shape under "res":
//
//	{"res": [requestId, method, params, timestamp], "sig": ["0x..."]}
//
// # Signing
//
// The signature covers the serialized request object without the "sig"
// member, i.e. the bytes of {"req":[...]}. Authentication requests are sent
// unsigned; auth_verify carries the EIP-712 challenge signature instead.
//
// # Params
//
// Node versions differ in how params are wrapped: some send an object, some a
// single-element array holding that object, some a bare list. The Parse*
// helpers accept all three shapes.
package wire
