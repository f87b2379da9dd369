// Package auth implements the ClearNode challenge-response handshake.
//
// The handshake authorizes a session key on behalf of a wallet:
//
//	client                         node
//	  | -- auth_request --------->  |
//	  | <------- auth_challenge --  |
//	  | -- auth_verify (EIP-712) -> |
//	  | <---------- auth_verify --  |  jwt_token, session_key
//
// Once a token has been issued, later handshakes skip the challenge and send
// auth_verify with the stored token directly. The token is kept across
// failures and reconnects and is only replaced by a fresh one from the node.
//
// Handshake is a state machine with no locking of its own. It must be driven
// from a single goroutine.
package auth
