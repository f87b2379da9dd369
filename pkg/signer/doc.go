// Package signer provides the signing capability used by the ClearNode
// client: secp256k1 signatures over request payloads and EIP-712 typed data
// for the authentication policy.
//
// Wallet is backed by go-ethereum. Signatures are returned as 0x-prefixed
// 65-byte hex strings with the recovery id in the 27/28 form.
package signer
