// Package protocol owns the relay message vocabulary and its wire codec.
//
// Ownership boundary:
// - Message tagged variant and in-protocol error kinds
// - frame/header primitives (frame)
// - TLV and CBOR payload encodings (tlv, cbor.go)
// - per-kind required field validation (schema)
//
// Every message travels as one self-delimiting frame. Blocking readers use
// Decode; the non-blocking reactor accumulates bytes and calls Split.
package protocol
