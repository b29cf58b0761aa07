package ipc

import "errors"

// Sentinel errors for the IPC error taxonomy (spec.md §7). Callers should
// use errors.Is against these rather than matching error strings.
var (
	// ErrTypeMismatch is returned when a published message's runtime type
	// does not match the topic's bound MessageClass, or when a decoded
	// wire message doesn't match the type a caller expected.
	ErrTypeMismatch = errors.New("ipc: message type does not match topic spec")

	// ErrMalformedMessage is returned (and logged, never raised to a
	// caller that can't react to it) when a delivered message decodes as
	// valid JSON but is missing one of the transport fields every Message
	// must carry: sender_id, pub_dt, pub_counter.
	ErrMalformedMessage = errors.New("ipc: malformed message: missing transport fields")

	// ErrDuplicateServer is returned by RPCServer construction when
	// another node already owns the RPC's status key.
	ErrDuplicateServer = errors.New("ipc: rpc: another server already owns this status key")
)
