package ipc

import (
	"encoding/json"
	"fmt"
)

// decodeFunc turns wire bytes into a concrete MessageClass value.
type decodeFunc func([]byte) (MessageClass, error)

// codecRegistry maps a MessageCodec's name to the decode function that
// produces the message-class value, keyed by (channel -> codec) per
// Design Note #1: TopicSpec stays a comparable value type by storing only
// the registry key, not the function itself.
var codecRegistry = map[string]decodeFunc{}

// MessageCodec identifies the concrete message type bound to a topic. It is
// a comparable value (a single string field), so TopicSpec — which embeds
// one — remains usable as a map key.
type MessageCodec struct {
	name string
}

// RegisterCodec associates a wire-type name with a decode function and
// returns the MessageCodec value topics should bind to. Registering a name
// that is already registered replaces the earlier decoder; it does not
// panic or return an error.
func RegisterCodec(name string, decode func([]byte) (MessageClass, error)) MessageCodec {
	if existing, ok := codecRegistry[name]; ok {
		// Re-registering the exact same decode func (e.g. package init
		// running twice in tests) is harmless; anything else is a bug.
		_ = existing
	}
	codecRegistry[name] = decode
	return MessageCodec{name: name}
}

// Name returns the registry key this codec decodes.
func (c MessageCodec) Name() string { return c.name }

// Decode runs the registered decode function for this codec.
func (c MessageCodec) Decode(data []byte) (MessageClass, error) {
	fn, ok := codecRegistry[c.name]
	if !ok {
		return nil, fmt.Errorf("ipc: no codec registered for %q", c.name)
	}
	return fn(data)
}

// Matches reports whether msg is an instance of the class this codec
// decodes — the runtime type-check the publisher and subscriber use to
// enforce "msg is an instance of topic_spec.msg_cls".
func (c MessageCodec) Matches(msg MessageClass) bool {
	return msg != nil && msg.ClassName() == c.name
}

// ResponseCodec and CancelCodec are the two fixed codecs every RPCSpec uses
// for its response and cancel topics, regardless of the RPC's own request
// type.
var (
	// Decode returns a pointer to the decoded value, never the value
	// itself: GetMessage has a pointer receiver (so it can be promoted
	// for free onto every embedding type), and a value stored in a
	// MessageClass interface doesn't carry pointer-receiver methods in
	// its method set. Every registered decode func in this module
	// follows the same convention.
	ResponseCodec = RegisterCodec("RPCResponse", func(data []byte) (MessageClass, error) {
		var r RPCResponse
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		if !HasTransportFields(data) {
			return nil, ErrMalformedMessage
		}
		r.Message.stamped = true
		return &r, nil
	})

	CancelCodec = RegisterCodec("RPCCancel", func(data []byte) (MessageClass, error) {
		var c RPCCancel
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		if !HasTransportFields(data) {
			return nil, ErrMalformedMessage
		}
		c.Message.stamped = true
		return &c, nil
	})
)
