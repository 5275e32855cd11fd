// Package codec defines the pluggable payload codec capability.
//
// A codec is injected at node-start time when custom message framing is
// configured; the engine never depends on a specific message-format library.
// Without a codec, buffers are treated as opaque bytes.
package codec

import (
	"github.com/tylp/nseqe/errors"
)

// Codec encodes logical messages to wire bytes and decodes inbound bytes back
// into logical messages.
//
// Decode failures on inbound traffic are treated as non-matching by the event
// matcher, never as fatal errors.
type Codec interface {
	Encode(message any) ([]byte, error)
	Decode(buffer []byte) (any, error)
}

// Raw is the identity codec: it passes byte slices through unchanged and
// rejects any other message type.
type Raw struct{}

// Encode implements Codec.
func (Raw) Encode(message any) ([]byte, error) {
	buf, ok := message.([]byte)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrDecode, "Raw", "Encode", "non-byte message")
	}
	return buf, nil
}

// Decode implements Codec.
func (Raw) Decode(buffer []byte) (any, error) {
	return buffer, nil
}

var _ Codec = Raw{}
