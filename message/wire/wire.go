// Package wire frames consensus messages for the network. An envelope is a
// protobuf-compatible record: field 1 holds the message kind as a varint and
// field 2 holds the RLP encoded message.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/sig-0/go-qbft/message"
)

const (
	fieldKind protowire.Number = 1
	fieldBody protowire.Number = 2
)

var ErrMalformedEnvelope = errors.New("malformed message envelope")

// Encode wraps msg into an envelope
func Encode(msg message.Message) []byte {
	body := msg.Bytes()

	b := make([]byte, 0, len(body)+8)
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.Kind()))
	b = protowire.AppendTag(b, fieldBody, protowire.BytesType)
	b = protowire.AppendBytes(b, body)

	return b
}

// Decode unwraps an envelope into a typed message. Unknown fields are skipped.
// The message is not validated
func Decode(data []byte) (message.Message, error) {
	var (
		kind    message.Kind
		body    []byte
		hasBody bool
	)

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, protowire.ParseError(n))
		}

		data = data[n:]

		switch {
		case num == fieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, protowire.ParseError(n))
			}

			kind = message.Kind(v)
			data = data[n:]

		case num == fieldBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, protowire.ParseError(n))
			}

			body, hasBody = v, true
			data = data[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, protowire.ParseError(n))
			}

			data = data[n:]
		}
	}

	if kind == 0 || !hasBody {
		return nil, fmt.Errorf("%w: missing kind or body", ErrMalformedEnvelope)
	}

	return message.Unmarshal(kind, body)
}
