package cast

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// maxFrame is the largest message a Cast device sends.
const maxFrame = 64 * 1024

// ErrFrameTooLarge is returned when a frame header announces more than maxFrame bytes.
var ErrFrameTooLarge = errors.New("cast frame too large")

// CastMessage field numbers (cast_channel.proto).
const (
	fieldProtocolVersion protowire.Number = 1
	fieldSourceID        protowire.Number = 2
	fieldDestinationID   protowire.Number = 3
	fieldNamespace       protowire.Number = 4
	fieldPayloadType     protowire.Number = 5
	fieldPayloadUTF8     protowire.Number = 6
)

// message is a CastMessage with a string payload, the only kind the media
// and receiver namespaces use.
type message struct {
	Source      string
	Destination string
	Namespace   string
	Payload     string
}

func (m message) marshal() []byte {
	b := make([]byte, 0, 64+len(m.Namespace)+len(m.Payload))
	b = protowire.AppendTag(b, fieldProtocolVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, 0) // CASTV2_1_0
	b = protowire.AppendTag(b, fieldSourceID, protowire.BytesType)
	b = protowire.AppendString(b, m.Source)
	b = protowire.AppendTag(b, fieldDestinationID, protowire.BytesType)
	b = protowire.AppendString(b, m.Destination)
	b = protowire.AppendTag(b, fieldNamespace, protowire.BytesType)
	b = protowire.AppendString(b, m.Namespace)
	b = protowire.AppendTag(b, fieldPayloadType, protowire.VarintType)
	b = protowire.AppendVarint(b, 0) // STRING
	b = protowire.AppendTag(b, fieldPayloadUTF8, protowire.BytesType)
	b = protowire.AppendString(b, m.Payload)
	return b
}

func unmarshalMessage(b []byte) (message, error) {
	var m message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return message{}, protowire.ParseError(n)
		}
		b = b[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return message{}, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return message{}, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldSourceID:
			m.Source = string(v)
		case fieldDestinationID:
			m.Destination = string(v)
		case fieldNamespace:
			m.Namespace = string(v)
		case fieldPayloadUTF8:
			m.Payload = string(v)
		}
	}
	return m, nil
}

// writeFrame sends m prefixed with its big-endian length.
func writeFrame(w io.Writer, m message) error {
	body := m.marshal()
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	_, err := w.Write(frame)
	return err
}

func readFrame(r io.Reader) (message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return message{}, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrame {
		return message{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return message{}, err
	}
	return unmarshalMessage(body)
}
