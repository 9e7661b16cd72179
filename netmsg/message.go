package netmsg

import (
	"errors"
	"fmt"
)

var ErrBufferTooSmall = errors.New("buffer too small for message")

// Message is a header plus an opaque payload. The payload encoding belongs
// to whoever produces or consumes the particular message type.
type Message struct {
	Header  Header
	Payload []byte
}

func New(typ Type, payload []byte) *Message {
	return &Message{
		Header:  Header{Type: typ},
		Payload: payload,
	}
}

// Len returns the total serialized length of the message.
func (m *Message) Len() int {
	return HeaderLen + len(m.Payload)
}

// Serialize writes the message into buf and returns the number of bytes used.
// The header length field is updated to match the payload.
func (m *Message) Serialize(buf []byte) (int, error) {
	n := m.Len()
	if n > len(buf) {
		return 0, fmt.Errorf("%w: need %d, have %d", ErrBufferTooSmall, n, len(buf))
	}

	m.Header.Length = uint32(n)
	if err := encodeHeader(&m.Header, buf); err != nil {
		return 0, err
	}

	copy(buf[HeaderLen:n], m.Payload)

	return n, nil
}

// Bytes serializes the message into a freshly allocated buffer.
func (m *Message) Bytes() []byte {
	buf := make([]byte, m.Len())
	_, _ = m.Serialize(buf)

	return buf
}

// Parse decodes a message from b. The returned payload aliases b, so the
// message is only valid for as long as the buffer is.
func Parse(b []byte) (*Message, error) {
	m := &Message{}
	if err := decodeHeader(&m.Header, b); err != nil {
		return nil, err
	}

	length := int(m.Header.Length)
	if length < HeaderLen || length > len(b) {
		return nil, fmt.Errorf("%w: declared %d, have %d", ErrBadLength, length, len(b))
	}

	m.Payload = b[HeaderLen:length]

	return m, nil
}
