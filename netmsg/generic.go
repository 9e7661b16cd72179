package netmsg

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/maxpoletaev/peerrpc/internal/binario"
)

// ControlCode is carried in a GenericResponse body instead of the response
// the caller expected.
type ControlCode int32

const (
	CodeTryAgain                ControlCode = 0
	CodeIndirectCommErr         ControlCode = 1
	CodeIndirectCommErrNotAgain ControlCode = 2
	CodeNewSeqNoBase            ControlCode = 3
)

func (c ControlCode) String() string {
	switch c {
	case CodeTryAgain:
		return "TryAgain"
	case CodeIndirectCommErr:
		return "IndirectCommErr"
	case CodeIndirectCommErrNotAgain:
		return "IndirectCommErrNotAgain"
	case CodeNewSeqNoBase:
		return "NewSeqNoBase"
	default:
		return strconv.Itoa(int(c))
	}
}

// GenericResponse is the body of a TypeGenericResponse message. For
// CodeNewSeqNoBase the new base travels in the header sequence field, not
// in the body.
type GenericResponse struct {
	Code   ControlCode
	Reason string
}

func (r *GenericResponse) Marshal() []byte {
	buf := &bytes.Buffer{}
	w := binario.NewWriter(buf)
	_ = w.WriteInt32(int32(r.Code))
	_ = w.WriteString(r.Reason)

	return buf.Bytes()
}

func (r *GenericResponse) Unmarshal(payload []byte) error {
	rd := binario.NewReader(bytes.NewReader(payload))

	code, err := rd.ReadInt32()
	if err != nil {
		return fmt.Errorf("read control code: %w", err)
	}

	reason, err := rd.ReadString()
	if err != nil {
		return fmt.Errorf("read reason: %w", err)
	}

	r.Code = ControlCode(code)
	r.Reason = reason

	return nil
}

// NewGenericResponse builds a complete GenericResponse message.
func NewGenericResponse(code ControlCode, reason string) *Message {
	resp := &GenericResponse{Code: code, Reason: reason}
	return New(TypeGenericResponse, resp.Marshal())
}
