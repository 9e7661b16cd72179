package binario

import (
	"encoding/binary"
	"errors"
	"io"
)

var errMissingTerminator = errors.New("string is not zero-terminated")

// Reader decodes little-endian fields from a message payload.
type Reader struct {
	reader io.Reader
	buf    [8]byte
}

func NewReader(reader io.Reader) *Reader {
	return &Reader{reader: reader}
}

func (r *Reader) read(n int) ([]byte, error) {
	if _, err := io.ReadFull(r.reader, r.buf[:n]); err != nil {
		return nil, err
	}

	return r.buf[:n], nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	bs, err := r.read(1)
	if err != nil {
		return 0, err
	}

	return bs[0], nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	bs, err := r.read(2)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(bs), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	bs, err := r.read(4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(bs), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	bs, err := r.read(8)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(bs), nil
}

// ReadString reads a length-prefixed, zero-terminated string. The length
// does not include the terminator.
func (r *Reader) ReadString() (string, error) {
	length, err := r.ReadUint32()
	if err != nil {
		return "", err
	}

	bs := make([]byte, length+1)
	if _, err := io.ReadFull(r.reader, bs); err != nil {
		return "", err
	}

	if bs[length] != 0 {
		return "", errMissingTerminator
	}

	return string(bs[:length]), nil
}
