package binario

import (
	"encoding/binary"
	"io"
)

// Writer encodes little-endian fields into a message payload.
type Writer struct {
	writer io.Writer
	buf    [8]byte
}

func NewWriter(writer io.Writer) *Writer {
	return &Writer{writer: writer}
}

func (w *Writer) WriteUint8(value uint8) error {
	w.buf[0] = value
	_, err := w.writer.Write(w.buf[:1])

	return err
}

func (w *Writer) WriteUint16(value uint16) error {
	binary.LittleEndian.PutUint16(w.buf[:2], value)
	_, err := w.writer.Write(w.buf[:2])

	return err
}

func (w *Writer) WriteUint32(value uint32) error {
	binary.LittleEndian.PutUint32(w.buf[:4], value)
	_, err := w.writer.Write(w.buf[:4])

	return err
}

func (w *Writer) WriteInt32(value int32) error {
	return w.WriteUint32(uint32(value))
}

func (w *Writer) WriteUint64(value uint64) error {
	binary.LittleEndian.PutUint64(w.buf[:8], value)
	_, err := w.writer.Write(w.buf[:8])

	return err
}

// WriteString writes the string length, the bytes and a zero terminator.
func (w *Writer) WriteString(value string) error {
	if err := w.WriteUint32(uint32(len(value))); err != nil {
		return err
	}

	if _, err := io.WriteString(w.writer, value); err != nil {
		return err
	}

	return w.WriteUint8(0)
}
