package binario

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriter_StringIsZeroTerminated(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWriter(buf)
	require.NoError(t, w.WriteString("abc"))
	require.Equal(t, []byte{3, 0, 0, 0, 'a', 'b', 'c', 0}, buf.Bytes())

	s, err := NewReader(buf).ReadString()
	require.NoError(t, err)
	require.Equal(t, "abc", s)
}

func TestReader_MissingTerminator(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{1, 0, 0, 0, 'a', 'b'}))
	_, err := r.ReadString()
	require.ErrorIs(t, err, errMissingTerminator)
}

func TestReader_ShortInput(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{1, 2}))
	_, err := r.ReadUint32()
	require.Error(t, err)
}
